package support

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/staging"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

// APIContext holds the state of one scenario.
type APIContext struct {
	TempDir string

	Config    server.Config
	Reference *reference.Lists
	Schema    records.Schema

	Store      *store.Store
	Staging    *staging.Area
	Server     *server.Server
	HTTPServer *httptest.Server

	Images map[string][]byte

	LastStatus   int
	LastBody     []byte
	LastHeaders  http.Header
	LastUpload   *server.UploadResponse
	LastResultID string
}

// NewAPIContext creates a scenario context rooted in a fresh temp directory.
func NewAPIContext() (*APIContext, error) {
	dir, err := os.MkdirTemp("", "labelscan-api-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &APIContext{
		TempDir: dir,
		Schema:  records.DefaultSchema,
		Images:  make(map[string][]byte),
	}, nil
}

// Start builds the server from the scenario configuration.
func (c *APIContext) Start() error {
	if c.HTTPServer != nil {
		return errors.New("server already running")
	}
	pl, err := pipeline.NewBuilder().Build()
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	c.Staging, err = staging.New(staging.ConfigUnder(filepath.Join(c.TempDir, "data")))
	if err != nil {
		return err
	}
	c.Store, err = store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		Path:   filepath.Join(c.TempDir, "labels.db"),
		Schema: c.Schema,
	})
	if err != nil {
		return err
	}
	c.Server, err = server.NewServer(c.Config, server.Dependencies{
		Pipeline:  pl,
		Sink:      c.Store,
		Staging:   c.Staging,
		Reference: c.Reference,
	})
	if err != nil {
		return err
	}
	c.HTTPServer = httptest.NewServer(c.Server.Handler())
	return nil
}

// URL returns the absolute URL of path on the test server.
func (c *APIContext) URL(path string) string { return c.HTTPServer.URL + path }

// Cleanup stops the server and removes scenario files.
func (c *APIContext) Cleanup() error {
	if c.HTTPServer != nil {
		c.HTTPServer.Close()
	}
	if c.Server != nil {
		_ = c.Server.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	return os.RemoveAll(c.TempDir)
}
