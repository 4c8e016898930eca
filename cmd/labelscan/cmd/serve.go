package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/staging"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the label review API",
	Long: `Start an HTTP server for uploading label images, reviewing the decoded
barcodes and submitting them to the database.

The server provides the following endpoints:
  POST /upload          - Analyze an uploaded label image
  GET  /processed/{id}  - Annotated image of an analysis
  GET  /results/{id}    - Analysis JSON
  POST /submit          - Store a reviewed barcode table
  GET  /reference       - Vendor and meaning lists
  GET  /ws/analyze      - WebSocket analysis stream
  GET  /health          - Health check endpoint
  GET  /metrics         - Prometheus metrics

Examples:
  labelscan serve
  labelscan serve --port 8080
  labelscan serve --host 0.0.0.0 --db-driver postgres --db-dsn postgres://...`,
	RunE: runServeCommand,
}

// applyServeFlags copies changed serve flags into cfg.
func applyServeFlags(cfg *config.Config, cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("rate-limit-enabled") {
		cfg.Server.RateLimitEnabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		cfg.Server.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("max-requests-per-day") {
		cfg.Server.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		cfg.Server.MaxDataPerDay, _ = f.GetInt64("max-data-per-day")
	}
	if f.Changed("db-driver") {
		cfg.Database.Driver, _ = f.GetString("db-driver")
	}
	if f.Changed("db-dsn") {
		cfg.Database.DSN, _ = f.GetString("db-dsn")
	}
	if f.Changed("db-path") {
		cfg.Database.Path, _ = f.GetString("db-path")
	}
	if f.Changed("schema") {
		cfg.Database.Schema, _ = f.GetString("schema")
	}
	if f.Changed("data-dir") {
		cfg.Staging.Root, _ = f.GetString("data-dir")
	}
	if f.Changed("reference") {
		cfg.Reference.Path, _ = f.GetString("reference")
	}
	if f.Changed("strict-reference") {
		cfg.Reference.Strict, _ = f.GetBool("strict-reference")
	}
}

// janitorInterval is how often stale staged results are pruned.
const janitorInterval = 15 * time.Minute

// toServerConfig maps the server section to server.Config.
func toServerConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		CORSOrigin:      cfg.Server.CORSOrigin,
		MaxUploadMB:     int64(cfg.Server.MaxUploadMB),
		TimeoutSec:      cfg.Server.TimeoutSec,
		StrictReference: cfg.Reference.Strict,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.Server.RateLimitEnabled,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			MaxRequestsPerDay: cfg.Server.MaxRequestsPerDay,
			MaxDataPerDay:     cfg.Server.MaxDataPerDay,
		},
	}
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	applyServeFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return err
	}
	pl, err := pipeline.NewBuilder().WithConfig(pc).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	area, err := staging.New(cfg.ToStagingConfig())
	if err != nil {
		return fmt.Errorf("failed to prepare staging area: %w", err)
	}
	go area.RunJanitor(ctx, janitorInterval)

	refs, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		return fmt.Errorf("failed to load reference lists: %w", err)
	}

	sc, err := cfg.ToStoreConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, sc)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	labelServer, err := server.NewServer(toServerConfig(cfg), server.Dependencies{
		Pipeline:  pl,
		Sink:      st,
		Staging:   area,
		Reference: refs,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	timeout := cfg.Server.Timeout()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           labelServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		slog.Info("Starting label server",
			"host", cfg.Server.Host, "port", cfg.Server.Port,
			"driver", st.Driver(), "schema", st.Schema().String(),
			"vendors", len(refs.Vendors), "meanings", len(refs.Meanings))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}
	if err := labelServer.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")

	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable per-client rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 500*1024*1024, "maximum uploaded bytes per day per client")

	serveCmd.Flags().String("db-driver", "sqlite", "database driver (sqlite, postgres)")
	serveCmd.Flags().String("db-dsn", "", "postgres connection string")
	serveCmd.Flags().String("db-path", "labelscan.db", "sqlite database file")
	serveCmd.Flags().String("schema", "header-detail", "storage schema (header-detail, normalized)")
	serveCmd.Flags().String("data-dir", "data", "root directory for staged uploads and results")
	serveCmd.Flags().String("reference", "", "vendor/meaning reference list (YAML or CSV)")
	serveCmd.Flags().Bool("strict-reference", false, "reject vendors and meanings not in the reference list")
}
