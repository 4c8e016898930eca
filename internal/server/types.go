package server

import (
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/staging"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

// Analyzer runs the barcode pipeline on an uploaded raster.
type Analyzer interface {
	AnalyzeReader(ctx context.Context, r io.Reader, filename string) (*pipeline.Analysis, error)
	Annotate(img image.Image, a *pipeline.Analysis) *image.RGBA
	Close() error
}

// Sink persists submitted label records.
type Sink interface {
	Submit(ctx context.Context, b store.Batch) (store.Receipt, error)
	Schema() records.Schema
	Ping(ctx context.Context) error
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline  Analyzer
	sink      Sink
	staging   *staging.Area
	reference *reference.Lists

	corsOrigin      string
	maxUploadMB     int64
	timeout         time.Duration
	strictReference bool

	rateLimit   RateLimitConfig
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigin      string
	MaxUploadMB     int64
	TimeoutSec      int
	StrictReference bool
	RateLimit       RateLimitConfig
}

// RateLimitConfig configures per-client limits. RequestsPerMinute is a
// sliding window; the daily limits are quotas.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Dependencies are the collaborators of a Server. Only Pipeline and
// Staging are required.
type Dependencies struct {
	Pipeline  Analyzer
	Sink      Sink
	Staging   *staging.Area
	Reference *reference.Lists
}

// Response types for API endpoints.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Time     string `json:"time"`
	Database string `json:"database,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// BarcodeJSON is one barcode in an upload response.
type BarcodeJSON struct {
	Content     string  `json:"content"`
	Type        string  `json:"type"`
	Order       int     `json:"order"`
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	NormalizedX float64 `json:"normalized_x"`
	NormalizedY float64 `json:"normalized_y"`
	Length      int     `json:"length"`
	Meaning     string  `json:"meaning"`
}

type UploadResponse struct {
	Success   bool          `json:"success"`
	ResultID  string        `json:"result_id"`
	Filename  string        `json:"filename,omitempty"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Barcodes  []BarcodeJSON `json:"barcodes"`
	ImageURL  string        `json:"image_url"`
	ResultURL string        `json:"result_url"`
}

// SubmitRequest is the reviewed table posted to /submit.
type SubmitRequest struct {
	Vendor    string             `json:"vendor"`
	Qty       records.FlexInt    `json:"qty"`
	ResultID  string             `json:"result_id"`
	TableData []records.TableRow `json:"tableData"`
}

type SubmitResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Records  int    `json:"records"`
	BatchID  string `json:"batch_id,omitempty"`
	Revision int    `json:"revision,omitempty"`
}

type ReferenceResponse struct {
	Vendors  []string `json:"vendors"`
	Meanings []string `json:"meanings"`
	Strict   bool     `json:"strict"`
}

// NewServer creates a server from its configuration and collaborators.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("server needs a pipeline")
	}
	if deps.Staging == nil {
		return nil, errors.New("server needs a staging area")
	}
	ref := deps.Reference
	if ref == nil {
		ref = reference.New(nil, nil)
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 20
	}
	timeout := time.Duration(config.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		pipeline:        deps.Pipeline,
		sink:            deps.Sink,
		staging:         deps.Staging,
		reference:       ref,
		corsOrigin:      config.CORSOrigin,
		maxUploadMB:     maxUpload,
		timeout:         timeout,
		strictReference: config.StrictReference,
		rateLimit:       config.RateLimit,
	}
	if config.RateLimit.Enabled && (config.RateLimit.MaxRequestsPerDay > 0 || config.RateLimit.MaxDataPerDay > 0) {
		s.rateLimiter = NewRateLimiter(config.RateLimit.MaxRequestsPerDay, config.RateLimit.MaxDataPerDay)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.pipeline != nil {
		return s.pipeline.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/reference", s.corsMiddleware(s.referenceHandler))
	mux.HandleFunc("/upload", s.corsMiddleware(s.rateLimitMiddleware(s.uploadHandler)))
	mux.HandleFunc("/submit", s.corsMiddleware(s.rateLimitMiddleware(s.submitHandler)))
	mux.HandleFunc("/processed/{id}", s.corsMiddleware(s.processedHandler))
	mux.HandleFunc("/results/{id}", s.corsMiddleware(s.resultsHandler))
	mux.HandleFunc("/ws/analyze", s.rateLimitMiddleware(s.analyzeWebSocketHandler))
	mux.Handle("/metrics", metricsHandler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}
