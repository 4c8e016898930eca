package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/mempool"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/staging"
)

const (
	formatCSV  = "csv"
	formatText = "text"
)

// uploadHandler analyzes one uploaded label image and stages the result.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	buf, filename, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	defer mempool.PutBuffer(buf)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	an, entry, err := s.analyzeAndStage(ctx, buf.Bytes(), filename)
	if err != nil {
		analysesTotal.WithLabelValues("http", "error").Inc()
		s.writeAnalyzeError(w, err)
		return
	}
	analysesTotal.WithLabelValues("http", "success").Inc()

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case formatCSV:
		body, err := pipeline.ToCSVAnalysis(an)
		if err != nil {
			s.writeErrorResponse(w, "Failed to format result", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("X-Result-ID", entry.ID)
		_, _ = io.WriteString(w, body)
	case formatText:
		body, _ := pipeline.ToPlainTextAnalysis(an)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Result-ID", entry.ID)
		_, _ = io.WriteString(w, body)
	default:
		s.writeJSON(w, http.StatusOK, buildUploadResponse(an, entry))
	}
}

// readUpload extracts the "image" form file into a pooled buffer. On failure
// the error response has been written and ok is false.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (buf *bytes.Buffer, filename string, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeErrorResponse(w, fmt.Sprintf("Upload exceeds %d MB", s.maxUploadMB), http.StatusRequestEntityTooLarge)
			return nil, "", false
		}
		s.writeErrorResponse(w, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	buf, err = mempool.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image", http.StatusBadRequest)
		return nil, "", false
	}
	if buf.Len() == 0 {
		mempool.PutBuffer(buf)
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, "", false
	}
	uploadSizeBytes.Observe(float64(buf.Len()))
	return buf, header.Filename, true
}

// analyzeAndStage runs the pipeline on raw and stages the upload, the
// annotated raster and the analysis under a fresh result id.
func (s *Server) analyzeAndStage(ctx context.Context, raw []byte, filename string) (*pipeline.Analysis, staging.Entry, error) {
	an, err := s.pipeline.AnalyzeReader(ctx, bytes.NewReader(raw), filename)
	if err != nil {
		return nil, staging.Entry{}, err
	}
	barcodesPerImage.Observe(float64(len(an.Detections)))

	var annotated image.Image
	if an.Annotated == nil && an.Source != nil {
		annotated = s.pipeline.Annotate(an.Source, an)
	}
	entry, err := s.staging.Save(an, raw, annotated)
	if err != nil {
		return nil, staging.Entry{}, err
	}
	slog.Info("Label analyzed",
		"result_id", entry.ID, "filename", entry.Filename, "barcodes", len(an.Detections),
		"duration_ms", an.Processing.TotalNs/1_000_000)
	return an, entry, nil
}

func (s *Server) writeAnalyzeError(w http.ResponseWriter, err error) {
	var ie *pipeline.InputError
	var se *staging.Error
	switch {
	case errors.As(err, &ie):
		s.writeErrorResponse(w, ie.Error(), http.StatusBadRequest)
	case errors.As(err, &se):
		slog.Error("Staging failed", "error", err)
		s.writeErrorResponse(w, "Failed to store analysis", http.StatusInternalServerError)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, "Analysis timed out", http.StatusGatewayTimeout)
	default:
		slog.Error("Analysis failed", "error", err)
		s.writeErrorResponse(w, "Analysis failed: "+err.Error(), http.StatusInternalServerError)
	}
}

func buildUploadResponse(an *pipeline.Analysis, entry staging.Entry) UploadResponse {
	resp := UploadResponse{
		Success:   true,
		ResultID:  entry.ID,
		Filename:  entry.Filename,
		Width:     an.Width,
		Height:    an.Height,
		Barcodes:  make([]BarcodeJSON, 0, len(an.Detections)),
		ImageURL:  "/processed/" + entry.ID,
		ResultURL: "/results/" + entry.ID,
	}
	for _, d := range an.Detections {
		resp.Barcodes = append(resp.Barcodes, BarcodeJSON{
			Content:     d.Content,
			Type:        d.Symbology,
			Order:       d.Order,
			X:           d.Rect.X,
			Y:           d.Rect.Y,
			Width:       d.Rect.W,
			Height:      d.Rect.H,
			NormalizedX: d.NormalizedX,
			NormalizedY: d.NormalizedY,
			Length:      records.ContentLength(d.Content),
		})
	}
	return resp
}

// processedHandler serves the annotated PNG of a staged analysis.
func (s *Server) processedHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.PathValue("id")
	f, err := s.staging.OpenAnnotated(id)
	if err != nil {
		s.writeStagingError(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := io.Copy(w, f); err != nil {
		slog.Warn("Failed to send annotated image", "result_id", id, "error", err)
	}
}

// resultsHandler serves the staged analysis JSON.
func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	an, err := s.staging.Load(r.PathValue("id"))
	if err != nil {
		s.writeStagingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, an)
}

func (s *Server) writeStagingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, staging.ErrInvalidID):
		s.writeErrorResponse(w, "Invalid result id", http.StatusBadRequest)
	case errors.Is(err, staging.ErrNotFound):
		s.writeErrorResponse(w, "Result not found", http.StatusNotFound)
	default:
		slog.Error("Staging read failed", "error", err)
		s.writeErrorResponse(w, "Failed to read staged result", http.StatusInternalServerError)
	}
}
