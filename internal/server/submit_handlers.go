package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

const maxSubmitBytes = 1 << 20

// submitHandler persists a reviewed barcode table as one batch.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBytes))
	if err := dec.Decode(&req); err != nil {
		submissionsTotal.WithLabelValues("rejected").Inc()
		s.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req.Vendor = strings.TrimSpace(req.Vendor)
	if req.Vendor == "" {
		submissionsTotal.WithLabelValues("rejected").Inc()
		s.writeErrorResponse(w, "Vendor is required", http.StatusBadRequest)
		return
	}
	if req.Qty.Set && req.Qty.Value < 0 {
		submissionsTotal.WithLabelValues("rejected").Inc()
		s.writeErrorResponse(w, "Quantity must not be negative", http.StatusBadRequest)
		return
	}
	if err := s.checkReference(req); err != nil {
		submissionsTotal.WithLabelValues("rejected").Inc()
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.sink == nil {
		s.writeErrorResponse(w, "No database configured", http.StatusServiceUnavailable)
		return
	}

	var analysis *pipeline.Analysis
	if id := strings.TrimSpace(req.ResultID); id != "" {
		an, err := s.staging.Load(id)
		if err != nil {
			submissionsTotal.WithLabelValues("rejected").Inc()
			s.writeStagingError(w, err)
			return
		}
		analysis = an
	}

	meta := records.Metadata{Vendor: req.Vendor, Qty: req.Qty.Value}
	recs, err := records.FromTable(req.TableData, meta, s.sink.Schema(), analysis)
	if err != nil {
		submissionsTotal.WithLabelValues("rejected").Inc()
		if pipeline.IsInputError(err) {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.writeErrorResponse(w, "Failed to build records", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rcpt, err := s.sink.Submit(ctx, store.Batch{
		Vendor:   req.Vendor,
		Qty:      req.Qty.Value,
		ResultID: strings.TrimSpace(req.ResultID),
		Records:  recs,
	})
	if err != nil {
		submissionsTotal.WithLabelValues("failed").Inc()
		var pe *store.PersistenceError
		if errors.As(err, &pe) {
			slog.Error("Submission failed", "vendor", req.Vendor, "error", err)
			s.writeErrorResponse(w, pe.Error(), http.StatusBadGateway)
			return
		}
		s.writeErrorResponse(w, "Submission failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	submissionsTotal.WithLabelValues("stored").Inc()
	submittedRecords.Add(float64(rcpt.Records))

	s.writeJSON(w, http.StatusOK, SubmitResponse{
		Success:  true,
		Message:  fmt.Sprintf("Stored %d barcodes for %s", rcpt.Records, req.Vendor),
		Records:  rcpt.Records,
		BatchID:  rcpt.BatchID,
		Revision: rcpt.Revision,
	})
}

// checkReference validates the vendor and row meanings against the
// reference lists. Unknown values are only rejected in strict mode.
func (s *Server) checkReference(req SubmitRequest) error {
	meanings := make([]string, 0, len(req.TableData))
	for _, row := range req.TableData {
		if m := strings.TrimSpace(row.Meaning); m != "" {
			meanings = append(meanings, m)
		}
	}
	err := s.reference.Check(req.Vendor, meanings)
	if err == nil {
		return nil
	}
	var ue *reference.UnknownError
	if !s.strictReference && errors.As(err, &ue) {
		slog.Debug("Submission uses values outside the reference lists", "kind", ue.Kind, "values", ue.Values)
		return nil
	}
	return err
}
