package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers and records request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())
	}
}

// rateLimitMiddleware applies the per-minute httprate limiter followed by
// the daily quotas. Both are skipped unless rate limiting is enabled.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if !s.rateLimit.Enabled {
		return next
	}

	var h http.Handler = s.quotaMiddleware(next)
	if s.rateLimit.RequestsPerMinute > 0 {
		limit := httprate.Limit(
			s.rateLimit.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(s.handleMinuteLimit),
		)
		h = limit(h)
	}
	return h.ServeHTTP
}

func (s *Server) quotaMiddleware(next http.HandlerFunc) http.HandlerFunc {
	if s.rateLimiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var dataSize int64
		if r.ContentLength > 0 {
			dataSize = r.ContentLength
		}
		if err := s.rateLimiter.CheckQuota(getClientIP(r), dataSize); err != nil {
			s.handleRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleMinuteLimit(w http.ResponseWriter, r *http.Request) {
	rateLimitHits.WithLabelValues("minute").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	response := map[string]interface{}{
		"success": false,
		"error":   "rate_limit_exceeded",
		"type":    "minute",
		"limit":   s.rateLimit.RequestsPerMinute,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// handleRateLimitError handles quota errors.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		w.WriteHeader(http.StatusInternalServerError)
		if err := json.NewEncoder(w).Encode(ErrorResponse{Error: "rate limiting check failed"}); err != nil {
			slog.Error("Failed to encode internal error response", "error", err)
		}
		return
	}

	rateLimitHits.WithLabelValues(qe.Type).Inc()
	w.Header().Set("X-Quota-Type", qe.Type)
	w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
	w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
	w.Header().Set("X-Quota-Resets", qe.Resets.Format(http.TimeFormat))
	w.WriteHeader(http.StatusTooManyRequests)
	response := map[string]interface{}{
		"success": false,
		"error":   "quota_exceeded",
		"type":    qe.Type,
		"limit":   qe.Limit,
		"used":    qe.Used,
		"resets":  qe.Resets.Format(time.RFC3339),
		"message": qe.Error(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode quota exceeded response", "error", err)
	}
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
