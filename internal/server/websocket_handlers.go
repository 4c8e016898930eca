package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second

	wsTypeAnalyze  = "analyze"
	wsTypeResponse = "analyze_response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients are served from other origins; CORS is configured separately.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketAnalyzeRequest is one analysis request. Image is base64 in JSON.
type WebSocketAnalyzeRequest struct {
	Type     string `json:"type"`
	Image    []byte `json:"image,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketAnalyzeResponse reports progress and the result of a request.
type WebSocketAnalyzeResponse struct {
	Type      string          `json:"type"`
	Status    string          `json:"status"` // "processing", "completed", "error"
	Progress  float64         `json:"progress,omitempty"`
	Result    *UploadResponse `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// analyzeWebSocketHandler streams analyses over a WebSocket connection.
func (s *Server) analyzeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(s.maxUploadMB<<20*2 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	limiter := s.messageLimiter()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			if limiter != nil && !limiter.Allow() {
				rateLimitHits.WithLabelValues("websocket").Inc()
				s.sendWebSocketError(conn, "", "rate_limited", "Too many analysis requests")
			} else {
				s.handleWebSocketMessage(ctx, conn, data)
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// messageLimiter returns the per-connection limiter for analysis messages,
// or nil when rate limiting is disabled. It allows the per-minute request
// budget with a burst of the same size.
func (s *Server) messageLimiter() *rate.Limiter {
	if !s.rateLimit.Enabled || s.rateLimit.RequestsPerMinute <= 0 {
		return nil
	}
	n := s.rateLimit.RequestsPerMinute
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// handleWebSocketMessage runs one analysis request and writes its
// progress and outcome to conn.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketAnalyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.Type != wsTypeAnalyze {
		s.sendWebSocketError(conn, "", "invalid_request", "Unsupported request type: "+req.Type)
		return
	}
	requestID := uuid.NewString()
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, requestID, "invalid_request", "No image data provided")
		return
	}
	if int64(len(req.Image)) > s.maxUploadMB<<20 {
		s.sendWebSocketError(conn, requestID, "invalid_request", fmt.Sprintf("Upload exceeds %d MB", s.maxUploadMB))
		return
	}
	uploadSizeBytes.Observe(float64(len(req.Image)))

	s.sendWebSocketResponse(conn, WebSocketAnalyzeResponse{
		Type:      wsTypeResponse,
		Status:    "processing",
		RequestID: requestID,
	})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	an, entry, err := s.analyzeAndStage(ctx, req.Image, req.Filename)
	if err != nil {
		analysesTotal.WithLabelValues("websocket", "error").Inc()
		var ie *pipeline.InputError
		if errors.As(err, &ie) {
			s.sendWebSocketError(conn, requestID, "invalid_request", ie.Error())
			return
		}
		slog.Error("WebSocket analysis failed", "request_id", requestID, "error", err)
		s.sendWebSocketError(conn, requestID, "processing_error", "Analysis failed")
		return
	}
	analysesTotal.WithLabelValues("websocket", "success").Inc()

	result := buildUploadResponse(an, entry)
	s.sendWebSocketResponse(conn, WebSocketAnalyzeResponse{
		Type:      wsTypeResponse,
		Status:    "completed",
		Progress:  1.0,
		Result:    &result,
		RequestID: requestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketAnalyzeResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Error("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketAnalyzeResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
