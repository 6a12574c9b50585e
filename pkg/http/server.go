package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/client"
	"calldash-server/pkg/config"
	"calldash-server/pkg/errors"
	"calldash-server/pkg/ingest"
	"calldash-server/pkg/live"
	"calldash-server/pkg/metrics"
)

// Ingestor accepts calls for processing.
type Ingestor interface {
	Process(ctx context.Context, call ingest.Call) ingest.Result
}

// LiveView is the dashboard-facing surface of the live subscriber.
type LiveView interface {
	Current() live.Snapshot
	Refresh()
	RepairSentiments(ctx context.Context) (live.RepairReport, error)
}

// Server is the HTTP API: ingestion, dashboard reads, health and the
// WebSocket push endpoint.
type Server struct {
	cfg        config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	hub        *MetricsHub
	ingestor   Ingestor
	view       LiveView
	tracker    *client.StateTracker
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg config.HTTPConfig, hub *MetricsHub, ingestor Ingestor, view LiveView, tracker *client.StateTracker, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		ingestor:  ingestor,
		view:      view,
		tracker:   tracker,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/ingest", s.ingestHandler)
	mux.HandleFunc("/api/metrics", s.snapshotHandler)
	mux.HandleFunc("/api/refresh", s.refreshHandler)
	mux.HandleFunc("/api/repair", s.repairHandler)
	mux.HandleFunc("/api/connection", s.connectionHandler)
	mux.HandleFunc("/api/connection/retry", s.retryHandler)
	if hub != nil {
		mux.HandleFunc("/ws", hub.ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"started_at": s.startTime.Format(time.RFC3339),
	}
	if s.tracker != nil {
		status["connection_state"] = s.tracker.State().String()
		status["connection_failures"] = s.tracker.Failures()
	}
	if s.hub != nil {
		status["ws_clients"] = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, status)
}

// ingestRequest is the POST /api/ingest payload. Audio is optional and
// base64-encoded; calls without a transcript are transcribed. A
// client-supplied id makes the request an idempotent replay.
type ingestRequest struct {
	ID              string `json:"id,omitempty"`
	Transcript      string `json:"transcript"`
	AudioBase64     string `json:"audio_base64,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	SessionOwnerID  string `json:"session_owner_id,omitempty"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
	AudioSizeBytes  int64  `json:"audio_size_bytes,omitempty"`
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}

	call := ingest.Call{
		ID:              req.ID,
		Transcript:      req.Transcript,
		OwnerID:         req.OwnerID,
		SessionOwnerID:  req.SessionOwnerID,
		DurationSeconds: req.DurationSeconds,
		AudioSizeBytes:  req.AudioSizeBytes,
	}
	if req.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid base64 audio"})
			return
		}
		call.Audio = bytes.NewReader(audio)
		if call.AudioSizeBytes == 0 {
			call.AudioSizeBytes = int64(len(audio))
		}
	}

	result := s.ingestor.Process(r.Context(), call)
	if result.Err != nil {
		s.writeError(w, result.Err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": result.ID})
}

func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Current())
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.view.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func (s *Server) repairHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	report, err := s.view.RepairSentiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) connectionHandler(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection tracking disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":    s.tracker.State().String(),
		"failures": s.tracker.Failures(),
		"offline":  s.tracker.Offline(),
	})
}

func (s *Server) retryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.tracker == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection tracking disabled"})
		return
	}

	s.tracker.RetryNow()
	s.view.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retry requested"})
}

// writeError maps the failure taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	class := errors.Classify(err)

	status := http.StatusInternalServerError
	switch class {
	case errors.ClassNotFound:
		status = http.StatusNotFound
	case errors.ClassDataFormat:
		status = http.StatusBadRequest
	case errors.ClassAuth:
		status = http.StatusUnauthorized
	case errors.ClassRateLimited:
		status = http.StatusTooManyRequests
	case errors.ClassOffline, errors.ClassTransient, errors.ClassConnectionFailed, errors.ClassSchemaMismatch:
		status = http.StatusServiceUnavailable
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"class":  class,
		"status": status,
	}).Warn("HTTP error response")

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"class": string(class),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
