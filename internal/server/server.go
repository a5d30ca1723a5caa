package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/metrics"
	"github.com/fmueller/whisperd/internal/whisper"
)

// Server is the HTTP front for the transcription pipeline: method routing,
// bearer authentication, CORS, body-size limiting and response assembly.
// The listener never blocks on transcription; net/http dispatches each
// request on its own goroutine and the engine handle serializes inference.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *Pipeline
	handle   *whisper.Handle
	engine   string
	metrics  *metrics.Metrics

	httpServer *http.Server
}

func New(cfg *config.Config, logger *zap.Logger, pipeline *Pipeline, handle *whisper.Handle, engineName string, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		pipeline: pipeline,
		handle:   handle,
		engine:   engineName,
		metrics:  m,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/", s.route)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler:           s.withObservability(mux),
		ReadHeaderTimeout: 10 * time.Second,
		// Write timeout must outlast conversion plus inference.
		WriteTimeout: cfg.ConvertTimeout + cfg.TranscribeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("engine", s.engine),
		zap.String("model", s.cfg.Model),
		zap.Bool("auth", s.cfg.AuthEnabled()),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		if r.URL.Path == "/health" {
			s.handleHealth(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case http.MethodPost:
		s.handlePost(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"model":        s.cfg.Model,
		"compute_type": s.cfg.ComputeType,
		"engine":       s.engine,
		"model_loaded": s.handle.Loaded(),
	})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthEnabled() && bearerToken(r.Header.Get("Authorization")) != s.cfg.AuthToken {
		s.writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	if r.URL.Path != "/transcribe" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// Reject before reading the body; a zero or oversized Content-Length
	// never costs a byte of decoding.
	if r.ContentLength <= 0 || r.ContentLength > s.cfg.MaxBodyBytes {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid content length"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request: " + err.Error()})
		return
	}

	result, failure := s.pipeline.Handle(r.Context(), body)
	if failure != nil {
		payload := map[string]any{"error": failure.Message}
		if failure.IncludesTextField() {
			payload["text"] = ""
		}
		s.writeJSON(w, failure.HTTPStatus(), payload)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

// bearerToken extracts the token from an Authorization header, returning an
// empty string when the literal "Bearer " prefix is absent.
func bearerToken(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// withObservability wraps the handler with a status-capturing writer that
// feeds the per-request log line and the Prometheus counters.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		elapsed := time.Since(started)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(ww.status), elapsed.Seconds())
		s.logger.Info("request",
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
