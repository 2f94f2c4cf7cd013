// Package api serves stored profile results to the widget.
// All endpoints live under the configured base path, /gae_mini_profile/ by default.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mini-profiler/internal/config"
	"mini-profiler/internal/metrics"
	"mini-profiler/internal/storage"
	"mini-profiler/web"
)

// Server handles the relay endpoints.
type Server struct {
	store   storage.Store
	cfg     config.Config
	hub     *Hub
	limiter *IPRateLimiter

	resources fs.FS
	logger    *slog.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

// NewServer creates a new relay server. hub may be nil, which disables the
// stream endpoint.
func NewServer(store storage.Store, cfg config.Config, hub *Hub, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		cfg:     cfg,
		hub:     hub,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst, cfg.RateLimitIdleTTL)
	}
	if res, err := web.Templates(); err == nil {
		s.resources = res
	} else {
		logger.Error("widget resources unavailable", "err", err)
	}
	return s
}

// ServeHTTP handles requests below the base path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, s.cfg.BasePath)
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	s.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	op := strings.Trim(path, "/")
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() { s.metrics.RecordRelayRequest(op, rec.status) }()

	if s.limiter != nil && !s.limiter.Allow(clientIP(r, s.cfg.TrustProxyHeaders)) {
		s.writeError(rec, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	switch {
	case op == "results" && r.Method == http.MethodGet:
		s.handleResults(rec, r)
	case op == "results" && r.Method == http.MethodPost:
		s.handleIngest(rec, r)
	case op == "recent" && r.Method == http.MethodGet:
		s.handleRecent(rec, r)
	case op == "resource" && r.Method == http.MethodGet:
		s.handleResource(rec, r)
	case op == "stream" && r.Method == http.MethodGet && s.hub != nil:
		s.handleStream(rec, r)
	default:
		op = "unknown"
		s.writeError(rec, http.StatusNotFound, "not found")
	}
}

// Handles reports whether path belongs to the relay.
func (s *Server) Handles(path string) bool {
	return strings.HasPrefix(path, s.cfg.BasePath)
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if s.cfg.CORSAllowOrigin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.CORSAllowOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]any{"ok": false, "error": message})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// statusRecorder remembers the response code and still allows the
// websocket upgrade to hijack the connection.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
