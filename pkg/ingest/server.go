package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/proxyguard/log-watcher/pkg/accesslog"
	"github.com/proxyguard/log-watcher/pkg/watcher"
)

// DefaultMaxBodyBytes bounds the size of request bodies
const DefaultMaxBodyBytes = 4 * 1024 * 1024

// Route names
const (
	RouteLogParser = "log-parser"
	RouteWebhook   = "webhook"
	RouteCollect   = "collect"
	RouteHealth    = "healthz"
)

// HostResolver maps a domain to its proxy host id
type HostResolver interface {
	Resolve(ctx context.Context, domain string) (int, bool)
}

// Processor parses and persists traffic of one proxy host
type Processor interface {
	ProcessLines(ctx context.Context, proxyHostID int, source string, lines []string) watcher.ProcessResult
	ProcessRecords(ctx context.Context, proxyHostID int, records []accesslog.LogRecord) watcher.ProcessResult
}

// Config holds ingestion server configuration
//
//nolint:govet // fieldalignment: logical field grouping preferred over minor memory optimization
type Config struct {
	Processor Processor
	// Hosts is optional; without it requests must carry a proxy host id
	Hosts        HostResolver
	MaxBodyBytes int64
	Now          func() time.Time
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Server receives traffic pushed over HTTP: raw log lines, and
// structured request records sent by webhooks
type Server struct {
	processor    Processor
	hosts        HostResolver
	now          func() time.Time
	metrics      *Metrics
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewServer creates an ingestion server
func NewServer(cfg Config) *Server {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		processor:    cfg.Processor,
		hosts:        cfg.Hosts,
		now:          now,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// Router returns the HTTP routes of the server
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.HandleFunc("/api/traffic/log-parser", s.handleLogParser).Methods(http.MethodPost).Name(RouteLogParser)
	r.HandleFunc("/api/traffic/webhook", s.handleWebhook).Methods(http.MethodPost).Name(RouteWebhook)
	r.HandleFunc("/api/traffic/collect", s.handleCollect).Methods(http.MethodPost).Name(RouteCollect)
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet).Name(RouteHealth)
	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleLogParser accepts {logLine|logLines, proxyHostId, host, filename}.
// Lines of a request whose proxy host cannot be found are dropped.
func (s *Server) handleLogParser(w http.ResponseWriter, r *http.Request) {
	var req LogLinesRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		s.badBody(w, err)
		return
	}

	lines := req.Lines()
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "logLine or logLines is required")
		return
	}

	proxyHostID, ok := s.resolveLogLines(r, &req)
	if !ok {
		s.unresolved(r)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "processed": len(lines), "persisted": 0})
		return
	}

	source := req.Filename
	if source == "" {
		source = RouteLogParser
	}
	result := s.processor.ProcessLines(r.Context(), proxyHostID, source, lines)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": len(lines),
		"persisted": result.SuccessCount,
	})
}

func (s *Server) resolveLogLines(r *http.Request, req *LogLinesRequest) (int, bool) {
	if id, ok := req.ProxyHostID.Positive(); ok {
		return int(id), true
	}
	if req.Filename != "" {
		if id, ok := accesslog.ExtractProxyHostID(req.Filename); ok {
			return id, true
		}
	}
	return s.resolveHost(r, req.Host)
}

// handleWebhook records one request described by the body. The URL
// defaults to "/".
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	s.handleTraffic(w, r, false)
}

// handleCollect is handleWebhook requiring an explicit URL
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	s.handleTraffic(w, r, true)
}

func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request, requireURL bool) {
	var req TrafficRequest
	if err := decodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		s.badBody(w, err)
		return
	}

	proxyHostID, ok := s.resolveTraffic(r, &req)
	if !ok {
		s.unresolved(r)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "proxy host not found: provide proxyHostId or a known host",
		})
		return
	}

	if requireURL && req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	rec := req.Record(r, s.now())
	result := s.processor.ProcessRecords(r.Context(), proxyHostID, []accesslog.LogRecord{rec})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"persisted": result.SuccessCount,
	})
}

func (s *Server) resolveTraffic(r *http.Request, req *TrafficRequest) (int, bool) {
	if id, ok := req.ProxyHostID.Positive(); ok {
		return int(id), true
	}
	return s.resolveHost(r, req.Host)
}

// resolveHost looks up the candidate domains of the request in order
// and returns the first known proxy host
func (s *Server) resolveHost(r *http.Request, bodyHost string) (int, bool) {
	if s.hosts == nil {
		return 0, false
	}
	for _, host := range HostCandidates(r, bodyHost) {
		if id, ok := s.hosts.Resolve(r.Context(), host); ok {
			return id, true
		}
	}
	return 0, false
}

func (s *Server) unresolved(r *http.Request) {
	if s.metrics != nil {
		s.metrics.UnresolvedHosts.Inc()
	}
	s.logger.Debug("proxy host not found for ingestion request",
		"path", r.URL.Path,
		"host", r.Host,
		"forwardedHost", r.Header.Get("X-Forwarded-Host"))
}

func (s *Server) badBody(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is empty")
	case errors.As(err, &maxBytesErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unknown"
		if current := mux.CurrentRoute(r); current != nil {
			route = current.GetName()
		}
		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.statusCode)).Inc()
			s.metrics.Duration.WithLabelValues(route).Observe(duration.Seconds())
		}
		s.logger.Debug("ingestion request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"durationMs", duration.Milliseconds(),
			"clientIp", ClientIP(r))
	})
}
