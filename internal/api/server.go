package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/netlab/internal/api/middleware"
	"github.com/khanhnv2901/netlab/internal/probe"
	apperrors "github.com/khanhnv2901/netlab/internal/shared/errors"
	"go.uber.org/zap"
)

// maxBodyBytes limits request bodies to 1MB.
const maxBodyBytes = 1 << 20

// Probe kinds accepted by the job endpoint. The route names are accepted as aliases.
const (
	KindScan   = "scan"
	KindPing   = "ping"
	KindBanner = "banner"
	KindTLS    = "tls"
)

type ProbeService interface {
	Scan(ctx context.Context, identity string, req probe.ScanRequest) (*probe.ScanReport, error)
	Ping(ctx context.Context, identity string, req probe.PingRequest) (*probe.PingReport, error)
	Banner(ctx context.Context, identity string, req probe.BannerRequest) (*probe.BannerReport, error)
	TLS(ctx context.Context, identity string, req probe.TLSRequest) (*probe.TLSReport, error)
}

type HealthService interface {
	Check(ctx context.Context) error
	Ready(ctx context.Context) error
}

type JobService interface {
	StartJob(ctx context.Context, identity string, req ProbeRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	Subscribe() (chan Job, func())
}

type Config struct {
	Probes      ProbeService
	Health      HealthService
	Jobs        JobService
	AuthToken   string
	Logger      *zap.Logger
	CORSOrigins []string // Allowed CORS origins (empty = allow all)
}

// ProbeRequest is the JSON body accepted by every probe route and by /jobs.
type ProbeRequest struct {
	Type     string     `json:"type,omitempty"`
	Host     string     `json:"host"`
	Ports    PortsField `json:"ports"`
	Port     int        `json:"port,omitempty"`
	Hint     string     `json:"hint,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
	MaxBytes int        `json:"maxBytes,omitempty"`
}

// PortsField accepts either a spec string ("22,80,8000-8100"), a single number
// or an array of numbers.
type PortsField struct {
	Spec string
	List []int
}

func (p *PortsField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	switch b[0] {
	case '"':
		return json.Unmarshal(b, &p.Spec)
	case '[':
		return json.Unmarshal(b, &p.List)
	default:
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.New("ports must be a string, a number or an array of numbers")
		}
		p.List = []int{n}
		return nil
	}
}

func (p PortsField) MarshalJSON() ([]byte, error) {
	if len(p.List) > 0 {
		return json.Marshal(p.List)
	}
	return json.Marshal(p.Spec)
}

type Server struct {
	cfg Config
	mux *http.ServeMux
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		cfg: cfg,
		mux: http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Apply middleware chain: RequestID -> Logging -> CORS -> Auth -> Handler
	handler := middleware.RequestID(s.withLogging(s.withCORS(s.mux)))
	handler.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.handle("/health", s.handleHealth)
	s.handle("/ready", s.handleReady)
	s.handle("/port-scan", s.handleProbe(KindScan))
	s.handle("/tcp-ping", s.handleProbe(KindPing))
	s.handle("/banner-grab", s.handleProbe(KindBanner))
	s.handle("/ssl-scan", s.handleProbe(KindTLS))
	s.handle("/jobs", s.handleJobs)
	s.handle("/jobs/", s.handleJobByID)
	s.handle("/jobs-stream", s.handleJobStream)
}

// handle registers h under /api/v1 (primary) and /api (unversioned alias).
func (s *Server) handle(path string, h http.HandlerFunc) {
	s.mux.Handle("/api/v1"+path, s.withAuth(h))
	s.mux.Handle("/api"+path, s.withAuth(h))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Check(r.Context()); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health.Ready(r.Context()); err != nil {
			s.writeError(w, r, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleProbe(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, r)
			return
		}
		if s.cfg.Probes == nil {
			s.writeError(w, r, http.StatusServiceUnavailable, errors.New("probe service not available"))
			return
		}
		req, err := decodeProbeRequest(w, r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		req.Type = kind

		report, err := RunProbe(r.Context(), s.cfg.Probes, ClientIdentity(r), req)
		if err != nil {
			s.writeError(w, r, StatusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := 25
		if q := r.URL.Query().Get("limit"); q != "" {
			if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		jobs, err := s.cfg.Jobs.ListJobs(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		req, err := decodeProbeRequest(w, r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		job, err := s.cfg.Jobs.StartJob(r.Context(), ClientIdentity(r), req)
		if err != nil {
			s.writeError(w, r, StatusForError(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	default:
		s.methodNotAllowed(w, r)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, r)
		return
	}
	id := ""
	if idx := strings.LastIndex(r.URL.Path, "/jobs/"); idx >= 0 {
		id = r.URL.Path[idx+len("/jobs/"):]
	}
	if id == "" {
		s.writeError(w, r, http.StatusNotFound, errors.New("job ID required"))
		return
	}
	job, err := s.cfg.Jobs.GetJob(r.Context(), id)
	if err != nil || job == nil {
		s.writeError(w, r, http.StatusNotFound, apperrors.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("job service not available"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	updates, unsubscribe := s.cfg.Jobs.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	ctx := r.Context()
	for {
		select {
		case job, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(job)
			if err != nil {
				s.requestLogger(r).Error("failed to marshal job", zap.Error(err))
				continue
			}
			if !s.writeStreamChunk(w, []byte("event: job\ndata: ")) {
				return
			}
			if !s.writeStreamChunk(w, payload) {
				return
			}
			if !s.writeStreamChunk(w, []byte("\n\n")) {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// RunProbe dispatches req to the matching probe operation.
func RunProbe(ctx context.Context, probes ProbeService, identity string, req ProbeRequest) (any, error) {
	kind, err := NormalizeKind(req.Type)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindScan:
		report, err := probes.Scan(ctx, identity, probe.ScanRequest{Host: req.Host, Ports: req.Ports.Spec, PortList: req.Ports.List})
		if err != nil {
			return nil, err
		}
		return report, nil
	case KindPing:
		report, err := probes.Ping(ctx, identity, probe.PingRequest{Host: req.Host, Port: req.Port, Attempts: req.Attempts})
		if err != nil {
			return nil, err
		}
		return report, nil
	case KindBanner:
		report, err := probes.Banner(ctx, identity, probe.BannerRequest{Host: req.Host, Port: req.Port, Hint: req.Hint, MaxBytes: req.MaxBytes})
		if err != nil {
			return nil, err
		}
		return report, nil
	default:
		report, err := probes.TLS(ctx, identity, probe.TLSRequest{Host: req.Host, Port: req.Port})
		if err != nil {
			return nil, err
		}
		return report, nil
	}
}

// NormalizeKind maps a probe type or route name to its canonical kind.
func NormalizeKind(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindScan, "port-scan":
		return KindScan, nil
	case KindPing, "tcp-ping":
		return KindPing, nil
	case KindBanner, "banner-grab":
		return KindBanner, nil
	case KindTLS, "ssl-scan", "ssl":
		return KindTLS, nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedJobType, kind)
}

// StatusForError maps probe errors onto HTTP status codes.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperrors.ErrForbiddenTarget):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrValidation),
		errors.Is(err, apperrors.ErrResolution),
		errors.Is(err, apperrors.ErrUnsupportedJobType):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrHandshake):
		return http.StatusBadGateway
	case errors.Is(err, apperrors.ErrConnect):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ClientIdentity returns the caller address used for rate limiting: the first
// X-Forwarded-For entry, then X-Real-IP, then the connection's remote host.
func ClientIdentity(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeProbeRequest(w http.ResponseWriter, r *http.Request) (ProbeRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ProbeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ProbeRequest{}, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Determine if origin is allowed
		allowOrigin := "*"
		if len(s.cfg.CORSOrigins) > 0 {
			allowOrigin = ""
			for _, allowedOrigin := range s.cfg.CORSOrigins {
				if allowedOrigin == origin {
					allowOrigin = origin
					break
				}
			}
		}

		if allowOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Auth-Token, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		if s.cfg.Logger != nil {
			requestID := middleware.GetRequestID(r.Context())
			s.cfg.Logger.Info("http_request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("client", ClientIdentity(r)),
				zap.Int("status", lrw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.Int64("bytes", lrw.bytesWritten),
			)
		}
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		// Use constant-time comparison to prevent timing attacks
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			s.writeError(w, r, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingResponseWriter wraps http.ResponseWriter to capture status code and bytes written
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesWritten += int64(n)
	return n, err
}

// Flush lets the job stream push events through the logging wrapper.
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()

	// Upstream connect and handshake failures are reported verbatim; any other
	// 5xx gets a generic message and is logged server-side.
	if status >= 500 && !errors.Is(err, apperrors.ErrConnect) && !errors.Is(err, apperrors.ErrHandshake) {
		s.requestLogger(r).Error("internal_server_error",
			zap.Error(err),
			zap.Int("status", status),
		)
		msg = "internal server error"
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger creates a logger with request context (request ID, method, path)
func (s *Server) requestLogger(r *http.Request) *zap.Logger {
	return middleware.Logger(r.Context(), s.cfg.Logger).With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (s *Server) writeStreamChunk(w http.ResponseWriter, data []byte) bool {
	if _, err := w.Write(data); err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("failed to write stream chunk", zap.Error(err))
		}
		return false
	}
	return true
}
