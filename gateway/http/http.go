// Package http exposes query sessions over REST. Each session owns one
// coordinator; events for its queries fan out to the configured publishers
// and its latest result can be read back or paged.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/execution"
	"github.com/c360/sparqlstream/health"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/pkg/cache"
	"github.com/c360/sparqlstream/profiler"
	"github.com/c360/sparqlstream/sparql"
)

// Defaults for Server.
const (
	DefaultSessionTTL     = 30 * time.Minute
	DefaultMaxRequestSize = 1 << 20
)

// getOrGenerateRequestID extracts the request ID from headers or generates a
// new one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records session and query metrics and serves /metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithPublishers adds event publishers. Every session publishes to all of
// them.
func WithPublishers(pubs ...output.Publisher) Option {
	return func(s *Server) {
		for _, p := range pubs {
			if p != nil {
				s.publishers = append(s.publishers, p)
			}
		}
	}
}

// WithWebSocket serves h on /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) {
		s.ws = h
	}
}

// WithHealth serves the monitor on /healthz.
func WithHealth(m *health.Monitor) Option {
	return func(s *Server) {
		s.health = m
	}
}

// WithDefaultEndpoint sets the endpoint used when a submission names none.
func WithDefaultEndpoint(endpoint string) Option {
	return func(s *Server) {
		s.defaultEndpoint = endpoint
	}
}

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithAllowedOrigins enables CORS for the listed origins. "*" allows any.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMaxRequestSize bounds submission bodies.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestSize = n
		}
	}
}

// WithCoordinatorOptions are applied to every session coordinator.
func WithCoordinatorOptions(opts ...execution.Option) Option {
	return func(s *Server) {
		s.coordOpts = append(s.coordOpts, opts...)
	}
}

// WithRetention bounds the samples behind /api/stats.
func WithRetention(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.retention = n
		}
	}
}

// Server is the REST gateway.
type Server struct {
	client          execution.Client
	logger          *slog.Logger
	registry        *metric.MetricsRegistry
	publishers      []output.Publisher
	ws              http.Handler
	health          *health.Monitor
	defaultEndpoint string
	sessionTTL      time.Duration
	corsOrigins     []string
	maxRequestSize  int64
	coordOpts       []execution.Option
	retention       int

	recorder *profiler.Recorder
	cache    cache.Cache[*session]
	sessions *sessions

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a gateway. Queries run under ctx; cancelling it or calling
// Close stops every session.
func New(ctx context.Context, client execution.Client, opts ...Option) (*Server, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Gateway", "New", "client required")
	}
	s := &Server{
		client:         client,
		logger:         slog.Default(),
		sessionTTL:     DefaultSessionTTL,
		maxRequestSize: DefaultMaxRequestSize,
		retention:      profiler.DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "gateway")
	s.ctx, s.cancel = context.WithCancel(ctx)

	var recOpts []profiler.RecorderOption
	if s.registry != nil {
		recOpts = append(recOpts, profiler.WithMetrics(s.registry, "profiler"))
	}
	rec, err := profiler.NewRecorder(s.retention, recOpts...)
	if err != nil {
		s.cancel()
		return nil, errors.Wrap(err, "Gateway", "New", "create sample recorder")
	}
	s.recorder = rec

	cacheOpts := []cache.Option[*session]{
		cache.WithEvictionCallback[*session](s.evict),
		cache.WithSlidingExpiry[*session](),
	}
	if s.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[*session](s.registry, "sessions"))
	}
	c, err := cache.NewTTL[*session](s.ctx, s.sessionTTL, s.sessionTTL/4, cacheOpts...)
	if err != nil {
		s.cancel()
		_ = rec.Close()
		return nil, errors.Wrap(err, "Gateway", "New", "create session cache")
	}
	s.cache = c
	s.sessions = &sessions{srv: s}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions/{session}/queries", s.handleSubmit)
	mux.HandleFunc("DELETE /api/sessions/{session}/queries/current", s.handleCancel)
	mux.HandleFunc("POST /api/sessions/{session}/queries/{id}/next", s.handleNextPage)
	mux.HandleFunc("GET /api/sessions/{session}", s.handleSnapshot)
	mux.HandleFunc("DELETE /api/sessions/{session}", s.handleCloseSession)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	if s.ws != nil {
		mux.Handle("GET /ws", s.ws)
	}
	if s.registry != nil {
		mux.Handle("GET /metrics", s.registry.Handler())
	}
	if s.health != nil {
		mux.Handle("GET /healthz", s.health.Handler())
	}
	return s.middleware(mux)
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		if len(s.corsOrigins) > 0 {
			s.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// submitRequest is the body of a query submission.
type submitRequest struct {
	Query    string            `json:"query"`
	Endpoint string            `json:"endpoint,omitempty"`
	Format   string            `json:"format,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

func (s *Server) decodeSubmit(r *http.Request) (sparql.QueryRequest, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxRequestSize+1))
	if err != nil {
		return sparql.QueryRequest{}, errors.WrapInvalid(err, "Gateway", "decodeSubmit", "read body")
	}
	if int64(len(body)) > s.maxRequestSize {
		return sparql.QueryRequest{}, errors.WrapInvalid(
			fmt.Errorf("request body exceeds %d bytes", s.maxRequestSize), "Gateway", "decodeSubmit", "check size")
	}

	var sub submitRequest
	if err := json.Unmarshal(body, &sub); err != nil {
		return sparql.QueryRequest{}, errors.WrapInvalid(err, "Gateway", "decodeSubmit", "decode body")
	}
	if strings.TrimSpace(sub.Query) == "" {
		return sparql.QueryRequest{}, errors.WrapInvalid(errors.ErrInvalidData, "Gateway", "decodeSubmit", "query is required")
	}

	req := sparql.QueryRequest{
		Query:    sub.Query,
		Endpoint: sub.Endpoint,
		Headers:  sub.Headers,
	}
	if req.Endpoint == "" {
		req.Endpoint = s.defaultEndpoint
	}
	if req.Endpoint == "" {
		return sparql.QueryRequest{}, errors.WrapInvalid(errors.ErrInvalidData, "Gateway", "decodeSubmit", "endpoint is required")
	}
	if req.Format, err = sparql.ParseFormat(sub.Format); err != nil {
		return sparql.QueryRequest{}, errors.WrapInvalid(err, "Gateway", "decodeSubmit", "parse format")
	}
	if sub.Timeout != "" {
		d, err := time.ParseDuration(sub.Timeout)
		if err != nil || d <= 0 {
			return sparql.QueryRequest{}, errors.WrapInvalid(
				fmt.Errorf("invalid timeout %q", sub.Timeout), "Gateway", "decodeSubmit", "parse timeout")
		}
		req.Timeout = d
	}
	return req, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	if err := validateSessionID(id); err != nil {
		s.writeError(w, err)
		return
	}
	req, err := s.decodeSubmit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess, err := s.sessions.getOrCreate(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	h, err := sess.coord.Submit(s.ctx, req, sess.sink)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("query submitted",
		"session", id,
		"request_id", h.ID,
		"endpoint", req.Endpoint,
		"kind", req.Kind())
	s.writeJSON(w, http.StatusAccepted, map[string]string{"request_id": h.ID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if h := sess.coord.Current(); h != nil {
		sess.coord.Cancel(h)
	}
	w.WriteHeader(http.StatusNoContent)
}

// pageResponse adds the informational page error to the wire form.
type pageResponse struct {
	pagination.Page
	Error string `json:"error,omitempty"`
}

func (s *Server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	h := sess.coord.Current()
	if h == nil || h.ID != r.PathValue("id") {
		s.writeStatus(w, http.StatusNotFound, "unknown or superseded request")
		return
	}
	select {
	case <-h.Done():
	default:
		s.writeStatus(w, http.StatusConflict, "query still running")
		return
	}

	page := sess.coord.LoadNextPage(r.Context(), h)
	sess.state.ApplyPage(h.ID, page)

	resp := pageResponse{Page: page}
	if page.Err != nil {
		resp.Error = page.Err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// sessionView is a snapshot plus an optional window of rows.
type sessionView struct {
	execution.Snapshot
	Bindings []sparql.Binding `json:"bindings,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	view := sessionView{Snapshot: sess.state.Snapshot()}

	q := r.URL.Query()
	if q.Has("limit") || q.Has("offset") {
		offset, err := intParam(q.Get("offset"), 0)
		if err != nil {
			s.writeError(w, err)
			return
		}
		limit, err := intParam(q.Get("limit"), 100)
		if err != nil {
			s.writeError(w, err)
			return
		}
		view.Bindings = sess.state.Rows(offset, limit)
	}
	s.writeJSON(w, http.StatusOK, view)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("invalid integer %q", raw), "Gateway", "intParam", "parse query parameter")
	}
	return n, nil
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session")
	if err := validateSessionID(id); err != nil {
		s.writeError(w, err)
		return
	}
	if ok, _ := s.cache.Delete(id); !ok {
		s.writeStatus(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statsResponse is the body of /api/stats.
type statsResponse struct {
	profiler.Stats
	Sessions  int            `json:"sessions"`
	Fallbacks int64          `json:"fallbacks"`
	Cache     cache.Snapshot `json:"session_cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Stats: s.recorder.Stats(), Cache: s.cache.Stats().Snapshot()}
	for _, id := range s.cache.Keys() {
		if sess, ok := s.cache.Peek(id); ok {
			resp.Sessions++
			resp.Fallbacks += sess.coord.FallbackCount()
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := r.PathValue("session")
	if err := validateSessionID(id); err != nil {
		s.writeError(w, err)
		return nil, false
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		s.writeStatus(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// Close cancels every running query and releases all sessions.
func (s *Server) Close() error {
	s.cancel()
	err := s.cache.Close()
	if rerr := s.recorder.Close(); err == nil {
		err = rerr
	}
	return err
}

// applyCORS applies CORS headers to the response
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, execution.ErrClosed), stderrors.Is(err, errors.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients. Invalid
// input is echoed so callers can fix their request.
func sanitizeError(err error) string {
	status := mapErrorToHTTPStatus(err)
	switch status {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	}
	return "internal server error"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeStatus(w, status, sanitizeError(err))
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
