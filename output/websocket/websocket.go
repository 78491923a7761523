// Package websocket streams query event envelopes to browser clients. Each
// connection subscribes to one session with the session query parameter.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.ErrShuttingDown

// Hub fans envelopes out to the clients subscribed to their session.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *hubMetrics

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*clientInfo

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type clientInfo struct {
	session     string
	connectedAt time.Time
	writeMutex  sync.Mutex
	closed      atomic.Bool
	closeOnce   sync.Once
	lastPong    atomic.Value // time.Time
}

type hubMetrics struct {
	clientsConnected prometheus.Gauge
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics exports connection metrics and counts published events.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) {
		h.registry = registry
	}
}

// WithCheckOrigin overrides the upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// NewHub creates a hub and starts its ping loop.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger:   slog.Default(),
		clients:  make(map[*websocket.Conn]*clientInfo),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "websocket")
	h.metrics = newHubMetrics(h.registry, h.logger)

	h.wg.Add(1)
	go h.maintainClients()
	return h
}

func newHubMetrics(registry *metric.MetricsRegistry, logger *slog.Logger) *hubMetrics {
	if registry == nil {
		return nil
	}
	m := &hubMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages sent to WebSocket clients",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to WebSocket clients",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket errors by type",
		}, []string{"error_type"}),
	}
	for name, err := range map[string]error{
		"clients_connected": registry.RegisterGauge("websocket", "clients_connected", m.clientsConnected),
		"messages_sent":     registry.RegisterCounter("websocket", "messages_sent", m.messagesSent),
		"bytes_sent":        registry.RegisterCounter("websocket", "bytes_sent", m.bytesSent),
		"errors":            registry.RegisterCounterVec("websocket", "errors", m.errorsTotal),
	} {
		if err != nil {
			logger.Warn("metric registration failed", "metric", name, "error", err)
		}
	}
	return m
}

// ServeHTTP upgrades the request and subscribes the connection to the
// session named by the session query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		http.Error(w, "session query parameter required", http.StatusBadRequest)
		return
	}
	select {
	case <-h.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.countError("connection_upgrade")
		return
	}

	info := &clientInfo{session: session, connectedAt: time.Now()}
	info.lastPong.Store(time.Now())

	h.clientsMu.Lock()
	h.clients[conn] = info
	count := len(h.clients)
	h.clientsMu.Unlock()
	if h.metrics != nil {
		h.metrics.clientsConnected.Set(float64(count))
	}
	h.logger.Debug("client connected", "session", session, "clients", count)

	h.wg.Add(1)
	go h.handleClient(conn, info)
}

// handleClient drains client frames so control messages are processed.
func (h *Hub) handleClient(conn *websocket.Conn, info *clientInfo) {
	defer h.wg.Done()
	defer h.removeClient(conn, info)

	conn.SetPongHandler(func(string) error {
		info.lastPong.Store(time.Now())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn, info *clientInfo) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		h.clientsMu.Lock()
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		if h.metrics != nil {
			h.metrics.clientsConnected.Set(float64(count))
		}
		_ = conn.Close()
	})
}

// Publish sends env to every client of env.Session. A failed client is
// dropped; the error is only returned when nothing could be sent.
func (h *Hub) Publish(ctx context.Context, env output.Envelope) error {
	select {
	case <-h.shutdown:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Hub", "Publish", "encode envelope")
	}

	h.clientsMu.RLock()
	targets := make(map[*websocket.Conn]*clientInfo)
	for conn, info := range h.clients {
		if info.session == env.Session && !info.closed.Load() {
			targets[conn] = info
		}
	}
	h.clientsMu.RUnlock()

	var lastErr error
	sent := 0
	for conn, info := range targets {
		if err := h.send(conn, info, data); err != nil {
			lastErr = err
			h.countError("write")
			h.removeClient(conn, info)
			continue
		}
		sent++
	}

	if h.registry != nil && sent > 0 {
		h.registry.CoreMetrics().RecordEventPublished("websocket", string(env.Type))
	}
	if sent == 0 && lastErr != nil {
		return errors.WrapTransient(lastErr, "Hub", "Publish", "write to clients")
	}
	return nil
}

func (h *Hub) send(conn *websocket.Conn, info *clientInfo, data []byte) error {
	// gorilla/websocket panics on concurrent writes to one connection
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if h.metrics != nil {
		h.metrics.messagesSent.Inc()
		h.metrics.bytesSent.Add(float64(len(data)))
	}
	return nil
}

// Clients returns the number of clients subscribed to session, or to any
// session when session is empty.
func (h *Hub) Clients(session string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if session == "" {
		return len(h.clients)
	}
	n := 0
	for _, info := range h.clients {
		if info.session == session {
			n++
		}
	}
	return n
}

func (h *Hub) maintainClients() {
	defer h.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) pingClients() {
	h.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*clientInfo, len(h.clients))
	for conn, info := range h.clients {
		snapshot[conn] = info
	}
	h.clientsMu.RUnlock()

	for conn, info := range snapshot {
		if info.closed.Load() {
			continue
		}
		info.writeMutex.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		info.writeMutex.Unlock()
		if err != nil {
			h.countError("ping")
			h.removeClient(conn, info)
		}
	}
}

func (h *Hub) countError(kind string) {
	if h.metrics != nil {
		h.metrics.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close(timeout time.Duration) error {
	h.closeOnce.Do(func() { close(h.shutdown) })

	h.clientsMu.RLock()
	snapshot := make(map[*websocket.Conn]*clientInfo, len(h.clients))
	for conn, info := range h.clients {
		snapshot[conn] = info
	}
	h.clientsMu.RUnlock()

	for conn, info := range snapshot {
		info.writeMutex.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		info.writeMutex.Unlock()
		h.removeClient(conn, info)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Hub", "Close", "wait for client goroutines")
	}
}
