package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sparqlstream/metric"
)

// Checker probes one component.
type Checker func(ctx context.Context) Status

// Monitor runs registered checkers and keeps their latest results.
type Monitor struct {
	system   string
	timeout  time.Duration
	registry *metric.MetricsRegistry

	mu       sync.RWMutex
	checkers map[string]Checker
	statuses map[string]Status
}

// NewMonitor creates a monitor reporting as system. registry may be nil.
func NewMonitor(system string, registry *metric.MetricsRegistry) *Monitor {
	return &Monitor{
		system:   system,
		timeout:  5 * time.Second,
		registry: registry,
		checkers: make(map[string]Checker),
		statuses: make(map[string]Status),
	}
}

// Register adds a checker run on every Check.
func (m *Monitor) Register(name string, check Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = check
}

// Update records a status pushed by the component itself.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.registry != nil {
		m.registry.CoreMetrics().RecordHealthStatus(name, status.IsHealthy())
	}
}

// Get retrieves the latest status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove drops a component and its checker.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checkers, name)
}

// Check runs every checker concurrently, each bounded by the monitor
// timeout, and returns the aggregate.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		checkers[name] = c
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, m.timeout)
			defer cancel()
			start := time.Now()
			status := check(cctx)
			status.Latency = time.Since(start)
			m.Update(name, status)
			return nil
		})
	}
	_ = g.Wait()
	return m.Aggregate()
}

// Aggregate folds the latest statuses without running checkers.
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		subs = append(subs, m.statuses[name])
	}
	m.mu.RUnlock()
	return Aggregate(m.system, subs)
}

// Handler serves the aggregate as JSON: 200 unless unhealthy, then 503.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := m.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
