package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/testutil"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want State
	}{
		{"empty", nil, StateHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy},
		{"degraded wins over healthy", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StateDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StateUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromError_Sanitizes(t *testing.T) {
	s := FromError("endpoint", errors.New("dial http://10.0.0.5:8890/sparql failed: token=abc123"))
	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "10.0.0.5")
	assert.NotContains(t, s.Message, "abc123")
	assert.Contains(t, s.Message, "[URL]")

	assert.True(t, FromError("x", nil).IsHealthy())
}

func TestMonitor_CheckRunsCheckers(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewMonitor("sparqlstream", registry)
	m.Register("parser", func(context.Context) Status { return NewHealthy("parser", "idle") })
	m.Register("nats", func(context.Context) Status { return NewUnhealthy("nats", "down") })

	agg := m.Check(context.Background())
	assert.True(t, agg.IsUnhealthy())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "nats", agg.SubStatuses[0].Component)

	got, ok := m.Get("parser")
	require.True(t, ok)
	assert.True(t, got.IsHealthy())

	assert.Equal(t, 0.0, promtestutil.ToFloat64(registry.CoreMetrics().HealthCheckStatus.WithLabelValues("nats")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(registry.CoreMetrics().HealthCheckStatus.WithLabelValues("parser")))

	m.Remove("nats")
	assert.True(t, m.Check(context.Background()).IsHealthy())
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("sparqlstream", nil)
	m.Update("gateway", NewUnhealthy("", "stopped"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StateUnhealthy, body.Status)
	assert.Equal(t, "gateway", body.SubStatuses[0].Component)
}

func TestEndpointCheck(t *testing.T) {
	client, err := protocol.NewClient()
	require.NoError(t, err)

	ok := testutil.NewEndpoint(t, testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, `{"head":{},"boolean":true}`))
	s := EndpointCheck("endpoint", client, ok.URL())(context.Background())
	assert.True(t, s.IsHealthy())
	assert.Equal(t, "ASK {}", ok.LastRequest().Query)

	broken := testutil.NewEndpoint(t, testutil.Respond(http.StatusServiceUnavailable, "text/plain", "overloaded"))
	s = EndpointCheck("endpoint", client, broken.URL())(context.Background())
	assert.True(t, s.IsDegraded())
}
