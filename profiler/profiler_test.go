package profiler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProfiler_Durations(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	p := StartWithClock(clock.now)

	clock.advance(120 * time.Millisecond)
	p.MarkFirstByte()
	clock.advance(300 * time.Millisecond)
	p.MarkDownloadComplete()
	clock.advance(50 * time.Millisecond)
	p.MarkParseComplete()
	clock.advance(5 * time.Millisecond)
	p.MarkRenderComplete()
	clock.advance(time.Second)

	d := p.Durations()
	assert.Equal(t, 120*time.Millisecond, d.Network)
	assert.Equal(t, 300*time.Millisecond, d.Download)
	assert.Equal(t, 50*time.Millisecond, d.Parse)
	assert.Equal(t, 5*time.Millisecond, d.Render)
	assert.Equal(t, 475*time.Millisecond, d.Total, "total ends at the render mark")

	s := p.Sample(SampleInfo{ResponseBytes: 2048, RowCount: 10, ColumnCount: 2, Endpoint: "http://e", Format: "json", QueryKind: "SELECT", Strategy: "mainThread"})
	assert.InDelta(t, 120.0, s.NetworkMs, 1e-9)
	assert.InDelta(t, 475.0, s.TotalMs, 1e-9)
	assert.Equal(t, int64(2048), s.ResponseBytes)
	assert.Equal(t, "mainThread", s.Strategy)
	assert.Equal(t, clock.t.UnixMilli(), s.Timestamp)
}

func TestProfiler_MissingMarks(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	p := StartWithClock(clock.now)
	clock.advance(10 * time.Millisecond)
	p.MarkFirstByte()
	clock.advance(40 * time.Millisecond)

	d := p.Durations()
	assert.Equal(t, 10*time.Millisecond, d.Network)
	assert.Zero(t, d.Download)
	assert.Zero(t, d.Parse)
	assert.Zero(t, d.Render)
	assert.Equal(t, 50*time.Millisecond, d.Total)
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 5.0, Percentile(values, 50))
	assert.Equal(t, 9.0, Percentile(values, 90))
	assert.Equal(t, 10.0, Percentile(values, 95))
	assert.Equal(t, 10.0, Percentile(values, 99))
	assert.Equal(t, 1.0, Percentile(values, 0))
	assert.Equal(t, 0.0, Percentile(nil, 50))
}

func TestRecorder_RetentionBound(t *testing.T) {
	r, err := NewRecorder(5)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		r.Record(Sample{TotalMs: float64(i), Endpoint: fmt.Sprintf("e%d", i)})
		assert.LessOrEqual(t, r.Len(), 5)
	}

	samples := r.Samples()
	require.Len(t, samples, 5)
	assert.Equal(t, "e7", samples[0].Endpoint, "oldest evicted first")
	assert.Equal(t, "e11", samples[4].Endpoint)
	assert.Equal(t, 5, r.Capacity())
}

func TestRecorder_Stats(t *testing.T) {
	r, err := NewRecorder(DefaultRetention)
	require.NoError(t, err)

	assert.Equal(t, Stats{}, r.Stats())

	for i := 1; i <= 100; i++ {
		strategy := "mainThread"
		if i > 90 {
			strategy = "offloaded"
		}
		r.Record(Sample{TotalMs: float64(i), ParseMs: float64(i) / 10, RowCount: i, Strategy: strategy})
	}

	st := r.Stats()
	assert.Equal(t, 100, st.Count)
	assert.Equal(t, 1.0, st.Total.Min)
	assert.Equal(t, 100.0, st.Total.Max)
	assert.InDelta(t, 50.5, st.Total.Mean, 1e-9)
	assert.Equal(t, 50.0, st.Total.P50)
	assert.Equal(t, 90.0, st.Total.P90)
	assert.Equal(t, 95.0, st.Total.P95)
	assert.Equal(t, 99.0, st.Total.P99)
	assert.InDelta(t, 9.9, st.Parse.P99, 1e-9)
	assert.Equal(t, map[string]int{"mainThread": 90, "offloaded": 10}, st.ByStrategy)
}

func TestNewRecorder_Invalid(t *testing.T) {
	_, err := NewRecorder(0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRecorder_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r, err := NewRecorder(2, WithMetrics(registry, "profiler"))
	require.NoError(t, err)
	r.Record(Sample{})
	r.Record(Sample{})
	r.Record(Sample{})
	assert.Equal(t, 2, r.Len())
	require.NoError(t, r.Close())
}
