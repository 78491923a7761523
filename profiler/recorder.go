package profiler

import (
	"math"
	"sort"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/pkg/buffer"
)

// DefaultRetention is the number of samples kept by default.
const DefaultRetention = 100

// Recorder keeps the most recent samples in a bounded ring. The oldest
// sample is evicted first. Safe for concurrent use.
type Recorder struct {
	samples buffer.Buffer[Sample]
}

// RecorderOption configures a Recorder.
type RecorderOption func(*recorderOptions)

type recorderOptions struct {
	registry *metric.MetricsRegistry
	prefix   string
}

// WithMetrics exports ring size and evictions under prefix.
func WithMetrics(registry *metric.MetricsRegistry, prefix string) RecorderOption {
	return func(o *recorderOptions) {
		o.registry = registry
		o.prefix = prefix
	}
}

// NewRecorder creates a recorder keeping at most retention samples.
func NewRecorder(retention int, opts ...RecorderOption) (*Recorder, error) {
	if retention <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Recorder", "NewRecorder",
			"retention must be positive")
	}
	var o recorderOptions
	for _, opt := range opts {
		opt(&o)
	}

	bufOpts := []buffer.Option[Sample]{buffer.WithOverflowPolicy[Sample](buffer.DropOldest)}
	if o.registry != nil {
		bufOpts = append(bufOpts, buffer.WithMetrics[Sample](o.registry, o.prefix))
	}
	ring, err := buffer.NewCircularBuffer[Sample](retention, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Recorder", "NewRecorder", "create sample ring")
	}
	return &Recorder{samples: ring}, nil
}

// Record appends s, evicting the oldest sample when full.
func (r *Recorder) Record(s Sample) {
	_ = r.samples.Write(s)
}

// Samples returns the retained samples, oldest first.
func (r *Recorder) Samples() []Sample {
	return r.samples.Snapshot()
}

// Len returns the number of retained samples.
func (r *Recorder) Len() int {
	return r.samples.Size()
}

// Capacity returns the retention bound.
func (r *Recorder) Capacity() int {
	return r.samples.Capacity()
}

// Close releases the ring. Later samples are discarded.
func (r *Recorder) Close() error {
	return r.samples.Close()
}

// Distribution summarises one measure across samples.
type Distribution struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

// Stats are aggregate percentiles over the retained samples.
type Stats struct {
	Count         int            `json:"count"`
	Network       Distribution   `json:"network_ms"`
	Download      Distribution   `json:"download_ms"`
	Parse         Distribution   `json:"parse_ms"`
	Render        Distribution   `json:"render_ms"`
	Total         Distribution   `json:"total_ms"`
	ResponseBytes Distribution   `json:"response_bytes"`
	Rows          Distribution   `json:"rows"`
	ByStrategy    map[string]int `json:"by_strategy,omitempty"`
}

// Stats computes the aggregate statistics. With no samples every
// distribution is zero.
func (r *Recorder) Stats() Stats {
	return Summarize(r.Samples())
}

// Summarize computes Stats over samples.
func Summarize(samples []Sample) Stats {
	st := Stats{Count: len(samples)}
	if len(samples) == 0 {
		return st
	}

	pick := func(f func(Sample) float64) Distribution {
		values := make([]float64, len(samples))
		for i, s := range samples {
			values[i] = f(s)
		}
		return distribution(values)
	}

	st.Network = pick(func(s Sample) float64 { return s.NetworkMs })
	st.Download = pick(func(s Sample) float64 { return s.DownloadMs })
	st.Parse = pick(func(s Sample) float64 { return s.ParseMs })
	st.Render = pick(func(s Sample) float64 { return s.RenderMs })
	st.Total = pick(func(s Sample) float64 { return s.TotalMs })
	st.ResponseBytes = pick(func(s Sample) float64 { return float64(s.ResponseBytes) })
	st.Rows = pick(func(s Sample) float64 { return float64(s.RowCount) })

	st.ByStrategy = make(map[string]int)
	for _, s := range samples {
		if s.Strategy != "" {
			st.ByStrategy[s.Strategy]++
		}
	}
	return st
}

func distribution(values []float64) Distribution {
	sort.Float64s(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	return Distribution{
		Min:  values[0],
		Max:  values[len(values)-1],
		Mean: sum / float64(len(values)),
		P50:  Percentile(values, 50),
		P90:  Percentile(values, 90),
		P95:  Percentile(values, 95),
		P99:  Percentile(values, 99),
	}
}

// Percentile returns the nearest-rank percentile of sorted values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
