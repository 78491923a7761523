// Package profiler timestamps the phases of a single query and aggregates
// completed samples into percentile statistics.
package profiler

import (
	"time"

	"github.com/c360/sparqlstream/pkg/timestamp"
)

// Clock returns the current time.
type Clock func() time.Time

// Profiler records the phase boundaries of one request. It is owned by the
// goroutine running that request and is not safe for concurrent use.
type Profiler struct {
	now          Clock
	start        time.Time
	firstByte    time.Time
	downloadDone time.Time
	parseDone    time.Time
	renderDone   time.Time
}

// Start begins profiling a request with the wall clock.
func Start() *Profiler {
	return StartWithClock(time.Now)
}

// StartWithClock begins profiling with a custom clock.
func StartWithClock(now Clock) *Profiler {
	return &Profiler{now: now, start: now()}
}

// MarkFirstByte records the arrival of response headers.
func (p *Profiler) MarkFirstByte() { p.firstByte = p.now() }

// MarkDownloadComplete records the end of the body download.
func (p *Profiler) MarkDownloadComplete() { p.downloadDone = p.now() }

// MarkParseComplete records the end of parsing.
func (p *Profiler) MarkParseComplete() { p.parseDone = p.now() }

// MarkRenderComplete records the end of the rendering phase.
func (p *Profiler) MarkRenderComplete() { p.renderDone = p.now() }

// Durations are the elapsed times of each phase.
type Durations struct {
	Network  time.Duration
	Download time.Duration
	Parse    time.Duration
	Render   time.Duration
	Total    time.Duration
}

// Durations derives phase durations from the marks. A missing mark is
// treated as equal to the previous one, so its phase lasts zero.
func (p *Profiler) Durations() Durations {
	first := orElse(p.firstByte, p.start)
	download := orElse(p.downloadDone, first)
	parse := orElse(p.parseDone, download)
	render := orElse(p.renderDone, parse)

	end := render
	if p.renderDone.IsZero() {
		end = p.now()
	}

	return Durations{
		Network:  first.Sub(p.start),
		Download: download.Sub(first),
		Parse:    parse.Sub(download),
		Render:   render.Sub(parse),
		Total:    end.Sub(p.start),
	}
}

func orElse(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

// SampleInfo carries the request facts stored alongside the timings.
type SampleInfo struct {
	ResponseBytes int64
	RowCount      int
	ColumnCount   int
	Endpoint      string
	Format        string
	QueryKind     string
	Strategy      string
}

// Sample is one completed request. Immutable once recorded.
type Sample struct {
	NetworkMs     float64 `json:"network_ms"`
	DownloadMs    float64 `json:"download_ms"`
	ParseMs       float64 `json:"parse_ms"`
	RenderMs      float64 `json:"render_ms"`
	TotalMs       float64 `json:"total_ms"`
	ResponseBytes int64   `json:"response_bytes"`
	RowCount      int     `json:"row_count"`
	ColumnCount   int     `json:"column_count"`
	Endpoint      string  `json:"endpoint"`
	Format        string  `json:"format"`
	QueryKind     string  `json:"query_kind"`
	Strategy      string  `json:"strategy,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// Sample builds the sample for this request.
func (p *Profiler) Sample(info SampleInfo) Sample {
	d := p.Durations()
	return Sample{
		NetworkMs:     ms(d.Network),
		DownloadMs:    ms(d.Download),
		ParseMs:       ms(d.Parse),
		RenderMs:      ms(d.Render),
		TotalMs:       ms(d.Total),
		ResponseBytes: info.ResponseBytes,
		RowCount:      info.RowCount,
		ColumnCount:   info.ColumnCount,
		Endpoint:      info.Endpoint,
		Format:        info.Format,
		QueryKind:     info.QueryKind,
		Strategy:      info.Strategy,
		Timestamp:     timestamp.ToUnixMs(p.now()),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
