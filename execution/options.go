package execution

import (
	"log/slog"

	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/profiler"
	"github.com/c360/sparqlstream/vocabulary"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThresholds overrides the parsing strategy thresholds.
func WithThresholds(t parsing.Thresholds) Option {
	return func(c *Coordinator) {
		c.thresholds = t
	}
}

// WithPageSize sets the page size used by LoadNextPage.
func WithPageSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetention bounds the number of retained performance samples.
func WithRetention(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.retention = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records query metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Coordinator) {
		c.registry = registry
	}
}

// WithVocabulary sets the registry used to pretty-print queries in logs.
func WithVocabulary(v *vocabulary.Registry) Option {
	return func(c *Coordinator) {
		if v != nil {
			c.vocab = v
		}
	}
}

// WithParser supplies the offloaded parser. The coordinator terminates it
// on Close either way.
func WithParser(p *parsing.OffloadedParser) Option {
	return func(c *Coordinator) {
		c.parser = p
	}
}

// WithParserOptions configures the parser the coordinator creates when
// WithParser is not used.
func WithParserOptions(opts ...parsing.Option) Option {
	return func(c *Coordinator) {
		c.parserOpts = append(c.parserOpts, opts...)
	}
}

// WithRecorder shares a sample recorder between coordinators, so
// PerformanceStats covers all of them. The caller keeps ownership and closes
// it.
func WithRecorder(r *profiler.Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithClock replaces time.Now for profiling and event timestamps.
func WithClock(now profiler.Clock) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithParseChunkSize sets the number of rows between parse progress events.
func WithParseChunkSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parseChunk = n
		}
	}
}

