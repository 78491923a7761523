// Package parsing decides where a query response is decoded and provides
// the decoders: a streaming JSON results decoder for the caller goroutine
// and an offloaded parser that runs it on a background worker.
package parsing

import (
	"fmt"

	"github.com/c360/sparqlstream/errors"
)

// Strategy is where and how a response body is decoded.
type Strategy string

// Parsing strategies, cheapest first.
const (
	MainThread       Strategy = "mainThread"
	Offloaded        Strategy = "offloaded"
	ChunkedOffloaded Strategy = "chunkedOffloaded"
)

// IsOffloaded reports whether s decodes on the background worker.
func (s Strategy) IsOffloaded() bool {
	return s == Offloaded || s == ChunkedOffloaded
}

// Rank orders strategies by cost.
func (s Strategy) Rank() int {
	switch s {
	case MainThread:
		return 0
	case Offloaded:
		return 1
	case ChunkedOffloaded:
		return 2
	}
	return -1
}

// Thresholds are the tuning knobs of Select.
type Thresholds struct {
	MainThreadMaxBytes int64 `json:"main_thread_max_bytes" yaml:"main_thread_max_bytes"`
	MainThreadMaxRows  int   `json:"main_thread_max_rows" yaml:"main_thread_max_rows"`
	ChunkedMinBytes    int64 `json:"chunked_min_bytes" yaml:"chunked_min_bytes"`
	ChunkedMinRows     int   `json:"chunked_min_rows" yaml:"chunked_min_rows"`
}

// DefaultThresholds returns 1 MB / 5k rows and 10 MB / 50k rows.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MainThreadMaxBytes: 1_000_000,
		MainThreadMaxRows:  5_000,
		ChunkedMinBytes:    10_000_000,
		ChunkedMinRows:     50_000,
	}
}

// Validate checks that the chunked tier starts above the main-thread tier.
func (t Thresholds) Validate() error {
	if t.MainThreadMaxBytes <= 0 || t.MainThreadMaxRows <= 0 || t.ChunkedMinBytes <= 0 || t.ChunkedMinRows <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Thresholds", "Validate", "thresholds must be positive")
	}
	if t.ChunkedMinBytes < t.MainThreadMaxBytes || t.ChunkedMinRows < t.MainThreadMaxRows {
		return errors.WrapInvalid(
			fmt.Errorf("%w: chunked thresholds below main-thread thresholds", errors.ErrInvalidConfig),
			"Thresholds", "Validate", "check ordering")
	}
	return nil
}

// Select maps a response size and row estimate to a strategy. The
// main-thread check runs first, so a small byte count or a small row count
// alone keeps decoding on the caller goroutine.
func (t Thresholds) Select(responseBytes int64, estimatedRows int) Strategy {
	switch {
	case responseBytes < t.MainThreadMaxBytes || estimatedRows < t.MainThreadMaxRows:
		return MainThread
	case responseBytes > t.ChunkedMinBytes || estimatedRows > t.ChunkedMinRows:
		return ChunkedOffloaded
	default:
		return Offloaded
	}
}

// SelectStrategy applies DefaultThresholds.
func SelectStrategy(responseBytes int64, estimatedRows int) Strategy {
	return DefaultThresholds().Select(responseBytes, estimatedRows)
}
