// Package file appends query event envelopes to a local file. Writes are
// buffered and flushed when the buffer fills, every second and on Close.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
)

// Config holds configuration for the event log.
type Config struct {
	Directory  string `json:"directory"   yaml:"directory"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
	Format     string `json:"format"      yaml:"format"`
	Append     bool   `json:"append"      yaml:"append"`
	BufferSize int    `json:"buffer_size" yaml:"buffer_size"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}

	validFormats := map[string]bool{"json": true, "jsonl": true}
	if !validFormats[c.Format] {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"format must be one of: json, jsonl")
	}

	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"buffer_size cannot be negative")
	}
	return nil
}

// DefaultConfig returns default configuration for the event log
func DefaultConfig() Config {
	return Config{
		Directory:  "/tmp/sparqlstream",
		FilePrefix: "events",
		Format:     "jsonl",
		Append:     true,
		BufferSize: 100,
	}
}

// Output writes envelopes to <directory>/<prefix>.<format>.
type Output struct {
	path       string
	format     string
	bufferSize int
	logger     *slog.Logger
	registry   *metric.MetricsRegistry

	bufferMu sync.Mutex
	buffer   []output.Envelope

	fileMu sync.Mutex
	file   *os.File

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errors          atomic.Int64
}

var _ output.Publisher = (*Output)(nil)

// New opens the log file and starts the flush loop.
func New(cfg Config, logger *slog.Logger, registry *metric.MetricsRegistry) (*Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = "events"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Output", "New", "create directory")
	}
	path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.%s", cfg.FilePrefix, cfg.Format))

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "New", "open file")
	}

	o := &Output{
		path:       path,
		format:     cfg.Format,
		bufferSize: cfg.BufferSize,
		logger:     logger.With("component", "file_output", "path", path),
		registry:   registry,
		buffer:     make([]output.Envelope, 0, cfg.BufferSize),
		file:       f,
		shutdown:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.flushLoop()
	return o, nil
}

// Path returns the file being written.
func (o *Output) Path() string {
	return o.path
}

// Publish buffers env and flushes once the buffer is full.
func (o *Output) Publish(ctx context.Context, env output.Envelope) error {
	select {
	case <-o.shutdown:
		return errors.ErrShuttingDown
	default:
	}

	o.bufferMu.Lock()
	o.buffer = append(o.buffer, env)
	shouldFlush := len(o.buffer) >= o.bufferSize
	o.bufferMu.Unlock()

	if shouldFlush {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.flush()
	}
	return nil
}

func (o *Output) flushLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-o.shutdown:
			return
		case <-ticker.C:
			o.flush()
		}
	}
}

func (o *Output) flush() {
	o.bufferMu.Lock()
	if len(o.buffer) == 0 {
		o.bufferMu.Unlock()
		return
	}
	envs := o.buffer
	o.buffer = make([]output.Envelope, 0, o.bufferSize)
	o.bufferMu.Unlock()

	o.fileMu.Lock()
	defer o.fileMu.Unlock()

	if o.file == nil {
		o.errors.Add(int64(len(envs)))
		o.logger.Error("file closed during flush", "messages_lost", len(envs))
		return
	}

	w := bufio.NewWriter(o.file)
	for _, env := range envs {
		var data []byte
		var err error
		if o.format == "json" {
			data, err = json.MarshalIndent(env, "", "  ")
		} else {
			data, err = json.Marshal(env)
		}
		if err != nil {
			o.errors.Add(1)
			continue
		}
		n, err := w.Write(append(data, '\n'))
		if err != nil {
			o.errors.Add(1)
			o.logger.Error("write event failed", "error", err)
			continue
		}
		o.messagesWritten.Add(1)
		o.bytesWritten.Add(int64(n))
		if o.registry != nil {
			o.registry.CoreMetrics().RecordEventPublished("file", string(env.Type))
		}
	}
	if err := w.Flush(); err != nil {
		o.errors.Add(1)
		o.logger.Error("flush failed", "error", err)
	}
	o.logger.Debug("flush completed", "messages", len(envs), "total_written", o.messagesWritten.Load())
}

// Written returns the number of envelopes written so far.
func (o *Output) Written() int64 {
	return o.messagesWritten.Load()
}

// Close flushes the buffer and closes the file.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.shutdown)
		o.wg.Wait()
		o.flush()

		o.fileMu.Lock()
		defer o.fileMu.Unlock()
		if cerr := o.file.Close(); cerr != nil {
			err = errors.Wrap(cerr, "Output", "Close", "close file")
		}
		o.file = nil
	})
	return err
}
