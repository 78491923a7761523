// Package execution orchestrates one SPARQL request end to end: fetch,
// strategy selection, parsing, profiling and event delivery.
package execution

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/pkg/timestamp"
	"github.com/c360/sparqlstream/profiler"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/vocabulary"
)

// BytesPerRowEstimate converts a response size into an estimated row count
// for strategy selection.
const BytesPerRowEstimate = 200

// DefaultParseChunkSize is the number of rows between parse progress events.
const DefaultParseChunkSize = 1000

var (
	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = stderrors.New("coordinator closed")
	// ErrNoResults is reported by LoadNextPage when the query has no
	// tabular result to continue.
	ErrNoResults = stderrors.New("no tabular results to page")
)

// Client is the protocol surface the coordinator needs.
// *protocol.Client satisfies it.
type Client interface {
	Fetch(ctx context.Context, req sparql.QueryRequest, obs protocol.Observer) (*protocol.RawResponse, error)
	pagination.Executor
}

// Coordinator runs at most one query at a time. Starting a query cancels
// the previous one and waits for it to finish.
type Coordinator struct {
	client       Client
	parser       *parsing.OffloadedParser
	parserOpts   []parsing.Option
	thresholds   parsing.Thresholds
	pageSize     int
	retention    int
	parseChunk   int
	recorder     *profiler.Recorder
	ownsRecorder bool
	registry     *metric.MetricsRegistry
	vocab        *vocabulary.Registry
	logger       *slog.Logger
	now          profiler.Clock
	tracer       trace.Tracer

	fallbacks atomic.Int64

	mu      sync.Mutex
	current *Handle
	closed  bool
}

// NewCoordinator creates a coordinator around client.
func NewCoordinator(client Client, opts ...Option) (*Coordinator, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "NewCoordinator", "client required")
	}

	c := &Coordinator{
		client:     client,
		thresholds: parsing.DefaultThresholds(),
		pageSize:   pagination.DefaultPageSize,
		retention:  profiler.DefaultRetention,
		parseChunk: DefaultParseChunkSize,
		vocab:      vocabulary.NewRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
		tracer:     otel.Tracer("sparqlstream/execution"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")

	if err := c.thresholds.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Coordinator", "NewCoordinator", "validate thresholds")
	}

	if c.recorder == nil {
		var recOpts []profiler.RecorderOption
		if c.registry != nil {
			recOpts = append(recOpts, profiler.WithMetrics(c.registry, "profiler"))
		}
		rec, err := profiler.NewRecorder(c.retention, recOpts...)
		if err != nil {
			return nil, errors.Wrap(err, "Coordinator", "NewCoordinator", "create sample recorder")
		}
		c.recorder = rec
		c.ownsRecorder = true
	}

	if c.parser == nil {
		parserOpts := []parsing.Option{parsing.WithLogger(c.logger)}
		if c.registry != nil {
			parserOpts = append(parserOpts, parsing.WithMetrics(c.registry))
		}
		c.parser = parsing.NewOffloadedParser(append(parserOpts, c.parserOpts...)...)
	}
	return c, nil
}

// Execute runs req on the calling goroutine and returns its outcome. sink
// may be nil. The returned error is always a *sparql.QueryError unless the
// coordinator is closed.
func (c *Coordinator) Execute(ctx context.Context, req sparql.QueryRequest, sink ResultSink) (*sparql.ProtocolResponse, error) {
	h, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer close(h.done)
	defer h.cancel()

	c.run(h, sink)
	resp, qe := h.Result()
	if qe != nil {
		return nil, qe
	}
	return resp, nil
}

// Submit starts req in the background and returns its handle.
func (c *Coordinator) Submit(ctx context.Context, req sparql.QueryRequest, sink ResultSink) (*Handle, error) {
	h, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	go func() {
		defer close(h.done)
		defer h.cancel()
		c.run(h, sink)
	}()
	return h, nil
}

// Cancel aborts h. The sink still receives its terminal error.
func (c *Coordinator) Cancel(h *Handle) {
	if h != nil {
		h.cancel()
	}
}

// Current returns the most recently started handle.
func (c *Coordinator) Current() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) begin(ctx context.Context, req sparql.QueryRequest) (*Handle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	hctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:      uuid.NewString(),
		Request: req.Clone(),
		ctx:     hctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	prev := c.current
	c.current = h
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}
	return h, nil
}

func (c *Coordinator) run(h *Handle, sink ResultSink) {
	req := h.Request
	kind := req.Kind()
	em := newEmitter(sink)
	if so, ok := sink.(StartObserver); ok {
		so.OnStart(h.ID)
	}

	ctx, span := c.tracer.Start(h.ctx, "sparql.Execute", trace.WithAttributes(
		attribute.String("sparql.request_id", h.ID),
		attribute.String("sparql.endpoint", req.Endpoint),
		attribute.String("sparql.kind", string(kind)),
	))
	defer span.End()

	c.logger.Debug("executing query",
		"request_id", h.ID,
		"endpoint", req.Endpoint,
		"kind", kind,
		"query", c.vocab.Pretty(req.Query))

	prof := profiler.StartWithClock(c.now)
	em.progress(c.event(sparql.PhaseExecuting))

	raw, err := c.client.Fetch(ctx, req, protocol.ObserverFuncs{
		FirstByte: prof.MarkFirstByte,
		Progress:  em.progress,
	})
	if err != nil {
		c.fail(h, em, span, kind, err)
		return
	}
	prof.MarkDownloadComplete()
	span.AddEvent("downloaded")
	span.SetAttributes(
		attribute.String("http.method", raw.Method),
		attribute.Int64("sparql.response_bytes", raw.ResponseBytes()),
	)

	em.progress(c.parseEvent(0, 0))
	resp, strategy, err := c.parse(ctx, h, raw, em)
	if err != nil {
		c.fail(h, em, span, kind, err)
		return
	}
	prof.MarkParseComplete()
	rows := 0
	if resp.Results != nil {
		rows = resp.Results.RowCount()
	}
	em.progress(c.parseEvent(rows, rows))
	span.AddEvent("parsed")
	span.SetAttributes(
		attribute.String("sparql.strategy", string(strategy)),
		attribute.Int("sparql.rows", rows),
	)

	em.progress(c.event(sparql.PhaseRendering))
	prof.MarkRenderComplete()

	h.complete(resp, nil)
	em.success(resp)

	info := profiler.SampleInfo{
		ResponseBytes: raw.ResponseBytes(),
		RowCount:      rows,
		Endpoint:      req.Endpoint,
		Format:        string(sparql.FormatForContentType(raw.ContentType)),
		QueryKind:     string(kind),
		Strategy:      string(strategy),
	}
	if resp.Results != nil {
		info.ColumnCount = resp.Results.ColumnCount()
	}
	sample := prof.Sample(info)
	c.recorder.Record(sample)
	c.recordSuccess(kind, strategy, prof.Durations(), info.ResponseBytes)

	c.logger.Debug("query complete",
		"request_id", h.ID,
		"strategy", strategy,
		"rows", rows,
		"bytes", info.ResponseBytes,
		"total_ms", sample.TotalMs)
}

// parse turns a downloaded body into a response. Non-JSON bodies are kept
// as text and report no strategy.
func (c *Coordinator) parse(
	ctx context.Context, h *Handle, raw *protocol.RawResponse, em *emitter,
) (*sparql.ProtocolResponse, parsing.Strategy, error) {
	if !sparql.IsJSONResults(raw.ContentType) {
		resp, err := protocol.BuildResponse(raw)
		return resp, "", err
	}

	responseBytes := raw.ResponseBytes()
	strategy := c.thresholds.Select(responseBytes, int(responseBytes/BytesPerRowEstimate))

	onRows := func(n int) { em.progress(c.parseEvent(n, 0)) }
	decodeOpts := parsing.DecodeOptions{ChunkSize: c.parseChunk, OnProgress: onRows}

	var (
		rs  *sparql.ResultSet
		err error
	)
	if strategy.IsOffloaded() {
		opts := parsing.ParseOptions{
			OnProgress: func(p sparql.ParseProgress) { em.progress(c.parseEvent(p.RowsParsed, p.TotalRows)) },
		}
		if strategy == parsing.ChunkedOffloaded {
			opts.ChunkSize = c.parseChunk
		}
		rs, err = c.parser.Parse(ctx, raw.Body, opts)
		if err != nil && !isContextError(ctx, err) {
			n := c.fallbacks.Add(1)
			c.logger.Warn("offloaded parse failed, parsing on caller goroutine",
				"request_id", h.ID,
				"strategy", strategy,
				"fallbacks", n,
				"error", err)
			if c.registry != nil {
				c.registry.CoreMetrics().RecordFallback()
			}
			rs, err = parsing.Decode(ctx, raw.Body, decodeOpts)
		}
	} else {
		rs, err = parsing.Decode(ctx, raw.Body, decodeOpts)
	}

	if err != nil {
		if isContextError(ctx, err) {
			return nil, strategy, protocol.ClassifyTransportError(err)
		}
		return nil, strategy, protocol.MalformedResults(raw, err)
	}
	return raw.Response(rs), strategy, nil
}

func isContextError(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) fail(h *Handle, em *emitter, span trace.Span, kind sparql.QueryKind, err error) {
	qe, ok := sparql.AsQueryError(err)
	if !ok {
		qe = protocol.ClassifyTransportError(err)
	}
	span.RecordError(qe)
	span.SetStatus(codes.Error, string(qe.Kind))

	h.complete(nil, qe)
	em.fail(qe)

	if c.registry != nil {
		m := c.registry.CoreMetrics()
		m.RecordQuery(string(kind), "error")
		m.RecordQueryError(string(qe.Kind))
	}
	c.logger.Debug("query failed", "request_id", h.ID, "kind", qe.Kind, "status", qe.Status, "error", qe)
}

func (c *Coordinator) recordSuccess(kind sparql.QueryKind, strategy parsing.Strategy, d profiler.Durations, bytes int64) {
	if c.registry == nil {
		return
	}
	m := c.registry.CoreMetrics()
	m.RecordQuery(string(kind), "success")
	m.RecordResponseBytes(bytes)
	if strategy != "" {
		m.RecordStrategy(string(strategy))
	}
	m.RecordPhase("network", d.Network)
	m.RecordPhase("download", d.Download)
	m.RecordPhase("parse", d.Parse)
	m.RecordPhase("render", d.Render)
}

func (c *Coordinator) event(phase sparql.Phase) sparql.ProgressEvent {
	return sparql.ProgressEvent{Phase: phase, Timestamp: timestamp.ToUnixMs(c.now())}
}

func (c *Coordinator) parseEvent(rows, total int) sparql.ProgressEvent {
	ev := c.event(sparql.PhaseParsing)
	ev.Parse = &sparql.ParseProgress{RowsParsed: rows, TotalRows: total}
	return ev
}

// LoadNextPage fetches the next page of h's results. The paginator is
// created on first use from the initial result.
func (c *Coordinator) LoadNextPage(ctx context.Context, h *Handle) pagination.Page {
	if h == nil {
		return pagination.Page{Outcome: pagination.OutcomeError, Err: ErrNoResults}
	}

	h.mu.Lock()
	if h.paginator == nil {
		if !h.response.IsTabular() {
			h.mu.Unlock()
			return pagination.Page{Outcome: pagination.OutcomeError, Err: ErrNoResults}
		}
		opts := []pagination.Option{
			pagination.WithLogger(c.logger),
			pagination.WithRequestTemplate(h.Request),
		}
		if c.registry != nil {
			opts = append(opts, pagination.WithMetrics(c.registry))
		}
		p, err := pagination.New(c.client, c.pageSize, h.response.Results, opts...)
		if err != nil {
			h.mu.Unlock()
			return pagination.Page{Outcome: pagination.OutcomeError, Err: err}
		}
		h.paginator = p
	}
	p := h.paginator
	h.mu.Unlock()

	return p.LoadNextPage(ctx, h.Request.Query, h.Request.Endpoint)
}

// PerformanceStats aggregates the retained samples.
func (c *Coordinator) PerformanceStats() profiler.Stats {
	return c.recorder.Stats()
}

// Samples returns the retained samples, oldest first.
func (c *Coordinator) Samples() []profiler.Sample {
	return c.recorder.Samples()
}

// FallbackCount is the number of offloaded parses recovered on the caller
// goroutine.
func (c *Coordinator) FallbackCount() int64 {
	return c.fallbacks.Load()
}

// Close cancels the running query, waits for it and stops the parser.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	h := c.current
	c.mu.Unlock()

	if h != nil {
		h.cancel()
		<-h.done
	}
	c.parser.Terminate()
	if !c.ownsRecorder {
		return nil
	}
	if err := c.recorder.Close(); err != nil {
		return errors.Wrap(err, "Coordinator", "Close", "close sample recorder")
	}
	return nil
}
