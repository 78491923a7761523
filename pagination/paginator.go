package pagination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 1000

// State is the paging position. Only the Paginator mutates it.
type State struct {
	Offset      int  `json:"offset"`
	PageSize    int  `json:"page_size"`
	HasMore     bool `json:"has_more"`
	TotalLoaded int  `json:"total_loaded"`
}

// Outcome describes what a LoadNextPage call did.
type Outcome string

// Page outcomes.
const (
	OutcomeMore    Outcome = "more"
	OutcomeLast    Outcome = "last"
	OutcomeSkipped Outcome = "skipped"
	OutcomeStopped Outcome = "stopped"
	OutcomeError   Outcome = "error"
)

// Page is the result of one LoadNextPage call. Err is informational: a
// failed page stops paging but never invalidates loaded rows.
type Page struct {
	Bindings []sparql.Binding `json:"bindings,omitempty"`
	Loaded   int              `json:"loaded"`
	Outcome  Outcome          `json:"outcome"`
	State    State            `json:"state"`
	Err      error            `json:"-"`
}

// Executor runs one protocol exchange. *protocol.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, req sparql.QueryRequest, obs protocol.Observer) (*sparql.ProtocolResponse, error)
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Paginator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics counts page loads by outcome.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Paginator) {
		if registry != nil {
			p.metrics = registry.CoreMetrics()
		}
	}
}

// WithRequestTemplate sets format, timeout and headers for page requests.
func WithRequestTemplate(req sparql.QueryRequest) Option {
	return func(p *Paginator) {
		p.template = req.Clone()
	}
}

// Paginator appends pages to an existing result set. Safe for concurrent
// use; concurrent LoadNextPage calls collapse to one in-flight load.
type Paginator struct {
	exec     Executor
	logger   *slog.Logger
	metrics  *metric.Metrics
	template sparql.QueryRequest

	mu       sync.Mutex
	state    State
	results  *sparql.ResultSet
	inFlight bool
}

// New creates a paginator continuing after initial. A nil initial result
// starts at the query's own OFFSET with more pages assumed. Otherwise the
// initial row count is added to that OFFSET and paging continues only when
// the first page was full. The query is taken from WithRequestTemplate.
func New(exec Executor, pageSize int, initial *sparql.ResultSet, opts ...Option) (*Paginator, error) {
	if exec == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Paginator", "New", "executor required")
	}
	if pageSize < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: page size %d", errors.ErrInvalidConfig, pageSize), "Paginator", "New", "validate page size")
	}

	p := &Paginator{
		exec:    exec,
		logger:  slog.Default(),
		results: &sparql.ResultSet{},
		state:   State{PageSize: pageSize, HasMore: true},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "paginator")
	p.state.Offset = QueryOffset(p.template.Query)

	if initial != nil {
		// own copy, so appending never aliases the caller's bindings
		p.results = &sparql.ResultSet{Head: initial.Head, Boolean: initial.Boolean}
		if initial.Results != nil {
			p.results.AppendBindings(initial.Results.Bindings)
		}

		rows := initial.RowCount()
		p.state.Offset += rows
		p.state.TotalLoaded = rows
		p.state.HasMore = !initial.IsBoolean() && rows >= pageSize
	}
	return p, nil
}

// State returns a copy of the paging state.
func (p *Paginator) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Results returns the accumulated result set, initial rows included.
// Callers must not modify it while a load may be running.
func (p *Paginator) Results() *sparql.ResultSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// LoadNextPage fetches the page at the current offset and appends it. It is
// a no-op while another load runs or once HasMore is false.
func (p *Paginator) LoadNextPage(ctx context.Context, baseQuery, endpoint string) Page {
	p.mu.Lock()
	if p.inFlight || !p.state.HasMore {
		st := p.state
		p.mu.Unlock()
		return Page{Outcome: OutcomeSkipped, State: st}
	}
	p.inFlight = true
	offset, size := p.state.Offset, p.state.PageSize
	p.mu.Unlock()

	ctx, span := otel.Tracer("sparqlstream/pagination").Start(ctx, "sparql.LoadNextPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("sparql.endpoint", endpoint),
		attribute.Int("sparql.offset", offset),
		attribute.Int("sparql.page_size", size),
	)

	req := p.template.Clone()
	req.Endpoint = endpoint
	req.Query = RewriteQuery(baseQuery, size, offset)
	if req.Format == "" || !req.Format.IsTabular() {
		req.Format = sparql.FormatJSON
	}

	resp, err := p.exec.Execute(ctx, req, nil)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false

	var page Page
	switch {
	case err != nil:
		p.state.HasMore = false
		page = Page{Outcome: OutcomeError, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "page load failed")
		p.logger.Warn("page load failed, paging stopped", "offset", offset, "error", err)

	case !resp.IsTabular() || resp.Results.IsBoolean():
		p.state.HasMore = false
		page = Page{Outcome: OutcomeStopped}
		p.logger.Warn("paging stopped: response is not a tabular JSON result",
			"offset", offset, "content_type", resp.ContentType)

	default:
		rows := resp.Results.Results.Bindings
		if len(p.results.Head.Vars) == 0 {
			p.results.Head = resp.Results.Head
		}
		p.results.AppendBindings(rows)
		p.state.Offset += len(rows)
		p.state.TotalLoaded += len(rows)
		p.state.HasMore = len(rows) == size

		page = Page{Bindings: rows, Loaded: len(rows), Outcome: OutcomeLast}
		if p.state.HasMore {
			page.Outcome = OutcomeMore
		}
		p.logger.Debug("page loaded", "offset", offset, "rows", len(rows), "has_more", p.state.HasMore)
	}

	span.SetAttributes(attribute.Int("sparql.rows", page.Loaded), attribute.String("sparql.page_outcome", string(page.Outcome)))
	if p.metrics != nil {
		p.metrics.RecordPage(string(page.Outcome))
	}
	page.State = p.state
	return page
}
