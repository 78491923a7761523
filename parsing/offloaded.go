package parsing

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/pkg/worker"
	"github.com/c360/sparqlstream/sparql"
)

var (
	// ErrParserTerminated rejects calls pending when Terminate runs.
	ErrParserTerminated = stderrors.New("offloaded parser terminated")
	// ErrWorkerFault rejects every pending call after the worker crashed.
	ErrWorkerFault = stderrors.New("offloaded parser worker fault")
)

// Request is sent to the worker.
type Request struct {
	RequestID string
	Payload   []byte
	MaxRows   int
	ChunkSize int
}

// MessageType tags worker replies.
type MessageType string

// Reply types. complete and error are terminal.
const (
	MessageProgress MessageType = "progress"
	MessageComplete MessageType = "complete"
	MessageError    MessageType = "error"
)

// Message is a worker reply.
type Message struct {
	Type       MessageType
	RequestID  string
	RowsParsed int
	TotalRows  int
	Data       *sparql.ResultSet
	Error      string
}

// ParseOptions tune one offloaded parse.
type ParseOptions struct {
	MaxRows    int
	ChunkSize  int
	OnProgress func(sparql.ParseProgress)
}

type outcome struct {
	data *sparql.ResultSet
	err  error
}

type pendingCall struct {
	progress chan Message
	done     chan outcome
}

// session is one incarnation of the worker. A fault or Terminate ends it
// and the next Parse starts a new one.
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	pool    *worker.Pool[Request]
	replies chan Message
}

// OffloadedParser decodes responses on a long-lived background worker.
// Callers and the worker only exchange Request and Message values; the
// pending table lives on the caller side. Safe for concurrent use.
type OffloadedParser struct {
	workers     int
	queueSize   int
	stopTimeout time.Duration
	decode      DecodeFunc
	logger      *slog.Logger
	registry    *metric.MetricsRegistry

	mu      sync.Mutex
	current *session
	pending map[string]*pendingCall
	starts  int
}

// Option configures an OffloadedParser.
type Option func(*OffloadedParser)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(p *OffloadedParser) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize bounds the number of queued requests.
func WithQueueSize(n int) Option {
	return func(p *OffloadedParser) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithDecodeFunc replaces the decoder run by the worker.
func WithDecodeFunc(fn DecodeFunc) Option {
	return func(p *OffloadedParser) {
		if fn != nil {
			p.decode = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *OffloadedParser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics exports worker pool metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *OffloadedParser) {
		p.registry = registry
	}
}

// NewOffloadedParser creates a parser. No goroutine starts until the first
// Parse.
func NewOffloadedParser(opts ...Option) *OffloadedParser {
	p := &OffloadedParser{
		workers:     1,
		queueSize:   16,
		stopTimeout: 5 * time.Second,
		decode:      Decode,
		logger:      slog.Default(),
		pending:     make(map[string]*pendingCall),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "offloaded_parser")
	return p
}

// Started reports whether a worker is running.
func (p *OffloadedParser) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Starts returns how many workers have been started over the parser's life.
func (p *OffloadedParser) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Pending returns the number of calls awaiting a terminal message.
func (p *OffloadedParser) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ensureStarted must be called with p.mu held.
func (p *OffloadedParser) ensureStarted() (*session, error) {
	if p.current != nil {
		return p.current, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel, replies: make(chan Message, 64)}

	poolOpts := []worker.Option[Request]{
		worker.WithPanicHandler[Request](func(req Request, recovered any) {
			p.fault(s, req, recovered)
		}),
	}
	if p.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[Request](p.registry, "offloaded_parser"))
	}
	s.pool = worker.NewPool(p.workers, p.queueSize, func(_ context.Context, req Request) error {
		return p.process(s, req)
	}, poolOpts...)

	if err := s.pool.Start(ctx); err != nil {
		cancel()
		return nil, errors.WrapFatal(err, "OffloadedParser", "ensureStarted", "start worker")
	}
	go p.dispatch(s)

	p.current = s
	p.starts++
	p.logger.Debug("worker started", "workers", p.workers)
	return s, nil
}

// process runs on the worker goroutine.
func (p *OffloadedParser) process(s *session, req Request) error {
	send := func(m Message) {
		select {
		case s.replies <- m:
		case <-s.ctx.Done():
		}
	}

	rs, err := p.decode(s.ctx, req.Payload, DecodeOptions{
		ChunkSize: req.ChunkSize,
		MaxRows:   req.MaxRows,
		OnProgress: func(n int) {
			send(Message{Type: MessageProgress, RequestID: req.RequestID, RowsParsed: n})
		},
	})
	if err != nil {
		send(Message{Type: MessageError, RequestID: req.RequestID, Error: err.Error()})
		return err
	}

	n := rs.RowCount()
	send(Message{Type: MessageComplete, RequestID: req.RequestID, RowsParsed: n, TotalRows: n, Data: rs})
	return nil
}

// dispatch routes worker replies to the pending calls of session s.
func (p *OffloadedParser) dispatch(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.replies:
			p.route(m)
		}
	}
}

func (p *OffloadedParser) route(m Message) {
	p.mu.Lock()
	call, ok := p.pending[m.RequestID]
	if ok && m.Type != MessageProgress {
		delete(p.pending, m.RequestID)
	}
	p.mu.Unlock()

	if !ok {
		// withdrawn or rejected already
		return
	}

	switch m.Type {
	case MessageProgress:
		select {
		case call.progress <- m:
		default:
		}
	case MessageComplete:
		call.done <- outcome{data: m.Data}
	case MessageError:
		call.done <- outcome{err: errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrParsingFailed, m.Error),
			"OffloadedParser", "Parse", "decode on worker")}
	}
}

// fault rejects every pending call and retires the session.
func (p *OffloadedParser) fault(s *session, req Request, recovered any) {
	p.logger.Error("worker fault", "request_id", req.RequestID, "panic", fmt.Sprint(recovered))
	p.retire(s, ErrWorkerFault)
}

// retire ends session s and rejects all pending calls with reason.
func (p *OffloadedParser) retire(s *session, reason error) {
	p.mu.Lock()
	if p.current != s {
		p.mu.Unlock()
		return
	}
	p.current = nil
	rejected := p.pending
	p.pending = make(map[string]*pendingCall)
	p.mu.Unlock()

	for _, call := range rejected {
		call.done <- outcome{err: reason}
	}

	s.cancel()
	// Stop may be running on a worker goroutine, so never wait here.
	go func() {
		if err := s.pool.Stop(p.stopTimeout); err != nil {
			p.logger.Warn("worker did not stop cleanly", "error", err)
		}
	}()
}

// Parse decodes payload on the worker and waits for the result. The worker
// is started on first use. Cancelling ctx withdraws the call immediately.
func (p *OffloadedParser) Parse(ctx context.Context, payload []byte, opts ParseOptions) (*sparql.ResultSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	call := &pendingCall{
		progress: make(chan Message, 16),
		done:     make(chan outcome, 1),
	}

	p.mu.Lock()
	s, err := p.ensureStarted()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.pending[id] = call
	p.mu.Unlock()

	req := Request{RequestID: id, Payload: payload, MaxRows: opts.MaxRows, ChunkSize: opts.ChunkSize}
	if err := s.pool.Submit(req); err != nil {
		p.withdraw(id)
		return nil, errors.WrapTransient(err, "OffloadedParser", "Parse", "submit to worker")
	}

	for {
		select {
		case <-ctx.Done():
			p.Cancel(id)
			return nil, ctx.Err()
		case m := <-call.progress:
			if opts.OnProgress != nil {
				opts.OnProgress(sparql.ParseProgress{RowsParsed: m.RowsParsed, TotalRows: m.TotalRows})
			}
		case out := <-call.done:
			return out.data, out.err
		}
	}
}

// Cancel withdraws a pending call. The worker may still finish it; its
// late replies are dropped.
func (p *OffloadedParser) Cancel(requestID string) {
	if call := p.withdraw(requestID); call != nil {
		call.done <- outcome{err: context.Canceled}
	}
}

func (p *OffloadedParser) withdraw(requestID string) *pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.pending[requestID]
	if !ok {
		return nil
	}
	delete(p.pending, requestID)
	return call
}

// Terminate stops the worker and rejects every pending call with
// ErrParserTerminated. A later Parse starts a new worker.
func (p *OffloadedParser) Terminate() {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return
	}
	p.retire(s, ErrParserTerminated)
	p.logger.Debug("worker terminated")
}
