package execution

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/parsing"
	"github.com/c360/sparqlstream/profiler"
	"github.com/c360/sparqlstream/protocol"
	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/testutil"
)

// collectingSink records everything it receives.
type collectingSink struct {
	mu        sync.Mutex
	started   string
	events    []sparql.ProgressEvent
	successes []*sparql.ProtocolResponse
	errs      []*sparql.QueryError
	afterEnd  int
}

func (s *collectingSink) OnStart(id string) {
	s.mu.Lock()
	s.started = id
	s.mu.Unlock()
}

func (s *collectingSink) OnProgress(ev sparql.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.successes)+len(s.errs) > 0 {
		s.afterEnd++
	}
	s.events = append(s.events, ev)
}

func (s *collectingSink) OnSuccess(resp *sparql.ProtocolResponse) {
	s.mu.Lock()
	s.successes = append(s.successes, resp)
	s.mu.Unlock()
}

func (s *collectingSink) OnError(err *sparql.QueryError) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *collectingSink) phases() []sparql.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sparql.Phase
	for _, ev := range s.events {
		if len(out) == 0 || out[len(out)-1] != ev.Phase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func (s *collectingSink) sawPhase(p sparql.Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Phase == p {
			return true
		}
	}
	return false
}

type CoordinatorSuite struct {
	suite.Suite
	registry *metric.MetricsRegistry
	client   *protocol.Client
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.registry = metric.NewMetricsRegistry()
	c, err := protocol.NewClient(protocol.WithTimeout(5 * time.Second))
	s.Require().NoError(err)
	s.client = c
}

func (s *CoordinatorSuite) newCoordinator(opts ...Option) *Coordinator {
	opts = append([]Option{WithMetrics(s.registry)}, opts...)
	c, err := NewCoordinator(s.client, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = c.Close() })
	return c
}

func (s *CoordinatorSuite) TestSmallSelectRunsOnCallerGoroutine() {
	ep := testutil.NewEndpoint(s.T(), testutil.Dataset([]string{"s", "n"}, testutil.MakeRows(3)))
	c := s.newCoordinator()

	sink := &collectingSink{}
	state := NewResultState()
	resp, err := c.Execute(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "SELECT ?s ?n WHERE { ?s ?p ?n }",
		Format:   sparql.FormatJSON,
	}, MultiSink{sink, state})
	s.Require().NoError(err)

	s.Require().True(resp.IsTabular())
	s.Equal(3, resp.Results.RowCount())
	s.Equal([]sparql.Phase{
		sparql.PhaseExecuting, sparql.PhaseDownloading, sparql.PhaseParsing, sparql.PhaseRendering,
	}, sink.phases())
	s.Len(sink.successes, 1)
	s.Empty(sink.errs)
	s.NotEmpty(sink.started)

	samples := c.Samples()
	s.Require().Len(samples, 1)
	s.Equal(string(parsing.MainThread), samples[0].Strategy)
	s.Equal(3, samples[0].RowCount)
	s.Equal(2, samples[0].ColumnCount)
	s.Equal(string(sparql.KindSelect), samples[0].QueryKind)
	s.Equal(1, c.PerformanceStats().Count)
	s.False(c.parser.Started())

	snap := state.Snapshot()
	s.False(snap.InProgress)
	s.Nil(snap.Error)
	s.Equal(3, snap.Rows)

	s.Equal(1.0, promtestutil.ToFloat64(s.registry.CoreMetrics().QueriesTotal.WithLabelValues(string(sparql.KindSelect), "success")))
}

func (s *CoordinatorSuite) TestWorkerFaultFallsBackWithoutError() {
	body := testutil.PadTo(2_000_000)
	ep := testutil.NewEndpoint(s.T(), testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, body))

	parser := parsing.NewOffloadedParser(parsing.WithDecodeFunc(
		func(context.Context, []byte, parsing.DecodeOptions) (*sparql.ResultSet, error) {
			panic("decoder exploded")
		}))
	c := s.newCoordinator(WithParser(parser))

	sink := &collectingSink{}
	resp, err := c.Execute(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "SELECT ?v WHERE { ?s ?p ?v }",
	}, sink)
	s.Require().NoError(err)

	s.Greater(resp.Results.RowCount(), 5000)
	s.Empty(sink.errs)
	s.Len(sink.successes, 1)
	s.Equal(int64(1), c.FallbackCount())
	s.Equal(1.0, promtestutil.ToFloat64(s.registry.CoreMetrics().ParsingFallbacks))
	s.Equal(0, parser.Pending())

	samples := c.Samples()
	s.Require().Len(samples, 1)
	s.Equal(string(parsing.Offloaded), samples[0].Strategy)
}

func (s *CoordinatorSuite) TestOffloadedParseWithoutFallback() {
	body := testutil.PadTo(2_000_000)
	ep := testutil.NewEndpoint(s.T(), testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, body))
	c := s.newCoordinator()

	resp, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"}, nil)
	s.Require().NoError(err)
	s.Equal(body, resp.RawBody)
	s.Zero(c.FallbackCount())
	s.True(c.parser.Started())
}

func (s *CoordinatorSuite) TestHTTPErrorReportedOnce() {
	ep := testutil.NewEndpoint(s.T(), testutil.Respond(http.StatusBadRequest, "text/plain", "Parse error: unexpected '}'"))
	c := s.newCoordinator()

	sink := &collectingSink{}
	state := NewResultState()
	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * { ?s"},
		MultiSink{sink, state})
	s.Require().Error(err)

	qe, ok := sparql.AsQueryError(err)
	s.Require().True(ok)
	s.Equal(sparql.ErrorProtocolSyntax, qe.Kind)
	s.Equal(http.StatusBadRequest, qe.Status)
	s.Len(sink.errs, 1)
	s.Empty(sink.successes)
	s.Zero(sink.afterEnd)
	s.Empty(c.Samples())

	snap := state.Snapshot()
	s.False(snap.InProgress)
	s.Require().NotNil(snap.Error)
	s.Nil(snap.Summary)
	s.Equal(1.0, promtestutil.ToFloat64(s.registry.CoreMetrics().QueryErrors.WithLabelValues("protocolSyntax")))
}

func (s *CoordinatorSuite) TestMalformedJSONIsUnknown() {
	ep := testutil.NewEndpoint(s.T(), testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, `{"head":{"vars":["s"]},"results":{"bindings":[`))
	c := s.newCoordinator()

	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"}, nil)
	qe, ok := sparql.AsQueryError(err)
	s.Require().True(ok)
	s.Equal(sparql.ErrorUnknown, qe.Kind)
}

func (s *CoordinatorSuite) TestNonJSONKeptAsText() {
	turtle := "<http://example.org/a> <http://example.org/b> \"c\" .\n"
	ep := testutil.NewEndpoint(s.T(), testutil.Respond(http.StatusOK, sparql.MIMETurtle, turtle))
	c := s.newCoordinator()

	h, err := c.Submit(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "CONSTRUCT WHERE { ?s ?p ?o }",
		Format:   sparql.FormatTurtle,
	}, nil)
	s.Require().NoError(err)
	s.Require().NoError(h.Wait(context.Background()))

	resp, qe := h.Result()
	s.Require().Nil(qe)
	s.Equal(turtle, resp.Text)
	s.False(resp.IsTabular())

	page := c.LoadNextPage(context.Background(), h)
	s.Equal(pagination.OutcomeError, page.Outcome)
	s.ErrorIs(page.Err, ErrNoResults)
}

func (s *CoordinatorSuite) TestCancelSurfacesTimeout() {
	body := testutil.PadTo(200_000)
	ep := testutil.NewEndpoint(s.T(), testutil.Stream(sparql.MIMEResultsJSON, body, 1024, 50*time.Millisecond))
	c := s.newCoordinator()

	sink := &collectingSink{}
	state := NewResultState()
	h, err := c.Submit(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"},
		MultiSink{sink, state})
	s.Require().NoError(err)

	s.Require().Eventually(func() bool { return sink.sawPhase(sparql.PhaseDownloading) },
		3*time.Second, 10*time.Millisecond)
	s.True(state.InProgress())

	c.Cancel(h)
	s.Require().NoError(h.Wait(context.Background()))

	resp, qe := h.Result()
	s.Nil(resp)
	s.Require().NotNil(qe)
	s.Equal(sparql.ErrorTimeout, qe.Kind)
	s.Len(sink.errs, 1)
	s.Zero(sink.afterEnd)
	s.False(state.InProgress())
	s.Equal(0, c.parser.Pending())
}

func (s *CoordinatorSuite) TestNewQueryCancelsPrevious() {
	slow := testutil.NewEndpoint(s.T(), testutil.Stream(sparql.MIMEResultsJSON, testutil.PadTo(200_000), 1024, 50*time.Millisecond))
	fast := testutil.NewEndpoint(s.T(), testutil.Dataset([]string{"s", "n"}, testutil.MakeRows(1)))
	c := s.newCoordinator()

	first, err := c.Submit(context.Background(), sparql.QueryRequest{Endpoint: slow.URL(), Query: "SELECT * {}"}, nil)
	s.Require().NoError(err)

	resp, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: fast.URL(), Query: "SELECT * {}"}, nil)
	s.Require().NoError(err)
	s.Equal(1, resp.Results.RowCount())

	select {
	case <-first.Done():
	default:
		s.Fail("previous query still running")
	}
	_, qe := first.Result()
	s.Require().NotNil(qe)
	s.Equal(sparql.ErrorTimeout, qe.Kind)
}

func (s *CoordinatorSuite) TestLoadNextPage() {
	ep := testutil.NewEndpoint(s.T(), testutil.Dataset([]string{"s", "n"}, testutil.MakeRows(25)))
	c := s.newCoordinator(WithPageSize(10))

	h, err := c.Submit(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "SELECT ?s ?n WHERE { ?s ?p ?n } LIMIT 10",
	}, nil)
	s.Require().NoError(err)
	s.Require().NoError(h.Wait(context.Background()))

	_, ok := h.Paging()
	s.False(ok)

	page := c.LoadNextPage(context.Background(), h)
	s.Require().NoError(page.Err)
	s.Equal(pagination.OutcomeMore, page.Outcome)
	s.Len(page.Bindings, 10)
	s.Equal(20, page.State.Offset)

	page = c.LoadNextPage(context.Background(), h)
	s.Equal(pagination.OutcomeLast, page.Outcome)
	s.Len(page.Bindings, 5)
	s.False(page.State.HasMore)

	page = c.LoadNextPage(context.Background(), h)
	s.Equal(pagination.OutcomeSkipped, page.Outcome)

	st, ok := h.Paging()
	s.True(ok)
	s.Equal(25, st.TotalLoaded)
	s.Contains(ep.LastRequest().Query, "LIMIT 10 OFFSET 20")
}

func (s *CoordinatorSuite) TestClose() {
	c, err := NewCoordinator(s.client)
	s.Require().NoError(err)
	s.Require().NoError(c.Close())
	s.Require().NoError(c.Close())

	_, err = c.Execute(context.Background(), sparql.QueryRequest{Endpoint: "http://localhost:1/sparql", Query: "ASK {}"}, nil)
	s.ErrorIs(err, ErrClosed)
}

func (s *CoordinatorSuite) TestSharedRecorderOutlivesCoordinators() {
	ep := testutil.NewEndpoint(s.T(), testutil.Dataset([]string{"s", "n"}, testutil.MakeRows(2)))
	rec, err := profiler.NewRecorder(10, profiler.WithMetrics(s.registry, "shared"))
	s.Require().NoError(err)
	defer rec.Close()

	req := sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT ?s ?n WHERE { ?s ?p ?n }"}
	for range 2 {
		c, err := NewCoordinator(s.client, WithMetrics(s.registry), WithRecorder(rec),
			WithParserOptions(parsing.WithWorkers(2)))
		s.Require().NoError(err)
		_, err = c.Execute(context.Background(), req, nil)
		s.Require().NoError(err)
		s.Require().NoError(c.Close())
	}

	s.Equal(2, rec.Len())
	rec.Record(profiler.Sample{Strategy: string(parsing.MainThread)})
	s.Equal(3, rec.Len(), "closing a coordinator must not close a recorder it was given")
}

func (s *CoordinatorSuite) TestClockStampsEventsAndSamples() {
	ep := testutil.NewEndpoint(s.T(), testutil.Dataset([]string{"s"}, testutil.MakeRows(1)))
	fixed := time.UnixMilli(1_700_000_000_000)
	c := s.newCoordinator(WithClock(func() time.Time { return fixed }))

	sink := &collectingSink{}
	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT ?s {}"}, sink)
	s.Require().NoError(err)

	for _, ev := range sink.events {
		if ev.Phase != sparql.PhaseDownloading {
			s.Equal(fixed.UnixMilli(), ev.Timestamp, string(ev.Phase))
		}
	}
	samples := c.Samples()
	s.Require().Len(samples, 1)
	s.Equal(fixed.UnixMilli(), samples[0].Timestamp)
	s.Zero(samples[0].TotalMs, "a frozen clock measures no time")
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(nil)
	require.Error(t, err)

	client, err := protocol.NewClient()
	require.NoError(t, err)
	_, err = NewCoordinator(client, WithThresholds(parsing.Thresholds{
		MainThreadMaxBytes: 10, MainThreadMaxRows: 10, ChunkedMinBytes: 5, ChunkedMinRows: 5,
	}))
	assert.Error(t, err)
}
