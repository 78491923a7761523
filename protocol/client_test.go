package protocol

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/testutil"
)

type recorder struct {
	mu        sync.Mutex
	firstByte int
	events    []sparql.ProgressEvent
}

func (r *recorder) OnFirstByte() {
	r.mu.Lock()
	r.firstByte++
	r.mu.Unlock()
}

func (r *recorder) OnProgress(ev sparql.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(opts...)
	require.NoError(t, err)
	return c
}

func TestClient_SelectTwoBindings(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Dataset([]string{"s", "n"}, testutil.MakeRows(2)))
	c := newTestClient(t)

	rec := &recorder{}
	resp, err := c.Execute(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "SELECT * WHERE { ?s ?p ?o } LIMIT 10",
		Format:   sparql.FormatJSON,
	}, rec)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	require.NotNil(t, resp.Results)
	assert.Len(t, resp.Results.Results.Bindings, 2)
	assert.Equal(t, testutil.ResultsJSON([]string{"s", "n"}, testutil.MakeRows(2)), resp.RawBody)
	assert.Empty(t, resp.Text)

	got := ep.LastRequest()
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "SELECT * WHERE { ?s ?p ?o } LIMIT 10", got.Query)
	assert.True(t, strings.HasPrefix(got.Accept, sparql.MIMEResultsJSON))

	assert.Equal(t, 1, rec.firstByte)
	require.NotEmpty(t, rec.events)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, sparql.PhaseDownloading, last.Phase)
	assert.Equal(t, int64(len(resp.RawBody)), last.Download.BytesReceived)
}

func TestClient_UpdateUsesPost(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusNoContent, "", ""))
	c := newTestClient(t)

	_, err := c.Execute(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "INSERT DATA { <a> <b> <c> }",
		Headers:  map[string]string{"Content-Type": "text/plain", "Authorization": "Bearer t"},
	}, nil)
	require.NoError(t, err)

	got := ep.LastRequest()
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, sparql.MIMESparqlUpdate, got.ContentType)
	assert.Equal(t, "INSERT DATA { <a> <b> <c> }", got.Query)
	assert.Equal(t, "*/*", got.Accept)
	assert.Equal(t, "Bearer t", got.Header.Get("Authorization"))
}

func TestClient_LongQueryUsesPost(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Dataset([]string{"s"}, nil))
	c := newTestClient(t)

	q := "SELECT * WHERE { ?s ?p ?o FILTER(?o != \"" + strings.Repeat("z", 2100) + "\") }"
	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: q}, nil)
	require.NoError(t, err)

	got := ep.LastRequest()
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, sparql.MIMESparqlQuery, got.ContentType)
	assert.Equal(t, q, got.Query)
}

func TestClient_SyntaxError(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusBadRequest, "text/plain", "Parse failed: syntax error at line 1"))
	c := newTestClient(t)

	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELEC"}, nil)
	require.Error(t, err)

	qe, ok := sparql.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, sparql.ErrorProtocolSyntax, qe.Kind)
	assert.Equal(t, 400, qe.Status)
	assert.Contains(t, qe.Details, "syntax error")
}

func TestClient_NonJSONBodyIsText(t *testing.T) {
	body := "<a> <b> <c> .\n"
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusOK, "text/turtle", body))
	c := newTestClient(t)

	resp, err := c.Execute(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "CONSTRUCT WHERE { ?s ?p ?o }",
		Format:   sparql.FormatTurtle,
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Results)
	assert.Equal(t, body, resp.Text)
	assert.Equal(t, body, resp.RawBody)
	assert.Equal(t, "text/turtle", resp.Headers["content-type"])
}

func TestClient_MalformedJSON(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, `{"head":`))
	c := newTestClient(t)

	_, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"}, nil)
	qe, ok := sparql.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, sparql.ErrorUnknown, qe.Kind)
}

func TestClient_StreamingProgress(t *testing.T) {
	body := testutil.PadTo(200_000)
	ep := testutil.NewEndpoint(t, testutil.Stream(sparql.MIMEResultsJSON, body, 8*1024, 2*time.Millisecond))
	c := newTestClient(t, WithProgressInterval(20*time.Millisecond))

	rec := &recorder{}
	raw, err := c.Fetch(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"}, rec)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw.Body))
	assert.Equal(t, int64(len(body)), raw.ResponseBytes())

	require.NotEmpty(t, rec.events)
	// throttled: far fewer events than chunks
	assert.Less(t, len(rec.events), len(body)/(8*1024))

	var prev int64
	for _, ev := range rec.events {
		require.Equal(t, sparql.PhaseDownloading, ev.Phase)
		assert.GreaterOrEqual(t, ev.Download.BytesReceived, prev)
		assert.Zero(t, ev.Download.TotalBytes, "chunked transfer has no length")
		prev = ev.Download.BytesReceived
	}
	assert.Equal(t, int64(len(body)), prev)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_OversizedContentLength(t *testing.T) {
	body := `{"head":{"vars":["s"]},"results":{"bindings":[]}}`
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": []string{sparql.MIMEResultsJSON}},
			ContentLength: 1 << 50,
			Body:          io.NopCloser(strings.NewReader(body)),
			Request:       r,
		}, nil
	})}
	c := newTestClient(t, WithHTTPClient(hc))

	rec := &recorder{}
	var raw *RawResponse
	require.NotPanics(t, func() {
		var err error
		raw, err = c.Fetch(context.Background(), sparql.QueryRequest{Endpoint: "http://example.org/sparql", Query: "SELECT * {}"}, rec)
		require.NoError(t, err)
	})
	assert.Equal(t, body, string(raw.Body))
	require.NotEmpty(t, rec.events)
	assert.Equal(t, int64(len(body)), rec.events[len(rec.events)-1].Download.BytesReceived)
}

func TestClient_ShortBodyAgainstContentLength(t *testing.T) {
	ep := testutil.NewEndpoint(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		w.Header().Set("Content-Type", sparql.MIMEResultsJSON)
		w.Header().Set("Content-Length", "1099511627776000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"head":{},"boolean":true}`))
	})
	c := newTestClient(t)

	var err error
	require.NotPanics(t, func() {
		_, err = c.Fetch(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "ASK {}"}, nil)
	})
	_, ok := sparql.AsQueryError(err)
	assert.True(t, ok)
}

func TestClient_SmallBodySingleEvent(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusOK, sparql.MIMEResultsJSON, `{"head":{},"boolean":false}`))
	c := newTestClient(t)

	rec := &recorder{}
	resp, err := c.Execute(context.Background(), sparql.QueryRequest{Endpoint: ep.URL(), Query: "ASK {}"}, rec)
	require.NoError(t, err)
	require.True(t, resp.Results.IsBoolean())

	require.Len(t, rec.events, 1)
	assert.Equal(t, rec.events[0].Download.TotalBytes, rec.events[0].Download.BytesReceived)
}

func TestClient_CancelYieldsTimeout(t *testing.T) {
	body := testutil.PadTo(100_000)
	ep := testutil.NewEndpoint(t, testutil.Stream(sparql.MIMEResultsJSON, body, 1024, 20*time.Millisecond))
	c := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	rec := ObserverFuncs{Progress: func(sparql.ProgressEvent) { cancel() }}

	_, err := c.Fetch(ctx, sparql.QueryRequest{Endpoint: ep.URL(), Query: "SELECT * {}"}, rec)
	qe, ok := sparql.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, sparql.ErrorTimeout, qe.Kind)
}

func TestClient_RequestTimeout(t *testing.T) {
	ep := testutil.NewEndpoint(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		<-r.Context().Done()
	})
	c := newTestClient(t)

	start := time.Now()
	_, err := c.Fetch(context.Background(), sparql.QueryRequest{
		Endpoint: ep.URL(),
		Query:    "SELECT * {}",
		Timeout:  50 * time.Millisecond,
	}, nil)
	qe, ok := sparql.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, sparql.ErrorTimeout, qe.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_NetworkError(t *testing.T) {
	ep := testutil.NewEndpoint(t, testutil.Respond(http.StatusOK, "", ""))
	url := ep.URL()
	ep.Server.Close()

	c := newTestClient(t)
	_, err := c.Fetch(context.Background(), sparql.QueryRequest{Endpoint: url, Query: "ASK {}"}, nil)
	qe, ok := sparql.AsQueryError(err)
	require.True(t, ok)
	assert.Equal(t, sparql.ErrorNetwork, qe.Kind)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	_, err := NewClient(WithTimeout(0))
	assert.Error(t, err)
	_, err = NewClient(WithChunkSize(-1))
	assert.Error(t, err)
	_, err = NewClient(WithHTTPClient(nil))
	assert.Error(t, err)
}

func TestClient_MissingEndpoint(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Fetch(context.Background(), sparql.QueryRequest{Query: "ASK {}"}, nil)
	_, ok := sparql.AsQueryError(err)
	assert.True(t, ok)
}
