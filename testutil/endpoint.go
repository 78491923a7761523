// Package testutil provides an in-process SPARQL endpoint and an in-memory
// NATS client for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360/sparqlstream/sparql"
)

// RecordedRequest is what the fake endpoint saw for one request.
type RecordedRequest struct {
	Method      string
	Query       string
	ContentType string
	Accept      string
	Header      http.Header
}

// Endpoint is a fake SPARQL endpoint backed by httptest.Server.
type Endpoint struct {
	Server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, query string)
}

// NewEndpoint starts an endpoint that serves handler. The server is closed
// when the test ends.
func NewEndpoint(t testing.TB, handler func(w http.ResponseWriter, r *http.Request, query string)) *Endpoint {
	t.Helper()
	e := &Endpoint{handler: handler}
	e.Server = httptest.NewServer(http.HandlerFunc(e.serve))
	t.Cleanup(e.Server.Close)
	return e
}

// URL returns the endpoint URL.
func (e *Endpoint) URL() string {
	return e.Server.URL + "/sparql"
}

// Requests returns the recorded requests in arrival order.
func (e *Endpoint) Requests() []RecordedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]RecordedRequest(nil), e.requests...)
}

// LastRequest returns the most recent request.
func (e *Endpoint) LastRequest() RecordedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.requests) == 0 {
		return RecordedRequest{}
	}
	return e.requests[len(e.requests)-1]
}

func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request) {
	query, err := extractQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.requests = append(e.requests, RecordedRequest{
		Method:      r.Method,
		Query:       query,
		ContentType: r.Header.Get("Content-Type"),
		Accept:      r.Header.Get("Accept"),
		Header:      r.Header.Clone(),
	})
	e.mu.Unlock()

	e.handler(w, r, query)
}

func extractQuery(r *http.Request) (string, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("query"), nil
	}
	switch sparql.MediaType(r.Header.Get("Content-Type")) {
	case sparql.MIMESparqlQuery, sparql.MIMESparqlUpdate:
		body, err := io.ReadAll(r.Body)
		return string(body), err
	default:
		if err := r.ParseForm(); err != nil {
			return "", err
		}
		if q := r.PostForm.Get("query"); q != "" {
			return q, nil
		}
		return r.PostForm.Get("update"), nil
	}
}

// Respond returns a handler that always answers with status, contentType
// and body.
func Respond(status int, contentType, body string) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, _ string) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// Stream returns a handler that writes body in chunks of size bytes with
// delay between them and no Content-Length.
func Stream(contentType, body string, size int, delay time.Duration) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, r *http.Request, _ string) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(body); i += size {
			end := min(i+size, len(body))
			if _, err := io.WriteString(w, body[i:end]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

var (
	limitRe  = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	offsetRe = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)`)
)

// Dataset returns a handler serving rows as SPARQL JSON results and
// honouring the LIMIT and OFFSET of the incoming query.
func Dataset(vars []string, rows []sparql.Binding) func(http.ResponseWriter, *http.Request, string) {
	return func(w http.ResponseWriter, _ *http.Request, query string) {
		offset, limit := 0, len(rows)
		if m := offsetRe.FindStringSubmatch(query); m != nil {
			offset, _ = strconv.Atoi(m[1])
		}
		if m := limitRe.FindStringSubmatch(query); m != nil {
			limit, _ = strconv.Atoi(m[1])
		}

		start := min(offset, len(rows))
		end := min(start+limit, len(rows))

		w.Header().Set("Content-Type", sparql.MIMEResultsJSON+"; charset=utf-8")
		_, _ = io.WriteString(w, ResultsJSON(vars, rows[start:end]))
	}
}

// ResultsJSON renders bindings as a SPARQL JSON results document.
func ResultsJSON(vars []string, rows []sparql.Binding) string {
	if rows == nil {
		rows = []sparql.Binding{}
	}
	rs := sparql.ResultSet{
		Head:    sparql.Head{Vars: vars},
		Results: &sparql.Results{Bindings: rows},
	}
	data, err := json.Marshal(rs)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// MakeRows builds n bindings over ?s and ?n with distinct values.
func MakeRows(n int) []sparql.Binding {
	rows := make([]sparql.Binding, n)
	for i := range rows {
		rows[i] = sparql.Binding{
			"s": {Type: "uri", Value: fmt.Sprintf("http://example.org/item/%d", i)},
			"n": {Type: "literal", Value: strconv.Itoa(i), Datatype: "http://www.w3.org/2001/XMLSchema#integer"},
		}
	}
	return rows
}

// PadTo returns a JSON results document of at least size bytes. Every
// row serialises to more than 200 bytes.
func PadTo(size int) string {
	pad := strings.Repeat("x", 200)
	rows := make([]sparql.Binding, size/200+1)
	for i := range rows {
		rows[i] = sparql.Binding{"v": {Type: "literal", Value: pad}}
	}
	return ResultsJSON([]string{"v"}, rows)
}
