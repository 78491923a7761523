package execution

import (
	"sync"

	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/sparql"
)

// ResultState is a sink that keeps the latest state of one query for
// readers on other goroutines. Its in-progress event is cleared on both
// success and failure.
type ResultState struct {
	mu        sync.RWMutex
	requestID string
	progress  *sparql.ProgressEvent
	response  *sparql.ProtocolResponse
	rows      []sparql.Binding
	err       *sparql.QueryError
	paging    *pagination.State
}

var (
	_ ResultSink    = (*ResultState)(nil)
	_ StartObserver = (*ResultState)(nil)
)

// NewResultState creates an empty state.
func NewResultState() *ResultState {
	return &ResultState{}
}

// OnStart resets the state for a new request.
func (s *ResultState) OnStart(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = requestID
	s.progress = nil
	s.response = nil
	s.rows = nil
	s.err = nil
	s.paging = nil
}

// OnProgress implements ResultSink.
func (s *ResultState) OnProgress(ev sparql.ProgressEvent) {
	s.mu.Lock()
	s.progress = &ev
	s.mu.Unlock()
}

// OnSuccess implements ResultSink.
func (s *ResultState) OnSuccess(resp *sparql.ProtocolResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = nil
	s.err = nil
	s.response = resp
	s.rows = nil
	if resp.Results != nil && resp.Results.Results != nil {
		s.rows = append([]sparql.Binding(nil), resp.Results.Results.Bindings...)
	}
}

// OnError implements ResultSink.
func (s *ResultState) OnError(err *sparql.QueryError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = nil
	s.response = nil
	s.rows = nil
	s.err = err
}

// ApplyPage appends the rows of a page loaded for requestID. Pages of a
// request that is no longer current are dropped.
func (s *ResultState) ApplyPage(requestID string, page pagination.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil || requestID != s.requestID {
		return
	}
	s.rows = append(s.rows, page.Bindings...)
	st := page.State
	s.paging = &st
}

// InProgress reports whether a request is running.
func (s *ResultState) InProgress() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress != nil
}

// Rows returns up to limit rows starting at offset. limit <= 0 means all.
func (s *ResultState) Rows(offset, limit int) []sparql.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 || offset >= len(s.rows) {
		return []sparql.Binding{}
	}
	end := len(s.rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]sparql.Binding(nil), s.rows[offset:end]...)
}

// Snapshot is a point-in-time copy of a ResultState.
type Snapshot struct {
	RequestID  string                `json:"request_id,omitempty"`
	InProgress bool                  `json:"in_progress"`
	Progress   *sparql.ProgressEvent `json:"progress,omitempty"`
	Summary    *sparql.Summary       `json:"summary,omitempty"`
	Text       string                `json:"text,omitempty"`
	Rows       int                   `json:"rows"`
	Error      *sparql.QueryError    `json:"error,omitempty"`
	Paging     *pagination.State     `json:"paging,omitempty"`
}

// Snapshot copies the current state.
func (s *ResultState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RequestID:  s.requestID,
		InProgress: s.progress != nil,
		Rows:       len(s.rows),
		Error:      s.err,
	}
	if s.progress != nil {
		ev := *s.progress
		snap.Progress = &ev
	}
	if s.response != nil {
		sum := s.response.Summarize()
		sum.Rows = len(s.rows)
		snap.Summary = &sum
		snap.Text = s.response.Text
	}
	if s.paging != nil {
		st := *s.paging
		snap.Paging = &st
	}
	return snap
}
