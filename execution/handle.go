package execution

import (
	"context"
	"sync"

	"github.com/c360/sparqlstream/pagination"
	"github.com/c360/sparqlstream/sparql"
)

// Handle tracks one submitted query.
type Handle struct {
	ID      string
	Request sparql.QueryRequest

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	response  *sparql.ProtocolResponse
	err       *sparql.QueryError
	paginator *pagination.Paginator
}

// Done is closed once the query reached its terminal event.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the query finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result returns the outcome. Both are nil while the query runs.
func (h *Handle) Result() (*sparql.ProtocolResponse, *sparql.QueryError) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.response, h.err
}

// Paging returns the paging state, or false before the first LoadNextPage.
func (h *Handle) Paging() (pagination.State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paginator == nil {
		return pagination.State{}, false
	}
	return h.paginator.State(), true
}

func (h *Handle) complete(resp *sparql.ProtocolResponse, err *sparql.QueryError) {
	h.mu.Lock()
	h.response = resp
	h.err = err
	h.mu.Unlock()
}
