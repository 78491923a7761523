package http

import (
	"fmt"
	"sync"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/execution"
	"github.com/c360/sparqlstream/output"
)

const maxSessionIDLen = 128

// session owns one coordinator and the state its sinks maintain.
type session struct {
	id    string
	coord *execution.Coordinator
	state *execution.ResultState
	sink  execution.ResultSink
}

func (s *session) close() {
	_ = s.coord.Close()
}

// validateSessionID accepts letters, digits, dash, underscore and dot.
func validateSessionID(id string) error {
	if id == "" || len(id) > maxSessionIDLen {
		return errors.WrapInvalid(fmt.Errorf("session id must be 1-%d characters", maxSessionIDLen),
			"Gateway", "validateSessionID", "check length")
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return errors.WrapInvalid(fmt.Errorf("invalid character %q in session id", r),
				"Gateway", "validateSessionID", "check characters")
		}
	}
	return nil
}

// sessions creates sessions on first use and keeps them in the TTL cache.
type sessions struct {
	mu  sync.Mutex
	srv *Server
}

func (ss *sessions) get(id string) (*session, bool) {
	return ss.srv.cache.Get(id)
}

func (ss *sessions) getOrCreate(id string) (*session, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if s, ok := ss.srv.cache.Get(id); ok {
		return s, nil
	}

	srv := ss.srv
	opts := append([]execution.Option{
		execution.WithLogger(srv.logger.With("session", id)),
		execution.WithRecorder(srv.recorder),
	}, srv.coordOpts...)
	if srv.registry != nil {
		opts = append(opts, execution.WithMetrics(srv.registry))
	}
	coord, err := execution.NewCoordinator(srv.client, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Gateway", "getOrCreate", "create coordinator")
	}

	state := execution.NewResultState()
	sinks := execution.MultiSink{state}
	for _, pub := range srv.publishers {
		sinks = append(sinks, output.NewSink(id, pub, srv.logger))
	}

	s := &session{id: id, coord: coord, state: state, sink: sinks}
	if _, err := srv.cache.Set(id, s); err != nil {
		_ = coord.Close()
		return nil, err
	}
	if srv.registry != nil {
		srv.registry.CoreMetrics().ActiveSessions.Inc()
	}
	srv.logger.Debug("session created", "session", id)
	return s, nil
}

// evict is the cache eviction callback.
func (srv *Server) evict(id string, s *session) {
	s.close()
	if srv.registry != nil {
		srv.registry.CoreMetrics().ActiveSessions.Dec()
	}
	srv.logger.Debug("session closed", "session", id)
}
