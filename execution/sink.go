package execution

import (
	"github.com/c360/sparqlstream/sparql"
)

// ResultSink receives the events of one request. For each request it sees
// zero or more OnProgress calls followed by exactly one OnSuccess or
// OnError, all on the goroutine running the request.
type ResultSink interface {
	OnProgress(sparql.ProgressEvent)
	OnSuccess(*sparql.ProtocolResponse)
	OnError(*sparql.QueryError)
}

// StartObserver is implemented by sinks that want to know the request ID
// before the first event.
type StartObserver interface {
	OnStart(requestID string)
}

// SinkFuncs adapts functions to ResultSink. Nil fields are ignored.
type SinkFuncs struct {
	Start    func(requestID string)
	Progress func(sparql.ProgressEvent)
	Success  func(*sparql.ProtocolResponse)
	Error    func(*sparql.QueryError)
}

// OnStart implements StartObserver.
func (f SinkFuncs) OnStart(id string) {
	if f.Start != nil {
		f.Start(id)
	}
}

// OnProgress implements ResultSink.
func (f SinkFuncs) OnProgress(ev sparql.ProgressEvent) {
	if f.Progress != nil {
		f.Progress(ev)
	}
}

// OnSuccess implements ResultSink.
func (f SinkFuncs) OnSuccess(resp *sparql.ProtocolResponse) {
	if f.Success != nil {
		f.Success(resp)
	}
}

// OnError implements ResultSink.
func (f SinkFuncs) OnError(err *sparql.QueryError) {
	if f.Error != nil {
		f.Error(err)
	}
}

// MultiSink fans every event out to each sink in order.
type MultiSink []ResultSink

// OnStart implements StartObserver.
func (m MultiSink) OnStart(id string) {
	for _, s := range m {
		if so, ok := s.(StartObserver); ok {
			so.OnStart(id)
		}
	}
}

// OnProgress implements ResultSink.
func (m MultiSink) OnProgress(ev sparql.ProgressEvent) {
	for _, s := range m {
		s.OnProgress(ev)
	}
}

// OnSuccess implements ResultSink.
func (m MultiSink) OnSuccess(resp *sparql.ProtocolResponse) {
	for _, s := range m {
		s.OnSuccess(resp)
	}
}

// OnError implements ResultSink.
func (m MultiSink) OnError(err *sparql.QueryError) {
	for _, s := range m {
		s.OnError(err)
	}
}

// emitter enforces the event contract on top of a sink: phases never go
// backwards, counters never decrease and nothing follows the terminal
// event. Used only from the request goroutine.
type emitter struct {
	sink  ResultSink
	phase int
	bytes int64
	rows  int
	done  bool
}

func newEmitter(sink ResultSink) *emitter {
	if sink == nil {
		sink = SinkFuncs{}
	}
	return &emitter{sink: sink, phase: -1}
}

func (e *emitter) progress(ev sparql.ProgressEvent) {
	if e.done {
		return
	}
	order := ev.Phase.Order()
	if order < e.phase {
		return
	}
	if ev.Download != nil {
		if ev.Download.BytesReceived < e.bytes {
			return
		}
		e.bytes = ev.Download.BytesReceived
	}
	if ev.Parse != nil {
		if ev.Parse.RowsParsed < e.rows {
			return
		}
		e.rows = ev.Parse.RowsParsed
	}
	e.phase = order
	e.sink.OnProgress(ev)
}

func (e *emitter) success(resp *sparql.ProtocolResponse) {
	if e.done {
		return
	}
	e.done = true
	e.sink.OnSuccess(resp)
}

func (e *emitter) fail(err *sparql.QueryError) {
	if e.done {
		return
	}
	e.done = true
	e.sink.OnError(err)
}
