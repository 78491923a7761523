package natspub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserrors "github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/metric"
	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/sparql"
	"github.com/c360/sparqlstream/testutil"
)

func TestPublisher_Subject(t *testing.T) {
	p, err := New(testutil.NewMockNATSClient(), WithPrefix("app.events."))
	require.NoError(t, err)

	assert.Equal(t, "app.events.tab-1.progress", p.Subject("tab-1", output.EventProgress))
	assert.Equal(t, "app.events.a_b_c.error", p.Subject("a.b*c", output.EventError))
	assert.Equal(t, "app.events._.success", p.Subject("", output.EventSuccess))
}

func TestPublisher_PublishEnvelope(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	registry := metric.NewMetricsRegistry()
	p, err := New(mock, WithMetrics(registry))
	require.NoError(t, err)

	sink := output.NewSink("tab-1", p, nil)
	sink.OnStart("req-9")
	sink.OnError(&sparql.QueryError{Kind: sparql.ErrorHTTP, Status: 503, Message: "Service unavailable"})

	subject := DefaultPrefix + ".tab-1.error"
	msgs := mock.GetMessages(subject)
	require.Len(t, msgs, 1)

	var env output.Envelope
	require.NoError(t, json.Unmarshal(msgs[0], &env))
	assert.Equal(t, "req-9", env.RequestID)
	assert.Equal(t, output.EventError, env.Type)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(registry.CoreMetrics().EventsPublished.WithLabelValues("nats", "error")))
}

func TestPublisher_PublishFailureIsTransient(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	mock.FailPublish(errors.New("connection closed"))
	p, err := New(mock)
	require.NoError(t, err)

	env, err := output.NewEnvelope(output.EventProgress, "s", "r", sparql.ProgressEvent{Phase: sparql.PhaseExecuting})
	require.NoError(t, err)
	err = p.Publish(context.Background(), env)
	require.Error(t, err)
	assert.True(t, sserrors.IsTransient(err))
}

func TestNew_RequiresConn(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestPublisher_SessionLifecycleSubjects(t *testing.T) {
	mock := testutil.NewMockNATSClient()
	p, err := New(mock, WithPrefix("lab"))
	require.NoError(t, err)

	var seen []output.EventType
	require.NoError(t, mock.Subscribe(context.Background(), "lab.tab-2.success", func(_ context.Context, data []byte) {
		var env output.Envelope
		if json.Unmarshal(data, &env) == nil {
			seen = append(seen, env.Type)
		}
	}))

	sink := output.NewSink("tab-2", p, nil)
	sink.OnStart("req-1")
	sink.OnProgress(sparql.ProgressEvent{Phase: sparql.PhaseExecuting})
	sink.OnProgress(sparql.ProgressEvent{Phase: sparql.PhaseDownloading, Download: &sparql.DownloadProgress{BytesReceived: 10}})
	sink.OnSuccess(&sparql.ProtocolResponse{Status: 200, ContentType: sparql.MIMEResultsJSON})

	testutil.WaitForMessageCount(t, mock, "lab.tab-2.progress", 2, time.Second)
	assert.Equal(t, 1, mock.GetMessageCount("lab.tab-2.success"))
	assert.ElementsMatch(t, []string{"lab.tab-2.progress", "lab.tab-2.success"}, mock.Subjects())
	assert.Equal(t, []output.EventType{output.EventSuccess}, seen)
}
