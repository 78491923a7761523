package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/sparql"
)

func TestOutput_WritesJSONLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory = t.TempDir()
	cfg.BufferSize = 2

	o, err := New(cfg, nil, nil)
	require.NoError(t, err)

	sink := output.NewSink("tab", o, nil)
	sink.OnStart("req-1")
	sink.OnProgress(sparql.ProgressEvent{Phase: sparql.PhaseExecuting})
	sink.OnProgress(sparql.ProgressEvent{Phase: sparql.PhaseDownloading})
	assert.Equal(t, int64(2), o.Written())

	sink.OnError(&sparql.QueryError{Kind: sparql.ErrorNetwork, Message: "Network error"})
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	f, err := os.Open(o.Path())
	require.NoError(t, err)
	defer f.Close()

	var types []output.EventType
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var env output.Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		assert.Equal(t, "req-1", env.RequestID)
		types = append(types, env.Type)
	}
	assert.Equal(t, []output.EventType{output.EventProgress, output.EventProgress, output.EventError}, types)

	env, err := output.NewEnvelope(output.EventError, "tab", "req-2", nil)
	require.NoError(t, err)
	assert.Error(t, o.Publish(context.Background(), env))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Format = "raw"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Directory = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BufferSize = -1
	assert.Error(t, cfg.Validate())
}
