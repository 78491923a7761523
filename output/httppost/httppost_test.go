package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/output"
	"github.com/c360/sparqlstream/sparql"
)

func envelope(t *testing.T, typ output.EventType) output.Envelope {
	t.Helper()
	env, err := output.NewEnvelope(typ, "tab", "req", sparql.Summary{Status: 200, Rows: 2})
	require.NoError(t, err)
	return env
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.URL = "http://localhost/hook" }, false},
		{"missing url", func(*Config) {}, true},
		{"relative url", func(c *Config) { c.URL = "/hook" }, true},
		{"timeout too large", func(c *Config) { c.URL = "http://x/h"; c.Timeout = 301 }, true},
		{"negative retries", func(c *Config) { c.URL = "http://x/h"; c.RetryCount = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublisher_PostsEnvelope(t *testing.T) {
	var got output.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Headers = map[string]string{"X-Token": "secret"}
	p, err := New(cfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), envelope(t, output.EventSuccess)))
	assert.Equal(t, output.EventSuccess, got.Type)
	assert.Equal(t, int64(1), p.Stats().Sent)
}

func TestPublisher_FiltersTypes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	p, err := New(cfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), envelope(t, output.EventProgress)))
	assert.Zero(t, calls.Load())
}

func TestPublisher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.RetryCount = 3
	p, err := New(cfg, nil, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), envelope(t, output.EventError)))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(2), p.Stats().Retried)
}

func TestPublisher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	p, err := New(cfg, nil, nil)
	require.NoError(t, err)

	assert.Error(t, p.Publish(context.Background(), envelope(t, output.EventError)))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), p.Stats().Errors)
}
