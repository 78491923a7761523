package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sparqlstream/errors"
	"github.com/c360/sparqlstream/pagination"
)

func env(vals map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, pagination.DefaultPageSize, cfg.Pagination.PageSize)
	assert.Equal(t, 60*time.Second, cfg.Client.Timeout.Std())
	assert.False(t, cfg.NATS.Enabled)
	assert.Nil(t, cfg.Outputs.File)
}

func TestDecode_YAMLOverlaysDefaults(t *testing.T) {
	cfg := Default()
	err := Decode([]byte(`
client:
  endpoint: https://dbpedia.org/sparql
  timeout: 15s
pagination:
  page_size: 250
outputs:
  file:
    directory: /var/log/sparqlstream
`), cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://dbpedia.org/sparql", cfg.Client.Endpoint)
	assert.Equal(t, 15*time.Second, cfg.Client.Timeout.Std())
	assert.Equal(t, 250, cfg.Pagination.PageSize)
	// untouched sections keep their defaults
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
	assert.Equal(t, 100*time.Millisecond, cfg.Client.ProgressInterval.Std())

	require.NotNil(t, cfg.Outputs.File)
	assert.Equal(t, "/var/log/sparqlstream", cfg.Outputs.File.Directory)
	assert.Equal(t, "jsonl", cfg.Outputs.File.Format)
	assert.Nil(t, cfg.Outputs.Webhook)
}

func TestDecode_JSON(t *testing.T) {
	cfg := Default()
	err := Decode([]byte(`{"parsing":{"thresholds":{"main_thread_max_bytes":500}},"log":{"level":"debug"}}`), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cfg.Parsing.Thresholds.MainThreadMaxBytes)
	assert.Equal(t, 5_000, cfg.Parsing.Thresholds.MainThreadMaxRows)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestDecode_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown section", `{"storage": {}}`, "storage"},
		{"bad duration", `{"client": {"timeout": "soon"}}`, "timeout"},
		{"zero page size", `{"pagination": {"page_size": 0}}`, "page_size"},
		{"bad log level", `{"log": {"level": "loud"}}`, "level"},
		{"webhook without url", `{"outputs": {"webhook": {"timeout": 5}}}`, "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Decode([]byte(tt.doc), Default())
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecode_TooDeep(t *testing.T) {
	doc := strings.Repeat(`{"a":`, 40) + "1" + strings.Repeat("}", 40)
	err := Decode([]byte(doc), Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, env(map[string]string{
		"SPARQLSTREAM_ENDPOINT":     "http://localhost:3030/ds/sparql",
		"SPARQLSTREAM_PAGE_SIZE":    "50",
		"SPARQLSTREAM_NATS_ENABLED": "true",
		"SPARQLSTREAM_LOG_LEVEL":    "warn",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3030/ds/sparql", cfg.Client.Endpoint)
	assert.Equal(t, 50, cfg.Pagination.PageSize)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)

	err = ApplyEnv(Default(), env(map[string]string{"SPARQLSTREAM_PAGE_SIZE": "many"}))
	assert.True(t, errors.IsInvalid(err))

	err = ApplyEnv(Default(), env(map[string]string{"SPARQLSTREAM_ENDPOINT": "http://x\x00"}))
	assert.Error(t, err)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "sparqlstream.yaml", "gateway:\n  addr: \":9090\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Gateway.Addr)

	_, err = Load(writeFile(t, "sparqlstream.toml", "x = 1"))
	assert.Error(t, err)

	_, err = Load("../etc/sparqlstream.yaml")
	assert.Error(t, err)
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"thresholds out of order", func(c *Config) { c.Parsing.Thresholds.ChunkedMinBytes = 1 }},
		{"no gateway addr", func(c *Config) { c.Gateway.Addr = "" }},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"nats wildcard prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "events.>" }},
		{"zero retention", func(c *Config) { c.Profiler.Retention = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Client.Endpoint = "https://query.wikidata.org/sparql"
	path := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, cfg.SaveToFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Client, loaded.Client)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Token = "s3cret"
	out := cfg.String()
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "s3cret", cfg.NATS.Token)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	got.Gateway.Addr = ":1"
	assert.Equal(t, ":8080", sc.Get().Gateway.Addr)

	assert.Error(t, sc.Update(nil))
	bad := Default()
	bad.Pagination.PageSize = 0
	assert.Error(t, sc.Update(bad))

	good := Default()
	good.Gateway.Addr = ":7070"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, ":7070", sc.Get().Gateway.Addr)
}

func TestVocabulary_Prefixes(t *testing.T) {
	cfg := Default()
	require.NoError(t, Decode([]byte(`
vocabulary:
  prefixes:
    dbo: http://dbpedia.org/ontology/
`), cfg))
	require.NoError(t, cfg.Validate())

	reg, err := cfg.Vocabulary.Registry()
	require.NoError(t, err)
	assert.Equal(t, "dbo:City", reg.Compact("http://dbpedia.org/ontology/City"))
	assert.Equal(t, "rdf:type", reg.Compact("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"))

	err = Decode([]byte(`{"vocabulary": {"prefixes": {"9bad": "http://x/"}}}`), Default())
	assert.True(t, errors.IsInvalid(err))

	cfg.Vocabulary.Prefixes["ok"] = ""
	assert.Error(t, cfg.Validate())
}
