package vocabulary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Compact(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		iri  string
		want string
	}{
		{RdfType, "rdf:type"},
		{RdfsLabel, "rdfs:label"},
		{"http://xmlns.com/foaf/0.1/name", "foaf:name"},
		{"http://example.org/thing", "<http://example.org/thing>"},
		{RDFS, "<" + RDFS + ">"},
		{RDFS + "has space", "<" + RDFS + "has space>"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Compact(tt.iri), tt.iri)
	}
}

func TestRegistry_LongestNamespaceWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("ex", "http://example.org/"))
	require.NoError(t, r.Register("exv", "http://example.org/vocab/"))

	assert.Equal(t, "exv:Thing", r.Compact("http://example.org/vocab/Thing"))
	assert.Equal(t, "ex:other", r.Compact("http://example.org/other"))
}

func TestRegistry_RegisterAndExpand(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("1bad", "http://x/"))
	assert.Error(t, r.Register("ok", ""))
	require.NoError(t, r.Register("", "http://default.org/"))

	iri, ok := r.Expand("foaf:knows")
	require.True(t, ok)
	assert.Equal(t, FOAF+"knows", iri)

	iri, ok = r.Expand(":x")
	require.True(t, ok)
	assert.Equal(t, "http://default.org/x", iri)

	_, ok = r.Expand("nope:x")
	assert.False(t, ok)
	_, ok = r.Expand("plain")
	assert.False(t, ok)

	assert.Contains(t, r.Prefixes(), "rdf")
}

func TestRegistry_Pretty(t *testing.T) {
	r := NewRegistry()
	q := `PREFIX ex: <http://example.org/>
SELECT ?s ?label
WHERE {
    ?s <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Widget> ;
       <http://www.w3.org/2000/01/rdf-schema#label> ?label .
}`

	got := r.Pretty(q)
	assert.Equal(t, "PREFIX ex: <http://example.org/> SELECT ?s ?label WHERE { ?s rdf:type ex:Widget ; rdfs:label ?label . }", got)

	_, ok := r.Namespace("ex")
	assert.False(t, ok, "query declarations do not leak into the registry")
}

func TestRegistry_PrettyTruncates(t *testing.T) {
	r := NewRegistry()
	got := r.Pretty("SELECT * WHERE { " + strings.Repeat("?s ?p ?o . ", 200) + "}")
	assert.Len(t, got, MaxPrettyLength+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
