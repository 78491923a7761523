package protocol

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/sparqlstream/sparql"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcXYZ019", "abcXYZ019"},
		{"-_.!~*'()", "-_.!~*'()"},
		{"SELECT * WHERE { ?s ?p ?o }", "SELECT%20*%20WHERE%20%7B%20%3Fs%20%3Fp%20%3Fo%20%7D"},
		{"a+b=c&d", "a%2Bb%3Dc%26d"},
		{"<http://x/#y>", "%3Chttp%3A%2F%2Fx%2F%23y%3E"},
		{"é", "%C3%A9"},
		{"\n", "%0A"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PercentEncode(tt.in), tt.in)
	}
}

func TestChooseMethod_UpdateAlwaysPost(t *testing.T) {
	queries := []string{
		"INSERT DATA { <a> <b> <c> }",
		"DELETE WHERE { ?s ?p ?o }",
		"CLEAR ALL",
		"INSERT DATA { " + strings.Repeat("<a> <b> <c> . ", 500) + "}",
	}
	for _, q := range queries {
		kind := sparql.DetectKind(q)
		assert.Equal(t, sparql.KindUpdate, kind)
		assert.Equal(t, http.MethodPost, ChooseMethod(q, "http://example.org/sparql", kind))
		assert.Equal(t, "application/sparql-update", RequestContentType(kind))
	}
}

func TestChooseMethod_ShortUpdate(t *testing.T) {
	q := "INSERT DATA { <a> <b> <c> }"
	assert.Less(t, len(q), 30)
	assert.Equal(t, http.MethodPost, ChooseMethod(q, "http://e/sparql", sparql.DetectKind(q)))
}

func TestChooseMethod_LengthThreshold(t *testing.T) {
	endpoint := "http://example.org/sparql"
	prefix := len(endpoint + "?query=")

	for _, n := range []int{0, 1, 100, MaxGETURLLength - prefix - 1, MaxGETURLLength - prefix, MaxGETURLLength - prefix + 1, 5000} {
		q := strings.Repeat("a", n)
		want := http.MethodGet
		if len(GetURL(endpoint, q)) > MaxGETURLLength {
			want = http.MethodPost
		}
		assert.Equal(t, want, ChooseMethod(q, endpoint, sparql.KindSelect), "query length %d", n)
	}

	exact := strings.Repeat("a", MaxGETURLLength-prefix)
	assert.Equal(t, http.MethodGet, ChooseMethod(exact, endpoint, sparql.KindSelect), "boundary is inclusive")
	assert.Equal(t, http.MethodPost, ChooseMethod(exact+"a", endpoint, sparql.KindSelect))
}

func TestChooseMethod_EncodingCounts(t *testing.T) {
	endpoint := "http://example.org/sparql"
	// each space expands to three characters
	q := strings.Repeat(" ", 700)
	assert.Greater(t, len(GetURL(endpoint, q)), MaxGETURLLength)
	assert.Equal(t, http.MethodPost, ChooseMethod(q, endpoint, sparql.KindAsk))
}

func TestChooseMethod_LongEndpoint(t *testing.T) {
	q := "SELECT * WHERE { ?s ?p ?o } LIMIT 10"
	short := "http://example.org/sparql"
	long := "http://example.org/sparql?" + strings.Repeat("x", 1990)

	assert.Equal(t, http.MethodGet, ChooseMethod(q, short, sparql.KindSelect))
	assert.Equal(t, http.MethodPost, ChooseMethod(q, long, sparql.KindSelect))
	assert.Contains(t, GetURL(long, q), "&query=")
}
