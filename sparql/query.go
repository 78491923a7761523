// Package sparql holds the data model shared by the query pipeline: query
// requests and their kind, result formats, SPARQL 1.1 JSON result sets,
// progress events and the QueryError taxonomy.
package sparql

import (
	"regexp"
	"strings"
	"time"
)

// QueryKind is the SPARQL operation derived from the query text.
type QueryKind string

// Query kinds.
const (
	KindSelect    QueryKind = "SELECT"
	KindAsk       QueryKind = "ASK"
	KindConstruct QueryKind = "CONSTRUCT"
	KindDescribe  QueryKind = "DESCRIBE"
	KindUpdate    QueryKind = "UPDATE"
)

// IsUpdate reports whether the kind must go through the update operation.
func (k QueryKind) IsUpdate() bool {
	return k == KindUpdate
}

// IsTabular reports whether the kind produces a tabular or boolean result.
func (k QueryKind) IsTabular() bool {
	return k == KindSelect || k == KindAsk
}

var (
	prologueRe = regexp.MustCompile(`(?is)^\s*(?:PREFIX\s+[^\s:]*:\s*<[^>]*>|BASE\s+<[^>]*>)`)
	keywordRe  = regexp.MustCompile(`(?i)^\s*([A-Za-z]+)`)
)

var updateKeywords = map[string]bool{
	"INSERT": true,
	"DELETE": true,
	"LOAD":   true,
	"CLEAR":  true,
	"CREATE": true,
	"DROP":   true,
	"COPY":   true,
	"MOVE":   true,
	"ADD":    true,
	"WITH":   true,
}

// DetectKind strips comments and leading PREFIX/BASE declarations and
// classifies the query by its first keyword. Unknown text is a SELECT.
func DetectKind(query string) QueryKind {
	text := StripComments(query)
	for {
		loc := prologueRe.FindStringIndex(text)
		if loc == nil {
			break
		}
		text = text[loc[1]:]
	}

	m := keywordRe.FindStringSubmatch(text)
	if m == nil {
		return KindSelect
	}

	word := strings.ToUpper(m[1])
	switch {
	case word == "SELECT":
		return KindSelect
	case word == "ASK":
		return KindAsk
	case word == "CONSTRUCT":
		return KindConstruct
	case word == "DESCRIBE":
		return KindDescribe
	case updateKeywords[word]:
		return KindUpdate
	default:
		return KindSelect
	}
}

// StripComments removes # comments that run to the end of a line. A # inside
// an IRI reference or a string literal is kept.
func StripComments(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); {
		switch c := query[i]; c {
		case '#':
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end
		case '<':
			n := iriLen(query[i:])
			b.WriteString(query[i : i+n])
			i += n
		case '"', '\'':
			n := literalLen(query[i:])
			b.WriteString(query[i : i+n])
			i += n
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// iriLen returns the length of the IRI reference at the start of s, or 1
// when the < is an operator. IRIs never contain whitespace.
func iriLen(s string) int {
	for j := 1; j < len(s); j++ {
		switch s[j] {
		case '>':
			return j + 1
		case ' ', '\t', '\r', '\n', '<':
			return 1
		}
	}
	return 1
}

// literalLen returns the length of the quoted literal at the start of s,
// long (triple quoted) forms included. An unterminated short literal ends
// at the line break.
func literalLen(s string) int {
	quote := s[:1]
	if len(s) >= 3 && s[1] == s[0] && s[2] == s[0] {
		quote = s[:3]
	}
	for j := len(quote); j < len(s); j++ {
		if s[j] == '\\' {
			j++
			continue
		}
		if strings.HasPrefix(s[j:], quote) {
			return j + len(quote)
		}
		if len(quote) == 1 && s[j] == '\n' {
			return j
		}
	}
	return len(s)
}

// QueryRequest is one query submission. Treat it as immutable once handed
// to the pipeline; cancellation travels in the accompanying context.
type QueryRequest struct {
	Endpoint string            `json:"endpoint"`
	Query    string            `json:"query"`
	Format   Format            `json:"format,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Kind returns the detected kind of the request's query.
func (r QueryRequest) Kind() QueryKind {
	return DetectKind(r.Query)
}

// Clone returns a copy whose header map is not shared.
func (r QueryRequest) Clone() QueryRequest {
	out := r
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return out
}
