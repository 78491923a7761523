// Package protocol implements the client side of the SPARQL 1.1 Protocol:
// method selection, content negotiation, streamed downloads with progress
// and classification of every failure into a sparql.QueryError.
package protocol

import (
	"net/http"
	"strings"

	"github.com/c360/sparqlstream/sparql"
)

// MaxGETURLLength is the longest GET URL sent before switching to POST.
const MaxGETURLLength = 2000

const upperhex = "0123456789ABCDEF"

// PercentEncode escapes s like ECMAScript encodeURIComponent: letters,
// digits and -_.!~*'() are kept and every other UTF-8 byte becomes %XX.
func PercentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// GetURL returns the URL a GET request for query would use.
func GetURL(endpoint, query string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "query=" + PercentEncode(query)
}

// ChooseMethod picks GET or POST. Updates always POST. Other queries POST
// only when the full GET URL would exceed MaxGETURLLength, so a long
// endpoint URL can force POST for a short query.
func ChooseMethod(query, endpoint string, kind sparql.QueryKind) string {
	if kind.IsUpdate() {
		return http.MethodPost
	}
	if len(GetURL(endpoint, query)) > MaxGETURLLength {
		return http.MethodPost
	}
	return http.MethodGet
}

// RequestContentType returns the POST body media type for kind.
func RequestContentType(kind sparql.QueryKind) string {
	if kind.IsUpdate() {
		return sparql.MIMESparqlUpdate
	}
	return sparql.MIMESparqlQuery
}
