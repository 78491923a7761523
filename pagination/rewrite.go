// Package pagination loads further pages of a tabular result by re-issuing
// the query with a rewritten LIMIT and OFFSET.
package pagination

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360/sparqlstream/sparql"
)

var (
	limitOffsetRe = regexp.MustCompile(`(?i)\b(?:LIMIT|OFFSET)\s+\d+`)
	offsetRe      = regexp.MustCompile(`(?i)\bOFFSET\s+(\d+)`)
)

// QueryOffset returns the OFFSET of the outermost query, or 0 when it has
// none. Only solution modifiers after the last closing brace count, so a
// subquery OFFSET is ignored.
func QueryOffset(query string) int {
	text := sparql.StripComments(query)
	if i := strings.LastIndexByte(text, '}'); i >= 0 {
		text = text[i+1:]
	}
	m := offsetRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// RewriteQuery removes every LIMIT and OFFSET clause from query and appends
// a fresh LIMIT pageSize OFFSET offset.
func RewriteQuery(query string, pageSize, offset int) string {
	stripped := strings.TrimSpace(limitOffsetRe.ReplaceAllString(query, ""))
	return fmt.Sprintf("%s LIMIT %d OFFSET %d", stripped, pageSize, offset)
}
