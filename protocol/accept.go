package protocol

import (
	"strings"

	"github.com/c360/sparqlstream/sparql"
)

// BuildAcceptHeader negotiates the response serialisation. The requested
// format comes first, followed by the standard fallbacks at q=0.9, 0.8 and
// 0.7. A media type already present is not repeated at lower quality.
func BuildAcceptHeader(kind sparql.QueryKind, format sparql.Format) string {
	var preferred string
	var fallbacks [2]string

	switch kind {
	case sparql.KindUpdate:
		return "*/*"
	case sparql.KindConstruct, sparql.KindDescribe:
		preferred = sparql.MIMETurtle
		if format.IsRDF() {
			preferred = format.MIMEType()
		}
		fallbacks = [2]string{sparql.MIMETurtle, sparql.MIMEJSONLD}
	default:
		preferred = sparql.MIMEResultsJSON
		if format.IsTabular() {
			preferred = format.MIMEType()
		}
		fallbacks = [2]string{sparql.MIMEResultsJSON, sparql.MIMEResultsXML}
	}

	parts := []string{preferred}
	quality := []string{"0.9", "0.8"}
	for i, mt := range fallbacks {
		if mt == preferred {
			continue
		}
		parts = append(parts, mt+";q="+quality[i])
	}
	parts = append(parts, "*/*;q=0.7")
	return strings.Join(parts, ", ")
}
