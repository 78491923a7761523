package sparql

import (
	"fmt"
	"mime"
	"strings"
)

// Format is a short result serialisation name.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatXML      Format = "xml"
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatTurtle   Format = "turtle"
	FormatJSONLD   Format = "jsonld"
	FormatNTriples Format = "ntriples"
	FormatRDFXML   Format = "rdfxml"
)

// MIME types for the formats.
const (
	MIMEResultsJSON = "application/sparql-results+json"
	MIMEResultsXML  = "application/sparql-results+xml"
	MIMECSV         = "text/csv"
	MIMETSV         = "text/tab-separated-values"
	MIMETurtle      = "text/turtle"
	MIMEJSONLD      = "application/ld+json"
	MIMENTriples    = "application/n-triples"
	MIMERDFXML      = "application/rdf+xml"

	MIMESparqlQuery  = "application/sparql-query"
	MIMESparqlUpdate = "application/sparql-update"
)

var formatMIME = map[Format]string{
	FormatJSON:     MIMEResultsJSON,
	FormatXML:      MIMEResultsXML,
	FormatCSV:      MIMECSV,
	FormatTSV:      MIMETSV,
	FormatTurtle:   MIMETurtle,
	FormatJSONLD:   MIMEJSONLD,
	FormatNTriples: MIMENTriples,
	FormatRDFXML:   MIMERDFXML,
}

// Formats lists every supported format in table order.
func Formats() []Format {
	return []Format{
		FormatJSON, FormatXML, FormatCSV, FormatTSV,
		FormatTurtle, FormatJSONLD, FormatNTriples, FormatRDFXML,
	}
}

// ParseFormat validates a format name. Empty input yields FormatJSON.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatJSON, nil
	}
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := formatMIME[f]; !ok {
		return "", fmt.Errorf("unsupported result format %q", s)
	}
	return f, nil
}

// MIMEType returns the media type for f, or "" for an unknown format.
func (f Format) MIMEType() string {
	return formatMIME[f]
}

// IsTabular reports whether f serialises SELECT/ASK results.
func (f Format) IsTabular() bool {
	switch f {
	case FormatJSON, FormatXML, FormatCSV, FormatTSV:
		return true
	}
	return false
}

// IsRDF reports whether f serialises a graph.
func (f Format) IsRDF() bool {
	switch f {
	case FormatTurtle, FormatJSONLD, FormatNTriples, FormatRDFXML:
		return true
	}
	return false
}

// FormatForContentType maps a Content-Type header value to a Format.
// Parameters such as charset are ignored.
func FormatForContentType(contentType string) (Format, bool) {
	mt := MediaType(contentType)
	for f, m := range formatMIME {
		if m == mt {
			return f, true
		}
	}
	return "", false
}

// MediaType returns the lower-cased media type of a header value without
// parameters.
func MediaType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsJSONResults reports whether contentType is the SPARQL JSON results type.
// Plain application/json is accepted since several endpoints send it.
func IsJSONResults(contentType string) bool {
	mt := MediaType(contentType)
	return mt == MIMEResultsJSON || mt == "application/json"
}
