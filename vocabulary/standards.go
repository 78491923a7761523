package vocabulary

// Well-known namespace IRIs.
//
// References:
// - RDF 1.1: https://www.w3.org/TR/rdf11-concepts/
// - OWL: https://www.w3.org/TR/owl2-overview/
// - SKOS: https://www.w3.org/TR/skos-reference/
// - Dublin Core: https://www.dublincore.org/specifications/dublin-core/dcmi-terms/
// - Schema.org: https://schema.org/
// - PROV-O: https://www.w3.org/TR/prov-o/
const (
	RDF       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFS      = "http://www.w3.org/2000/01/rdf-schema#"
	OWL       = "http://www.w3.org/2002/07/owl#"
	XSD       = "http://www.w3.org/2001/XMLSchema#"
	SKOS      = "http://www.w3.org/2004/02/skos/core#"
	DCTerms   = "http://purl.org/dc/terms/"
	FOAF      = "http://xmlns.com/foaf/0.1/"
	Schema    = "https://schema.org/"
	PROV      = "http://www.w3.org/ns/prov#"
	SOSA      = "http://www.w3.org/ns/sosa/"
	GeoSPARQL = "http://www.opengis.net/ont/geosparql#"
)

// Frequently used terms.
const (
	RdfType       = RDF + "type"
	RdfsLabel     = RDFS + "label"
	RdfsComment   = RDFS + "comment"
	OwlSameAs     = OWL + "sameAs"
	SkosPrefLabel = SKOS + "prefLabel"
	SkosAltLabel  = SKOS + "altLabel"
	XsdString     = XSD + "string"
	XsdInteger    = XSD + "integer"
	XsdDateTime   = XSD + "dateTime"
)

// standardPrefixes seeds every new Registry.
var standardPrefixes = map[string]string{
	"rdf":     RDF,
	"rdfs":    RDFS,
	"owl":     OWL,
	"xsd":     XSD,
	"skos":    SKOS,
	"dcterms": DCTerms,
	"foaf":    FOAF,
	"schema":  Schema,
	"prov":    PROV,
	"sosa":    SOSA,
	"geo":     GeoSPARQL,
}
