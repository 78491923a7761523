// Package sparqlstream executes SPARQL queries against protocol endpoints and
// streams their progress and results to interested consumers.
//
// # Architecture
//
// A query passes through one pipeline regardless of who submitted it:
//
//	┌─────────────────────────────────────┐
//	│        Execution Coordinator        │  One active query per session
//	│   (submit, cancel, page, profile)   │  Ordered progress events
//	└─────────────────────────────────────┘
//	           ↓ sends via
//	┌─────────────────────────────────────┐
//	│          Protocol Client            │  GET/POST choice, Accept
//	│  (request, download, classify)      │  negotiation, error kinds
//	└─────────────────────────────────────┘
//	           ↓ hands body to
//	┌─────────────────────────────────────┐
//	│   Strategy Selector + Parsers       │  Inline, offloaded or chunked
//	│  (main thread, worker, fallback)    │  decoding by response size
//	└─────────────────────────────────────┘
//	           ↓ results feed
//	┌─────────────────────────────────────┐
//	│   Paginator, Profiler, Sinks        │  LIMIT/OFFSET paging, timing
//	│                                     │  samples, event fan-out
//	└─────────────────────────────────────┘
//
// # Packages
//
// Core pipeline:
//   - sparql: query kinds, formats, result sets, progress events and errors
//   - protocol: the SPARQL 1.1 protocol client
//   - parsing: strategy selection and the offloaded parser
//   - pagination: LIMIT/OFFSET rewriting and the paginator
//   - profiler: phase timing and the bounded sample recorder
//   - execution: the coordinator tying the pipeline together
//   - vocabulary: prefix registry used to compact IRIs for display
//
// Delivery:
//   - output: the event envelope and the sink that publishes it
//   - output/websocket, output/natspub, output/file, output/httppost: publishers
//   - gateway/http: the REST front end with per-session coordinators
//
// Infrastructure:
//   - config: layered file, environment and flag configuration
//   - errors: classified errors (invalid, transient, fatal)
//   - metric: Prometheus registry and the core metrics
//   - health: component health aggregation
//   - natsclient: NATS connection management
//   - pkg/*: buffers, caches, retry, TLS and worker pools
//
// # Binaries
//
//	cmd/sparqlstream   the gateway service
//	cmd/sparqlq        a command line client over the same pipeline
//
// # Quick Start
//
//	sparqlq query -e https://dbpedia.org/sparql \
//	    'SELECT ?s WHERE { ?s a <http://dbpedia.org/ontology/City> }'
//
//	sparqlstream -config sparqlstream.yaml
//	curl -X POST localhost:8080/api/sessions/demo/queries \
//	    -d '{"query":"ASK { ?s ?p ?o }","endpoint":"https://dbpedia.org/sparql"}'
package sparqlstream
