// Package vocabulary maps namespace IRIs to prefixes. The query pipeline
// uses it only to render readable query text in diagnostics.
package vocabulary

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// MaxPrettyLength bounds the output of Pretty.
const MaxPrettyLength = 512

var (
	prefixNameRe = regexp.MustCompile(`^[A-Za-z][\w.-]*$|^$`)
	localNameRe  = regexp.MustCompile(`^[A-Za-z_][\w-]*$`)
	declRe       = regexp.MustCompile(`(?i)PREFIX\s+([\w.-]*):\s*<([^<>\s]*)>`)
	iriRe        = regexp.MustCompile(`<([^<>"{}|^\x60\\\s]+)>`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Registry is a prefix to namespace table. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	prefixes map[string]string
}

// NewRegistry returns a registry seeded with the common W3C, Dublin Core,
// FOAF, schema.org and PROV prefixes.
func NewRegistry() *Registry {
	r := &Registry{prefixes: make(map[string]string, len(standardPrefixes))}
	for p, ns := range standardPrefixes {
		r.prefixes[p] = ns
	}
	return r
}

// Register adds or replaces a prefix.
func (r *Registry) Register(prefix, namespace string) error {
	if !prefixNameRe.MatchString(prefix) {
		return fmt.Errorf("invalid prefix %q", prefix)
	}
	if namespace == "" {
		return fmt.Errorf("namespace for prefix %q is empty", prefix)
	}
	r.mu.Lock()
	r.prefixes[prefix] = namespace
	r.mu.Unlock()
	return nil
}

// Namespace returns the namespace bound to prefix.
func (r *Registry) Namespace(prefix string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.prefixes[prefix]
	return ns, ok
}

// Prefixes returns the registered prefixes in sorted order.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.prefixes))
	for p, ns := range r.prefixes {
		out[p] = ns
	}
	return out
}

// Compact rewrites iri as prefix:local using the longest matching
// namespace, or returns it in angle brackets.
func (r *Registry) Compact(iri string) string {
	return compact(r.snapshot(), iri)
}

func compact(prefixes map[string]string, iri string) string {
	bestPrefix, bestNS := "", ""
	for p, ns := range prefixes {
		if len(ns) > len(bestNS) && strings.HasPrefix(iri, ns) && localNameRe.MatchString(iri[len(ns):]) {
			bestPrefix, bestNS = p, ns
		}
	}
	if bestNS == "" {
		return "<" + iri + ">"
	}
	return bestPrefix + ":" + iri[len(bestNS):]
}

// Expand resolves a prefixed name to a full IRI.
func (r *Registry) Expand(curie string) (string, bool) {
	prefix, local, ok := strings.Cut(curie, ":")
	if !ok {
		return "", false
	}
	ns, found := r.Namespace(prefix)
	if !found {
		return "", false
	}
	return ns + local, true
}

// Pretty renders query on one line for logs. Full IRIs in the body are
// compacted with the registry plus the query's own PREFIX declarations,
// which are kept verbatim. Output longer than MaxPrettyLength is cut.
func (r *Registry) Pretty(query string) string {
	prefixes := r.snapshot()
	decls := declRe.FindAllStringSubmatchIndex(query, -1)
	for _, d := range decls {
		prefixes[query[d[2]:d[3]]] = query[d[4]:d[5]]
	}

	var b strings.Builder
	pos := 0
	for _, d := range decls {
		b.WriteString(compactAll(prefixes, query[pos:d[0]]))
		b.WriteString(query[d[0]:d[1]])
		pos = d[1]
	}
	b.WriteString(compactAll(prefixes, query[pos:]))

	out := strings.TrimSpace(spaceRe.ReplaceAllString(b.String(), " "))
	if len(out) > MaxPrettyLength {
		out = out[:MaxPrettyLength] + "..."
	}
	return out
}

func compactAll(prefixes map[string]string, text string) string {
	return iriRe.ReplaceAllStringFunc(text, func(m string) string {
		return compact(prefixes, m[1:len(m)-1])
	})
}
