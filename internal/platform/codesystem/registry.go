// Package codesystem maps canonical FHIR terminology URLs to the HL7 OIDs
// that CDA documents expect in codeSystem attributes.
package codesystem

import "sync"

// Canonical terminology URLs.
const (
	URLLOINC  = "http://loinc.org"
	URLSNOMED = "http://snomed.info/sct"
	URLRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
	URLCPT    = "http://www.ama-assn.org/go/cpt"
	URLFDASIS = "http://fdasis.nlm.nih.gov"
)

// Code system OIDs.
const (
	OIDLOINC  = "2.16.840.1.113883.6.1"
	OIDSNOMED = "2.16.840.1.113883.6.96"
	OIDRxNorm = "2.16.840.1.113883.6.88"
	OIDCPT    = "2.16.840.1.113883.6.12"
	OIDFDASIS = "2.16.840.1.113883.4.9"
)

// System describes a registered code system.
type System struct {
	URL  string
	OID  string
	Name string
}

// Registry is an immutable URL-to-OID lookup table. It is safe for
// concurrent use because it is never written after construction.
type Registry struct {
	byURL map[string]System
}

// NewRegistry builds a registry from the given systems. Later entries with a
// duplicate URL replace earlier ones.
func NewRegistry(systems ...System) *Registry {
	r := &Registry{byURL: make(map[string]System, len(systems))}
	for _, s := range systems {
		r.byURL[s.URL] = s
	}
	return r
}

// Lookup returns the system registered for url.
func (r *Registry) Lookup(url string) (System, bool) {
	if r == nil {
		return System{}, false
	}
	s, ok := r.byURL[url]
	return s, ok
}

// OID returns the OID registered for url, or "" when the URL is unknown.
func (r *Registry) OID(url string) string {
	s, _ := r.Lookup(url)
	return s.OID
}

// Len reports the number of registered systems.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byURL)
}

// DefaultSystems lists the terminologies used by outbound clinical documents.
func DefaultSystems() []System {
	return []System{
		{URL: URLLOINC, OID: OIDLOINC, Name: "LOINC"},
		{URL: URLSNOMED, OID: OIDSNOMED, Name: "SNOMED CT"},
		{URL: URLRxNorm, OID: OIDRxNorm, Name: "RxNorm"},
		{URL: URLCPT, OID: OIDCPT, Name: "CPT-4"},
		{URL: URLFDASIS, OID: OIDFDASIS, Name: "UNII"},
	}
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(DefaultSystems()...)
})

// Default returns the process-wide registry of DefaultSystems, built on
// first use.
func Default() *Registry {
	return defaultRegistry()
}
