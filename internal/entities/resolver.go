// Package entities resolves company, disease, and catalyst mentions in
// free text. The dictionary resolver here is a keyword-matching
// placeholder for an external NER collaborator; the pipeline only depends
// on the Resolver interface.
package entities

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Entities holds the identifiers resolved from one document. Sets may be
// empty; the absence of a match is never an error.
type Entities struct {
	Companies []string
	Diseases  []string
	Catalysts []string
}

// Resolver maps free text to known entity identifiers. No ordering
// guarantee is given on the returned sets.
type Resolver interface {
	Resolve(text string) Entities
}

// Dictionary seeds a DictionaryResolver: identifier → aliases.
type Dictionary struct {
	Companies map[string][]string
	Diseases  map[string][]string
	Catalysts map[string][]string
}

// DictionaryResolver matches whole-word, case-insensitive aliases against
// the text. Safe for concurrent use after construction.
type DictionaryResolver struct {
	mu        sync.RWMutex
	companies map[string]*regexp.Regexp
	diseases  map[string]*regexp.Regexp
	catalysts map[string]*regexp.Regexp
}

// NewDictionaryResolver compiles the alias dictionary. Nil maps are fine.
func NewDictionaryResolver(dict Dictionary) *DictionaryResolver {
	return &DictionaryResolver{
		companies: compile(dict.Companies),
		diseases:  compile(dict.Diseases),
		catalysts: compile(dict.Catalysts),
	}
}

// DefaultDictionary returns a small seed vocabulary used until a caller
// supplies a real one.
func DefaultDictionary() Dictionary {
	return Dictionary{
		Companies: map[string][]string{
			"pfizer":      {"pfizer"},
			"novartis":    {"novartis"},
			"roche":       {"roche", "genentech"},
			"astrazeneca": {"astrazeneca"},
			"merck":       {"merck", "msd"},
		},
		Diseases: map[string][]string{
			"nsclc":    {"non-small cell lung cancer", "nsclc"},
			"melanoma": {"melanoma"},
			"dmd":      {"duchenne muscular dystrophy", "dmd"},
			"ra":       {"rheumatoid arthritis"},
		},
		Catalysts: map[string][]string{
			"pdufa":          {"pdufa"},
			"phase3-readout": {"phase 3 readout", "phase iii readout", "topline results"},
			"adcom":          {"advisory committee", "adcom"},
			"crl":            {"complete response letter"},
			"fda-approval":   {"fda approval", "fda approves"},
			"ema-opinion":    {"chmp opinion"},
		},
	}
}

func compile(aliases map[string][]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(aliases))
	for id, names := range aliases {
		if len(names) == 0 {
			continue
		}
		quoted := make([]string, 0, len(names))
		for _, n := range names {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(n)))
		}
		out[id] = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return out
}

// Resolve implements Resolver.
func (r *DictionaryResolver) Resolve(text string) Entities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Entities{
		Companies: match(r.companies, text),
		Diseases:  match(r.diseases, text),
		Catalysts: match(r.catalysts, text),
	}
}

// AddCompany registers an extra company alias set at runtime.
func (r *DictionaryResolver) AddCompany(id string, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := compile(map[string][]string{id: aliases})
	if re, ok := merged[id]; ok {
		r.companies[id] = re
	}
}

func match(patterns map[string]*regexp.Regexp, text string) []string {
	var ids []string
	for id, re := range patterns {
		if re.MatchString(text) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
