// Package ask mines a structured funding recommendation out of generated
// proposal text.
package ask

import "strings"

// Recommendation is the requested amount and the programme it was derived from.
type Recommendation struct {
	Amount           int64 `json:"amount"`
	ProgrammeTypeID  int   `json:"programmeTypeId"`
	CohortMultiplier int   `json:"cohortMultiplier"`
}

// Matcher is one extraction strategy.
type Matcher interface {
	Match(text string) (Recommendation, bool)
}

// UnitCostLookup resolves the per-cohort cost of a programme type.
type UnitCostLookup interface {
	UnitCost(programmeTypeID int) (int64, bool)
}

// AliasResolver maps a programme name mentioned in prose to its type id.
type AliasResolver interface {
	Aliases() map[string]int
}

// Extractor runs its matchers in order and returns the first hit.
type Extractor struct {
	matchers []Matcher
	lookup   UnitCostLookup
}

type Option func(*Extractor)

// WithMatchers replaces the default strategy chain.
func WithMatchers(matchers ...Matcher) Option {
	return func(e *Extractor) {
		e.matchers = append([]Matcher(nil), matchers...)
	}
}

// WithMarkerKeyword changes the keyword the structured marker line carries.
func WithMarkerKeyword(keyword string) Option {
	return func(e *Extractor) {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			return
		}
		for i, matcher := range e.matchers {
			if _, ok := matcher.(MarkerMatcher); ok {
				e.matchers[i] = MarkerMatcher{Keyword: keyword}
			}
		}
	}
}

// NewExtractor builds the default chain: the marker line first, then the
// programme-mention heuristic backed by lookup. A nil lookup disables the
// heuristic and the known-programme check.
func NewExtractor(lookup UnitCostLookup, opts ...Option) *Extractor {
	e := &Extractor{lookup: lookup}
	e.matchers = []Matcher{MarkerMatcher{Keyword: DefaultMarkerKeyword}}
	if lookup != nil {
		heuristic := HeuristicMatcher{Lookup: lookup}
		if aliases, ok := lookup.(AliasResolver); ok {
			heuristic.Aliases = aliases
		}
		e.matchers = append(e.matchers, heuristic)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the first recommendation whose programme type is known.
// A miss is a normal outcome and is reported as ok=false.
func (e *Extractor) Extract(text string) (Recommendation, bool) {
	if strings.TrimSpace(text) == "" {
		return Recommendation{}, false
	}
	for _, matcher := range e.matchers {
		rec, ok := matcher.Match(text)
		if !ok {
			continue
		}
		if e.lookup != nil {
			if _, known := e.lookup.UnitCost(rec.ProgrammeTypeID); !known {
				return Recommendation{}, false
			}
		}
		return rec, true
	}
	return Recommendation{}, false
}
