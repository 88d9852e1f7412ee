package ask

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultWindow is how far, in bytes, the heuristic looks around a
// programme mention for a multiplier phrase.
const DefaultWindow = 160

var (
	mentionPattern = regexp.MustCompile(`(?i)\b(?:programme\s+|program\s+)?type\s*#?\s*(\d{1,4})\b`)
	leadingTimes   = regexp.MustCompile(`(?i)\b(\d{1,4}|` + numberWordAlternation + `)\s*(?:×|x|\*)\s*$`)
	cohortPhrase   = regexp.MustCompile(`(?i)\b(\d{1,4}|` + numberWordAlternation + `)\s+(?:separate\s+|parallel\s+)?cohorts?\b`)
	trailingTimes  = regexp.MustCompile(`(?i)^\W{0,3}(?:×|x)\s*(\d{1,4})\b`)
)

const numberWordAlternation = `one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve`

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

// HeuristicMatcher finds a programme mention ("Type 3" or a catalog alias)
// with a nearby multiplier ("2 × Type 3", "two cohorts") and prices it through
// Lookup.
type HeuristicMatcher struct {
	Lookup  UnitCostLookup
	Aliases AliasResolver
	Window  int
}

type mention struct {
	typeID     int
	start, end int
}

func (h HeuristicMatcher) Match(text string) (Recommendation, bool) {
	if h.Lookup == nil {
		return Recommendation{}, false
	}
	window := h.Window
	if window <= 0 {
		window = DefaultWindow
	}
	for _, m := range h.mentions(text) {
		cohorts, ok := multiplierNear(text, m, window)
		if !ok {
			continue
		}
		unitCost, known := h.Lookup.UnitCost(m.typeID)
		if !known {
			continue
		}
		return Recommendation{
			Amount:           unitCost * int64(cohorts),
			ProgrammeTypeID:  m.typeID,
			CohortMultiplier: cohorts,
		}, true
	}
	return Recommendation{}, false
}

func (h HeuristicMatcher) mentions(text string) []mention {
	var found []mention
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		id, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		found = append(found, mention{typeID: id, start: loc[0], end: loc[1]})
	}
	if h.Aliases != nil {
		if pattern, ids := aliasPattern(h.Aliases.Aliases()); pattern != nil {
			for _, loc := range pattern.FindAllStringIndex(text, -1) {
				id, ok := ids[strings.ToLower(text[loc[0]:loc[1]])]
				if !ok {
					continue
				}
				found = append(found, mention{typeID: id, start: loc[0], end: loc[1]})
			}
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })
	return found
}

func multiplierNear(text string, m mention, window int) (int, bool) {
	before := text[max(0, m.start-window):m.start]
	if match := leadingTimes.FindStringSubmatch(before); match != nil {
		if n, ok := parseCount(match[1]); ok {
			return n, true
		}
	}
	after := text[m.end:min(len(text), m.end+window)]
	if match := trailingTimes.FindStringSubmatch(after); match != nil {
		if n, ok := parseCount(match[1]); ok {
			return n, true
		}
	}
	lo := max(0, m.start-window)
	hi := min(len(text), m.end+window)
	best, bestDistance := 0, -1
	for _, loc := range cohortPhrase.FindAllStringSubmatchIndex(text[lo:hi], -1) {
		n, ok := parseCount(text[lo+loc[2] : lo+loc[3]])
		if !ok {
			continue
		}
		distance := abs(lo + loc[0] - m.start)
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = n, distance
		}
	}
	return best, bestDistance >= 0
}

func parseCount(raw string) (int, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, ok := numberWords[raw]; ok {
		return n, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// aliasPattern matches any catalog alias as a whole word, longest alias first,
// directly on the original text so match offsets index that text.
func aliasPattern(aliases map[string]int) (*regexp.Regexp, map[string]int) {
	ids := make(map[string]int, len(aliases))
	names := make([]string, 0, len(aliases))
	for alias, id := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" {
			continue
		}
		if _, seen := ids[alias]; !seen {
			names = append(names, alias)
		}
		ids[alias] = id
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`), ids
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
