package ask

import (
	"regexp"
	"strconv"
	"strings"
)

const DefaultMarkerKeyword = "BUDGET_RECOMMENDATION"

var (
	typePattern   = regexp.MustCompile(`(?i)\btype\s*#?\s*(\d{1,4})\b`)
	cohortPattern = regexp.MustCompile(`(?i)\b(\d{1,4})\s*(?:x\s*|×\s*)?cohorts?(?:\(s\))?`)
	amountPattern = regexp.MustCompile(`(?i)(\bR\s?|\bZAR\s?)?(\d{1,3}(?:[, .]\d{3})+|\d+)`)
)

// MarkerMatcher reads a structured line such as
// "BUDGET_RECOMMENDATION: Type 3, 2 cohort(s), R500000".
type MarkerMatcher struct {
	Keyword string
}

func (m MarkerMatcher) Match(text string) (Recommendation, bool) {
	keyword := strings.TrimSpace(m.Keyword)
	if keyword == "" {
		keyword = DefaultMarkerKeyword
	}
	marker := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(keyword))
	for _, line := range strings.Split(text, "\n") {
		loc := marker.FindStringIndex(line)
		if loc == nil {
			continue
		}
		if rec, ok := parseMarkerLine(line[loc[1]:]); ok {
			return rec, true
		}
	}
	return Recommendation{}, false
}

func parseMarkerLine(line string) (Recommendation, bool) {
	typeLoc := typePattern.FindStringSubmatchIndex(line)
	cohortLoc := cohortPattern.FindStringSubmatchIndex(line)
	if typeLoc == nil || cohortLoc == nil {
		return Recommendation{}, false
	}
	typeID, err := strconv.Atoi(line[typeLoc[2]:typeLoc[3]])
	if err != nil {
		return Recommendation{}, false
	}
	cohorts, err := strconv.Atoi(line[cohortLoc[2]:cohortLoc[3]])
	if err != nil || cohorts <= 0 {
		return Recommendation{}, false
	}

	rest := []byte(line)
	blank(rest, typeLoc[0], typeLoc[1])
	blank(rest, cohortLoc[0], cohortLoc[1])
	amount, ok := pickAmount(string(rest), cohortLoc[1])
	if !ok {
		return Recommendation{}, false
	}
	return Recommendation{Amount: amount, ProgrammeTypeID: typeID, CohortMultiplier: cohorts}, true
}

// pickAmount prefers a currency-prefixed figure. Otherwise it takes the first
// number after the cohort phrase, falling back to the first number on the line.
func pickAmount(line string, cohortEnd int) (int64, bool) {
	var first, afterCohort string
	for _, loc := range amountPattern.FindAllStringSubmatchIndex(line, -1) {
		figure := line[loc[4]:loc[5]]
		if loc[2] >= 0 {
			return parseAmount(figure)
		}
		if first == "" {
			first = figure
		}
		if afterCohort == "" && loc[4] >= cohortEnd {
			afterCohort = figure
		}
	}
	if afterCohort != "" {
		return parseAmount(afterCohort)
	}
	if first == "" {
		return 0, false
	}
	return parseAmount(first)
}

func parseAmount(raw string) (int64, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if digits == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func blank(buf []byte, start, end int) {
	for i := start; i < end && i < len(buf); i++ {
		buf[i] = ' '
	}
}
