package ask

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func printer() *message.Printer {
	return message.NewPrinter(language.English)
}

// FormatAmount renders an amount in rand with thousands grouping, e.g. R500,000.
func FormatAmount(amount int64) string {
	return printer().Sprintf("R%d", amount)
}

// Describe renders a one-line summary of a recommendation.
func Describe(rec Recommendation) string {
	unit := "cohorts"
	if rec.CohortMultiplier == 1 {
		unit = "cohort"
	}
	return printer().Sprintf("%s for Type %d, %d %s", FormatAmount(rec.Amount), rec.ProgrammeTypeID, rec.CohortMultiplier, unit)
}
