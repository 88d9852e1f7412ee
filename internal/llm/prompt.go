package llm

import (
	"fmt"
	"sort"
	"strings"

	"grantsmith/api/internal/generation"
)

const systemPrompt = "Role: Senior grant writer. Task: Draft one section of a funding proposal. " +
	"Write plain prose with short headings and bullet lists where useful. " +
	"Stay consistent with the sections already written. Do not repeat their content. " +
	"Never invent statistics or amounts that are not supported by the context."

// budgetInstruction asks the model to end budget sections with the marker
// line the ask extractor reads.
const budgetInstruction = "End this section with one line in exactly this form: " +
	"BUDGET_RECOMMENDATION: Type <programme type id>, <n> cohort(s), R<amount>"

// BuildPrompt renders the system and user messages for one section.
func BuildPrompt(req generation.Request) (string, string) {
	var sb strings.Builder
	title := req.Signals["title"]
	if title == "" {
		title = "Untitled proposal"
	}
	fmt.Fprintf(&sb, "Proposal: %s\n", title)
	keys := make([]string, 0, len(req.Signals))
	for key := range req.Signals {
		if key != "title" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", key, req.Signals[key])
	}

	fmt.Fprintf(&sb, "\nWrite section %d of %d: %q.\n", req.Ordinal+1, req.TotalSections, req.SectionName)
	if strings.Contains(strings.ToLower(req.SectionName), "budget") {
		sb.WriteString(budgetInstruction + "\n")
	}
	if instructions := strings.TrimSpace(req.CustomInstructions); instructions != "" {
		sb.WriteString("\n**INSTRUCTIONS FROM THE APPLICANT**:\n")
		sb.WriteString(instructions + "\n")
	}

	if len(req.PriorSections) > 0 {
		sb.WriteString("\n==================================================================\n")
		sb.WriteString("SECTIONS ALREADY WRITTEN\n")
		sb.WriteString("==================================================================\n")
		for _, prior := range req.PriorSections {
			fmt.Fprintf(&sb, "\n### %s\n%s\n", prior.Name, strings.TrimSpace(prior.Text))
		}
	}
	return systemPrompt, sb.String()
}

// cleanOutput strips a wrapping code fence some models add.
func cleanOutput(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```markdown")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
