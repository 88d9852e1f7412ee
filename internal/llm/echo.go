package llm

import (
	"context"
	"fmt"
	"strings"

	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/proposal"
)

// Echo is an offline generator that writes deterministic placeholder text.
// It keeps the service usable without provider credentials.
type Echo struct{}

func (Echo) Generate(ctx context.Context, req generation.Request) generation.Outcome {
	if err := ctx.Err(); err != nil {
		return generation.Err(proposal.FailureTransport, err.Error())
	}
	var sb strings.Builder
	sb.WriteString(strings.ToUpper(req.SectionName) + "\n")
	fmt.Fprintf(&sb, "Draft for section %d of %d", req.Ordinal+1, req.TotalSections)
	if title := req.Signals["title"]; title != "" {
		fmt.Fprintf(&sb, " of %q", title)
	}
	sb.WriteString(".")
	if len(req.PriorSections) > 0 {
		names := make([]string, 0, len(req.PriorSections))
		for _, prior := range req.PriorSections {
			names = append(names, prior.Name)
		}
		fmt.Fprintf(&sb, " Builds on: %s.", strings.Join(names, ", "))
	}
	if instructions := strings.TrimSpace(req.CustomInstructions); instructions != "" {
		fmt.Fprintf(&sb, "\n- Instructions: %s", instructions)
	}
	return generation.Ok(sb.String())
}
