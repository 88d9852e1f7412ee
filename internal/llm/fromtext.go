package llm

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/proposal"
)

var statusPattern = regexp.MustCompile(`\b(?:Error|status(?: code)?:?)\s*(\d{3})\b`)

// FromText turns a plain (text, error) service result into an Outcome.
// Errors are classified by any HTTP status they mention, and text that starts
// with a legacy failure marker is treated as that failure.
func FromText(text string, err error) generation.Outcome {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return generation.Err(proposal.FailureTransport, err.Error())
		}
		if match := statusPattern.FindStringSubmatch(err.Error()); match != nil {
			if status, convErr := strconv.Atoi(match[1]); convErr == nil {
				return generation.Err(classifyStatus(status), err.Error())
			}
		}
		return generation.Err(proposal.FailureTransport, err.Error())
	}
	if failure, ok := proposal.ClassifyText(text); ok {
		return generation.Err(failure.Kind, failure.Message)
	}
	return textOutcome(text)
}

// TextFunc is a service that returns raw text for a prompt pair.
type TextFunc func(ctx context.Context, system, user string) (string, error)

// FromTextFunc adapts fn into a Generator using FromText.
func FromTextFunc(fn TextFunc) generation.Generator {
	return generation.GeneratorFunc(func(ctx context.Context, req generation.Request) generation.Outcome {
		system, user := BuildPrompt(req)
		return FromText(fn(ctx, system, user))
	})
}
