// Package llm adapts text-generation services to generation.Generator.
// Each adapter classifies its own transport and provider failures so the
// orchestrator only ever sees tagged outcomes.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/proposal"
)

// Options selects and configures a provider.
type Options struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New returns the generator for opts.Provider. The default is the offline
// echo generator.
func New(ctx context.Context, opts Options) (generation.Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch provider {
	case "", "echo":
		return Echo{}, nil
	case "openai":
		if opts.APIKey == "" && opts.BaseURL == "" {
			return nil, fmt.Errorf("llm: openai provider needs an api key")
		}
		return NewOpenAI(opts), nil
	case "gemini":
		if opts.APIKey == "" {
			return nil, fmt.Errorf("llm: gemini provider needs an api key")
		}
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", opts.Provider)
	}
}

// classifyStatus maps an HTTP status from a provider to a failure kind.
func classifyStatus(status int) proposal.FailureKind {
	switch {
	case status == 429:
		return proposal.FailureRateLimited
	case status >= 500:
		return proposal.FailureOutage
	default:
		return proposal.FailureTransport
	}
}

func textOutcome(text string) generation.Outcome {
	text = cleanOutput(text)
	if text == "" {
		return generation.Err(proposal.FailureNoResponse, "empty response")
	}
	return generation.Ok(text)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
