package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"grantsmith/api/internal/generation"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini generates sections with the Gemini API.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model, timeout: opts.Timeout}, nil
}

func (g *Gemini) Generate(ctx context.Context, req generation.Request) generation.Outcome {
	return FromTextFunc(g.generate).Generate(ctx, req)
}

func (g *Gemini) generate(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(system+"\n\n"+user), nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
