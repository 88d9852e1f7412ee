package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"grantsmith/api/internal/generation"
	"grantsmith/api/internal/proposal"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI generates sections through the chat completions API. Retries are
// disabled so a rate limit surfaces as a failed section instead of a stall.
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(opts Options) *OpenAI {
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client:  openai.NewClient(reqOpts...),
		model:   model,
		timeout: opts.Timeout,
	}
}

func (g *OpenAI) Generate(ctx context.Context, req generation.Request) generation.Outcome {
	system, user := BuildPrompt(req)
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			message := fmt.Sprintf("%d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
			return generation.Err(classifyStatus(apiErr.StatusCode), message)
		}
		return generation.Err(proposal.FailureTransport, err.Error())
	}
	if len(resp.Choices) == 0 {
		return generation.Err(proposal.FailureNoResponse, "no choices returned")
	}
	return textOutcome(resp.Choices[0].Message.Content)
}
