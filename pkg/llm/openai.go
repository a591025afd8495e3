package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/faults"
)

// OpenAIClient implements Client against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client          openai.Client
	model           string
	moderationModel string
	logger          *slog.Logger
}

// NewOpenAIClient builds the provider client from configuration. The API key
// is read from the configured environment variable, never from config files.
func NewOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) (*OpenAIClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM API key: environment variable %s is not set", cfg.APIKeyEnv)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		model:           cfg.Model,
		moderationModel: cfg.ModerationModel,
		logger:          logger.With("component", "llm"),
	}, nil
}

// classifyErr tags provider errors so the retry loop stops on terminal ones.
func classifyErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "invalid_api_key", "insufficient_quota":
			return NonRetryable(faults.Wrap(faults.KindExternalAgent,
				fmt.Sprintf("llm provider rejected request (%s)", apiErr.Code), err))
		}
	}
	return err
}

// FunctionCall forces the model to answer through the declared function and
// returns the raw JSON arguments. Free-text answers are treated as failures
// and retried.
func (c *OpenAIClient) FunctionCall(ctx context.Context, req FunctionCallRequest) (json.RawMessage, error) {
	return withRetry(ctx, c.logger, "function_call", func() (json.RawMessage, error) {
		params := openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(req.SystemPrompt),
				openai.UserMessage(req.UserPrompt),
			},
			Tools: []openai.ChatCompletionToolUnionParam{
				openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
					Name:        req.FunctionName,
					Description: openai.String(req.Description),
					Parameters:  openai.FunctionParameters(req.Parameters),
				}),
			},
			ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{
						Name: req.FunctionName,
					},
				},
			},
		}
		if req.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classifyErr(err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("llm returned no choices")
		}
		calls := resp.Choices[0].Message.ToolCalls
		if len(calls) == 0 {
			return nil, fmt.Errorf("llm answered with free text instead of function call %s", req.FunctionName)
		}
		return json.RawMessage(calls[0].Function.Arguments), nil
	})
}

// Complete runs a plain completion.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	return withRetry(ctx, c.logger, "complete", func() (string, error) {
		params := openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(userPrompt),
			},
		}
		if maxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(maxTokens))
		}
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classifyErr(err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("llm returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Moderate screens input through the moderation endpoint. No retries here:
// the safety gate has its own fail-safe path on error.
func (c *OpenAIClient) Moderate(ctx context.Context, input string) (ModerationResult, error) {
	resp, err := c.client.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModel(c.moderationModel),
		Input: openai.ModerationNewParamsInputUnion{
			OfString: openai.String(input),
		},
	})
	if err != nil {
		return ModerationResult{}, fmt.Errorf("moderation call failed: %w", err)
	}
	if len(resp.Results) == 0 {
		return ModerationResult{}, fmt.Errorf("moderation returned no results")
	}
	r := resp.Results[0]
	return ModerationResult{
		Flagged:        r.Flagged,
		SelfHarm:       r.Categories.SelfHarm,
		SelfHarmIntent: r.Categories.SelfHarmIntent,
		Violence:       r.Categories.Violence,
		Sexual:         r.Categories.Sexual,
		Hate:           r.Categories.Hate,
	}, nil
}
