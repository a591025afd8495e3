// Package llm wraps the language-model provider behind the two narrow calls
// the core makes: a forced function-call completion and a moderation screen.
package llm

import (
	"context"
	"encoding/json"
)

// FunctionCallRequest describes a single forced function-call completion.
// The model must respond with a call to the named function; free text is an
// error.
type FunctionCallRequest struct {
	SystemPrompt string
	UserPrompt   string
	FunctionName string
	Description  string
	// Parameters is a JSON-schema object describing the function arguments.
	Parameters map[string]any
	MaxTokens  int
}

// ModerationResult is the category verdict from the moderation endpoint.
type ModerationResult struct {
	Flagged        bool
	SelfHarm       bool
	SelfHarmIntent bool
	Violence       bool
	Sexual         bool
	Hate           bool
}

// Client is the provider surface. Implemented by OpenAIClient; tests
// substitute a scripted fake.
type Client interface {
	// FunctionCall runs a completion that must answer via the declared
	// function and returns the raw JSON arguments.
	FunctionCall(ctx context.Context, req FunctionCallRequest) (json.RawMessage, error)

	// Complete runs a plain completion and returns the text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)

	// Moderate screens input through the moderation endpoint.
	Moderate(ctx context.Context, input string) (ModerationResult, error)
}
