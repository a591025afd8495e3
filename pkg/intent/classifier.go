// Package intent classifies raw user input into routable intents via a
// forced LLM function call, with deterministic fallbacks when the model is
// unavailable or answers badly.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storyweave/storyweave/pkg/llm"
	"github.com/storyweave/storyweave/pkg/models"
)

const classifyFunctionName = "classify_intent"

// ClassificationContext carries the session-derived hints for a
// classification call.
type ClassificationContext struct {
	CurrentPhase    models.ConversationPhase
	PreviousIntents []models.IntentType
	UserProfile     map[string]any
	RecentHistory   []models.HistoryEntry
}

// Classifier turns user input into intents.
type Classifier struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewClassifier builds a Classifier over the provider client.
func NewClassifier(client llm.Client, logger *slog.Logger) *Classifier {
	return &Classifier{llm: client, logger: logger.With("component", "intent")}
}

// classifyArgs mirrors the classify_intent function schema.
type classifyArgs struct {
	IntentType        string         `json:"intent_type"`
	StoryType         string         `json:"story_type,omitempty"`
	Confidence        float64        `json:"confidence"`
	Parameters        map[string]any `json:"parameters,omitempty"`
	ConversationPhase string         `json:"conversation_phase,omitempty"`
}

// ClassifyIntent classifies a turn. Empty input resolves to unknown without
// touching the provider. Provider failures and invalid responses fall through
// to the deterministic fallback, never to a hard error.
func (c *Classifier) ClassifyIntent(ctx context.Context, turn models.TurnContext, cc ClassificationContext) models.Intent {
	if strings.TrimSpace(turn.UserInput) == "" {
		intent := models.Intent{Type: models.IntentUnknown, Confidence: 0.1}
		finalize(&intent)
		return intent
	}

	raw, err := c.llm.FunctionCall(ctx, llm.FunctionCallRequest{
		SystemPrompt: buildSystemPrompt(cc),
		UserPrompt:   buildUserPrompt(turn, cc),
		FunctionName: classifyFunctionName,
		Description:  "Classify the child's utterance into exactly one intent.",
		Parameters:   classifySchema(),
		MaxTokens:    300,
	})
	if err != nil {
		c.logger.Warn("intent classification failed, using fallback",
			"session_id", turn.SessionID, "error", err)
		return c.HandleUnrecognizedIntent(turn, cc)
	}

	var args classifyArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		c.logger.Warn("classifier returned malformed arguments, using fallback",
			"session_id", turn.SessionID, "error", err)
		return c.HandleUnrecognizedIntent(turn, cc)
	}

	intent, err := validate(args)
	if err != nil {
		c.logger.Warn("classifier result failed validation, using fallback",
			"session_id", turn.SessionID, "error", err)
		return c.HandleUnrecognizedIntent(turn, cc)
	}

	finalize(&intent)
	return intent
}

// validate checks the function-call arguments against the enums.
func validate(args classifyArgs) (models.Intent, error) {
	t := models.IntentType(args.IntentType)
	if !models.ValidIntentType(t) {
		return models.Intent{}, fmt.Errorf("unknown intent type %q", args.IntentType)
	}
	if args.Confidence < 0 || args.Confidence > 1 {
		return models.Intent{}, fmt.Errorf("confidence %v out of range", args.Confidence)
	}
	var storyType models.StoryType
	if args.StoryType != "" {
		storyType = models.StoryType(args.StoryType)
		if !models.ValidStoryType(storyType) {
			return models.Intent{}, fmt.Errorf("unknown story type %q", args.StoryType)
		}
	}

	intent := models.Intent{
		Type:       t,
		Confidence: args.Confidence,
		StoryType:  storyType,
		Parameters: args.Parameters,
	}
	if phase := models.ConversationPhase(args.ConversationPhase); models.ValidPhase(phase) {
		intent.ConversationPhase = phase
	}
	return intent, nil
}

// finalize stamps the routing metadata from the static tables.
func finalize(intent *models.Intent) {
	intent.TargetAgent = TargetAgent(intent.Type)
	intent.RequiresAuth = RequiresAuth(intent.Type)
}

func classifySchema() map[string]any {
	intents := make([]string, 0, len(models.AllIntentTypes))
	for _, t := range models.AllIntentTypes {
		intents = append(intents, string(t))
	}
	storyTypes := make([]string, 0, len(models.StoryTypeCatalog))
	for t := range models.StoryTypeCatalog {
		storyTypes = append(storyTypes, string(t))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent_type": map[string]any{
				"type": "string",
				"enum": intents,
			},
			"story_type": map[string]any{
				"type": "string",
				"enum": storyTypes,
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"parameters": map[string]any{
				"type": "object",
			},
			"conversation_phase": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"intent_type", "confidence"},
	}
}

func buildSystemPrompt(cc ClassificationContext) string {
	var b strings.Builder
	b.WriteString("You classify utterances from children using a storytelling assistant into exactly one intent.\n\n")

	b.WriteString("Intents:\n")
	for _, t := range models.AllIntentTypes {
		fmt.Fprintf(&b, "- %s\n", t)
	}

	b.WriteString("\nStory types:\n")
	for _, t := range models.StoryTypeOrder {
		meta := models.StoryTypeCatalog[t]
		fmt.Fprintf(&b, "- %s: %s\n", t, meta.Description)
	}

	b.WriteString("\nConversation phases: greeting, emotion_check, character_creation, story_building, story_editing, asset_generation, completion.\n")
	fmt.Fprintf(&b, "\nCurrent phase: %s\n", cc.CurrentPhase)
	if len(cc.PreviousIntents) > 0 {
		fmt.Fprintf(&b, "Recent intents: %v\n", cc.PreviousIntents)
	}
	if len(cc.UserProfile) > 0 {
		if profile, err := json.Marshal(cc.UserProfile); err == nil {
			fmt.Fprintf(&b, "User profile: %s\n", profile)
		}
	}
	b.WriteString("\nAlways answer by calling classify_intent. Never answer with free text.")
	return b.String()
}

func buildUserPrompt(turn models.TurnContext, cc ClassificationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Input: %s\n", turn.UserInput)
	fmt.Fprintf(&b, "Channel: %s\n", turn.Channel)
	if turn.Locale != "" {
		fmt.Fprintf(&b, "Locale: %s\n", turn.Locale)
	}
	fmt.Fprintf(&b, "Phase: %s\n", cc.CurrentPhase)
	if turn.PreviousIntent != "" {
		fmt.Fprintf(&b, "Previous intent: %s\n", turn.PreviousIntent)
	}

	history := cc.RecentHistory
	if len(history) > 3 {
		history = history[len(history)-3:]
	}
	for _, entry := range history {
		fmt.Fprintf(&b, "Earlier: child said %q (intent %s)\n", entry.UserInput, entry.Intent)
	}
	return b.String()
}
