package agents

import (
	"context"
	"fmt"

	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
)

// TokenValidator resolves bearer tokens through the auth agent.
type TokenValidator struct {
	dispatcher *Dispatcher
}

// NewTokenValidator builds the auth-agent-backed validator.
func NewTokenValidator(dispatcher *Dispatcher) *TokenValidator {
	return &TokenValidator{dispatcher: dispatcher}
}

// Validate asks the auth agent to resolve the token. A reply without a user
// id is a rejection.
func (v *TokenValidator) Validate(ctx context.Context, token string) (string, error) {
	reply, err := v.dispatcher.RequestResponse(ctx, models.AgentAuth, "validate_token", map[string]any{
		"token": token,
	})
	if err != nil {
		return "", fmt.Errorf("auth agent call failed: %w", err)
	}
	userID, _ := reply["userId"].(string)
	if userID == "" {
		return "", faults.New(faults.KindUnauthenticated, "token rejected by auth agent")
	}
	return userID, nil
}
