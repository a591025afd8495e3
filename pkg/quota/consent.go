package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/sms"
)

// Gate evaluates consent and quota before story-mutating intents dispatch.
type Gate struct {
	kv     cache.KV
	keys   cache.Keys
	sms    sms.Sender
	logger *slog.Logger
}

// NewGate builds the gate over the cache and the SMS sender.
func NewGate(kv cache.KV, keys cache.Keys, sender sms.Sender, logger *slog.Logger) *Gate {
	return &Gate{kv: kv, keys: keys, sms: sender, logger: logger.With("component", "quota")}
}

// GateResult is the combined consent/quota verdict for a turn.
type GateResult struct {
	Allowed              bool        `json:"allowed"`
	Bypass               bool        `json:"bypass,omitempty"`
	VerificationRequired bool        `json:"verification_required,omitempty"`
	Limit                LimitResult `json:"limit"`
	Message              string      `json:"message,omitempty"`
}

// ConsentStatus reads the parental-consent flag and metadata from the cache.
// A missing flag means unverified.
func (g *Gate) ConsentStatus(ctx context.Context, userID string) (models.ConsentStatus, error) {
	flag, err := g.kv.Get(ctx, g.keys.ParentConsent(userID))
	if errors.Is(err, cache.ErrMiss) {
		return models.ConsentStatus{}, nil
	}
	if err != nil {
		return models.ConsentStatus{}, fmt.Errorf("failed to read consent flag: %w", err)
	}

	status := models.ConsentStatus{Verified: string(flag) == "verified"}
	meta, err := g.kv.Get(ctx, g.keys.ParentConsentMeta(userID))
	if err == nil && len(meta) > 0 {
		var cm models.ConsentMeta
		if jerr := json.Unmarshal(meta, &cm); jerr == nil {
			status.Meta = &cm
		} else {
			g.logger.Warn("malformed consent metadata", "user_id", userID, "error", jerr)
		}
	}
	return status, nil
}

// CheckConsent gates under-13 users on auth-required intents. Adults and
// verified minors pass; unverified minors fail closed.
func (g *Gate) CheckConsent(ctx context.Context, user *models.User) (bool, error) {
	if !user.Minor() {
		return true, nil
	}
	status, err := g.ConsentStatus(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return status.Verified, nil
}

// CheckStoryQuota runs the full quota gate for a story-mutating turn. Test
// mode bypasses only when both the request header and the persisted flag
// agree. A reached limit triggers parent verification over SMS and a
// child-safe refusal; the turn continues with a non-story response.
func (g *Gate) CheckStoryQuota(ctx context.Context, user *models.User, testModeHeader bool) GateResult {
	if testModeHeader && user.TestModeAuthorized {
		return GateResult{
			Allowed: true,
			Bypass:  true,
			Limit:   LimitResult{Remaining: 1},
		}
	}

	limit := CheckStoryLimit(user)
	if !limit.LimitReached {
		return GateResult{Allowed: true, Limit: limit, Message: limit.Message}
	}

	result := GateResult{
		Allowed:              false,
		VerificationRequired: true,
		Limit:                limit,
		Message:              limit.Message,
	}
	g.requestParentVerification(ctx, user)
	return result
}

// requestParentVerification sends a 6-digit code to the parent phone of
// record. Failures are logged; the in-band refusal already stands on its own.
func (g *Gate) requestParentVerification(ctx context.Context, user *models.User) {
	if user.ParentPhone == "" {
		g.logger.Warn("story limit reached but no parent phone on record", "user_id", user.ID)
		return
	}
	code, err := sms.GenerateCode()
	if err != nil {
		g.logger.Error("failed to generate verification code", "user_id", user.ID, "error", err)
		return
	}
	message := fmt.Sprintf("Your storyweave verification code is %s. Your child has reached their monthly story limit.", code)
	if err := g.sms.Send(ctx, user.ParentPhone, message); err != nil {
		g.logger.Error("failed to send verification sms", "user_id", user.ID, "error", err)
	}
}
