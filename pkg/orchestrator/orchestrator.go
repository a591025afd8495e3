// Package orchestrator runs the per-turn pipeline: authentication, capability
// detection, context load, safety screen, consent and quota gates, intent
// classification, dispatch, context update, and response adaptation, in that
// order, every turn.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyweave/storyweave/pkg/capability"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/continuity"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/intent"
	"github.com/storyweave/storyweave/pkg/jobs"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/quota"
	"github.com/storyweave/storyweave/pkg/safety"
	"github.com/storyweave/storyweave/pkg/store"
)

// JobCreator starts long-running jobs. *jobs.Manager satisfies it.
type JobCreator interface {
	CreateJob(ctx context.Context, userID, sessionID string, jobType models.AsyncJobType, request map[string]any) (*jobs.Handle, error)
}

// AgentCaller performs synchronous agent RPCs. *agents.Dispatcher satisfies it.
type AgentCaller interface {
	RequestResponse(ctx context.Context, agent models.TargetAgent, action string, payload map[string]any) (map[string]any, error)
}

// UserDirectory resolves authenticated users. *store.UserStore satisfies it.
type UserDirectory interface {
	Get(ctx context.Context, userID string) (*models.User, error)
}

// DeviceDirectory lists a user's linked smart home devices.
// *store.PlatformStore satisfies it.
type DeviceDirectory interface {
	ListSmartHomeDevices(ctx context.Context, userID string) ([]store.SmartHomeDevice, error)
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	continuity *continuity.Manager
	classifier *intent.Classifier
	moderator  *safety.Moderator
	gate       *quota.Gate
	jobs       JobCreator
	dispatcher AgentCaller
	users      UserDirectory
	devices    DeviceDirectory
	budgets    config.BudgetConfig
	logger     *slog.Logger
}

// New builds the orchestrator.
func New(
	cm *continuity.Manager,
	classifier *intent.Classifier,
	moderator *safety.Moderator,
	gate *quota.Gate,
	jobCreator JobCreator,
	dispatcher AgentCaller,
	users UserDirectory,
	devices DeviceDirectory,
	budgets config.BudgetConfig,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		continuity: cm,
		classifier: classifier,
		moderator:  moderator,
		gate:       gate,
		jobs:       jobCreator,
		dispatcher: dispatcher,
		users:      users,
		devices:    devices,
		budgets:    budgets,
		logger:     logger.With("component", "orchestrator"),
	}
}

// TurnResult is the composed outcome of one turn.
type TurnResult struct {
	SessionID string                     `json:"sessionId"`
	Phase     models.ConversationPhase   `json:"conversationPhase"`
	Intent    *models.Intent             `json:"intent,omitempty"`
	Response  capability.AdaptedResponse `json:"response"`
	Job       *jobs.Handle               `json:"job,omitempty"`
	Crisis    *models.CrisisResponse     `json:"crisis,omitempty"`
	Quota     *quota.GateResult          `json:"quota,omitempty"`
}

// HandleTurn runs the full pipeline for one turn within the turn budget.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn models.TurnContext, userAgent string, testMode bool) (*TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budgets.Turn)
	defer cancel()

	logger := o.logger.With("session_id", turn.SessionID, "user_id", turn.UserID)

	// 1. Authentication happened at the transport; an empty identity here
	// means the middleware was bypassed.
	if turn.UserID == "" {
		return nil, faults.New(faults.KindUnauthenticated, "missing authenticated user")
	}

	// 2. Capability detection.
	caps, err := capability.Detect(turn.DeviceHints, userAgent)
	if err != nil {
		return nil, err
	}

	user, err := o.users.Get(ctx, turn.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, faults.New(faults.KindUnauthenticated, fmt.Sprintf("unknown user %s", turn.UserID))
		}
		return nil, faults.Wrap(faults.KindPersistence, "user lookup failed", err)
	}
	caps = capability.MergePreferences(caps, user.Profile)

	// 3. Context load, folding this turn's device into the history.
	device := &models.DeviceRecord{
		DeviceType: string(caps.DeviceType),
		SessionID:  turn.SessionID,
		Timestamp:  turn.Timestamp,
	}
	if id, ok := turn.DeviceHints["deviceId"].(string); ok {
		device.DeviceID = id
	}
	cc, err := o.continuity.GetOrCreateContext(ctx, turn.SessionID, turn.UserID, device)
	if err != nil {
		return nil, err
	}
	turn.ConversationPhase = cc.ConversationPhase
	turn.PreviousIntent = cc.LastIntent

	// 4. Safety screen. Critical or reportable findings short-circuit the
	// turn entirely: no agent RPC, no raw input retained.
	modCtx, modCancel := context.WithTimeout(ctx, o.budgets.Moderation)
	check := o.moderator.CheckInput(modCtx, turn.UserInput, user.Age)
	modCancel()
	if check.Severity == models.SeverityCritical || check.RequiresMandatoryReporting {
		return o.handleCrisis(ctx, cc, caps, user, turn, check, logger)
	}

	// 5. Consent lookup for minors; enforced at dispatch once the intent's
	// auth requirement is known.
	consentOK := true
	if user.Minor() {
		consentOK, err = o.gate.CheckConsent(ctx, user)
		if err != nil {
			return nil, faults.Wrap(faults.KindPersistence, "consent lookup failed", err)
		}
	}

	// 6. Intent classification. Classifier failures resolve to fallback
	// intents internally, never to a pipeline error.
	clsCtx, clsCancel := context.WithTimeout(ctx, o.budgets.Classification)
	classified := o.classifier.ClassifyIntent(clsCtx, turn, intent.ClassificationContext{
		CurrentPhase:    cc.ConversationPhase,
		PreviousIntents: recentIntents(cc),
		UserProfile:     user.Profile,
		RecentHistory:   cc.ConversationHistory,
	})
	clsCancel()
	logger.Info("intent classified",
		"intent", classified.Type, "confidence", classified.Confidence,
		"target_agent", classified.TargetAgent)

	if classified.RequiresAuth && user.Minor() && !consentOK {
		return nil, faults.New(faults.KindConsentRequired,
			"parental consent required before this action")
	}

	result := &TurnResult{SessionID: cc.SessionID, Intent: &classified}

	// 7. Quota gate for story-mutating intents.
	if classified.StoryMutating() {
		gateResult := o.gate.CheckStoryQuota(ctx, user, testMode)
		result.Quota = &gateResult
		if !gateResult.Allowed {
			o.updateContext(ctx, cc, turn, classified, gateResult.Message, logger)
			result.Phase = cc.ConversationPhase
			result.Response = capability.AdaptResponse(capability.Response{Text: gateResult.Message}, caps)
			return result, nil
		}
	}

	// 8. Dispatch.
	base, err := o.dispatch(ctx, cc, user, turn, classified, result)
	if err != nil {
		return nil, err
	}

	// 9. Context update.
	o.applyPhase(cc, classified, logger)
	o.updateContext(ctx, cc, turn, classified, base.Text, logger)

	// 10. Modality adaptation.
	result.Phase = cc.ConversationPhase
	result.Response = capability.AdaptResponse(base, caps)
	return result, nil
}

// dispatch routes the classified intent: long-running intents get a job
// handle, everything else a synchronous agent call.
func (o *Orchestrator) dispatch(ctx context.Context, cc *models.ConversationContext, user *models.User, turn models.TurnContext, classified models.Intent, result *TurnResult) (capability.Response, error) {
	if classified.AsyncIntent() {
		request := map[string]any{
			"storyType":  string(classified.StoryType),
			"parameters": classified.Parameters,
			"phase":      string(cc.ConversationPhase),
		}
		handle, err := o.jobs.CreateJob(ctx, turn.UserID, turn.SessionID, models.JobStoryGeneration, request)
		if err != nil {
			return capability.Response{}, err
		}
		result.Job = handle
		cc.CurrentStoryID = handle.StoryID
		return capability.Response{
			Text: "Your story is being created! I'll let you know the moment it's ready.",
		}, nil
	}

	syncCtx, cancel := context.WithTimeout(ctx, o.budgets.AgentSync)
	defer cancel()

	payload := map[string]any{
		"userId":    turn.UserID,
		"sessionId": turn.SessionID,
		"input":     turn.UserInput,
		"intent":    string(classified.Type),
		"phase":     string(cc.ConversationPhase),
	}
	for k, v := range classified.Parameters {
		payload[k] = v
	}

	// Smart-home turns carry the user's known devices so the agent can
	// resolve room and device references without a discovery round trip.
	if classified.TargetAgent == models.AgentSmartHome && user.SmartHomeConnected {
		devices, err := o.devices.ListSmartHomeDevices(ctx, turn.UserID)
		if err != nil {
			o.logger.Warn("smart home device lookup failed",
				"user_id", turn.UserID, "error", err)
		} else {
			known := make([]map[string]any, 0, len(devices))
			for _, d := range devices {
				known = append(known, map[string]any{
					"id":               d.ID,
					"deviceType":       d.DeviceType,
					"roomId":           d.RoomID,
					"connectionStatus": d.ConnectionStatus,
				})
			}
			payload["knownDevices"] = known
		}
	}

	reply, err := o.dispatcher.RequestResponse(syncCtx, classified.TargetAgent, string(classified.Type), payload)
	if err != nil {
		return capability.Response{}, err
	}
	return responseFrom(reply), nil
}

// handleCrisis short-circuits the pipeline: crisis pivot, phase forced to
// emotion_check, and the raw input never enters the conversation history.
func (o *Orchestrator) handleCrisis(ctx context.Context, cc *models.ConversationContext, caps capability.DeviceCapabilities, user *models.User, turn models.TurnContext, check models.SafetyCheckResult, logger *slog.Logger) (*TurnResult, error) {
	logger.Warn("crisis intervention triggered",
		"severity", check.Severity,
		"disclosure_type", check.DisclosureType,
		"flags", check.Flags)

	immediateRisk := check.DisclosureType == models.DisclosureSelfHarm ||
		check.DisclosureType == models.DisclosureSelfHarmIntent
	crisis := o.moderator.TriggerCrisisIntervention(ctx, check.DisclosureType, immediateRisk, user.Age, turn.UserInput)

	cc.ConversationPhase = models.PhaseEmotionCheck
	cc.AppendHistory(models.HistoryEntry{
		Timestamp:     time.Now(),
		UserInput:     "[redacted: safety event]",
		AgentResponse: crisis.Message,
		Phase:         cc.ConversationPhase,
	})
	if err := o.continuity.SaveContext(ctx, cc); err != nil {
		logger.Error("failed to save context after crisis pivot", "error", err)
	}

	return &TurnResult{
		SessionID: cc.SessionID,
		Phase:     cc.ConversationPhase,
		Crisis:    &crisis,
		Response:  capability.AdaptResponse(capability.Response{Text: crisis.Message}, caps),
	}, nil
}

// applyPhase moves the session phase to the classifier's suggestion when the
// transition is legal; anything else is coerced back and logged as an
// anomaly.
func (o *Orchestrator) applyPhase(cc *models.ConversationContext, classified models.Intent, logger *slog.Logger) {
	next := classified.ConversationPhase
	if next == "" || !models.ValidPhase(next) {
		return
	}
	if !models.CanTransition(cc.ConversationPhase, next) {
		logger.Warn("illegal phase transition coerced",
			"from", cc.ConversationPhase, "requested", next)
		return
	}
	cc.ConversationPhase = next
}

// updateContext appends the turn to the history and saves.
func (o *Orchestrator) updateContext(ctx context.Context, cc *models.ConversationContext, turn models.TurnContext, classified models.Intent, response string, logger *slog.Logger) {
	cc.LastIntent = classified.Type
	if classified.StoryType != "" {
		cc.StoryType = classified.StoryType
	}
	cc.AppendHistory(models.HistoryEntry{
		Timestamp:     time.Now(),
		UserInput:     turn.UserInput,
		AgentResponse: response,
		Intent:        classified.Type,
		Phase:         cc.ConversationPhase,
	})
	if err := o.continuity.SaveContext(ctx, cc); err != nil {
		logger.Error("failed to save context after turn", "error", err)
	}
}

// recentIntents collects the classifier hint from the tail of the history.
func recentIntents(cc *models.ConversationContext) []models.IntentType {
	history := cc.ConversationHistory
	if len(history) > 3 {
		history = history[len(history)-3:]
	}
	var intents []models.IntentType
	for _, entry := range history {
		if entry.Intent != "" {
			intents = append(intents, entry.Intent)
		}
	}
	return intents
}

// responseFrom lifts a loose agent reply into a logical response.
func responseFrom(reply map[string]any) capability.Response {
	resp := capability.Response{}
	if text, ok := reply["text"].(string); ok {
		resp.Text = text
	} else if msg, ok := reply["message"].(string); ok {
		resp.Text = msg
	}
	if speech, ok := reply["speech"].(string); ok {
		resp.Speech = speech
	}
	if choices, ok := reply["choices"].([]any); ok {
		for _, c := range choices {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			choice := capability.Choice{}
			if id, ok := cm["id"].(string); ok {
				choice.ID = id
			}
			if label, ok := cm["label"].(string); ok {
				choice.Label = label
			}
			resp.Choices = append(resp.Choices, choice)
		}
	}
	if resp.Text == "" {
		resp.Text = "Let's keep the story going! What happens next?"
	}
	return resp
}
