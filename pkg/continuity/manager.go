// Package continuity manages cross-device conversation contexts: cache-backed
// live state with compression and at-rest encryption, durable snapshots for
// significant sessions, interruption checkpoints, device handoff, and
// multi-user partitioning on shared devices.
package continuity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/store"
)

// InterruptionKind classifies why a session was interrupted.
type InterruptionKind string

const (
	InterruptUserStop     InterruptionKind = "user_stop"
	InterruptSystemError  InterruptionKind = "system_error"
	InterruptTimeout      InterruptionKind = "timeout"
	InterruptDeviceSwitch InterruptionKind = "device_switch"
)

// Manager owns the conversation-context lifecycle.
type Manager struct {
	kv       cache.KV
	keys     cache.Keys
	sessions *store.SessionStore
	codec    *codec
	cfg      config.ContinuityConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager builds a Manager. sessions may be nil in tests that exercise
// only the cache path.
func NewManager(kv cache.KV, sessions *store.SessionStore, cfg config.ContinuityConfig, enc *config.EncryptionConfig, logger *slog.Logger) *Manager {
	return &Manager{
		kv:       kv,
		keys:     cache.Keys{Prefix: cfg.KeyPrefix},
		sessions: sessions,
		codec:    &codec{compressThreshold: cfg.CompressThreshold, encryption: enc},
		cfg:      cfg,
		logger:   logger.With("component", "continuity"),
		now:      time.Now,
	}
}

// stateRecord is the small per-user index entry that makes a user's live
// sessions discoverable by prefix scan.
type stateRecord struct {
	SessionID string                   `json:"session_id"`
	Phase     models.ConversationPhase `json:"phase"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// GetOrCreateContext resolves the context for a session: the live cache
// entry first, then a durable copy under the same id, then reconstruction
// from the user's newest prior session, then a fresh greeting-phase context.
// A non-nil device is folded into the device history on every path.
func (m *Manager) GetOrCreateContext(ctx context.Context, sessionID, userID string, device *models.DeviceRecord) (*models.ConversationContext, error) {
	cc, err := m.GetContext(ctx, sessionID)
	if err == nil {
		if m.recordDevice(cc, device) {
			if serr := m.SaveContext(ctx, cc); serr != nil {
				m.logger.Warn("failed to save device history update",
					"session_id", sessionID, "error", serr)
			}
		}
		return cc, nil
	}
	if faults.KindOf(err) == faults.KindDecrypt {
		return nil, err
	}

	// Durable copy under the same session id (cross-region recovery). The
	// row store keeps no history or user partitioning, so those come back
	// at their defaults.
	if m.sessions != nil {
		durable, derr := m.sessions.Get(ctx, sessionID)
		if derr == nil {
			if durable.UserContext.PrimaryUserID == "" {
				durable.UserContext.PrimaryUserID = durable.UserID
				durable.UserContext.ActiveUsers = []string{durable.UserID}
			}
			durable.ExpiresAt = m.now().Add(m.cfg.SessionTTL)
			m.recordDevice(durable, device)
			if serr := m.SaveContext(ctx, durable); serr != nil {
				m.logger.Warn("failed to rehydrate durable session into cache",
					"session_id", sessionID, "error", serr)
			}
			return durable, nil
		}
		if !errors.Is(derr, store.ErrNotFound) {
			m.logger.Warn("durable session lookup failed",
				"session_id", sessionID, "error", derr)
		}
	}

	if prior := m.newestPriorSession(ctx, sessionID, userID); prior != nil {
		return m.inherit(ctx, sessionID, userID, prior, device)
	}

	now := m.now()
	cc = &models.ConversationContext{
		MemoryState: models.MemoryState{
			UserID:            userID,
			SessionID:         sessionID,
			ConversationPhase: models.PhaseGreeting,
			CreatedAt:         now,
			UpdatedAt:         now,
			ExpiresAt:         now.Add(m.cfg.SessionTTL),
		},
		UserContext: models.UserContext{
			PrimaryUserID: userID,
			ActiveUsers:   []string{userID},
		},
	}
	m.recordDevice(cc, device)
	if err := m.SaveContext(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// recordDevice appends a device record when the caller provided one,
// stamping the session id and timestamp if absent.
func (m *Manager) recordDevice(cc *models.ConversationContext, device *models.DeviceRecord) bool {
	if device == nil {
		return false
	}
	rec := *device
	if rec.SessionID == "" {
		rec.SessionID = cc.SessionID
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	cc.AppendDevice(rec)
	return true
}

// newestPriorSession resolves the reconstruction source for a user: the most
// recently updated live session found by scanning the state index, with the
// newest durable row as the fallback when the cache holds nothing. Handed-off
// sessions are never sources.
func (m *Manager) newestPriorSession(ctx context.Context, sessionID, userID string) *models.ConversationContext {
	if prior := m.scanPriorSession(ctx, sessionID, userID); prior != nil {
		return prior
	}
	if m.sessions == nil {
		return nil
	}
	prior, err := m.sessions.LatestForUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("latest session lookup failed", "user_id", userID, "error", err)
		}
		return nil
	}
	if prior.SessionID == sessionID || prior.HandedOff() {
		return nil
	}
	return prior
}

// scanPriorSession walks the user's session state index by keyspace prefix
// and loads the most recently updated live context other than the current
// session.
func (m *Manager) scanPriorSession(ctx context.Context, sessionID, userID string) *models.ConversationContext {
	stateKeys, err := m.kv.ScanByPrefix(ctx, m.keys.StatePrefix(userID), m.cfg.CleanupScanLimit)
	if err != nil {
		m.logger.Warn("session state scan failed", "user_id", userID, "error", err)
		return nil
	}

	var (
		newest   string
		newestAt time.Time
	)
	for _, key := range stateKeys {
		payload, err := m.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec stateRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			continue
		}
		if rec.SessionID == sessionID {
			continue
		}
		if rec.UpdatedAt.After(newestAt) {
			newest, newestAt = rec.SessionID, rec.UpdatedAt
		}
	}
	if newest == "" {
		return nil
	}

	prior, err := m.GetContext(ctx, newest)
	if err != nil {
		m.logger.Warn("prior session read failed", "session_id", newest, "error", err)
		return nil
	}
	if prior.HandedOff() {
		return nil
	}
	return prior
}

// inherit reconstructs a new session from the newest prior one: story state,
// user context, phase, and the history tail carry over, and the lineage is
// recorded in parentSessionId and the session chain. One hop only; a session
// never inherits itself.
func (m *Manager) inherit(ctx context.Context, sessionID, userID string, prior *models.ConversationContext, device *models.DeviceRecord) (*models.ConversationContext, error) {
	now := m.now()
	history := prior.ConversationHistory
	if len(history) > models.HistoryMax {
		history = history[len(history)-models.HistoryMax:]
	}

	cc := &models.ConversationContext{
		MemoryState: models.MemoryState{
			UserID:             userID,
			SessionID:          sessionID,
			ConversationPhase:  prior.ConversationPhase,
			LastIntent:         prior.LastIntent,
			CurrentStoryID:     prior.CurrentStoryID,
			CurrentCharacterID: prior.CurrentCharacterID,
			StoryType:          prior.StoryType,
			Context:            prior.Context,
			CreatedAt:          now,
			UpdatedAt:          prior.UpdatedAt,
			ExpiresAt:          now.Add(m.cfg.SessionTTL),
		},
		ParentSessionID:     prior.SessionID,
		SessionChain:        append([]string(nil), prior.SessionChain...),
		StoryState:          prior.StoryState,
		ConversationHistory: append([]models.HistoryEntry(nil), history...),
		UserContext:         prior.UserContext,
	}
	cc.AppendAncestor(prior.SessionID)
	if cc.UserContext.PrimaryUserID == "" {
		cc.UserContext.PrimaryUserID = userID
		cc.UserContext.ActiveUsers = []string{userID}
	}
	m.recordDevice(cc, device)

	last, pending := deriveActions(cc.ConversationPhase, cc.StoryState)
	cc.Interruption = &models.InterruptionState{
		Timestamp:          now,
		Kind:               string(InterruptTimeout),
		LastCompleteAction: last,
		PendingActions:     pending,
	}
	cc.Interruption.ResumptionPrompt = m.GenerateResumptionPrompt(cc, InterruptTimeout)

	if err := m.SaveContext(ctx, cc); err != nil {
		return nil, err
	}
	m.logger.Info("reconstructed session from prior",
		"session_id", sessionID, "parent_session_id", prior.SessionID, "user_id", userID)
	return cc, nil
}

// GetContext reads and decodes the live context. A cache miss surfaces as a
// persistence-kind error wrapping cache.ErrMiss.
func (m *Manager) GetContext(ctx context.Context, sessionID string) (*models.ConversationContext, error) {
	payload, err := m.kv.Get(ctx, m.keys.Context(sessionID))
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, faults.Wrap(faults.KindPersistence,
				fmt.Sprintf("no live context for session %s", sessionID), err)
		}
		return nil, faults.Wrap(faults.KindPersistence, "context read failed", err)
	}
	return m.codec.decode(payload)
}

// SaveContext encodes and writes the context with a TTL derived from its
// expiry. Already-expired contexts are dropped, not written. Sessions at
// character_creation or later also get a durable row.
func (m *Manager) SaveContext(ctx context.Context, cc *models.ConversationContext) error {
	cc.UpdatedAt = m.now()
	ttl := time.Until(cc.ExpiresAt)
	if ttl <= 0 {
		m.logger.Debug("dropping expired context write", "session_id", cc.SessionID)
		return nil
	}

	// TempData never survives a save.
	cc.Context.TempData = nil

	payload, err := m.codec.encode(cc)
	if err != nil {
		return faults.Wrap(faults.KindPersistence, "context encode failed", err)
	}
	if err := m.kv.SetEx(ctx, m.keys.Context(cc.SessionID), ttl, payload); err != nil {
		return faults.Wrap(faults.KindPersistence, "context write failed", err)
	}

	state, err := json.Marshal(stateRecord{
		SessionID: cc.SessionID,
		Phase:     cc.ConversationPhase,
		UpdatedAt: cc.UpdatedAt,
	})
	if err == nil {
		if serr := m.kv.SetEx(ctx, m.keys.State(cc.UserID, cc.SessionID), ttl, state); serr != nil {
			m.logger.Warn("failed to write session state index",
				"session_id", cc.SessionID, "error", serr)
		}
	}

	if m.sessions != nil && models.SignificantPhase(cc.ConversationPhase) {
		if err := m.sessions.Upsert(ctx, cc); err != nil {
			m.logger.Error("durable session write failed",
				"session_id", cc.SessionID, "error", err)
		}
	}
	return nil
}

// HandleInterruption checkpoints an interrupted session: pending actions are
// derived from the phase and story state, and the snapshot is folded into
// the interruption record.
func (m *Manager) HandleInterruption(ctx context.Context, sessionID string, kind InterruptionKind, snapshot map[string]any) (*models.ConversationContext, error) {
	cc, err := m.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	last, pending := deriveActions(cc.ConversationPhase, cc.StoryState)
	cc.Interruption = &models.InterruptionState{
		Timestamp:          m.now(),
		Kind:               string(kind),
		LastCompleteAction: last,
		PendingActions:     pending,
		ContextSnapshot:    snapshot,
	}
	cc.Interruption.ResumptionPrompt = m.GenerateResumptionPrompt(cc, kind)

	if err := m.SaveContext(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// deriveActions computes the checkpoint from phase and story progress.
func deriveActions(phase models.ConversationPhase, st models.StoryState) (last string, pending []string) {
	switch phase {
	case models.PhaseCharacterCreation:
		last = "started_character_creation"
		if st.CharacterDetails["name"] == nil {
			pending = append(pending, "collect_character_name")
		}
		if st.CharacterDetails["appearance"] == nil {
			pending = append(pending, "collect_character_appearance")
		}
		if st.CharacterDetails["personality"] == nil {
			pending = append(pending, "collect_character_personality")
		}
	case models.PhaseStoryBuilding:
		last = "started_story_building"
		if st.StoryOutline == "" {
			pending = append(pending, "create_story_outline")
		}
		if st.CurrentBeat == 0 {
			pending = append(pending, "start_story_narration")
		}
	case models.PhaseAssetGeneration:
		last = "requested_asset_generation"
		pending = append(pending, "complete_asset_generation")
	default:
		last = string(phase)
	}
	return last, pending
}

// GenerateResumptionPrompt produces the deterministic greeting used when a
// session resumes after an interruption.
func (m *Manager) GenerateResumptionPrompt(cc *models.ConversationContext, kind InterruptionKind) string {
	elapsed := m.now().Sub(cc.UpdatedAt)
	ago := describeElapsed(elapsed)

	switch cc.ConversationPhase {
	case models.PhaseCharacterCreation:
		return fmt.Sprintf("Welcome back! We were creating your character %s. Want to keep going?", ago)
	case models.PhaseStoryBuilding:
		return fmt.Sprintf("Welcome back! We were building your story %s. Ready to continue the adventure?", ago)
	case models.PhaseStoryEditing:
		return fmt.Sprintf("Welcome back! We were polishing your story %s. Want to pick up where we left off?", ago)
	default:
		return fmt.Sprintf("Welcome back! We last talked %s. What would you like to do?", ago)
	}
}

// describeElapsed buckets the time since the last update.
func describeElapsed(d time.Duration) string {
	switch {
	case d < time.Hour:
		return "a few minutes ago"
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// HandleDeviceHandoff moves a live session to a new device: the context is
// copied to the target session id with refreshed expiry, and the source is
// annotated so it is never used as a resumption source again.
func (m *Manager) HandleDeviceHandoff(ctx context.Context, fromSessionID, toSessionID string, newDevice models.DeviceRecord) (*models.ConversationContext, error) {
	src, err := m.GetContext(ctx, fromSessionID)
	if err != nil {
		return nil, err
	}
	if src.HandedOff() {
		return nil, faults.New(faults.KindPersistence,
			fmt.Sprintf("session %s was already handed off", fromSessionID))
	}

	target := *src
	target.SessionID = toSessionID
	target.ParentSessionID = fromSessionID
	target.SessionChain = append([]string(nil), src.SessionChain...)
	target.AppendAncestor(fromSessionID)
	target.ExpiresAt = m.now().Add(m.cfg.SessionTTL)
	target.DeviceHistory = append([]models.DeviceRecord(nil), src.DeviceHistory...)
	newDevice.SessionID = toSessionID
	if newDevice.Timestamp.IsZero() {
		newDevice.Timestamp = m.now()
	}
	target.AppendDevice(newDevice)
	target.Metadata = cloneMetadata(src.Metadata)
	delete(target.Metadata, "handed_off_to")

	if err := m.SaveContext(ctx, &target); err != nil {
		return nil, err
	}

	if src.Metadata == nil {
		src.Metadata = make(map[string]any)
	}
	src.Metadata["handed_off_to"] = toSessionID
	src.Metadata["handed_off_at"] = m.now().Format(time.RFC3339)
	if err := m.SaveContext(ctx, src); err != nil {
		return nil, err
	}
	return &target, nil
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SeparateUserContext declares a session shared across users and marks the
// active one. The primary user always stays a member of the active set.
func (m *Manager) SeparateUserContext(ctx context.Context, sessionID, activeUserID string, allUserIDs []string) (*models.ConversationContext, error) {
	cc, err := m.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cc.UserContext.PrimaryUserID = activeUserID
	cc.UserContext.ActiveUsers = nil
	seen := map[string]bool{}
	for _, id := range append([]string{activeUserID}, allUserIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		cc.UserContext.ActiveUsers = append(cc.UserContext.ActiveUsers, id)
	}
	if cc.UserContext.UserSeparation == nil {
		cc.UserContext.UserSeparation = make(map[string]models.UserSnapshot)
	}

	if err := m.SaveContext(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// SwitchUserContext swaps the active user on a shared session: the outgoing
// user's working state is snapshotted and the incoming user's snapshot, if
// any, is restored. A first-time user starts back at greeting.
func (m *Manager) SwitchUserContext(ctx context.Context, sessionID, newActiveUserID string) (*models.ConversationContext, error) {
	cc, err := m.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	outgoing := cc.UserContext.PrimaryUserID
	if outgoing == newActiveUserID {
		return cc, nil
	}

	if cc.UserContext.UserSeparation == nil {
		cc.UserContext.UserSeparation = make(map[string]models.UserSnapshot)
	}
	storyState := cc.StoryState
	cc.UserContext.UserSeparation[outgoing] = models.UserSnapshot{
		Phase:      cc.ConversationPhase,
		StoryState: &storyState,
		LastIntent: cc.LastIntent,
	}

	if snap, ok := cc.UserContext.UserSeparation[newActiveUserID]; ok {
		cc.ConversationPhase = snap.Phase
		if snap.StoryState != nil {
			cc.StoryState = *snap.StoryState
		} else {
			cc.StoryState = models.StoryState{}
		}
		cc.LastIntent = snap.LastIntent
	} else {
		cc.ConversationPhase = models.PhaseGreeting
		cc.StoryState = models.StoryState{}
		cc.LastIntent = ""
	}

	cc.UserContext.PrimaryUserID = newActiveUserID
	found := false
	for _, id := range cc.UserContext.ActiveUsers {
		if id == newActiveUserID {
			found = true
			break
		}
	}
	if !found {
		cc.UserContext.ActiveUsers = append(cc.UserContext.ActiveUsers, newActiveUserID)
	}

	if err := m.SaveContext(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}
