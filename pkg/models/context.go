package models

import "time"

// HistoryMax bounds the conversation history kept on a context.
const HistoryMax = 20

// DeviceHistoryMax bounds the device history kept on a context.
const DeviceHistoryMax = 10

// SessionChainMax bounds the ancestor session chain.
const SessionChainMax = 10

// MemoryState is the per-session conversational state held in the cache.
// TTL-bounded; a durable copy is written to the row store once the session
// reaches character_creation or later.
type MemoryState struct {
	UserID             string            `json:"user_id"`
	SessionID          string            `json:"session_id"`
	ConversationPhase  ConversationPhase `json:"conversation_phase"`
	LastIntent         IntentType        `json:"last_intent,omitempty"`
	CurrentStoryID     string            `json:"current_story_id,omitempty"`
	CurrentCharacterID string            `json:"current_character_id,omitempty"`
	StoryType          StoryType         `json:"story_type,omitempty"`
	Context            ContextBag        `json:"context"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	ExpiresAt          time.Time         `json:"expires_at"`
}

// ContextBag holds the loosely structured session context. TempData is
// stripped before persisting.
type ContextBag struct {
	UserProfile map[string]any `json:"user_profile,omitempty"`
	TempData    map[string]any `json:"temp_data,omitempty"`
}

// HistoryEntry is one turn recorded in the conversation history.
type HistoryEntry struct {
	Timestamp     time.Time         `json:"timestamp"`
	UserInput     string            `json:"user_input"`
	AgentResponse string            `json:"agent_response,omitempty"`
	Intent        IntentType        `json:"intent,omitempty"`
	Phase         ConversationPhase `json:"phase,omitempty"`
}

// DeviceRecord is one entry in a context's device history.
type DeviceRecord struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// StoryState tracks the in-progress story within a session.
type StoryState struct {
	CurrentBeat      int            `json:"current_beat,omitempty"`
	StoryOutline     string         `json:"story_outline,omitempty"`
	CharacterDetails map[string]any `json:"character_details,omitempty"`
	NarrativeChoices []string       `json:"narrative_choices,omitempty"`
	PlotPoints       []string       `json:"plot_points,omitempty"`
}

// InterruptionState is the checkpoint written when a session is interrupted.
type InterruptionState struct {
	Timestamp          time.Time      `json:"timestamp"`
	Kind               string         `json:"kind"`
	LastCompleteAction string         `json:"last_complete_action"`
	PendingActions     []string       `json:"pending_actions"`
	ResumptionPrompt   string         `json:"resumption_prompt,omitempty"`
	ContextSnapshot    map[string]any `json:"context_snapshot,omitempty"`
}

// UserSnapshot captures one user's slice of a shared session, swapped in and
// out when the active user changes on a shared device.
type UserSnapshot struct {
	PersonalContext  map[string]any    `json:"personal_context,omitempty"`
	StoryPreferences map[string]any    `json:"story_preferences,omitempty"`
	EmotionalState   string            `json:"emotional_state,omitempty"`
	Phase            ConversationPhase `json:"phase,omitempty"`
	StoryState       *StoryState       `json:"story_state,omitempty"`
	LastIntent       IntentType        `json:"last_intent,omitempty"`
}

// UserContext partitions a shared session across multiple users.
// Invariant: PrimaryUserID is always a member of ActiveUsers.
type UserContext struct {
	PrimaryUserID  string                  `json:"primary_user_id"`
	ActiveUsers    []string                `json:"active_users"`
	UserSeparation map[string]UserSnapshot `json:"user_separation,omitempty"`
}

// EncryptionMetadata identifies how a persisted context payload was encrypted.
type EncryptionMetadata struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	IV        string `json:"iv"`
}

// ConversationContext is the full cross-device session state. It embeds
// MemoryState and adds continuity, story, interruption, and multi-user
// structure.
type ConversationContext struct {
	MemoryState

	ParentSessionID     string              `json:"parent_session_id,omitempty"`
	SessionChain        []string            `json:"session_chain,omitempty"`
	DeviceHistory       []DeviceRecord      `json:"device_history,omitempty"`
	StoryState          StoryState          `json:"story_state"`
	ConversationHistory []HistoryEntry      `json:"conversation_history,omitempty"`
	Interruption        *InterruptionState  `json:"interruption_state,omitempty"`
	UserContext         UserContext         `json:"user_context"`
	Encryption          *EncryptionMetadata `json:"encryption_metadata,omitempty"`
	Metadata            map[string]any      `json:"metadata,omitempty"`
}

// AppendHistory appends an entry and trims to HistoryMax, oldest first out.
func (c *ConversationContext) AppendHistory(entry HistoryEntry) {
	c.ConversationHistory = append(c.ConversationHistory, entry)
	if len(c.ConversationHistory) > HistoryMax {
		c.ConversationHistory = c.ConversationHistory[len(c.ConversationHistory)-HistoryMax:]
	}
}

// AppendDevice appends a device record and trims to DeviceHistoryMax.
func (c *ConversationContext) AppendDevice(rec DeviceRecord) {
	c.DeviceHistory = append(c.DeviceHistory, rec)
	if len(c.DeviceHistory) > DeviceHistoryMax {
		c.DeviceHistory = c.DeviceHistory[len(c.DeviceHistory)-DeviceHistoryMax:]
	}
}

// AppendAncestor appends a session id to the chain, bounded and cycle-free:
// the context's own session id is never admitted.
func (c *ConversationContext) AppendAncestor(sessionID string) {
	if sessionID == "" || sessionID == c.SessionID {
		return
	}
	for _, id := range c.SessionChain {
		if id == sessionID {
			return
		}
	}
	c.SessionChain = append(c.SessionChain, sessionID)
	if len(c.SessionChain) > SessionChainMax {
		c.SessionChain = c.SessionChain[len(c.SessionChain)-SessionChainMax:]
	}
}

// HandedOff reports whether this context was handed off to another session
// and must not be used as a resumption source.
func (c *ConversationContext) HandedOff() bool {
	if c.Metadata == nil {
		return false
	}
	_, ok := c.Metadata["handed_off_to"]
	return ok
}

// Sensitive reports whether the context holds data that must be encrypted at
// rest: any conversation history, character details, an interruption
// checkpoint, or per-user separation state.
func (c *ConversationContext) Sensitive() bool {
	return len(c.ConversationHistory) > 0 ||
		len(c.StoryState.CharacterDetails) > 0 ||
		c.Interruption != nil ||
		len(c.UserContext.UserSeparation) > 0
}
