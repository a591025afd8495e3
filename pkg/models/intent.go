package models

// IntentType is the classified purpose of a turn.
type IntentType string

const (
	IntentGreeting               IntentType = "greeting"
	IntentCreateStory            IntentType = "create_story"
	IntentContinueStory          IntentType = "continue_story"
	IntentEditStory              IntentType = "edit_story"
	IntentFinishStory            IntentType = "finish_story"
	IntentCreateCharacter        IntentType = "create_character"
	IntentEditCharacter          IntentType = "edit_character"
	IntentConfirmCharacter       IntentType = "confirm_character"
	IntentViewLibrary            IntentType = "view_library"
	IntentShareStory             IntentType = "share_story"
	IntentDeleteStory            IntentType = "delete_story"
	IntentEmotionCheckin         IntentType = "emotion_checkin"
	IntentMoodUpdate             IntentType = "mood_update"
	IntentSubscriptionManagement IntentType = "subscription_management"
	IntentConnectHue             IntentType = "connect_hue"
	IntentHueStatus              IntentType = "hue_status"
	IntentControlLights          IntentType = "control_lights"
	IntentStartConversation      IntentType = "start_conversation"
	IntentContinueConversation   IntentType = "continue_conversation"
	IntentEndConversation        IntentType = "end_conversation"
	IntentResumeConversation     IntentType = "resume_conversation"
	IntentAccountLinking         IntentType = "account_linking"
	IntentUnknown                IntentType = "unknown"
)

// AllIntentTypes lists every classifiable intent, in classifier-schema order.
var AllIntentTypes = []IntentType{
	IntentGreeting, IntentCreateStory, IntentContinueStory, IntentEditStory,
	IntentFinishStory, IntentCreateCharacter, IntentEditCharacter,
	IntentConfirmCharacter, IntentViewLibrary, IntentShareStory,
	IntentDeleteStory, IntentEmotionCheckin, IntentMoodUpdate,
	IntentSubscriptionManagement, IntentConnectHue, IntentHueStatus,
	IntentControlLights, IntentStartConversation, IntentContinueConversation,
	IntentEndConversation, IntentResumeConversation, IntentAccountLinking,
	IntentUnknown,
}

// ValidIntentType reports whether t is a known intent type.
func ValidIntentType(t IntentType) bool {
	for _, it := range AllIntentTypes {
		if it == t {
			return true
		}
	}
	return false
}

// TargetAgent identifies the downstream agent an intent is routed to.
type TargetAgent string

const (
	AgentAuth         TargetAgent = "auth"
	AgentContent      TargetAgent = "content"
	AgentLibrary      TargetAgent = "library"
	AgentEmotion      TargetAgent = "emotion"
	AgentCommerce     TargetAgent = "commerce"
	AgentInsights     TargetAgent = "insights"
	AgentSmartHome    TargetAgent = "smarthome"
	AgentConversation TargetAgent = "conversation"
)

// Intent is a classified turn purpose with its routing metadata.
type Intent struct {
	Type              IntentType        `json:"type"`
	Confidence        float64           `json:"confidence"`
	StoryType         StoryType         `json:"story_type,omitempty"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
	RequiresAuth      bool              `json:"requires_auth"`
	TargetAgent       TargetAgent       `json:"target_agent"`
	ConversationPhase ConversationPhase `json:"conversation_phase,omitempty"`
}

// StoryMutating reports whether the intent creates or modifies story content
// and therefore passes through the quota gate.
func (i Intent) StoryMutating() bool {
	switch i.Type {
	case IntentCreateStory, IntentContinueStory, IntentEditStory,
		IntentFinishStory, IntentCreateCharacter, IntentEditCharacter,
		IntentConfirmCharacter:
		return true
	}
	return false
}

// AsyncIntent reports whether the intent is served by the async job pipeline
// rather than a synchronous agent call.
func (i Intent) AsyncIntent() bool {
	return i.Type == IntentCreateStory
}
