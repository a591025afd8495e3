// Package models defines the core domain types shared by the orchestrator,
// the continuity manager, and the asset pipeline.
package models

import "time"

// Channel identifies the inbound surface a turn arrived on.
type Channel string

const (
	ChannelVoice        Channel = "voice"
	ChannelWeb          Channel = "web"
	ChannelMobile       Channel = "mobile"
	ChannelSmartSpeaker Channel = "smart-speaker"
	ChannelSmartDisplay Channel = "smart-display"
)

// TurnContext is the ephemeral per-turn envelope. It lives for exactly one
// request/response cycle and is never persisted as-is.
type TurnContext struct {
	UserID            string
	SessionID         string
	Channel           Channel
	DeviceHints       map[string]any
	Locale            string
	UserInput         string
	ConversationPhase ConversationPhase // empty until context load
	PreviousIntent    IntentType        // empty on first turn
	Timestamp         time.Time
}
