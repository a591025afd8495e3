package models

import "time"

// ConsentStatus is the parent-consent verification state for a user.
// A missing flag defaults to unverified.
type ConsentStatus struct {
	Verified bool         `json:"verified"`
	Meta     *ConsentMeta `json:"meta,omitempty"`
}

// ConsentMeta records how and when consent was granted or revoked.
type ConsentMeta struct {
	ID           string     `json:"id"`
	Method       string     `json:"method"`
	ConsentAt    time.Time  `json:"consent_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// SubscriptionTier is a user's plan tier. Tiers drive monthly story caps.
type SubscriptionTier string

const (
	TierFree         SubscriptionTier = "free"
	TierAlexaFree    SubscriptionTier = "alexa_free"
	TierAlexaStarter SubscriptionTier = "alexa_starter"
	TierIndividual   SubscriptionTier = "individual"
	TierFamily       SubscriptionTier = "family"
	TierPremium      SubscriptionTier = "premium"
)

// User is the slice of the users row the core needs for gating decisions.
type User struct {
	ID                 string           `json:"id"`
	Age                int              `json:"age"`
	ParentPhone        string           `json:"parent_phone,omitempty"`
	TestModeAuthorized bool             `json:"test_mode_authorized"`
	SmartHomeConnected bool             `json:"smart_home_connected"`
	Tier               SubscriptionTier `json:"tier"`
	StoriesThisMonth   int              `json:"stories_this_month"`
	FirstTimeCreator   bool             `json:"first_time_creator"`
	Profile            map[string]any   `json:"profile,omitempty"`
}

// Minor reports whether the user is under the parental-consent age threshold.
func (u User) Minor() bool { return u.Age > 0 && u.Age < 13 }
