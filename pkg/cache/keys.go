package cache

import "fmt"

// Keys builds the documented cache key schema under one namespace prefix.
type Keys struct {
	Prefix string
}

// Context is the key for a session's conversation context payload.
func (k Keys) Context(sessionID string) string {
	return fmt.Sprintf("%s:context:%s", k.Prefix, sessionID)
}

// ContextPrefix is the scan prefix covering all context keys.
func (k Keys) ContextPrefix() string {
	return fmt.Sprintf("%s:context:", k.Prefix)
}

// State is the per-user session state key, scannable by user id prefix.
func (k Keys) State(userID, sessionID string) string {
	return fmt.Sprintf("%s:state:%s:%s", k.Prefix, userID, sessionID)
}

// StatePrefix is the scan prefix covering one user's session state keys.
func (k Keys) StatePrefix(userID string) string {
	return fmt.Sprintf("%s:state:%s:", k.Prefix, userID)
}

// ParentConsent is the consent flag key for a user.
func (k Keys) ParentConsent(userID string) string {
	return fmt.Sprintf("%s:parentConsent:%s", k.Prefix, userID)
}

// ParentConsentMeta is the consent metadata key for a user.
func (k Keys) ParentConsentMeta(userID string) string {
	return fmt.Sprintf("%s:parentConsent:meta:%s", k.Prefix, userID)
}
