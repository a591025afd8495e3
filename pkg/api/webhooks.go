package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/storyweave/storyweave/pkg/store"
)

// acceptedWebhookEvents is the closed set of platform event types the core
// ingests. Anything else answers {"status":"ignored"}.
var acceptedWebhookEvents = map[string]bool{
	"skill_enabled":        true,
	"skill_disabled":       true,
	"account_linked":       true,
	"account_unlinked":     true,
	"smart_home_discovery": true,
	"smart_home_control":   true,
	"conversation_started": true,
	"conversation_ended":   true,
	"error_occurred":       true,
}

// handleWebhook ingests a platform event. Signature validation applies only
// when the platform has a configured secret.
func (s *Server) handleWebhook(c *gin.Context) {
	platform := c.Param("platform")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid"})
		return
	}

	if secretEnv, ok := s.webhooks.SecretEnvs[platform]; ok {
		secret := os.Getenv(secretEnv)
		if secret != "" && !validSignature(body, c.GetHeader("X-Webhook-Signature"), secret) {
			s.logger.Warn("webhook signature rejected", "platform", platform)
			c.JSON(http.StatusUnauthorized, gin.H{"status": "invalid_signature"})
			return
		}
	}

	var event struct {
		EventType string         `json:"event_type"`
		UserID    string         `json:"user_id"`
		Payload   map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "invalid"})
		return
	}

	if !acceptedWebhookEvents[event.EventType] {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	record := &store.WebhookEvent{
		Platform:  platform,
		UserID:    event.UserID,
		EventType: event.EventType,
		Payload:   event.Payload,
	}
	if err := s.store.Platform.RecordWebhookEvent(c.Request.Context(), record); err != nil {
		respondError(c, s.logger, err)
		return
	}

	s.applyWebhookSideEffects(c, platform, event.EventType, event.UserID, event.Payload)
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "id": record.ID})
}

// applyWebhookSideEffects handles the event families that touch durable
// state. Failures here are logged, not surfaced: the event itself is already
// recorded.
func (s *Server) applyWebhookSideEffects(c *gin.Context, platform, eventType, userID string, payload map[string]any) {
	ctx := c.Request.Context()
	switch eventType {
	case "account_linked":
		if userID != "" {
			if err := s.store.Users.SetSmartHomeConnected(ctx, userID, true); err != nil {
				s.logger.Warn("failed to flag account link", "user_id", userID, "error", err)
			}
		}
	case "account_unlinked":
		if userID != "" {
			if err := s.store.Users.SetSmartHomeConnected(ctx, userID, false); err != nil {
				s.logger.Warn("failed to clear account link", "user_id", userID, "error", err)
			}
		}
	case "smart_home_discovery":
		devices, _ := payload["devices"].([]any)
		for _, d := range devices {
			dm, ok := d.(map[string]any)
			if !ok {
				continue
			}
			device := &store.SmartHomeDevice{
				UserID:           userID,
				ConnectionStatus: "connected",
				Metadata:         dm,
			}
			if t, ok := dm["type"].(string); ok {
				device.DeviceType = t
			}
			if room, ok := dm["roomId"].(string); ok {
				device.RoomID = room
			}
			if err := s.store.Platform.UpsertSmartHomeDevice(ctx, device); err != nil {
				s.logger.Warn("failed to record discovered device",
					"platform", platform, "user_id", userID, "error", err)
			}
		}
	}
}

// validSignature checks the hex HMAC-SHA256 of the raw body.
func validSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
