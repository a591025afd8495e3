package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PlatformStore records inbound platform webhook events and smart-home
// device state.
type PlatformStore struct {
	pool *pgxpool.Pool
}

// WebhookEvent is one accepted inbound platform event.
type WebhookEvent struct {
	ID         string         `json:"id"`
	Platform   string         `json:"platform"`
	UserID     string         `json:"user_id,omitempty"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// RecordWebhookEvent appends an accepted event.
func (s *PlatformStore) RecordWebhookEvent(ctx context.Context, event *WebhookEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO webhook_registrations (platform, user_id, event_type, payload)
		VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING id, received_at`,
		event.Platform, event.UserID, event.EventType, payload,
	).Scan(&event.ID, &event.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// SmartHomeDevice is one discovered or controlled device.
type SmartHomeDevice struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	DeviceType       string         `json:"device_type"`
	RoomID           string         `json:"room_id,omitempty"`
	ConnectionStatus string         `json:"connection_status"`
	Metadata         map[string]any `json:"device_metadata,omitempty"`
	LastUsedAt       *time.Time     `json:"last_used_at,omitempty"`
}

// UpsertSmartHomeDevice records a device seen during discovery or control.
func (s *PlatformStore) UpsertSmartHomeDevice(ctx context.Context, device *SmartHomeDevice) error {
	metadata, err := json.Marshal(device.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal device metadata: %w", err)
	}
	if device.ID == "" {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO smart_home_devices (user_id, device_type, room_id, connection_status, device_metadata, last_used_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, now())
			RETURNING id`,
			device.UserID, device.DeviceType, device.RoomID, device.ConnectionStatus, metadata,
		).Scan(&device.ID)
		if err != nil {
			return fmt.Errorf("failed to insert smart home device: %w", err)
		}
		return nil
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE smart_home_devices
		SET connection_status = $2, device_metadata = $3, last_used_at = now()
		WHERE id = $1`,
		device.ID, device.ConnectionStatus, metadata)
	if err != nil {
		return fmt.Errorf("failed to update smart home device %s: %w", device.ID, err)
	}
	return nil
}

// ListSmartHomeDevices returns a user's devices.
func (s *PlatformStore) ListSmartHomeDevices(ctx context.Context, userID string) ([]SmartHomeDevice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, device_type, COALESCE(room_id, ''), connection_status, device_metadata, last_used_at
		FROM smart_home_devices WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list smart home devices for user %s: %w", userID, err)
	}
	defer rows.Close()

	var devices []SmartHomeDevice
	for rows.Next() {
		var (
			d        SmartHomeDevice
			metadata []byte
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.DeviceType, &d.RoomID,
			&d.ConnectionStatus, &metadata, &d.LastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan smart home device: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &d.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode device metadata: %w", err)
			}
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read smart home devices: %w", err)
	}
	return devices, nil
}
