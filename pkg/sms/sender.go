// Package sms sends parent-verification codes through an HTTP SMS provider.
package sms

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/storyweave/storyweave/pkg/config"
)

// Sender delivers a short message to a phone number. Tests substitute a
// recording fake.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// GenerateCode returns a 6-digit verification code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// HTTPSender posts messages to a provider webhook.
type HTTPSender struct {
	url      string
	from     string
	tokenEnv string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPSender builds the provider-backed sender. The provider token is
// read from the configured environment variable at send time.
func NewHTTPSender(cfg config.SMSConfig, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		url:      cfg.Endpoint,
		from:     cfg.From,
		tokenEnv: cfg.APITokenEnv,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "sms"),
	}
}

// Send posts the message. The code itself is never logged.
func (s *HTTPSender) Send(ctx context.Context, phone, message string) error {
	if s.url == "" {
		return fmt.Errorf("sms provider not configured")
	}
	body, err := json.Marshal(map[string]string{
		"to":   phone,
		"from": s.from,
		"body": message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := os.Getenv(s.tokenEnv); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms provider unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}
	s.logger.Info("verification sms sent", "to_suffix", phoneSuffix(phone))
	return nil
}

// phoneSuffix keeps only the last 4 digits for logging.
func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return "…" + phone[len(phone)-4:]
}
