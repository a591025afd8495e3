// Package agents dispatches work to the downstream specialist agents over
// JSON-over-HTTP. Every message carries an action field; the payload is
// flattened alongside it.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/models"
)

// maxResponseBytes bounds agent responses read into memory.
const maxResponseBytes = 1 << 20

// Dispatcher routes messages to agent endpoints by target agent name.
type Dispatcher struct {
	endpoints map[string]string
	client    *http.Client
	logger    *slog.Logger
}

// NewDispatcher builds a Dispatcher over the configured endpoint map. The
// request-response timeout comes from the agent sync budget; fire-and-forget
// sends inherit it as an upper bound.
func NewDispatcher(cfg config.AgentsConfig, syncBudget time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints: cfg.Endpoints,
		client:    &http.Client{Timeout: syncBudget},
		logger:    logger.With("component", "agents"),
	}
}

// Endpoint resolves the URL for a target agent.
func (d *Dispatcher) Endpoint(agent models.TargetAgent) (string, error) {
	url, ok := d.endpoints[string(agent)]
	if !ok || url == "" {
		return "", faults.New(faults.KindExternalAgent,
			fmt.Sprintf("no endpoint configured for agent %q", agent))
	}
	return url, nil
}

// buildMessage flattens the payload next to the action field.
func buildMessage(action string, payload map[string]any) ([]byte, error) {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["action"] = action
	return json.Marshal(msg)
}

// RequestResponse sends a message and waits for the agent's JSON reply within
// the caller's context deadline.
func (d *Dispatcher) RequestResponse(ctx context.Context, agent models.TargetAgent, action string, payload map[string]any) (map[string]any, error) {
	url, err := d.Endpoint(agent)
	if err != nil {
		return nil, err
	}
	body, err := buildMessage(action, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindExternalAgent,
			fmt.Sprintf("agent %s unreachable", agent), err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.Wrap(faults.KindExternalAgent,
			fmt.Sprintf("failed to read response from agent %s", agent), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, faults.New(faults.KindExternalAgent,
			fmt.Sprintf("agent %s returned status %d", agent, resp.StatusCode))
	}

	var result map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, faults.Wrap(faults.KindExternalAgent,
				fmt.Sprintf("agent %s returned invalid JSON", agent), err)
		}
	}
	return result, nil
}

// Event sends a message without waiting for completion. Failures are logged,
// never surfaced: the durable job rows are the source of truth for async
// work, so a lost invocation is recovered by the worker.
func (d *Dispatcher) Event(agent models.TargetAgent, action string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
		defer cancel()

		if _, err := d.RequestResponse(ctx, agent, action, payload); err != nil {
			d.logger.Warn("fire-and-forget agent dispatch failed",
				"agent", agent,
				"action", action,
				"error", err)
		}
	}()
}
