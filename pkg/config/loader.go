package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read storyweave.yaml from configDir (optional, defaults apply)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML and merge over built-in defaults
//  4. Load encryption keys from the environment
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		configDir:  configDir,
		Server:     DefaultServerConfig(),
		Continuity: DefaultContinuityConfig(),
		Pipeline:   DefaultPipelineConfig(),
		LLM:        DefaultLLMConfig(),
		Budgets:    DefaultBudgetConfig(),
		SMS:        &SMSConfig{APITokenEnv: "SMS_API_TOKEN"},
		Agents:     &AgentsConfig{Endpoints: map[string]string{}},
		Webhooks:   &WebhooksConfig{SecretEnvs: map[string]string{}},
	}

	path := filepath.Join(configDir, "storyweave.yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("No storyweave.yaml found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		var loaded Config
		if err := yaml.Unmarshal(ExpandEnv(data), &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(cfg, &loaded, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	enc, err := loadEncryptionKeys()
	if err != nil {
		return nil, err
	}
	cfg.Encryption = enc

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"agents", len(cfg.Agents.Endpoints),
		"encryption_keys", len(cfg.Encryption.Keys))
	return cfg, nil
}

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax to avoid collision with $ in literal values.
// Missing variables expand to empty string; validation catches required
// fields that end up empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if idx := strings.IndexByte(env, '='); idx > 0 {
			envMap[env[:idx]] = env[idx+1:]
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}

// loadEncryptionKeys reads the at-rest keyring from the environment.
// CONTEXT_ENCRYPTION_KEYS holds "keyId:hex,keyId:hex,..."; each key must be
// 32 bytes (AES-256). CONTEXT_ACTIVE_KEY_ID selects the write key and
// defaults to the first listed key.
func loadEncryptionKeys() (*EncryptionConfig, error) {
	raw := os.Getenv("CONTEXT_ENCRYPTION_KEYS")
	enc := &EncryptionConfig{Keys: make(map[string][]byte)}
	if raw == "" {
		return enc, nil
	}

	var firstID string
	for _, pair := range strings.Split(raw, ",") {
		id, hexKey, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed CONTEXT_ENCRYPTION_KEYS entry %q", pair)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("key %q is not valid hex: %w", id, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes, got %d", id, len(key))
		}
		enc.Keys[id] = key
		if firstID == "" {
			firstID = id
		}
	}

	enc.ActiveKeyID = os.Getenv("CONTEXT_ACTIVE_KEY_ID")
	if enc.ActiveKeyID == "" {
		enc.ActiveKeyID = firstID
	}
	if _, ok := enc.Keys[enc.ActiveKeyID]; !ok {
		return nil, fmt.Errorf("CONTEXT_ACTIVE_KEY_ID %q not present in keyring", enc.ActiveKeyID)
	}
	return enc, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Continuity.CompressThreshold <= 0 {
		return fmt.Errorf("continuity.compress_threshold must be positive")
	}
	if c.Continuity.CleanupScanLimit <= 0 {
		return fmt.Errorf("continuity.cleanup_scan_limit must be positive")
	}
	if c.Pipeline.WorkerBatchSize <= 0 {
		return fmt.Errorf("pipeline.worker_batch_size must be positive")
	}
	if c.Pipeline.StuckThreshold <= 0 {
		return fmt.Errorf("pipeline.stuck_threshold must be positive")
	}
	if c.Budgets.Turn < c.Budgets.Classification {
		return fmt.Errorf("budgets.turn must be at least budgets.classification")
	}
	return nil
}
