// Package config loads and validates the storyweave configuration: a YAML
// file for tunables plus environment variables for secrets and endpoints.
package config

import "time"

// Config is the umbrella configuration returned by Initialize and threaded
// through the application via dependency injection.
type Config struct {
	configDir string

	Server     *ServerConfig     `yaml:"server"`
	Continuity *ContinuityConfig `yaml:"continuity"`
	Pipeline   *PipelineConfig   `yaml:"pipeline"`
	LLM        *LLMConfig        `yaml:"llm"`
	Budgets    *BudgetConfig     `yaml:"budgets"`
	SMS        *SMSConfig        `yaml:"sms"`
	Agents     *AgentsConfig     `yaml:"agents"`
	Webhooks   *WebhooksConfig   `yaml:"webhooks"`
	Encryption *EncryptionConfig `yaml:"-"` // env-only, never YAML
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// ContinuityConfig tunes the continuity manager.
type ContinuityConfig struct {
	// SessionTTL is the cache lifetime for a fresh session context.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// CompressThreshold is the serialized size, in bytes, at or above which
	// context payloads are gzip-compressed before caching.
	CompressThreshold int `yaml:"compress_threshold"`

	// CleanupInterval is how often expired context keys are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// CleanupScanLimit bounds the number of keys examined per sweep so the
	// sweep never contends with the request path.
	CleanupScanLimit int `yaml:"cleanup_scan_limit"`

	// KeyPrefix namespaces all cache keys.
	KeyPrefix string `yaml:"key_prefix"`
}

// PipelineConfig tunes the async asset pipeline.
type PipelineConfig struct {
	// WorkerInterval is the asset worker tick period.
	WorkerInterval time.Duration `yaml:"worker_interval"`

	// WorkerBatchSize is the maximum queued jobs leased per tick.
	WorkerBatchSize int `yaml:"worker_batch_size"`

	// SweeperInterval is the timeout sweeper tick period.
	SweeperInterval time.Duration `yaml:"sweeper_interval"`

	// StuckThreshold is how long a job may stay generating before the
	// sweeper fails it with a timeout.
	StuckThreshold time.Duration `yaml:"stuck_threshold"`

	// GracefulShutdownTimeout is the max wait for in-flight ticks on stop.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// LLMConfig holds LLM provider settings. The API key comes from the
// environment, never from YAML.
type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	ModerationModel string `yaml:"moderation_model"`
	APIKeyEnv       string `yaml:"api_key_env"`
}

// BudgetConfig carries the per-suspension-point deadlines. A turn's total
// budget bounds the whole pipeline; on exhaustion the turn fails with a
// timeout kind and the session context is not rewritten.
type BudgetConfig struct {
	Turn           time.Duration `yaml:"turn"`
	Moderation     time.Duration `yaml:"moderation"`
	Classification time.Duration `yaml:"classification"`
	Cache          time.Duration `yaml:"cache"`
	RowStore       time.Duration `yaml:"row_store"`
	AgentSync      time.Duration `yaml:"agent_sync"`
}

// SMSConfig holds the out-of-band SMS verification provider settings.
type SMSConfig struct {
	Endpoint    string `yaml:"endpoint"`
	From        string `yaml:"from"`
	APITokenEnv string `yaml:"api_token_env"`
}

// AgentsConfig maps each downstream agent to its RPC endpoint.
type AgentsConfig struct {
	Endpoints map[string]string `yaml:"endpoints"`
}

// WebhooksConfig maps platform names to the env var holding their signing
// secret. A platform with no configured secret skips signature validation.
type WebhooksConfig struct {
	SecretEnvs map[string]string `yaml:"secret_envs"`
}

// EncryptionConfig holds the at-rest encryption keys, loaded from the
// environment at process start. Rotation adds a new key id; old keys are
// retained for decryption.
type EncryptionConfig struct {
	ActiveKeyID string
	Keys        map[string][]byte // key id → 32-byte AES key
}
