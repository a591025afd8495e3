package config

import "time"

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultContinuityConfig returns the built-in continuity defaults.
func DefaultContinuityConfig() *ContinuityConfig {
	return &ContinuityConfig{
		SessionTTL:        30 * time.Minute,
		CompressThreshold: 2048,
		CleanupInterval:   5 * time.Minute,
		CleanupScanLimit:  1000,
		KeyPrefix:         "storyweave",
	}
}

// DefaultPipelineConfig returns the built-in asset pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		WorkerInterval:          5 * time.Minute,
		WorkerBatchSize:         10,
		SweeperInterval:         15 * time.Minute,
		StuckThreshold:          15 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// DefaultLLMConfig returns the built-in LLM provider defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:           "gpt-4o-mini",
		ModerationModel: "omni-moderation-latest",
		APIKeyEnv:       "LLM_API_KEY",
	}
}

// DefaultBudgetConfig returns the built-in deadline budgets.
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		Turn:           25 * time.Second,
		Moderation:     2 * time.Second,
		Classification: 5 * time.Second,
		Cache:          500 * time.Millisecond,
		RowStore:       2 * time.Second,
		AgentSync:      10 * time.Second,
	}
}
