package config

import "time"

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "openai"
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
}

func applyToolsDefaults(cfg *Config) {
	exec := &cfg.Tools.Execution
	if exec.MaxIterations == 0 {
		exec.MaxIterations = 50
	}
	if exec.Parallelism == 0 {
		exec.Parallelism = 1
	}
	if exec.Timeout == 0 {
		exec.Timeout = 10 * time.Minute
	}
	if exec.MaxAttempts == 0 {
		exec.MaxAttempts = 1
	}
	if cfg.Tools.Policies.Default == "" {
		cfg.Tools.Policies.Default = "allow"
	}
	if cfg.Tools.Sandbox.Timeout == 0 {
		cfg.Tools.Sandbox.Timeout = 2 * time.Minute
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.ContextPruning.Mode == "" {
		cfg.ContextPruning.Mode = "soft_trim"
	}
}
