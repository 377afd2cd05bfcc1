// Package config loads and validates kernel configuration: provider
// credentials, per-turn defaults, tool policy, and the ambient logging/
// schedule settings a long-running kernel process needs. Layout and
// $include/env-expansion semantics live in loader.go.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/nexus/internal/mcp"
)

// Config is the root configuration structure for a kernel process.
type Config struct {
	Version  int            `yaml:"version"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Rollout  RolloutConfig  `yaml:"rollout"`
	MCP      mcp.Config     `yaml:"mcp"`
}

// DefaultsConfig seeds a Coordinator's historymodel.TurnContext for new
// sessions.
type DefaultsConfig struct {
	Model            string `yaml:"model"`
	ApprovalPolicy   string `yaml:"approval_policy"`   // unless_trusted | on_request | on_failure | never
	SandboxPolicy    string `yaml:"sandbox_policy"`     // read_only | workspace_write | danger_full_access
	SandboxType      string `yaml:"sandbox_type"`       // none | platform_a | platform_b | platform_c
	WritableRoots    []string `yaml:"writable_roots"`
	NetworkAccess    bool   `yaml:"network_access"`
	ReasoningEffort  string `yaml:"reasoning_effort"`
	ReasoningSummary string `yaml:"reasoning_summary"` // auto | concise | detailed | none
	Cwd              string `yaml:"cwd"`
}

// ScheduleConfig configures the optional cron-driven compaction trigger
// (internal/schedule).
type ScheduleConfig struct {
	CompactionCron string `yaml:"compaction_cron"` // empty disables scheduled compaction
}

// RolloutConfig configures the rollout journal's on-disk location.
type RolloutConfig struct {
	Directory string `yaml:"directory"`
}

// Load reads, merges ($include-resolved), and validates the config file at
// path, applying defaults for anything left unset.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Defaults.Model == "" {
		cfg.Defaults.Model = "gpt-5-codex"
	}
	if cfg.Defaults.ApprovalPolicy == "" {
		cfg.Defaults.ApprovalPolicy = "unless_trusted"
	}
	if cfg.Defaults.SandboxPolicy == "" {
		cfg.Defaults.SandboxPolicy = "workspace_write"
	}
	if cfg.Defaults.SandboxType == "" {
		cfg.Defaults.SandboxType = "none"
	}
	if cfg.Defaults.ReasoningSummary == "" {
		cfg.Defaults.ReasoningSummary = "auto"
	}
	if cfg.Defaults.Cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Defaults.Cwd = wd
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "nexus-kernel"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
	if cfg.Rollout.Directory == "" {
		cfg.Rollout.Directory = "~/.kernel/sessions"
	}
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(cfg)
	applySessionDefaults(&cfg.Session)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KERNEL_MODEL"); v != "" {
		cfg.Defaults.Model = v
	}
	if v := os.Getenv("KERNEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	for name, provider := range cfg.LLM.Providers {
		envKey := "KERNEL_" + strings.ToUpper(name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			provider.APIKey = v
			cfg.LLM.Providers[name] = provider
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Defaults.ApprovalPolicy {
	case "unless_trusted", "on_request", "on_failure", "never":
	default:
		return fmt.Errorf("invalid defaults.approval_policy %q", cfg.Defaults.ApprovalPolicy)
	}
	switch cfg.Defaults.SandboxPolicy {
	case "read_only", "workspace_write", "danger_full_access":
	default:
		return fmt.Errorf("invalid defaults.sandbox_policy %q", cfg.Defaults.SandboxPolicy)
	}
	return nil
}

// ConfigValidationError reports a structural problem found while decoding a
// config file (unknown keys, wrong types).
type ConfigValidationError struct {
	Err error
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation: %v", e.Err)
}

func (e *ConfigValidationError) Unwrap() error { return e.Err }
