package config

import "time"

// SessionConfig controls process-wide defaults for turn compaction and
// context pruning; per-turn overrides live on historymodel.TurnContext.
type SessionConfig struct {
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

// ContextPruningConfig controls in-memory tool result pruning for sessions.
type ContextPruningConfig struct {
	Mode               string         `yaml:"mode"` // "soft_trim" | "hard_clear" | "off"
	TTL                *time.Duration `yaml:"ttl"`
	KeepLastAssistants *int           `yaml:"keep_last_assistants"`
}
