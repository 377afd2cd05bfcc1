package config

import "time"

// ToolsConfig controls tool dispatch policy and execution limits shared by
// every turn in the process (per-turn sandbox/approval overrides live on
// historymodel.TurnContext instead).
type ToolsConfig struct {
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
	Sandbox   ToolsSandboxConfig  `yaml:"sandbox"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a tool.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls runtime tool execution behavior.
type ToolExecutionConfig struct {
	MaxIterations int            `yaml:"max_iterations"`
	Parallelism   int            `yaml:"parallelism"`
	Timeout       time.Duration  `yaml:"timeout"`
	MaxAttempts   int            `yaml:"max_attempts"`
	RetryBackoff  time.Duration  `yaml:"retry_backoff"`
	Approval      ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig controls tool approval behavior.
type ApprovalConfig struct {
	// Allowlist contains tools that are always allowed (no approval needed).
	// Supports patterns like "mcp:*", "read_*", "*" (all).
	Allowlist []string `yaml:"allowlist"`

	// Denylist contains tools that are always denied regardless of policy.
	Denylist []string `yaml:"denylist"`

	// RequestTTL is how long an approval request remains valid before the
	// turn treats it as denied.
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// ToolsSandboxConfig bounds how long a sandboxed command may run before the
// executor kills it. The sandbox's isolation mode itself is chosen per-turn
// via historymodel.SandboxPolicy, not here.
type ToolsSandboxConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}
