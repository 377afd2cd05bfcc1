// Package historymodel defines the response-item data model shared by the
// history store, rollout journal, and turn runner: the tagged variants that
// make up a conversation's history, plus the turn-scoped context and policy
// types that parameterize a turn.
package historymodel

import "encoding/json"

// ItemKind tags a ResponseItem's concrete variant. It doubles as the `kind`
// discriminator written to rollout records (see internal/rollout).
type ItemKind string

const (
	KindUserMessage            ItemKind = "user_message"
	KindAgentMessage           ItemKind = "agent_message"
	KindReasoning              ItemKind = "reasoning"
	KindFunctionCall           ItemKind = "function_call"
	KindFunctionCallOutput     ItemKind = "function_call_output"
	KindLocalShellCall         ItemKind = "local_shell_call"
	KindCustomToolCall         ItemKind = "custom_tool_call"
	KindCustomToolCallOutput   ItemKind = "custom_tool_call_output"
	KindGhostSnapshot          ItemKind = "ghost_snapshot"
	KindOther                  ItemKind = "other"
)

// ResponseItem is the unit of conversation history (spec §3). It is a tagged
// variant: every concrete type below implements Kind() with its own constant.
type ResponseItem interface {
	Kind() ItemKind
}

// CallItem is a ResponseItem that represents the model requesting a tool
// invocation; it carries a call_id used to pair it with its output.
type CallItem interface {
	ResponseItem
	GetCallID() string
}

// CallOutputItem is a ResponseItem carrying the result of a CallItem.
type CallOutputItem interface {
	ResponseItem
	GetCallID() string
}

// ContentPartKind tags a UserMessage content part.
type ContentPartKind string

const (
	ContentText           ContentPartKind = "text"
	ContentImageURL        ContentPartKind = "image_url"
	ContentLocalImagePath ContentPartKind = "local_image_path"
)

// ContentPart is one element of a UserMessage's ordered content list.
type ContentPart struct {
	Kind ContentPartKind `json:"kind"`
	Text string          `json:"text,omitempty"`
	URL  string          `json:"url,omitempty"`
	Path string          `json:"path,omitempty"`
}

// UserMessage is human (or synthesized-as-human) input.
type UserMessage struct {
	ID      string        `json:"id,omitempty"`
	Content []ContentPart `json:"content"`
}

func (UserMessage) Kind() ItemKind { return KindUserMessage }

// AgentMessage is the assistant's text output.
type AgentMessage struct {
	ID      string        `json:"id,omitempty"`
	Content []ContentPart `json:"content"`
}

func (AgentMessage) Kind() ItemKind { return KindAgentMessage }

// Reasoning is the model's "thinking" trace. An item with only
// EncryptedContent set (empty SummaryText and RawContent) is still
// retained verbatim in the prompt-cache prefix.
type Reasoning struct {
	ID               string   `json:"id"`
	SummaryText      []string `json:"summary_text,omitempty"`
	RawContent       []string `json:"raw_content,omitempty"`
	EncryptedContent string   `json:"encrypted_content,omitempty"`
}

func (Reasoning) Kind() ItemKind { return KindReasoning }

// FunctionCall is a model request to invoke a tool.
type FunctionCall struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
	CallID        string `json:"call_id"`
}

func (FunctionCall) Kind() ItemKind   { return KindFunctionCall }
func (f FunctionCall) GetCallID() string { return f.CallID }

// FunctionCallOutputPayload is the {content, content_items?, success?}
// result shape a tool call produces.
type FunctionCallOutputPayload struct {
	Content      string        `json:"content"`
	ContentItems []ContentPart `json:"content_items,omitempty"`
	Success      *bool         `json:"success,omitempty"`
}

// FunctionCallOutput is the result of a FunctionCall.
type FunctionCallOutput struct {
	CallID string                    `json:"call_id"`
	Output FunctionCallOutputPayload `json:"output"`
}

func (FunctionCallOutput) Kind() ItemKind     { return KindFunctionCallOutput }
func (f FunctionCallOutput) GetCallID() string { return f.CallID }

// LocalShellStatus is the lifecycle status of a LocalShellCall.
type LocalShellStatus string

const (
	LocalShellInProgress LocalShellStatus = "in_progress"
	LocalShellCompleted  LocalShellStatus = "completed"
	LocalShellIncomplete LocalShellStatus = "incomplete"
)

// LocalShellExecAction describes the argv+env+cwd of a model-initiated
// shell invocation: the specialized shell-call variant of FunctionCall.
type LocalShellExecAction struct {
	Command          []string          `json:"command"`
	Cwd              string            `json:"cwd,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	TimeoutMs        *int64            `json:"timeout_ms,omitempty"`
	Arg0Override     string            `json:"arg0_override,omitempty"`
	Justification    string            `json:"justification,omitempty"`
	WithEscalatedPermissions bool       `json:"with_escalated_permissions,omitempty"`
}

// LocalShellCall is a model-initiated shell invocation.
type LocalShellCall struct {
	ID         string               `json:"id,omitempty"`
	CallID     string               `json:"call_id,omitempty"`
	Status     LocalShellStatus     `json:"status"`
	ExecAction LocalShellExecAction `json:"exec_action"`
}

func (LocalShellCall) Kind() ItemKind     { return KindLocalShellCall }
func (l LocalShellCall) GetCallID() string { return l.CallID }

// CustomToolCall is a tool call using the "custom tool" calling convention
// (freeform input rather than JSON-schema'd arguments).
type CustomToolCall struct {
	ID     string `json:"id,omitempty"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Input  string `json:"input"`
}

func (CustomToolCall) Kind() ItemKind     { return KindCustomToolCall }
func (c CustomToolCall) GetCallID() string { return c.CallID }

// CustomToolCallOutput is the result of a CustomToolCall.
type CustomToolCallOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (CustomToolCallOutput) Kind() ItemKind     { return KindCustomToolCallOutput }
func (c CustomToolCallOutput) GetCallID() string { return c.CallID }

// GhostSnapshot references a workspace snapshot; it never appears in the
// model-visible view. See GhostSnapshotHandle for the opaque handle shape.
type GhostSnapshot struct {
	CommitHandle GhostSnapshotHandle `json:"commit_handle"`
}

func (GhostSnapshot) Kind() ItemKind { return KindGhostSnapshot }

// GhostSnapshotHandle is an opaque workspace-state handle: a content hash,
// a parent handle (if any), and the set of untracked paths that existed
// before the snapshot was taken (so a restore never deletes files that were
// already untracked prior to the destructive turn).
type GhostSnapshotHandle struct {
	ContentHash       string   `json:"content_hash"`
	Parent            string   `json:"parent,omitempty"`
	PreexistingUntracked []string `json:"preexisting_untracked,omitempty"`
}

// Other is a catch-all for response-item variants the kernel does not
// interpret. It is ignored by the kernel and never appears in a
// model-visible view.
type Other struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (Other) Kind() ItemKind { return KindOther }

// BoolPtr is a small helper for constructing FunctionCallOutputPayload.Success.
func BoolPtr(b bool) *bool { return &b }
