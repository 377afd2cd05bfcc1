// Package events defines the kernel-to-subscriber event stream:
// a totally-ordered sequence of tagged events describing turn lifecycle,
// history items, streaming deltas, approval requests, and warnings/errors.
package events

import (
	"time"

	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// Event is the common envelope every event satisfies; concrete event types
// are distinguished by EventKind, following the same tagged-union idiom as
// historymodel.ResponseItem.
type Event interface {
	EventKind() string
}

// Lifecycle events.

type ThreadStarted struct {
	ThreadID  string
	StartedAt time.Time
}

func (ThreadStarted) EventKind() string { return "thread_started" }

type TurnStarted struct {
	TurnID string
}

func (TurnStarted) EventKind() string { return "turn_started" }

type TurnCompleted struct {
	TurnID string
	Usage  historymodel.Usage
}

func (TurnCompleted) EventKind() string { return "turn_completed" }

type TurnAborted struct {
	TurnID string
	Reason string
}

func (TurnAborted) EventKind() string { return "turn_aborted" }

// Item events.

type ItemStarted struct {
	Item historymodel.ResponseItem
}

func (ItemStarted) EventKind() string { return "item_started" }

type ItemCompleted struct {
	Item historymodel.ResponseItem
}

func (ItemCompleted) EventKind() string { return "item_completed" }

// Progress events raised by tool handlers.

type PlanUpdate struct {
	CallID string
	Plan   []PlanStep
}

func (PlanUpdate) EventKind() string { return "plan_update" }

type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "in_progress"
	PlanStepCompleted  PlanStepStatus = "completed"
)

type PlanStep struct {
	Step   string         `json:"step"`
	Status PlanStepStatus `json:"status"`
}

type PatchApplyBegin struct {
	CallID string
	Paths  []string
}

func (PatchApplyBegin) EventKind() string { return "patch_apply_begin" }

type PatchApplyEnd struct {
	CallID  string
	Success bool
	Error   string
}

func (PatchApplyEnd) EventKind() string { return "patch_apply_end" }

type ImageViewed struct {
	CallID string
	Path   string
}

func (ImageViewed) EventKind() string { return "image_viewed" }

// Delta events.

type AgentMessageDelta struct {
	ItemID string
	Delta  string
}

func (AgentMessageDelta) EventKind() string { return "agent_message_delta" }

type CommandExecutionOutputDelta struct {
	ItemID string
	Stream sandbox.Stream
	Bytes  []byte
}

func (CommandExecutionOutputDelta) EventKind() string { return "command_execution_output_delta" }

type ReasoningDelta struct {
	ItemID string
	Delta  string
}

func (ReasoningDelta) EventKind() string { return "reasoning_delta" }

type McpToolCallProgress struct {
	ItemID  string
	Message string
}

func (McpToolCallProgress) EventKind() string { return "mcp_tool_call_progress" }

// Approval events.

type ExecApprovalRequest struct {
	CallID  string
	Command []string
	Cwd     string
	Reason  string
	Risk    string
}

func (ExecApprovalRequest) EventKind() string { return "exec_approval_request" }

type PatchApprovalRequest struct {
	CallID  string
	Changes []string
	Reason  string
}

func (PatchApprovalRequest) EventKind() string { return "patch_approval_request" }

// ExitedReviewMode is emitted when a Review sub-turn finishes and control
// returns to the parent turn.
type ExitedReviewMode struct {
	Result string
}

func (ExitedReviewMode) EventKind() string { return "exited_review_mode" }

// SubmissionQueued notifies subscribers that a UserInput/UserTurn submission
// arrived while a turn was active and has been queued for the next one, so
// the UI can show that the messages are visible but not yet in flight.
type SubmissionQueued struct {
	Items []historymodel.ResponseItem
}

func (SubmissionQueued) EventKind() string { return "submission_queued" }

// Warnings/errors.

type Warning struct {
	Message string
}

func (Warning) EventKind() string { return "warning" }

type Error struct {
	Message string
}

func (Error) EventKind() string { return "error" }

type StreamError struct {
	Message string
}

func (StreamError) EventKind() string { return "stream_error" }

type DeprecationNotice struct {
	Summary string
	Details string
}

func (DeprecationNotice) EventKind() string { return "deprecation_notice" }

// Sink receives kernel events as they're produced. Subscribers (the CLI
// adapter, a JSON-RPC bridge, a test harness) implement this to observe a
// single totally-ordered event stream.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Nop discards every event; useful as a default when no subscriber is wired.
var Nop Sink = SinkFunc(func(Event) {})
