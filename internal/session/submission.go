package session

import (
	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/historymodel"
)

// Submission is the tagged union of operations the Session Coordinator
// accepts. Concrete types are distinguished by SubmissionKind,
// following the same marker-method idiom as historymodel.ResponseItem and
// pkg/events.Event.
type Submission interface {
	SubmissionKind() string
}

// UserInput starts a new turn with the default turn context.
type UserInput struct {
	Items []historymodel.ResponseItem
}

func (UserInput) SubmissionKind() string { return "user_input" }

// UserTurn starts a turn with per-turn overrides; Context's non-nil fields
// replace the coordinator's defaults for this turn only (unlike
// OverrideTurnContext, which mutates the defaults themselves).
type UserTurn struct {
	Items   []historymodel.ResponseItem
	Context historymodel.PartialTurnContext
}

func (UserTurn) SubmissionKind() string { return "user_turn" }

// OverrideTurnContext mutates the coordinator's defaults for every
// subsequent turn.
type OverrideTurnContext struct {
	Context historymodel.PartialTurnContext
}

func (OverrideTurnContext) SubmissionKind() string { return "override_turn_context" }

// Interrupt signals the active turn's cancel token. Idempotent: interrupting
// when no turn is active is a no-op.
type Interrupt struct{}

func (Interrupt) SubmissionKind() string { return "interrupt" }

// ExecApproval resolves a pending exec approval request.
type ExecApproval struct {
	CallID   string
	Decision approval.UserResponse
}

func (ExecApproval) SubmissionKind() string { return "exec_approval" }

// PatchApproval resolves a pending patch approval request.
type PatchApproval struct {
	CallID   string
	Decision approval.UserResponse
}

func (PatchApproval) SubmissionKind() string { return "patch_approval" }

// Compact schedules a compaction turn: the configured summarization prompt
// runs against current history, and the result replaces everything after the
// initial user message with a single summary item.
type Compact struct{}

func (Compact) SubmissionKind() string { return "compact" }

// Review starts a read-only sub-turn against a fresh ephemeral history,
// approval_policy=Never, sandbox_policy=ReadOnly. On completion an
// events.ExitedReviewMode is published and control returns to the parent
// turn; the parent's history is untouched.
type Review struct {
	Instructions string
}

func (Review) SubmissionKind() string { return "review" }

// Fork replays a rollout file up to the n-th user message and makes the
// result the coordinator's new history.
type Fork struct {
	Path string
	N    int
}

func (Fork) SubmissionKind() string { return "fork" }

// Resume replays a rollout file in full and makes the result the
// coordinator's new history.
type Resume struct {
	Path string
}

func (Resume) SubmissionKind() string { return "resume" }

// Shutdown drains any in-flight turn and stops the coordinator's loop.
type Shutdown struct{}

func (Shutdown) SubmissionKind() string { return "shutdown" }
