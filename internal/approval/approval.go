// Package approval implements the Approval Arbiter (C6): a pure decision
// function over a command/policy/grants triple, plus the session-grant
// recording that ApprovedForSession responses feed back into.
package approval

import (
	"strings"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

// Outcome is the arbiter's verdict for one call.
type Outcome int

const (
	AutoApprove Outcome = iota
	Ask
	Deny
)

// Source names who/what produced an AutoApprove verdict, so callers can
// distinguish a config-trusted command from one the user already approved
// this session.
type Source string

const (
	SourceConfig       Source = "config"
	SourceUserSession  Source = "user-session"
	SourceNone         Source = ""
)

// Decision is the arbiter's full verdict.
type Decision struct {
	Outcome Outcome
	Source  Source // set when Outcome == AutoApprove
	Reason  string // set when Outcome == Ask or Deny
	Risk    string // optional, set when Outcome == Ask and the model supplied one
}

// CallKind distinguishes the two call shapes the arbiter reasons about.
type CallKind int

const (
	CallKindExec CallKind = iota
	CallKindPatch
)

// Details carries the per-call facts the decision table consults.
type Details struct {
	Argv                  []string // for CallKindExec
	WritableRoots         []string // for CallKindPatch: the roots the patch would touch
	WithEscalatedPermissions bool
	ModelReason           string
	ModelRisk             string
	IsPostSandboxDenialRetry bool
}

// builtinTrustList holds argv prefixes that are always safe regardless of
// policy.
var builtinTrustList = [][]string{
	{"ls"},
	{"cat"},
	{"rg"},
	{"git", "status"},
	{"pwd"},
	{"echo"},
}

// Decide evaluates the approval decision table top-to-bottom; the first
// matching row wins.
func Decide(kind CallKind, details Details, policy historymodel.ApprovalPolicy, sandboxPolicy historymodel.SandboxPolicy, grants historymodel.SessionGrants) Decision {
	if policy == historymodel.ApprovalNever && sandboxPolicy.Kind == historymodel.SandboxDangerFullAccess {
		return Decision{Outcome: AutoApprove, Source: SourceConfig}
	}

	if kind == CallKindExec && matchesTrustList(details.Argv) {
		return Decision{Outcome: AutoApprove, Source: SourceConfig}
	}

	if kind == CallKindExec && grants.HasPrefix(details.Argv) {
		return Decision{Outcome: AutoApprove, Source: SourceUserSession}
	}
	if kind == CallKindPatch && matchesWritableRoot(details.WritableRoots, grants.WritableRoots) {
		return Decision{Outcome: AutoApprove, Source: SourceUserSession}
	}

	if policy == historymodel.ApprovalUnlessTrusted {
		return Decision{Outcome: Ask, Reason: "untrusted command"}
	}

	if policy == historymodel.ApprovalOnRequest && details.WithEscalatedPermissions {
		reason := details.ModelReason
		if reason == "" {
			reason = "model requested escalated permissions"
		}
		return Decision{Outcome: Ask, Reason: reason, Risk: details.ModelRisk}
	}

	if policy == historymodel.ApprovalOnFailure && details.IsPostSandboxDenialRetry {
		return Decision{Outcome: Ask, Reason: "sandbox denied"}
	}

	return Decision{Outcome: AutoApprove, Source: SourceConfig}
}

func matchesTrustList(argv []string) bool {
	for _, prefix := range builtinTrustList {
		if hasPrefix(argv, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(argv, prefix []string) bool {
	if len(argv) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if argv[i] != p {
			return false
		}
	}
	return true
}

func matchesWritableRoot(touched, granted []string) bool {
	for _, t := range touched {
		ok := false
		for _, g := range granted {
			if t == g || strings.HasPrefix(t, g+"/") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return len(touched) > 0
}

// UserResponse is how a human answers an Ask decision.
type UserResponse int

const (
	Approved UserResponse = iota
	ApprovedForSession
	Denied
)

// DeniedOutputContent is the function-call-output content a Denied response
// produces.
const DeniedOutputContent = "user rejected the command"

// Record applies a user's response to session grants; ApprovedForSession
// adds the argv prefix (exec) or writable root (patch) so future identical
// calls auto-approve via the session-grant row of the decision table.
func Record(resp UserResponse, kind CallKind, details Details, grants *historymodel.SessionGrants) {
	if resp != ApprovedForSession {
		return
	}
	switch kind {
	case CallKindExec:
		grants.GrantPrefix(strings.Join(details.Argv, " "))
	case CallKindPatch:
		for _, root := range details.WritableRoots {
			grants.GrantWritableRoot(root)
		}
	}
}
