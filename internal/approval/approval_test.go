package approval

import (
	"testing"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

func TestDecideNeverWithDangerFullAccessAutoApproves(t *testing.T) {
	d := Decide(CallKindExec, Details{Argv: []string{"rm", "-rf", "/tmp/x"}},
		historymodel.ApprovalNever, historymodel.DangerFullAccessSandboxPolicy(), historymodel.SessionGrants{})
	if d.Outcome != AutoApprove || d.Source != SourceConfig {
		t.Fatalf("expected config auto-approve, got %+v", d)
	}
}

func TestDecideBuiltinTrustListAutoApproves(t *testing.T) {
	d := Decide(CallKindExec, Details{Argv: []string{"git", "status", "--short"}},
		historymodel.ApprovalUnlessTrusted, historymodel.ReadOnlySandboxPolicy(), historymodel.SessionGrants{})
	if d.Outcome != AutoApprove {
		t.Fatalf("expected trust-list auto-approve, got %+v", d)
	}
}

func TestDecideSessionGrantAutoApproves(t *testing.T) {
	grants := historymodel.SessionGrants{}
	grants.GrantPrefix("npm install")
	d := Decide(CallKindExec, Details{Argv: []string{"npm", "install", "left-pad"}},
		historymodel.ApprovalUnlessTrusted, historymodel.ReadOnlySandboxPolicy(), grants)
	if d.Outcome != AutoApprove || d.Source != SourceUserSession {
		t.Fatalf("expected user-session auto-approve, got %+v", d)
	}
}

func TestDecideUnlessTrustedAsksForUntrustedCommand(t *testing.T) {
	d := Decide(CallKindExec, Details{Argv: []string{"curl", "http://example.com"}},
		historymodel.ApprovalUnlessTrusted, historymodel.ReadOnlySandboxPolicy(), historymodel.SessionGrants{})
	if d.Outcome != Ask || d.Reason != "untrusted command" {
		t.Fatalf("expected ask(untrusted command), got %+v", d)
	}
}

func TestDecideOnRequestAsksOnlyWhenEscalated(t *testing.T) {
	base := historymodel.ReadOnlySandboxPolicy()

	notEscalated := Decide(CallKindExec, Details{Argv: []string{"curl", "http://example.com"}},
		historymodel.ApprovalOnRequest, base, historymodel.SessionGrants{})
	if notEscalated.Outcome != AutoApprove {
		t.Fatalf("expected auto-approve when not escalated, got %+v", notEscalated)
	}

	escalated := Decide(CallKindExec, Details{
		Argv:                     []string{"curl", "http://example.com"},
		WithEscalatedPermissions: true,
		ModelReason:              "needs network",
		ModelRisk:                "medium",
	}, historymodel.ApprovalOnRequest, base, historymodel.SessionGrants{})
	if escalated.Outcome != Ask || escalated.Reason != "needs network" || escalated.Risk != "medium" {
		t.Fatalf("expected ask with model reason/risk, got %+v", escalated)
	}
}

func TestDecideOnFailureAsksOnlyOnRetry(t *testing.T) {
	base := historymodel.ReadOnlySandboxPolicy()

	firstAttempt := Decide(CallKindExec, Details{Argv: []string{"curl", "x"}},
		historymodel.ApprovalOnFailure, base, historymodel.SessionGrants{})
	if firstAttempt.Outcome != AutoApprove {
		t.Fatalf("expected auto-approve on first attempt, got %+v", firstAttempt)
	}

	retry := Decide(CallKindExec, Details{Argv: []string{"curl", "x"}, IsPostSandboxDenialRetry: true},
		historymodel.ApprovalOnFailure, base, historymodel.SessionGrants{})
	if retry.Outcome != Ask || retry.Reason != "sandbox denied" {
		t.Fatalf("expected ask(sandbox denied) on retry, got %+v", retry)
	}
}

func TestDecidePatchWritableRootGrant(t *testing.T) {
	grants := historymodel.SessionGrants{}
	grants.GrantWritableRoot("/workspace/src")

	d := Decide(CallKindPatch, Details{WritableRoots: []string{"/workspace/src"}},
		historymodel.ApprovalUnlessTrusted, historymodel.ReadOnlySandboxPolicy(), grants)
	if d.Outcome != AutoApprove || d.Source != SourceUserSession {
		t.Fatalf("expected user-session auto-approve for granted root, got %+v", d)
	}
}

func TestRecordApprovedForSessionGrantsPrefix(t *testing.T) {
	grants := historymodel.SessionGrants{}
	Record(ApprovedForSession, CallKindExec, Details{Argv: []string{"npm", "test"}}, &grants)
	if !grants.HasPrefix([]string{"npm", "test", "--watch"}) {
		t.Fatalf("expected grant to cover a longer invocation sharing the prefix")
	}
}

func TestRecordDeniedDoesNotGrant(t *testing.T) {
	grants := historymodel.SessionGrants{}
	Record(Denied, CallKindExec, Details{Argv: []string{"npm", "test"}}, &grants)
	if grants.HasPrefix([]string{"npm", "test"}) {
		t.Fatalf("denied response should not grant a session prefix")
	}
}
