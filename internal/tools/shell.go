package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/sandbox"
)

// OutputMode selects the shell/apply_patch result formatting.
type OutputMode int

const (
	// OutputModeStructuredText is used when the freeform apply_patch tool
	// is enabled.
	OutputModeStructuredText OutputMode = iota
	// OutputModeJSON is the legacy mode.
	OutputModeJSON
)

// shellArgs is the argv+env+cwd+timeout envelope a shell/shell_command call
// decodes into.
type shellArgs struct {
	Command []string          `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout int               `json:"timeout_ms,omitempty"`
	// WithEscalatedPermissions lets the model mark a call as risky so the
	// OnRequest approval policy asks for confirmation.
	WithEscalatedPermissions bool   `json:"with_escalated_permissions,omitempty"`
	Justification            string `json:"justification,omitempty"`
}

func shellHandler(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
	var args shellArgs
	if err := decodeArgs(call, &args); err != nil {
		return Output{}, err
	}
	if len(args.Command) == 0 {
		return Output{Content: "shell requires a non-empty command", Success: false}, nil
	}

	decision := approval.Decide(approval.CallKindExec, approval.Details{
		Argv:                     args.Command,
		WithEscalatedPermissions: args.WithEscalatedPermissions,
		ModelReason:              args.Justification,
		IsPostSandboxDenialRetry: hctx.IsRetryAfterSandboxDenial,
	}, hctx.TurnContext.ApprovalPolicy, hctx.TurnContext.SandboxPolicy, *hctx.SessionGrants)

	if decision.Outcome == approval.Deny {
		return Output{Content: approval.DeniedOutputContent, Success: false}, nil
	}
	if decision.Outcome == approval.Ask {
		if hctx.RequestApproval == nil {
			return Output{Content: approval.DeniedOutputContent, Success: false}, nil
		}
		hctx.Events.Publish(exitApprovalRequestEvent(call, args, decision))
		resp := hctx.RequestApproval(ctx, approval.CallKindExec, approval.Details{Argv: args.Command})
		approval.Record(resp, approval.CallKindExec, approval.Details{Argv: args.Command}, hctx.SessionGrants)
		if resp == approval.Denied {
			return Output{Content: approval.DeniedOutputContent, Success: false}, nil
		}
	}

	timeout := time.Duration(args.Timeout) * time.Millisecond
	cwd := args.Cwd
	if cwd == "" {
		cwd = hctx.TurnContext.Cwd
	}

	sink := sandbox.StreamSinkFunc(func(d sandbox.OutputDelta) {
		hctx.Events.Publish(commandOutputDeltaEvent(call.CallID, d))
	})

	execReq := sandbox.Request{
		CallID:      call.CallID,
		Command:     args.Command,
		Cwd:         cwd,
		Env:         args.Env,
		Timeout:     timeout,
		SandboxType: hctx.SandboxType,
		SandboxPolicy: sandbox.SandboxPolicyView{
			WritableRoots: hctx.TurnContext.SandboxPolicy.WritableRoots,
			NetworkAccess: hctx.TurnContext.SandboxPolicy.NetworkAccess,
		},
		StreamSink: sink,
	}

	out, err := hctx.Sandbox.Execute(ctx, execReq)
	if err != nil {
		return Output{Content: err.Error(), Success: false}, nil
	}

	// A sandbox-denied failure escalates to approval when the policy
	// permits an on-failure retry; on approval, the call is re-executed
	// unsandboxed and the decision is recorded.
	if out.SandboxDenied && hctx.TurnContext.ApprovalPolicy == historymodel.ApprovalOnFailure && !hctx.IsRetryAfterSandboxDenial {
		if hctx.RequestApproval == nil {
			return Output{Content: FormatShellOutput(out, hctx.OutputMode), Success: false}, nil
		}
		hctx.Events.Publish(exitApprovalRequestEvent(call, args, approval.Decision{Outcome: approval.Ask, Reason: "sandbox denied"}))
		resp := hctx.RequestApproval(ctx, approval.CallKindExec, approval.Details{Argv: args.Command, IsPostSandboxDenialRetry: true})
		approval.Record(resp, approval.CallKindExec, approval.Details{Argv: args.Command}, hctx.SessionGrants)
		if resp == approval.Denied {
			return Output{Content: approval.DeniedOutputContent, Success: false}, nil
		}

		retryReq := execReq
		retryReq.SandboxType = sandbox.SandboxNone
		out, err = hctx.Sandbox.Execute(ctx, retryReq)
		if err != nil {
			return Output{Content: err.Error(), Success: false}, nil
		}
	}

	return Output{Content: FormatShellOutput(out, hctx.OutputMode), Success: out.ExitCode == 0}, nil
}

// FormatShellOutput renders a sandbox.Output as the shell/apply_patch tool
// result text the model sees.
func FormatShellOutput(out *sandbox.Output, mode OutputMode) string {
	body := string(out.Aggregated)
	lines := strings.Count(body, "\n") + 1

	if mode == OutputModeJSON {
		return fmt.Sprintf(`{"metadata":{"exit_code":%d,"duration_seconds":%.3f},"output":%q}`,
			out.ExitCode, out.Duration.Seconds(), body)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Exit code: %d\n", out.ExitCode)
	fmt.Fprintf(&b, "Wall time: %.3f seconds\n", out.Duration.Seconds())
	// A real truncation marker line is inserted by the caller when the
	// output passed through truncate.Format; here we only know the raw
	// line count of what's left after truncation.
	if out.TimedOut || out.Killed {
		fmt.Fprintf(&b, "Total output lines: %d\n", lines)
	}
	b.WriteString("Output:\n")
	b.WriteString(body)
	return b.String()
}
