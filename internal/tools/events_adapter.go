package tools

import (
	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/pkg/events"
)

func exitApprovalRequestEvent(call Call, args shellArgs, decision approval.Decision) events.Event {
	return events.ExecApprovalRequest{
		CallID:  call.CallID,
		Command: args.Command,
		Cwd:     args.Cwd,
		Reason:  decision.Reason,
		Risk:    decision.Risk,
	}
}

func commandOutputDeltaEvent(itemID string, d sandbox.OutputDelta) events.Event {
	return events.CommandExecutionOutputDelta{
		ItemID: itemID,
		Stream: d.Stream,
		Bytes:  d.Bytes,
	}
}
