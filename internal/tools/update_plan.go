package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/events"
)

type updatePlanArgs struct {
	Plan []events.PlanStep `json:"plan"`
}

var validPlanStatuses = map[events.PlanStepStatus]bool{
	events.PlanStepPending:    true,
	events.PlanStepInProgress: true,
	events.PlanStepCompleted:  true,
}

func updatePlanHandler(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
	var args updatePlanArgs
	if err := decodeArgs(call, &args); err != nil {
		return Output{}, err
	}

	if len(args.Plan) == 0 {
		return Output{Content: "update_plan requires a non-empty plan", Success: false}, nil
	}
	for i, step := range args.Plan {
		if strings.TrimSpace(step.Step) == "" {
			return Output{Content: fmt.Sprintf("plan step %d has an empty description", i), Success: false}, nil
		}
		if !validPlanStatuses[step.Status] {
			return Output{Content: fmt.Sprintf("plan step %d has an invalid status: %q", i, step.Status), Success: false}, nil
		}
	}

	hctx.Events.Publish(events.PlanUpdate{CallID: call.CallID, Plan: args.Plan})
	return Output{Content: "Plan updated", Success: true}, nil
}
