// Package turnrunner implements the Turn Runner (C7): it
// builds one model request from the current history and turn context,
// streams the decoded response, and for every tool call routes dispatch
// through the Approval Arbiter, Sandbox Executor, and Tool Registry before
// appending the resulting output back to history.
//
// The turn runner is modeled as a spawned, cooperatively-scheduled task
// communicating with its owner over channels. Run expresses the same
// contract as a single blocking call:
// the Session Coordinator spawns it on its own goroutine and joins it
// before starting the next turn, so Run is free to mutate the shared
// History Store and SessionGrants directly without racing the coordinator's
// own submission loop.
package turnrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/history"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/events"
	"go.opentelemetry.io/otel/trace"
)

// applyPatchToolDocs is concatenated onto base instructions whenever the
// freeform apply_patch tool is enabled.
const applyPatchToolDocs = `To edit files, call apply_patch with a single ` +
	`"patch" argument containing a patch envelope:

*** Begin Patch
*** Add File: <path>
+<new file contents, one line at a time>
*** Update File: <path>
<context and +/- lines>
*** Delete File: <path>
*** End Patch

Every hunk is validated against the filesystem before anything is written.`

// Request is everything Run needs to drive one turn.
type Request struct {
	TurnID  string
	Context historymodel.TurnContext

	// NewItems are this turn's newly submitted items (typically a single
	// UserMessage) — not yet recorded into History when Run is called.
	NewItems []historymodel.ResponseItem

	History         *history.Store
	Tools           *tools.Registry
	Provider        modelclient.Provider
	SandboxExecutor *sandbox.Executor
	SandboxType     sandbox.SandboxType
	SessionGrants   *historymodel.SessionGrants
	Events          events.Sink

	// Tracer and Metrics are nil in tests and in any caller that doesn't
	// configure observability; every call site below guards on nil.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics

	// RequestApproval must itself watch ctx.Done() and return
	// approval.Denied on cancellation: an interrupt during an
	// ExecApprovalRequest cancels the approval, then aborts the turn, and
	// Run's own cancellation check only runs between streamed chunks, not
	// inside a blocking dispatch call.
	RequestApproval func(ctx context.Context, kind approval.CallKind, details approval.Details) approval.UserResponse

	ApplyPatchEnabled bool
	OutputMode        tools.OutputMode
	PromptCacheKey    string

	// LastEnvContext is the turn context an env-context message was last
	// built from, or nil if none has been emitted yet this session.
	// UserInstructionsSent is true once the user_instructions message has
	// been emitted for this session.
	LastEnvContext       *historymodel.TurnContext
	UserInstructionsSent bool

	// AbortReason names the reason recorded on TurnAborted when ctx is
	// canceled; defaults to "Interrupted".
	AbortReason string
}

// Outcome is Run's result.
type Outcome struct {
	Status            historymodel.TurnStatus
	Usage             historymodel.Usage
	AbortReason       string
	RequestInput      []historymodel.ResponseItem // the constructed input, for prompt-cache-prefix verification
	EnvContextEmitted bool
}

// Run drives one turn to completion, interruption, or failure.
func Run(ctx context.Context, req Request) Outcome {
	turnStart := time.Now()
	var turnSpan trace.Span
	if req.Tracer != nil {
		ctx, turnSpan = req.Tracer.TraceTurn(ctx, req.TurnID, req.Context.ModelID)
		defer turnSpan.End()
	}

	req.Events.Publish(events.TurnStarted{TurnID: req.TurnID})

	for _, item := range req.NewItems {
		req.Events.Publish(events.ItemStarted{Item: item})
	}
	req.History.Record(req.NewItems...)
	for _, item := range req.NewItems {
		req.Events.Publish(events.ItemCompleted{Item: item})
	}

	instructions := req.Context.BaseInstructions
	if req.ApplyPatchEnabled {
		instructions = strings.TrimRight(instructions, "\n") + "\n\n" + applyPatchToolDocs
	}

	envNeeded := req.LastEnvContext == nil || req.LastEnvContext.DiffRelevant(req.Context)

	var input []historymodel.ResponseItem
	if req.Context.UserInstructions != "" && !req.UserInstructionsSent {
		input = append(input, userTextMessage(req.Context.UserInstructions))
	}
	if envNeeded {
		input = append(input, buildEnvContextMessage(req.Context))
	}
	input = append(input, req.History.ViewForPrompt()...)

	modelReq := modelclient.Request{
		Model:                 req.Context.ModelID,
		Instructions:          instructions,
		DeveloperInstructions: req.Context.DeveloperInstructions,
		Input:                 input,
		Tools:                 builtinToolDefinitions(req.ApplyPatchEnabled),
		ReasoningEffort:       req.Context.ReasoningEffort,
		ReasoningSummary:      req.Context.ReasoningSummary,
		PromptCacheKey:        req.PromptCacheKey,
		FinalOutputSchema:     req.Context.FinalOutputSchema,
	}

	abortReason := req.AbortReason
	if abortReason == "" {
		abortReason = "Interrupted"
	}

	llmStart := time.Now()
	chunks, err := req.Provider.Complete(ctx, modelReq)
	if err != nil {
		req.Events.Publish(events.StreamError{Message: err.Error()})
		if req.Metrics != nil {
			req.Metrics.RecordLLMRequest(req.Provider.Name(), req.Context.ModelID, "error", time.Since(llmStart), 0, 0)
			req.Metrics.RecordTurn(string(historymodel.TurnFailed), time.Since(turnStart))
		}
		if req.Tracer != nil {
			req.Tracer.RecordError(turnSpan, err)
		}
		return Outcome{Status: historymodel.TurnFailed, RequestInput: input, EnvContextEmitted: envNeeded}
	}

	outcome := Outcome{Status: historymodel.TurnInProgress, RequestInput: input, EnvContextEmitted: envNeeded}
	var turnErr error

	for done := false; !done; {
		select {
		case <-ctx.Done():
			// Cancellation: synthesize aborted outputs for any pending
			// tool calls, then emit TurnAborted.
			_ = req.History.Normalize(history.Lenient)
			outcome.Status = historymodel.TurnInterrupted
			outcome.AbortReason = abortReason
			req.Events.Publish(events.TurnAborted{TurnID: req.TurnID, Reason: abortReason})
			done = true

		case chunk, ok := <-chunks:
			if !ok {
				done = true
				break
			}
			switch chunk.Kind {
			case modelclient.ChunkAgentMessageDelta:
				req.Events.Publish(events.AgentMessageDelta{Delta: chunk.Delta})

			case modelclient.ChunkAgentMessageDone, modelclient.ChunkReasoningDone:
				req.Events.Publish(events.ItemStarted{Item: chunk.Item})
				req.History.Record(chunk.Item)
				req.Events.Publish(events.ItemCompleted{Item: chunk.Item})

			case modelclient.ChunkReasoningDelta:
				req.Events.Publish(events.ReasoningDelta{Delta: chunk.Delta})

			case modelclient.ChunkFunctionCallDone:
				call, ok := chunk.Item.(historymodel.FunctionCall)
				if !ok {
					break
				}
				req.Events.Publish(events.ItemStarted{Item: call})
				req.History.Record(call)
				req.Events.Publish(events.ItemCompleted{Item: call})

				out := dispatchToolCall(ctx, req, call)
				req.History.Record(out)
				req.Events.Publish(events.ItemCompleted{Item: out})

			case modelclient.ChunkLocalShellCallDone:
				shellCall, ok := chunk.Item.(historymodel.LocalShellCall)
				if !ok {
					break
				}
				req.Events.Publish(events.ItemStarted{Item: shellCall})
				req.History.Record(shellCall)
				req.Events.Publish(events.ItemCompleted{Item: shellCall})

				argsJSON, _ := json.Marshal(shellCall.ExecAction)
				out := dispatchToolCall(ctx, req, historymodel.FunctionCall{
					CallID:        shellCall.CallID,
					Name:          "shell",
					ArgumentsJSON: string(argsJSON),
				})
				req.History.Record(out)
				req.Events.Publish(events.ItemCompleted{Item: out})

			case modelclient.ChunkCompleted:
				outcome.Usage = chunk.Usage
				outcome.Status = historymodel.TurnCompleted
				req.Events.Publish(events.TurnCompleted{TurnID: req.TurnID, Usage: chunk.Usage})
				if req.Metrics != nil {
					req.Metrics.RecordLLMRequest(req.Provider.Name(), req.Context.ModelID, "success", time.Since(llmStart),
						int(chunk.Usage.InputTokens), int(chunk.Usage.OutputTokens))
				}
				done = true

			case modelclient.ChunkError:
				outcome.Status = historymodel.TurnFailed
				msg := "model stream failed"
				if chunk.Err != nil {
					msg = chunk.Err.Error()
				}
				turnErr = fmt.Errorf("%s", msg)
				req.Events.Publish(events.StreamError{Message: msg})
				if req.Metrics != nil {
					req.Metrics.RecordLLMRequest(req.Provider.Name(), req.Context.ModelID, "error", time.Since(llmStart), 0, 0)
				}
				done = true
			}
		}
	}

	if req.Metrics != nil {
		req.Metrics.RecordTurn(string(outcome.Status), time.Since(turnStart))
	}
	if req.Tracer != nil && turnErr != nil {
		req.Tracer.RecordError(turnSpan, turnErr)
	}

	return outcome
}

// dispatchToolCall routes one decoded tool call through the Tool Registry
// (which itself gates on the Approval Arbiter and executes via the Sandbox
// Executor) and wraps the result as a FunctionCallOutput.
func dispatchToolCall(ctx context.Context, req Request, call historymodel.FunctionCall) historymodel.FunctionCallOutput {
	toolStart := time.Now()
	var toolSpan trace.Span
	if req.Tracer != nil {
		ctx, toolSpan = req.Tracer.TraceToolExecution(ctx, call.Name)
		defer toolSpan.End()
	}

	hctx := tools.HandlerContext{
		TurnContext:     req.Context,
		SessionGrants:   req.SessionGrants,
		Sandbox:         req.SandboxExecutor,
		SandboxType:     req.SandboxType,
		Events:          req.Events,
		RequestApproval: req.RequestApproval,
		OutputMode:      req.OutputMode,
	}
	out := req.Tools.Dispatch(ctx, tools.Call{
		Name:          call.Name,
		ArgumentsJSON: call.ArgumentsJSON,
		CallID:        call.CallID,
		Source:        tools.SourceAgent,
	}, hctx)

	if req.Metrics != nil {
		status := "success"
		if !out.Success {
			status = "error"
		}
		req.Metrics.RecordToolExecution(call.Name, status, time.Since(toolStart))
	}
	if req.Tracer != nil && !out.Success {
		req.Tracer.RecordError(toolSpan, fmt.Errorf("tool %s reported failure", call.Name))
	}

	return historymodel.FunctionCallOutput{
		CallID: call.CallID,
		Output: historymodel.FunctionCallOutputPayload{
			Content:      out.Content,
			ContentItems: out.Items,
			Success:      historymodel.BoolPtr(out.Success),
		},
	}
}

func userTextMessage(text string) historymodel.ResponseItem {
	return historymodel.UserMessage{Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: text}}}
}

// buildEnvContextMessage renders the env-context message re-emitted on the
// first turn and whenever cwd/approval_policy/sandbox_policy/writable_roots
// change, using the same XML-ish tag format as a reference coding agent's
// environment_context wire message.
func buildEnvContextMessage(tc historymodel.TurnContext) historymodel.ResponseItem {
	var b strings.Builder
	b.WriteString("<environment_context>\n")
	fmt.Fprintf(&b, "  <cwd>%s</cwd>\n", tc.Cwd)
	fmt.Fprintf(&b, "  <approval_policy>%s</approval_policy>\n", tc.ApprovalPolicy)
	fmt.Fprintf(&b, "  <sandbox_mode>%s</sandbox_mode>\n", tc.SandboxPolicy.Kind)
	if len(tc.SandboxPolicy.WritableRoots) > 0 {
		fmt.Fprintf(&b, "  <writable_roots>%s</writable_roots>\n", strings.Join(tc.SandboxPolicy.WritableRoots, ", "))
	}
	b.WriteString("</environment_context>")
	return userTextMessage(b.String())
}

// builtinToolDefinitions lists the JSON-schema tool declarations sent to the
// model, matching the handlers seeded by tools.NewRegistry.
func builtinToolDefinitions(applyPatchEnabled bool) []modelclient.ToolDefinition {
	defs := []modelclient.ToolDefinition{
		{
			Name:        "shell",
			Description: "Run a shell command and return its output.",
			Parameters: rawSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command":                    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"cwd":                        map[string]any{"type": "string"},
					"timeout_ms":                 map[string]any{"type": "integer"},
					"with_escalated_permissions": map[string]any{"type": "boolean"},
					"justification":              map[string]any{"type": "string"},
				},
				"required": []string{"command"},
			}),
		},
		{
			Name:        "update_plan",
			Description: "Report the current step-by-step plan for this task.",
			Parameters: rawSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"plan": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"step":   map[string]any{"type": "string"},
								"status": map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
							},
							"required": []string{"step", "status"},
						},
					},
				},
				"required": []string{"plan"},
			}),
		},
		{
			Name:        "view_image",
			Description: "Record a local image path to include in the next turn's context.",
			Parameters: rawSchema(map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			}),
		},
		{
			Name:        "web_search",
			Description: "Search the web for a query and return a summary of results.",
			Parameters: rawSchema(map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}},
				"required":   []string{"query"},
			}),
		},
	}
	if applyPatchEnabled {
		defs = append(defs, modelclient.ToolDefinition{
			Name:        "apply_patch",
			Description: "Apply a unified patch envelope to the filesystem.",
			Parameters: rawSchema(map[string]any{
				"type":       "object",
				"properties": map[string]any{"patch": map[string]any{"type": "string"}},
				"required":   []string{"patch"},
			}),
		})
	}
	return defs
}

func rawSchema(v map[string]any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
