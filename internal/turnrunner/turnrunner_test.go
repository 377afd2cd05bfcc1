package turnrunner

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/history"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/events"
)

// scriptedProvider replays a fixed chunk sequence, ignoring the request.
type scriptedProvider struct {
	chunks []modelclient.Chunk
	block  bool // if true, never closes the channel (simulates a hung stream)
}

func (p *scriptedProvider) Name() string             { return "scripted" }
func (p *scriptedProvider) Models() []modelclient.Model { return nil }

func (p *scriptedProvider) Complete(ctx context.Context, req modelclient.Request) (<-chan modelclient.Chunk, error) {
	out := make(chan modelclient.Chunk, len(p.chunks)+1)
	for _, c := range p.chunks {
		out <- c
	}
	if !p.block {
		close(out)
	}
	return out, nil
}

type recordingSink struct {
	events []events.Event
}

func (s *recordingSink) Publish(e events.Event) { s.events = append(s.events, e) }

func (s *recordingSink) kinds() []string {
	kinds := make([]string, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.EventKind()
	}
	return kinds
}

func baseTurnContext() historymodel.TurnContext {
	return historymodel.TurnContext{
		Cwd:            "/tmp",
		ApprovalPolicy: historymodel.ApprovalNever,
		SandboxPolicy:  historymodel.DangerFullAccessSandboxPolicy(),
		ModelID:        "test-model",
	}
}

func TestRunEchoTurnEmitsExpectedEventSequence(t *testing.T) {
	provider := &scriptedProvider{chunks: []modelclient.Chunk{
		{Kind: modelclient.ChunkAgentMessageDelta, Delta: "hi"},
		{Kind: modelclient.ChunkAgentMessageDone, Item: historymodel.AgentMessage{
			Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: "hi"}},
		}},
		{Kind: modelclient.ChunkCompleted, Usage: historymodel.Usage{InputTokens: 10, OutputTokens: 2}},
	}}

	store := history.New()
	sink := &recordingSink{}

	outcome := Run(context.Background(), Request{
		TurnID:   "t1",
		Context:  baseTurnContext(),
		NewItems: []historymodel.ResponseItem{historymodel.UserMessage{Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: "hello"}}}},
		History:  store,
		Tools:    tools.NewRegistry(nil),
		Provider: provider,
		Events:   sink,
	})

	if outcome.Status != historymodel.TurnCompleted {
		t.Fatalf("expected TurnCompleted, got %v", outcome.Status)
	}
	if outcome.Usage.InputTokens != 10 || outcome.Usage.OutputTokens != 2 {
		t.Fatalf("unexpected usage: %+v", outcome.Usage)
	}

	got := sink.kinds()
	want := []string{
		"turn_started",
		"item_started", "item_completed", // UserMessage
		"agent_message_delta",
		"item_started", "item_completed", // AgentMessage
		"turn_completed",
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence length mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %q want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	view := store.ViewForPrompt()
	if len(view) != 2 {
		t.Fatalf("expected 2 items in model view, got %d", len(view))
	}
}

func TestRunDispatchesShellToolCallUnderDangerFullAccess(t *testing.T) {
	call := historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: `{"command":["/bin/echo","shell json"]}`}
	provider := &scriptedProvider{chunks: []modelclient.Chunk{
		{Kind: modelclient.ChunkFunctionCallDone, Item: call},
		{Kind: modelclient.ChunkCompleted},
	}}

	store := history.New()
	sink := &recordingSink{}

	outcome := Run(context.Background(), Request{
		TurnID:          "t1",
		Context:         baseTurnContext(),
		NewItems:        []historymodel.ResponseItem{historymodel.UserMessage{}},
		History:         store,
		Tools:           tools.NewRegistry(nil),
		Provider:        provider,
		SandboxExecutor: sandbox.New(nil),
		SandboxType:     sandbox.SandboxNone,
		SessionGrants:   &historymodel.SessionGrants{},
		Events:          sink,
		OutputMode:      tools.OutputModeJSON,
	})

	if outcome.Status != historymodel.TurnCompleted {
		t.Fatalf("expected TurnCompleted, got %v", outcome.Status)
	}

	view := store.ViewForPrompt()
	if len(view) != 3 {
		t.Fatalf("expected user message, function call, function call output; got %d items", len(view))
	}
	if _, ok := view[1].(historymodel.FunctionCall); !ok {
		t.Fatalf("expected item 1 to be a FunctionCall, got %T", view[1])
	}
	out, ok := view[2].(historymodel.FunctionCallOutput)
	if !ok {
		t.Fatalf("expected item 2 to be a FunctionCallOutput, got %T", view[2])
	}
	if out.Output.Success == nil || !*out.Output.Success {
		t.Fatalf("expected a successful tool output, got %+v", out.Output)
	}
}

func TestRunAsksApprovalUnderUnlessTrusted(t *testing.T) {
	call := historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: `{"command":["/bin/date"]}`}
	provider := &scriptedProvider{chunks: []modelclient.Chunk{
		{Kind: modelclient.ChunkFunctionCallDone, Item: call},
		{Kind: modelclient.ChunkCompleted},
	}}

	store := history.New()
	sink := &recordingSink{}
	tc := baseTurnContext()
	tc.ApprovalPolicy = historymodel.ApprovalUnlessTrusted
	tc.SandboxPolicy = historymodel.ReadOnlySandboxPolicy()

	outcome := Run(context.Background(), Request{
		TurnID:          "t1",
		Context:         tc,
		History:         store,
		Tools:           tools.NewRegistry(nil),
		Provider:        provider,
		SandboxExecutor: sandbox.New(nil),
		SandboxType:     sandbox.SandboxNone,
		SessionGrants:   &historymodel.SessionGrants{},
		Events:          sink,
		RequestApproval: func(ctx context.Context, kind approval.CallKind, details approval.Details) approval.UserResponse {
			return approval.ApprovedForSession
		},
	})

	if outcome.Status != historymodel.TurnCompleted {
		t.Fatalf("expected TurnCompleted, got %v", outcome.Status)
	}

	sawApprovalRequest := false
	for _, e := range sink.events {
		if e.EventKind() == "exec_approval_request" {
			sawApprovalRequest = true
		}
	}
	if !sawApprovalRequest {
		t.Fatalf("expected an ExecApprovalRequest event")
	}
}

func TestRunCancellationSynthesizesAbortedOutputForPendingCall(t *testing.T) {
	store := history.New()
	store.Record(historymodel.UserMessage{}, historymodel.FunctionCall{CallID: "pending", Name: "shell", ArgumentsJSON: `{}`})

	provider := &scriptedProvider{block: true}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := Run(ctx, Request{
		TurnID:   "t1",
		Context:  baseTurnContext(),
		History:  store,
		Tools:    tools.NewRegistry(nil),
		Provider: provider,
		Events:   sink,
	})

	if outcome.Status != historymodel.TurnInterrupted {
		t.Fatalf("expected TurnInterrupted, got %v", outcome.Status)
	}
	if outcome.AbortReason != "Interrupted" {
		t.Fatalf("unexpected abort reason: %q", outcome.AbortReason)
	}

	view := store.ViewForPrompt()
	last := view[len(view)-1]
	out, ok := last.(historymodel.FunctionCallOutput)
	if !ok || out.CallID != "pending" || out.Output.Content != "aborted" {
		t.Fatalf("expected a synthesized aborted output for the pending call, got %+v", last)
	}

	sawAborted := false
	for _, e := range sink.events {
		if e.EventKind() == "turn_aborted" {
			sawAborted = true
		}
	}
	if !sawAborted {
		t.Fatalf("expected a TurnAborted event")
	}
}

func TestRunEnvContextEmittedOnFirstTurnOnly(t *testing.T) {
	provider := &scriptedProvider{chunks: []modelclient.Chunk{{Kind: modelclient.ChunkCompleted}}}
	store := history.New()
	tc := baseTurnContext()

	first := Run(context.Background(), Request{
		TurnID:   "t1",
		Context:  tc,
		History:  store,
		Tools:    tools.NewRegistry(nil),
		Provider: provider,
		Events:   events.Nop,
	})
	if !first.EnvContextEmitted {
		t.Fatalf("expected env context on first turn")
	}

	second := Run(context.Background(), Request{
		TurnID:         "t2",
		Context:        tc,
		History:        store,
		Tools:          tools.NewRegistry(nil),
		Provider:       provider,
		Events:         events.Nop,
		LastEnvContext: &tc,
	})
	if second.EnvContextEmitted {
		t.Fatalf("expected no env context re-emission when turn context is unchanged")
	}

	tc2 := tc
	tc2.Cwd = "/elsewhere"
	third := Run(context.Background(), Request{
		TurnID:         "t3",
		Context:        tc2,
		History:        store,
		Tools:          tools.NewRegistry(nil),
		Provider:       provider,
		Events:         events.Nop,
		LastEnvContext: &tc,
	})
	if !third.EnvContextEmitted {
		t.Fatalf("expected env context re-emission after cwd changed")
	}
}
