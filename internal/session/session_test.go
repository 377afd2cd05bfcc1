package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/events"
)

func userText(text string) historymodel.ResponseItem {
	return historymodel.UserMessage{Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: text}}}
}

func agentTextChunk(text string) modelclient.Chunk {
	return modelclient.Chunk{Kind: modelclient.ChunkAgentMessageDone, Item: historymodel.AgentMessage{
		Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: text}},
	}}
}

// chanSink is a thread-safe events.Sink backed by a buffered channel; test
// goroutines drain it with waitForKind.
type chanSink struct {
	ch chan events.Event
}

func newChanSink(n int) *chanSink { return &chanSink{ch: make(chan events.Event, n)} }

func (s *chanSink) Publish(e events.Event) { s.ch <- e }

func waitForKind(t *testing.T, ch <-chan events.Event, kind string, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.EventKind() == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %q", kind)
			return nil
		}
	}
}

// scriptedProvider replays a fixed chunk sequence on every Complete call.
type scriptedProvider struct {
	modelID string
	chunks  []modelclient.Chunk
}

func (p *scriptedProvider) Name() string { return "scripted" }
func (p *scriptedProvider) Models() []modelclient.Model {
	return []modelclient.Model{{ID: p.modelID}}
}
func (p *scriptedProvider) Complete(ctx context.Context, req modelclient.Request) (<-chan modelclient.Chunk, error) {
	out := make(chan modelclient.Chunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

// controlledProvider lets a test hold a turn "in flight" until it chooses to
// release it, to exercise the queued-submission concurrency rule.
type controlledProvider struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	gate    chan struct{}
}

func (p *controlledProvider) Name() string { return "controlled" }
func (p *controlledProvider) Models() []modelclient.Model {
	return []modelclient.Model{{ID: "test-model"}}
}
func (p *controlledProvider) Complete(ctx context.Context, req modelclient.Request) (<-chan modelclient.Chunk, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()

	out := make(chan modelclient.Chunk, 4)
	go func() {
		defer close(out)
		out <- agentTextChunk("ack")
		if n == 1 {
			p.started <- struct{}{}
			<-p.gate
		}
		out <- modelclient.Chunk{Kind: modelclient.ChunkCompleted}
	}()
	return out, nil
}

func baseConfig(sink events.Sink, providers *modelclient.Registry) Config {
	return Config{
		Defaults: historymodel.TurnContext{
			ModelID:        "test-model",
			ApprovalPolicy: historymodel.ApprovalNever,
			SandboxPolicy:  historymodel.DangerFullAccessSandboxPolicy(),
			Cwd:            "/tmp",
		},
		Tools:           tools.NewRegistry(nil),
		Providers:       providers,
		SandboxExecutor: sandbox.New(nil),
		SandboxType:     sandbox.SandboxNone,
		Events:          sink,
	}
}

func TestCoordinatorRunsSingleEchoTurn(t *testing.T) {
	provider := &scriptedProvider{modelID: "test-model", chunks: []modelclient.Chunk{
		agentTextChunk("hi"),
		{Kind: modelclient.ChunkCompleted, Usage: historymodel.Usage{InputTokens: 5}},
	}}
	sink := newChanSink(32)
	coord := New(baseConfig(sink, modelclient.NewRegistry(provider)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("hello")}})
	waitForKind(t, sink.ch, "turn_completed", time.Second)

	view := coord.History().ViewForPrompt()
	if len(view) != 2 {
		t.Fatalf("expected 2 items in history, got %d", len(view))
	}
}

func TestCoordinatorQueuesUserInputDuringActiveTurn(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	provider := &controlledProvider{started: started, gate: gate}
	sink := newChanSink(64)
	coord := New(baseConfig(sink, modelclient.NewRegistry(provider)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("first")}})
	<-started // first turn is mid-stream and active

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("second")}})
	waitForKind(t, sink.ch, "submission_queued", time.Second)

	close(gate) // let the first turn finish; the queued turn should follow

	waitForKind(t, sink.ch, "turn_completed", time.Second)
	waitForKind(t, sink.ch, "turn_completed", time.Second)

	view := coord.History().ViewForPrompt()
	if len(view) != 4 {
		t.Fatalf("expected 4 items (2 turns x user+agent), got %d", len(view))
	}
	first, ok := view[0].(historymodel.UserMessage)
	if !ok || first.Content[0].Text != "first" {
		t.Fatalf("expected first item to be the first user message, got %+v", view[0])
	}
	third, ok := view[2].(historymodel.UserMessage)
	if !ok || third.Content[0].Text != "second" {
		t.Fatalf("expected the queued message to start the second turn, got %+v", view[2])
	}
}

func TestCoordinatorExecApprovalResolvesPendingRequest(t *testing.T) {
	call := historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: `{"command":["/bin/date"]}`}
	provider := &scriptedProvider{modelID: "test-model", chunks: []modelclient.Chunk{
		{Kind: modelclient.ChunkFunctionCallDone, Item: call},
		{Kind: modelclient.ChunkCompleted},
	}}
	sink := newChanSink(32)
	cfg := baseConfig(sink, modelclient.NewRegistry(provider))
	cfg.Defaults.ApprovalPolicy = historymodel.ApprovalUnlessTrusted
	cfg.Defaults.SandboxPolicy = historymodel.ReadOnlySandboxPolicy()
	coord := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("run date")}})
	waitForKind(t, sink.ch, "exec_approval_request", time.Second)

	coord.Submit(ExecApproval{CallID: "c1", Decision: approval.ApprovedForSession})
	waitForKind(t, sink.ch, "turn_completed", time.Second)

	view := coord.History().ViewForPrompt()
	out, ok := view[len(view)-1].(historymodel.FunctionCallOutput)
	if !ok || out.Output.Success == nil || !*out.Output.Success {
		t.Fatalf("expected a successful FunctionCallOutput after approval, got %+v", view[len(view)-1])
	}
}

func TestCoordinatorInterruptAbortsActiveTurn(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	provider := &controlledProvider{started: started, gate: gate}
	sink := newChanSink(32)
	coord := New(baseConfig(sink, modelclient.NewRegistry(provider)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("first")}})
	<-started

	coord.Submit(Interrupt{})
	waitForKind(t, sink.ch, "turn_aborted", time.Second)
	close(gate) // release the goroutine so it doesn't leak
}

func TestCoordinatorCompactReplacesHistoryWithSummary(t *testing.T) {
	provider := &scriptedProvider{modelID: "test-model", chunks: []modelclient.Chunk{
		agentTextChunk("reply"),
		{Kind: modelclient.ChunkCompleted},
	}}
	sink := newChanSink(64)
	coord := New(baseConfig(sink, modelclient.NewRegistry(provider)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	coord.Submit(UserInput{Items: []historymodel.ResponseItem{userText("hello world")}})
	waitForKind(t, sink.ch, "turn_completed", time.Second)

	provider.chunks = []modelclient.Chunk{agentTextChunk("SUMMARY_TEXT"), {Kind: modelclient.ChunkCompleted}}
	coord.Submit(Compact{})
	waitForKind(t, sink.ch, "warning", time.Second)

	view := coord.History().ViewForPrompt()
	if len(view) != 2 {
		t.Fatalf("expected history collapsed to [prefix, summary], got %d items", len(view))
	}
	prefix, ok := view[0].(historymodel.UserMessage)
	if !ok || prefix.Content[0].Text != "hello world" {
		t.Fatalf("expected the initial user message preserved, got %+v", view[0])
	}
	summary, ok := view[1].(historymodel.AgentMessage)
	if !ok || summary.Content[0].Text != "SUMMARY_TEXT" {
		t.Fatalf("expected the summary to replace the rest of history, got %+v", view[1])
	}
}

func TestCoordinatorShutdownStopsLoop(t *testing.T) {
	provider := &scriptedProvider{modelID: "test-model", chunks: []modelclient.Chunk{{Kind: modelclient.ChunkCompleted}}}
	sink := newChanSink(8)
	coord := New(baseConfig(sink, modelclient.NewRegistry(provider)))

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()

	coord.Submit(Shutdown{})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("coordinator did not stop after Shutdown")
	}
}
