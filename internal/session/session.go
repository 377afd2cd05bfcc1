// Package session implements the Session Coordinator (C8): the
// single-writer owner of one conversation's History Store, session
// grants, and rollout journal. It serializes submissions over a channel,
// runs at most one turn at a time, and spawns the Turn Runner on its own
// goroutine per turn, joining it before the next one starts: one
// coordinator task (serial), one turn-runner task (spawned per turn,
// joined before the next).
//
// The coordinator follows the same single-goroutine-drains-a-request-channel,
// one-active-generation-at-a-time shape as other conversation-driver loops
// in this codebase, generalized from a single request/response pair to the
// kernel's full submission vocabulary.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/history"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/rollout"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/internal/turnrunner"
	"github.com/haasonsaas/nexus/pkg/events"
)

// DefaultCompactionPrompt is the summarization instructions sent on a
// Compact submission when Config.CompactionPrompt is empty.
const DefaultCompactionPrompt = "Summarize the conversation so far in a few " +
	"paragraphs, preserving any decisions, file paths, and open tasks a " +
	"continuation would need. Output only the summary."

// Config configures a new Coordinator.
type Config struct {
	Defaults          historymodel.TurnContext
	Grants            *historymodel.SessionGrants
	Journal           *rollout.Journal // nil disables persistence
	Tools             *tools.Registry
	Providers         *modelclient.Registry
	SandboxExecutor   *sandbox.Executor
	SandboxType       sandbox.SandboxType
	Events            events.Sink
	OutputMode        tools.OutputMode
	ApplyPatchEnabled bool
	CompactionPrompt  string

	// Tracer and Metrics are optional; nil disables tracing/metrics
	// collection entirely (turnrunner and sandbox both guard on nil).
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// Coordinator owns a single conversation. All fields below this point are
// touched only from the goroutine running Run — the single-writer
// invariant History and SessionGrants require — except pendingApproval,
// which is also read/written by ExecApproval/PatchApproval
// submissions handled on that same goroutine, and sent to by the
// turn-runner goroutine's RequestApproval call.
type Coordinator struct {
	defaults             historymodel.TurnContext
	grants               *historymodel.SessionGrants
	journal              *rollout.Journal
	journaledCount       int
	toolsReg             *tools.Registry
	providers            *modelclient.Registry
	sandboxExecutor      *sandbox.Executor
	sandboxType          sandbox.SandboxType
	events               events.Sink
	outputMode           tools.OutputMode
	applyPatchEnabled    bool
	compactionPrompt     string
	promptCacheKey       string
	tracer               *observability.Tracer
	metrics              *observability.Metrics
	history              *history.Store
	lastTurnContext      *historymodel.TurnContext
	userInstructionsSent bool

	submissions chan Submission

	active     bool
	cancelTurn context.CancelFunc
	turnDone   chan turnResult
	queued     []historymodel.ResponseItem

	pendingMu       sync.Mutex
	pendingApproval chan approval.UserResponse
}

type turnResult struct {
	outcome turnrunner.Outcome
	context historymodel.TurnContext
}

// New builds a Coordinator over a fresh History Store.
func New(cfg Config) *Coordinator {
	prompt := cfg.CompactionPrompt
	if prompt == "" {
		prompt = DefaultCompactionPrompt
	}
	evts := cfg.Events
	if evts == nil {
		evts = events.Nop
	}
	grants := cfg.Grants
	if grants == nil {
		grants = &historymodel.SessionGrants{}
	}
	if cfg.SandboxExecutor != nil && cfg.Metrics != nil {
		cfg.SandboxExecutor.SetMetrics(cfg.Metrics)
	}
	return &Coordinator{
		defaults:          cfg.Defaults,
		grants:            grants,
		journal:           cfg.Journal,
		toolsReg:          cfg.Tools,
		providers:         cfg.Providers,
		sandboxExecutor:   cfg.SandboxExecutor,
		sandboxType:       cfg.SandboxType,
		events:            evts,
		outputMode:        cfg.OutputMode,
		applyPatchEnabled: cfg.ApplyPatchEnabled,
		compactionPrompt:  prompt,
		promptCacheKey:    uuid.NewString(),
		tracer:            cfg.Tracer,
		metrics:           cfg.Metrics,
		history:           history.New(),
		submissions:       make(chan Submission, 16),
		turnDone:          make(chan turnResult, 1),
	}
}

// Submit enqueues a submission for processing by Run. Safe to call from any
// goroutine.
func (c *Coordinator) Submit(sub Submission) {
	c.submissions <- sub
}

// History exposes the current History Store for inspection (tests, a
// fork/resume caller that wants to read back the prefix).
func (c *Coordinator) History() *history.Store { return c.history }

// Run is the coordinator's single-writer loop. It returns when a Shutdown
// submission is processed or ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeJournal()
			return

		case result := <-c.turnDone:
			c.onTurnDone(ctx, result)

		case sub := <-c.submissions:
			if c.handle(ctx, sub) {
				c.closeJournal()
				return
			}
		}
	}
}

// handle processes one submission. It returns true when the coordinator
// should stop (a Shutdown was processed).
func (c *Coordinator) handle(ctx context.Context, sub Submission) bool {
	switch s := sub.(type) {
	case UserInput:
		c.startOrQueue(ctx, s.Items, nil)

	case UserTurn:
		tc := s.Context
		c.startOrQueue(ctx, s.Items, &tc)

	case OverrideTurnContext:
		c.defaults = s.Context.Apply(c.defaults)

	case Interrupt:
		if c.active && c.cancelTurn != nil {
			c.cancelTurn()
		}

	case ExecApproval:
		c.resolveApproval(s.Decision)

	case PatchApproval:
		c.resolveApproval(s.Decision)

	case Compact:
		if c.active {
			// A compaction turn and the active turn would both mutate
			// History concurrently; queued rather than run inline.
			c.events.Publish(events.Warning{Message: "compact requested while a turn is active; deferring until it completes"})
			return false
		}
		c.runCompaction(ctx)

	case Review:
		if c.active {
			c.events.Publish(events.Warning{Message: "review requested while a turn is active; deferring until it completes"})
			return false
		}
		c.runReview(ctx, s.Instructions)

	case Fork:
		c.loadFork(s.Path, s.N)

	case Resume:
		c.loadResume(s.Path)

	case Shutdown:
		if c.active && c.cancelTurn != nil {
			c.cancelTurn()
			<-c.turnDone // drain the in-flight turn before closing
			c.active = false
			c.cancelTurn = nil
			c.persistDelta()
		}
		return true
	}
	return false
}

// startOrQueue begins a turn immediately if none is active, otherwise queues
// items for the next one.
func (c *Coordinator) startOrQueue(ctx context.Context, items []historymodel.ResponseItem, override *historymodel.PartialTurnContext) {
	if c.active {
		c.queued = append(c.queued, items...)
		c.events.Publish(events.SubmissionQueued{Items: items})
		return
	}
	turnCtx := c.defaults
	if override != nil {
		turnCtx = override.Apply(c.defaults)
	}
	c.runTurn(ctx, items, turnCtx)
}

// runTurn spawns the Turn Runner on its own goroutine and arranges for its
// result to reach Run's select loop over turnDone.
func (c *Coordinator) runTurn(ctx context.Context, items []historymodel.ResponseItem, turnCtx historymodel.TurnContext) {
	provider := c.resolveProvider(turnCtx)
	if provider == nil {
		c.events.Publish(events.Error{Message: "no provider registered for model " + turnCtx.ModelID})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.active = true
	c.cancelTurn = cancel

	req := turnrunner.Request{
		TurnID:               uuid.NewString(),
		Context:              turnCtx,
		NewItems:             items,
		History:              c.history,
		Tools:                c.toolsReg,
		Provider:             provider,
		SandboxExecutor:      c.sandboxExecutor,
		SandboxType:          c.sandboxType,
		SessionGrants:        c.grants,
		Events:               c.events,
		Tracer:               c.tracer,
		Metrics:              c.metrics,
		RequestApproval:      c.requestApproval,
		ApplyPatchEnabled:    c.applyPatchEnabled,
		OutputMode:           c.outputMode,
		PromptCacheKey:       c.promptCacheKey,
		LastEnvContext:       c.lastTurnContext,
		UserInstructionsSent: c.userInstructionsSent,
	}

	go func() {
		outcome := turnrunner.Run(runCtx, req)
		c.turnDone <- turnResult{outcome: outcome, context: turnCtx}
	}()
}

func (c *Coordinator) resolveProvider(turnCtx historymodel.TurnContext) modelclient.Provider {
	if c.providers == nil {
		return nil
	}
	provider, ok := c.providers.Resolve(turnCtx.ModelID)
	if !ok {
		return nil
	}
	return provider
}

// onTurnDone is called on the coordinator goroutine once a spawned turn
// finishes; it updates env-context/instructions tracking, persists newly
// recorded items, and either drains queued input into the next turn or goes
// idle.
func (c *Coordinator) onTurnDone(ctx context.Context, result turnResult) {
	c.active = false
	c.cancelTurn = nil
	c.lastTurnContext = &result.context
	c.userInstructionsSent = true
	c.persistDelta()

	if result.outcome.Status == historymodel.TurnFailed {
		c.events.Publish(events.Error{Message: "turn failed"})
	}

	if len(c.queued) > 0 {
		items := c.queued
		c.queued = nil
		c.runTurn(ctx, items, c.defaults)
	}
}

// requestApproval is passed to the Turn Runner as HandlerContext's
// RequestApproval hook. Only one approval can be pending at a time (tool
// dispatch is synchronous within a turn), so a single slot suffices.
//
// If ctx is canceled while waiting, the approval resolves to Denied before
// the turn observes the cancellation itself — the open-question resolution
// for Interrupt-during-ExecApprovalRequest: "cancel the
// approval (treat as Denied) and then abort the turn".
func (c *Coordinator) requestApproval(ctx context.Context, kind approval.CallKind, details approval.Details) approval.UserResponse {
	ch := make(chan approval.UserResponse, 1)
	c.pendingMu.Lock()
	c.pendingApproval = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		if c.pendingApproval == ch {
			c.pendingApproval = nil
		}
		c.pendingMu.Unlock()
	}()

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		return approval.Denied
	}
}

// resolveApproval delivers a user's decision to whatever RequestApproval
// call is currently waiting, if any.
func (c *Coordinator) resolveApproval(decision approval.UserResponse) {
	c.pendingMu.Lock()
	ch := c.pendingApproval
	c.pendingMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- decision:
	default:
	}
}

// persistDelta appends every item recorded into History since the last
// call to the rollout journal, if one is configured.
func (c *Coordinator) persistDelta() {
	if c.journal == nil {
		return
	}
	all := c.history.ViewAll()
	if c.journaledCount > len(all) {
		c.journaledCount = 0
	}
	fresh := all[c.journaledCount:]
	if len(fresh) == 0 {
		return
	}
	if err := c.journal.Append(fresh...); err != nil {
		c.events.Publish(events.Error{Message: "rollout append failed: " + err.Error()})
		return
	}
	c.journaledCount = len(all)
}

func (c *Coordinator) closeJournal() {
	if c.journal == nil {
		return
	}
	if err := c.journal.Close(); err != nil {
		c.events.Publish(events.Error{Message: "rollout close failed: " + err.Error()})
	}
}
