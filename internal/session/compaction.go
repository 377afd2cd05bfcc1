package session

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/history"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/rollout"
	"github.com/haasonsaas/nexus/internal/turnrunner"
	"github.com/haasonsaas/nexus/pkg/events"
)

// runCompaction drives a compaction turn: the summarization prompt runs
// against the current history, and everything after the first user message
// is replaced with the model's single summary reply.
func (c *Coordinator) runCompaction(ctx context.Context) {
	view := c.history.ViewForPrompt()
	var prefix historymodel.ResponseItem
	for _, item := range view {
		if _, ok := item.(historymodel.UserMessage); ok {
			prefix = item
			break
		}
	}

	turnCtx := c.defaults
	turnCtx.BaseInstructions = c.compactionPrompt
	turnCtx.ApprovalPolicy = historymodel.ApprovalNever
	turnCtx.SandboxPolicy = historymodel.ReadOnlySandboxPolicy()

	provider := c.resolveProvider(turnCtx)
	if provider == nil {
		c.events.Publish(events.Error{Message: "compact: no provider registered for model " + turnCtx.ModelID})
		return
	}

	outcome := turnrunner.Run(ctx, turnrunner.Request{
		TurnID:               uuid.NewString(),
		Context:              turnCtx,
		History:              c.history,
		Tools:                c.toolsReg,
		Provider:             provider,
		SandboxExecutor:      c.sandboxExecutor,
		SandboxType:          c.sandboxType,
		SessionGrants:        c.grants,
		Events:               events.Nop, // the summarization turn is not part of the visible transcript
		RequestApproval:      c.requestApproval,
		OutputMode:           c.outputMode,
		PromptCacheKey:       c.promptCacheKey,
		LastEnvContext:       c.lastTurnContext,
		UserInstructionsSent: true,
	})
	if outcome.Status != historymodel.TurnCompleted {
		c.events.Publish(events.Warning{Message: "compact: summarization turn did not complete"})
		return
	}

	var summary historymodel.ResponseItem
	full := c.history.ViewAll()
	for i := len(full) - 1; i >= 0; i-- {
		if am, ok := full[i].(historymodel.AgentMessage); ok {
			summary = am
			break
		}
	}

	fresh := history.New()
	if prefix != nil {
		fresh.Record(prefix)
	}
	if summary != nil {
		fresh.Record(summary)
	}
	c.history = fresh
	c.journaledCount = 0
	c.persistDelta()

	c.events.Publish(events.Warning{Message: "history compacted"})
}

// runReview drives a read-only review sub-turn against a fresh ephemeral
// history. The parent's history is untouched; on
// completion an ExitedReviewMode event carries the review's text result.
func (c *Coordinator) runReview(ctx context.Context, instructions string) {
	reviewHistory := history.New()
	turnCtx := c.defaults
	turnCtx.BaseInstructions = instructions
	turnCtx.ApprovalPolicy = historymodel.ApprovalNever
	turnCtx.SandboxPolicy = historymodel.ReadOnlySandboxPolicy()

	provider := c.resolveProvider(turnCtx)
	if provider == nil {
		c.events.Publish(events.Error{Message: "review: no provider registered for model " + turnCtx.ModelID})
		return
	}

	grants := &historymodel.SessionGrants{}
	outcome := turnrunner.Run(ctx, turnrunner.Request{
		TurnID:          uuid.NewString(),
		Context:         turnCtx,
		History:         reviewHistory,
		Tools:           c.toolsReg,
		Provider:        provider,
		SandboxExecutor: c.sandboxExecutor,
		SandboxType:     c.sandboxType,
		SessionGrants:   grants,
		Events:          events.Nop,
		RequestApproval: c.requestApproval,
		OutputMode:      c.outputMode,
		PromptCacheKey:  c.promptCacheKey,
	})
	_ = outcome

	var result strings.Builder
	for _, item := range reviewHistory.ViewForPrompt() {
		am, ok := item.(historymodel.AgentMessage)
		if !ok {
			continue
		}
		for _, part := range am.Content {
			if part.Kind == historymodel.ContentText {
				result.WriteString(part.Text)
			}
		}
	}
	c.events.Publish(events.ExitedReviewMode{Result: result.String()})
}

// loadFork replaces the coordinator's history with the fork prefix read from
// path").
func (c *Coordinator) loadFork(path string, n int) {
	header, items, err := rollout.Fork(path, n)
	if err != nil {
		c.events.Publish(events.Error{Message: "fork: " + err.Error()})
		return
	}
	c.applyReplayedHistory(header, items)
}

// loadResume replaces the coordinator's history with the full replay of
// path").
func (c *Coordinator) loadResume(path string) {
	header, items, err := rollout.Resume(path)
	if err != nil {
		c.events.Publish(events.Error{Message: "resume: " + err.Error()})
		return
	}
	c.applyReplayedHistory(header, items)
}

func (c *Coordinator) applyReplayedHistory(header rollout.Header, items []historymodel.ResponseItem) {
	fresh := history.New()
	fresh.Record(items...)
	c.history = fresh
	c.lastTurnContext = nil
	c.userInstructionsSent = false
	if header.Model != "" {
		c.defaults.ModelID = header.Model
	}
	c.journaledCount = 0
	c.persistDelta()
}
