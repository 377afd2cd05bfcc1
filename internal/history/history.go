// Package history implements the ordered response-item log (C3 History
// Store): pairing invariants between tool calls and their outputs,
// normalization, and the model-visible view filter.
//
// Normalize solves the same "assistant tool calls must be immediately
// followed by matching tool results" problem that Anthropic-compatible
// transcript repair code elsewhere in this codebase solves.
package history

import (
	"fmt"

	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/truncate"
)

// NormalizeMode selects strict (fail loudly) or lenient (repair) behavior
// for Normalize.
type NormalizeMode int

const (
	Lenient NormalizeMode = iota
	Strict
)

// NormalizationViolation is returned by Normalize in Strict mode when the
// log contains an orphaned output or a dangling call.
type NormalizationViolation struct {
	Reason string
	CallID string
}

func (e *NormalizationViolation) Error() string {
	return fmt.Sprintf("history normalization violation: %s (call_id=%s)", e.Reason, e.CallID)
}

// Store is an ordered log of response items (C3). It is not safe for
// concurrent use; the session coordinator (C8) is its single owner.
type Store struct {
	items  []historymodel.ResponseItem
	budget truncate.Budget
}

// New creates an empty Store using the default truncation budget for
// output ingestion.
func New() *Store {
	return &Store{budget: truncate.DefaultBudget()}
}

// NewWithBudget creates an empty Store using a custom truncation budget.
func NewWithBudget(budget truncate.Budget) *Store {
	return &Store{budget: budget}
}

// Record appends items to the log, truncating FunctionCallOutput.Content and
// CustomToolCallOutput.Output through the Output Truncator on ingestion,
// then appending as-is.
func (s *Store) Record(items ...historymodel.ResponseItem) {
	for _, item := range items {
		s.items = append(s.items, s.truncateOnIngest(item))
	}
}

func (s *Store) truncateOnIngest(item historymodel.ResponseItem) historymodel.ResponseItem {
	switch v := item.(type) {
	case historymodel.FunctionCallOutput:
		v.Output.Content = truncate.Format(v.Output.Content, s.budget)
		if v.Output.ContentItems != nil {
			v.Output.ContentItems = truncate.FormatParts(v.Output.ContentItems, s.budget.MaxBytes)
		}
		return v
	case historymodel.CustomToolCallOutput:
		v.Output = truncate.Format(v.Output, s.budget)
		return v
	default:
		return item
	}
}

// RemoveFirst removes the head item together with its pair: if the head is
// a call, the immediately-following matching output is also dropped; if the
// head is an output, the matching preceding call is dropped. Used during
// context-window compaction.
func (s *Store) RemoveFirst() {
	if len(s.items) == 0 {
		return
	}
	head := s.items[0]
	if call, ok := head.(historymodel.CallItem); ok {
		if len(s.items) >= 2 {
			if out, ok := s.items[1].(historymodel.CallOutputItem); ok && out.GetCallID() == call.GetCallID() {
				s.items = s.items[2:]
				return
			}
		}
		s.items = s.items[1:]
		return
	}
	s.items = s.items[1:]
}

// ViewAll returns every item in the log, including GhostSnapshot, Other, and
// system-role messages. Used for rollout replay / debug inspection.
func (s *Store) ViewAll() []historymodel.ResponseItem {
	out := make([]historymodel.ResponseItem, len(s.items))
	copy(out, s.items)
	return out
}

// ViewForPrompt filters out GhostSnapshot, Other, and system-role messages
//. Reasoning is retained.
func (s *Store) ViewForPrompt() []historymodel.ResponseItem {
	out := make([]historymodel.ResponseItem, 0, len(s.items))
	for _, item := range s.items {
		switch item.(type) {
		case historymodel.GhostSnapshot, historymodel.Other:
			continue
		}
		// System-role UserMessage is not modeled as a distinct type in this
		// kernel (system prompts flow through TurnContext.BaseInstructions /
		// DeveloperInstructions instead, never through the history log), so
		// there is no further filtering needed here beyond the type switch.
		out = append(out, item)
	}
	return out
}

// Len returns the number of items currently in the log.
func (s *Store) Len() int { return len(s.items) }

// Normalize walks the log once, pairing every call item with its output.
// In Lenient mode, missing outputs are synthesized as
// {content:"aborted", success:false} and orphan outputs are dropped. In
// Strict mode, the first violation is returned as an error instead of being
// repaired.
func (s *Store) Normalize(mode NormalizeMode) error {
	repaired := make([]historymodel.ResponseItem, 0, len(s.items))
	pendingCalls := map[string]int{} // call_id -> index of the call item in `repaired`

	for _, item := range s.items {
		if call, ok := item.(historymodel.CallItem); ok {
			repaired = append(repaired, item)
			if call.GetCallID() != "" {
				pendingCalls[call.GetCallID()] = len(repaired) - 1
			}
			continue
		}
		if out, ok := item.(historymodel.CallOutputItem); ok {
			if _, pending := pendingCalls[out.GetCallID()]; !pending {
				if mode == Strict {
					return &NormalizationViolation{Reason: "orphaned output", CallID: out.GetCallID()}
				}
				// Lenient: drop the orphan.
				continue
			}
			delete(pendingCalls, out.GetCallID())
			repaired = append(repaired, item)
			continue
		}
		repaired = append(repaired, item)
	}

	if len(pendingCalls) > 0 {
		if mode == Strict {
			for callID := range pendingCalls {
				return &NormalizationViolation{Reason: "dangling call", CallID: callID}
			}
		}
		// Lenient: synthesize aborted outputs for every still-pending call,
		// in a stable order matching the original call order.
		repaired = synthesizeAbortedOutputs(repaired, pendingCalls)
	}

	s.items = repaired
	return nil
}

// synthesizeAbortedOutputs appends an {content:"aborted", success:false}
// output immediately after each pending call, processing calls in the order
// they appear in `items` for determinism.
func synthesizeAbortedOutputs(items []historymodel.ResponseItem, pending map[string]int) []historymodel.ResponseItem {
	// Collect call_ids in appearance order.
	order := make([]string, 0, len(pending))
	for i, item := range items {
		call, ok := item.(historymodel.CallItem)
		if !ok {
			continue
		}
		if _, isPending := pending[call.GetCallID()]; isPending {
			order = append(order, call.GetCallID())
		}
		_ = i
	}

	out := make([]historymodel.ResponseItem, 0, len(items)+len(order))
	pendingSet := make(map[string]bool, len(order))
	for _, id := range order {
		pendingSet[id] = true
	}
	for _, item := range items {
		out = append(out, item)
		call, ok := item.(historymodel.CallItem)
		if !ok || !pendingSet[call.GetCallID()] {
			continue
		}
		out = append(out, abortedOutputFor(item))
	}
	return out
}

func abortedOutputFor(call historymodel.ResponseItem) historymodel.ResponseItem {
	callID := call.(historymodel.CallItem).GetCallID()
	switch call.(type) {
	case historymodel.CustomToolCall:
		return historymodel.CustomToolCallOutput{CallID: callID, Output: "aborted"}
	default:
		return historymodel.FunctionCallOutput{
			CallID: callID,
			Output: historymodel.FunctionCallOutputPayload{
				Content: "aborted",
				Success: historymodel.BoolPtr(false),
			},
		}
	}
}
