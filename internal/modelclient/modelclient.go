// Package modelclient adapts the Turn Runner's request/response shape onto
// concrete LLM backends. It builds its request from
// historymodel.ResponseItem history instead of a flat chat-message list,
// since the kernel's turn loop is tool-call-centric.
package modelclient

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

// Request is one model completion request built by the Turn Runner.
type Request struct {
	Model                 string
	Instructions          string
	DeveloperInstructions string
	Input                 []historymodel.ResponseItem
	Tools                 []ToolDefinition
	ReasoningEffort       string
	ReasoningSummary      historymodel.ReasoningSummary
	PromptCacheKey        string
	MaxOutputTokens       int
	FinalOutputSchema     json.RawMessage
}

// ToolDefinition is the JSON-Schema tool shape sent to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ChunkKind tags a streamed Chunk's payload, mirroring the
// response.output_item.* / *.delta event names the Turn Runner switches on.
type ChunkKind string

const (
	ChunkAgentMessageDelta  ChunkKind = "agent_message_delta"
	ChunkAgentMessageDone   ChunkKind = "agent_message_done"
	ChunkReasoningDelta     ChunkKind = "reasoning_delta"
	ChunkReasoningDone      ChunkKind = "reasoning_done"
	ChunkFunctionCallDone   ChunkKind = "function_call_done"
	ChunkLocalShellCallDone ChunkKind = "local_shell_call_done"
	ChunkCompleted          ChunkKind = "completed"
	ChunkError              ChunkKind = "error"
)

// Chunk is one unit of a streamed response.
type Chunk struct {
	Kind  ChunkKind
	Delta string
	Item  historymodel.ResponseItem // set on *_done chunks
	Usage historymodel.Usage        // set on ChunkCompleted
	Err   error                     // set on ChunkError
}

// Model describes a backend-advertised model's capabilities.
type Model struct {
	ID             string
	ContextSize    int
	SupportsVision bool
	SupportsTools  bool
}

// Provider is the kernel-facing contract a concrete backend implements.
type Provider interface {
	Name() string
	Models() []Model
	Complete(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Registry resolves a model ID to the Provider that serves it, so the Turn
// Runner can stay backend-agnostic across model families.
type Registry struct {
	providers []Provider
}

// NewRegistry builds a Registry over the given providers, consulted in
// order.
func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

// Resolve returns the first registered provider that advertises modelID.
func (r *Registry) Resolve(modelID string) (Provider, bool) {
	for _, p := range r.providers {
		for _, m := range p.Models() {
			if m.ID == modelID {
				return p, true
			}
		}
	}
	return nil, false
}
