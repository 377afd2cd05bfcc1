// Package tools implements the Tool Registry & Dispatcher (C5): a
// name→handler map seeded with built-in handlers plus dynamically
// discovered MCP tools, and a dispatch contract that never treats an
// unknown name or a bad-argument call as a hard error.
//
// The argv validation/safety idiom here and the qualified tool naming and
// per-server timeout for MCP tools follow the same patterns used elsewhere
// in this codebase's exec and mcp packages.
package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/pkg/events"
)

// Source distinguishes who originated a tool call.
type Source int

const (
	SourceAgent Source = iota
	SourceUser
)

// Call is the dispatch request.
type Call struct {
	Name          string
	ArgumentsJSON string
	CallID        string
	Source        Source
}

// Output carries either a textual result (structured/freeform-apply-patch
// mode) or a structured payload the Coordinator embeds in a
// FunctionCallOutput.
type Output struct {
	Content string
	Items   []historymodel.ContentPart
	Success bool
}

// Handler resolves and executes one tool call.
type Handler interface {
	Handle(ctx context.Context, call Call, hctx HandlerContext) (Output, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call, hctx HandlerContext) (Output, error)

func (f HandlerFunc) Handle(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
	return f(ctx, call, hctx)
}

// HandlerContext threads the per-turn state a handler needs without each
// handler importing the whole coordinator.
type HandlerContext struct {
	TurnContext   historymodel.TurnContext
	SessionGrants *historymodel.SessionGrants
	Sandbox       *sandbox.Executor
	SandboxType   sandbox.SandboxType
	Events        events.Sink
	// RequestApproval is invoked when the Approval Arbiter returns Ask; it
	// blocks until the human (or an auto-responder in tests) answers.
	RequestApproval func(ctx context.Context, kind approval.CallKind, details approval.Details) approval.UserResponse
	// IsRetryAfterSandboxDenial is set by the Turn Runner when re-dispatching
	// a call that was previously denied by the sandbox.
	IsRetryAfterSandboxDenial bool
	// OutputMode selects structured-text vs JSON formatting for shell and
	// apply_patch results.
	OutputMode OutputMode
}

// MCPClient is the minimal contract the dispatcher needs from an MCP
// client pool: list tools and invoke one with a timeout.
type MCPClient interface {
	ListTools(serverID string) []string
	CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (string, error)
}

// MaxQualifiedNameBytes bounds an MCP tool's qualified name; longer names
// are hash-truncated.
const MaxQualifiedNameBytes = 64

// QualifyMCPToolName builds the mcp__<server>__<tool> qualified name,
// hash-truncating if it would exceed MaxQualifiedNameBytes.
func QualifyMCPToolName(serverID, tool string) string {
	full := fmt.Sprintf("mcp__%s__%s", serverID, tool)
	if len(full) <= MaxQualifiedNameBytes {
		return full
	}
	sum := sha256.Sum256([]byte(full))
	suffix := hex.EncodeToString(sum[:])[:8]
	// Keep the mcp__ prefix recognizable, then as much of the original as
	// fits alongside the 8-hex-char disambiguator.
	keep := MaxQualifiedNameBytes - len("mcp__") - len(suffix) - 1
	if keep < 0 {
		keep = 0
	}
	trimmed := full[len("mcp__"):]
	if keep < len(trimmed) {
		trimmed = trimmed[:keep]
	}
	return "mcp__" + trimmed + "_" + suffix
}

// Registry maps a tool name to its handler.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry seeded with the built-in handlers.
// mcpClient may be nil if no MCP servers are configured.
func NewRegistry(mcpClient MCPClient) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register("shell", HandlerFunc(shellHandler))
	r.Register("shell_command", HandlerFunc(shellHandler))
	r.Register("apply_patch", HandlerFunc(applyPatchHandler))
	r.Register("update_plan", HandlerFunc(updatePlanHandler))
	r.Register("view_image", HandlerFunc(viewImageHandler))
	r.Register("web_search", HandlerFunc(webSearchHandler(mcpClient)))

	if mcpClient != nil {
		r.registerMCPTools(mcpClient)
	}
	return r
}

// Register adds or replaces the handler bound to name.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func (r *Registry) registerMCPTools(client MCPClient) {
	// Server discovery is driven by configuration (per-server enable/disable
	// allowlists live there); here we only wire the dispatch path once a
	// server/tool pair is known to the client.
	_ = client
}

// RegisterMCPServerTools is called once a server's tool list is known
// (e.g. after MCP client pool discovery completes at session start).
func (r *Registry) RegisterMCPServerTools(client MCPClient, serverID string) {
	for _, tool := range client.ListTools(serverID) {
		qualified := QualifyMCPToolName(serverID, tool)
		serverID, tool := serverID, tool // capture per-iteration
		r.Register(qualified, HandlerFunc(func(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
			var args map[string]any
			if call.ArgumentsJSON != "" {
				if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
					return Output{}, &ArgumentParseError{Detail: err.Error()}
				}
			}
			result, err := client.CallTool(ctx, serverID, tool, args)
			if err != nil {
				return Output{Content: err.Error(), Success: false}, nil
			}
			return Output{Content: result, Success: true}, nil
		}))
	}
}

// ArgumentParseError signals a malformed arguments_json payload. Argument
// parsing failures return a non-error Output rather than a Go error.
type ArgumentParseError struct{ Detail string }

func (e *ArgumentParseError) Error() string { return e.Detail }

// Dispatch resolves call.Name and invokes its handler. Unknown names and
// argument-parse failures are not returned as Go errors: they produce a
// valid, unsuccessful Output, since both become regular history items
// rather than dispatch-level failures.
func (r *Registry) Dispatch(ctx context.Context, call Call, hctx HandlerContext) Output {
	handler, ok := r.handlers[call.Name]
	if !ok {
		return Output{Content: fmt.Sprintf("unsupported call: %s", call.Name), Success: false}
	}

	out, err := handler.Handle(ctx, call, hctx)
	if err != nil {
		var parseErr *ArgumentParseError
		if asArgumentParseError(err, &parseErr) {
			return Output{Content: fmt.Sprintf("failed to parse function arguments: %s", parseErr.Detail), Success: false}
		}
		return Output{Content: err.Error(), Success: false}
	}
	return out
}

func asArgumentParseError(err error, target **ArgumentParseError) bool {
	if pe, ok := err.(*ArgumentParseError); ok {
		*target = pe
		return true
	}
	return false
}

// decodeArgs unmarshals call.ArgumentsJSON into v, wrapping failures as
// ArgumentParseError so Dispatch formats them as a non-error Output.
func decodeArgs(call Call, v any) error {
	if call.ArgumentsJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(call.ArgumentsJSON), v); err != nil {
		return &ArgumentParseError{Detail: err.Error()}
	}
	return nil
}

func webSearchHandler(client MCPClient) HandlerFunc {
	return func(ctx context.Context, call Call, hctx HandlerContext) (Output, error) {
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return Output{}, err
		}
		if strings.TrimSpace(args.Query) == "" {
			return Output{Content: "web_search requires a non-empty query", Success: false}, nil
		}
		if client == nil {
			return Output{Content: "web_search is not configured", Success: false}, nil
		}
		result, err := client.CallTool(ctx, "web_search", "search", map[string]any{"query": args.Query})
		if err != nil {
			return Output{Content: err.Error(), Success: false}, nil
		}
		return Output{Content: result, Success: true}, nil
	}
}
