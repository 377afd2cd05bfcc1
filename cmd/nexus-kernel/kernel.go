// kernel.go wires a loaded configuration into a running session.Coordinator:
// provider registry, tool registry, sandbox executor, rollout journal, and
// an events.Sink that renders the stream to the terminal.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/historymodel"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/modelclient"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/rollout"
	"github.com/haasonsaas/nexus/internal/sandbox"
	"github.com/haasonsaas/nexus/internal/schedule"
	"github.com/haasonsaas/nexus/internal/session"
	"github.com/haasonsaas/nexus/internal/tools"
	"github.com/haasonsaas/nexus/pkg/events"
)

// kernel bundles a running Coordinator with the resources its caller must
// release on shutdown.
type kernel struct {
	coord          *session.Coordinator
	journal        *rollout.Journal
	sched          *schedule.Scheduler
	sink           *terminalSink
	mcpMgr         *mcp.Manager
	shutdownTracer func(context.Context) error
}

// buildKernel loads cfgPath, resolves per-invocation overrides from flags,
// and assembles a Coordinator ready for Run. ctx bounds the lifetime of any
// background connection (MCP server processes) buildKernel starts.
func buildKernel(ctx context.Context, flags *turnFlags) (*kernel, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger.Slog())

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		Endpoint:     cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})

	providers, err := buildProviderRegistry(cfg)
	if err != nil {
		return nil, err
	}

	journal, err := openJournal(cfg, cfg.Defaults.Model)
	if err != nil {
		return nil, fmt.Errorf("open rollout journal: %w", err)
	}

	var mcpMgr *mcp.Manager
	var mcpClient tools.MCPClient
	if cfg.MCP.Enabled {
		mcpMgr = mcp.NewManager(&cfg.MCP, nil)
		if err := mcpMgr.Start(ctx); err != nil {
			return nil, fmt.Errorf("start mcp servers: %w", err)
		}
		mcpClient = &mcpClientAdapter{mgr: mcpMgr}
	}

	defaults := turnContextFromDefaults(cfg.Defaults)
	sink := newTerminalSink()

	coord := session.New(session.Config{
		Defaults:          defaults,
		Journal:           journal,
		Tools:             tools.NewRegistry(mcpClient),
		Providers:         providers,
		SandboxExecutor:   sandbox.New(sandbox.AlwaysAvailable),
		SandboxType:       sandbox.SandboxType(cfg.Defaults.SandboxType),
		Events:            sink,
		OutputMode:        tools.OutputModeStructuredText,
		ApplyPatchEnabled: false,
		Tracer:            tracer,
		Metrics:           metrics,
	})
	sink.bind(coord)

	var sched *schedule.Scheduler
	if cfg.Schedule.CompactionCron != "" {
		sched = schedule.New()
		if err := sched.AddCompaction(cfg.Schedule.CompactionCron, coord); err != nil {
			return nil, fmt.Errorf("register scheduled compaction: %w", err)
		}
	}

	return &kernel{
		coord:          coord,
		journal:        journal,
		sched:          sched,
		sink:           sink,
		mcpMgr:         mcpMgr,
		shutdownTracer: shutdownTracer,
	}, nil
}

func (k *kernel) shutdown() {
	if k.sched != nil {
		k.sched.Stop()
	}
	if k.mcpMgr != nil {
		k.mcpMgr.Stop()
	}
	if k.shutdownTracer != nil {
		_ = k.shutdownTracer(context.Background())
	}
}

// mcpClientAdapter satisfies tools.MCPClient directly against a running
// *mcp.Manager, so the dispatcher never needs to know about JSON-RPC
// transports or per-server connection state.
type mcpClientAdapter struct {
	mgr *mcp.Manager
}

func (a *mcpClientAdapter) ListTools(serverID string) []string {
	serverTools := a.mgr.AllTools()[serverID]
	names := make([]string, len(serverTools))
	for i, t := range serverTools {
		names[i] = t.Name
	}
	return names
}

func (a *mcpClientAdapter) CallTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (string, error) {
	result, err := a.mgr.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for _, part := range result.Content {
		out.WriteString(part.Text)
	}
	if result.IsError {
		return out.String(), fmt.Errorf("mcp: tool %s/%s returned an error result", serverID, toolName)
	}
	return out.String(), nil
}

func buildProviderRegistry(cfg *config.Config) (*modelclient.Registry, error) {
	var built []modelclient.Provider
	for name, p := range cfg.LLM.Providers {
		switch strings.ToLower(name) {
		case "openai":
			client, err := modelclient.NewOpenAIClient(p.APIKey)
			if err != nil {
				return nil, fmt.Errorf("build openai client: %w", err)
			}
			built = append(built, client)
		case "anthropic":
			client, err := modelclient.NewAnthropicClient(modelclient.AnthropicConfig{
				APIKey:       p.APIKey,
				BaseURL:      p.BaseURL,
				DefaultModel: p.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("build anthropic client: %w", err)
			}
			built = append(built, client)
		default:
			return nil, fmt.Errorf("unknown provider %q in llm.providers", name)
		}
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("no llm.providers configured")
	}
	return modelclient.NewRegistry(built...), nil
}

// openJournal creates a fresh rollout file under cfg.Rollout.Directory, one
// per process invocation.
func openJournal(cfg *config.Config, model string) (*rollout.Journal, error) {
	dir := expandHome(cfg.Rollout.Directory)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%s.jsonl", time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())
	path := filepath.Join(dir, name)
	return rollout.Create(path, rollout.Header{
		Model: model,
		TurnContextDefaults: rollout.TurnContextDefaults{
			Cwd:            cfg.Defaults.Cwd,
			ApprovalPolicy: cfg.Defaults.ApprovalPolicy,
			SandboxPolicy:  cfg.Defaults.SandboxPolicy,
		},
	})
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// turnContextFromDefaults builds the coordinator's starting TurnContext from
// loaded configuration.
func turnContextFromDefaults(d config.DefaultsConfig) historymodel.TurnContext {
	return historymodel.TurnContext{
		Cwd:              d.Cwd,
		ApprovalPolicy:   historymodel.ApprovalPolicy(d.ApprovalPolicy),
		ModelID:          d.Model,
		ReasoningEffort:  d.ReasoningEffort,
		ReasoningSummary: historymodel.ReasoningSummary(d.ReasoningSummary),
		SandboxPolicy: historymodel.SandboxPolicy{
			Kind:          historymodel.SandboxPolicyKind(d.SandboxPolicy),
			WritableRoots: d.WritableRoots,
			NetworkAccess: d.NetworkAccess,
		},
	}
}

// overrideFromFlags translates the subset of turnFlags the caller actually
// set into a PartialTurnContext; unset flags leave the coordinator's
// defaults untouched.
func overrideFromFlags(f *turnFlags) historymodel.PartialTurnContext {
	var override historymodel.PartialTurnContext
	if f.model != "" {
		override.ModelID = &f.model
	}
	if f.approvalPolicy != "" {
		policy := historymodel.ApprovalPolicy(f.approvalPolicy)
		override.ApprovalPolicy = &policy
	}
	if f.cwd != "" {
		override.Cwd = &f.cwd
	}
	if f.reasoningEffort != "" {
		override.ReasoningEffort = &f.reasoningEffort
	}
	if f.reasoningSummary != "" {
		summary := historymodel.ReasoningSummary(f.reasoningSummary)
		override.ReasoningSummary = &summary
	}
	if f.sandboxPolicy != "" {
		policy := historymodel.SandboxPolicy{
			Kind:          historymodel.SandboxPolicyKind(f.sandboxPolicy),
			NetworkAccess: f.networkAccess,
		}
		override.SandboxPolicy = &policy
	}
	return override
}

// userMessageFromText wraps a line of CLI input as a single-part UserMessage.
func userMessageFromText(text string) historymodel.UserMessage {
	return historymodel.UserMessage{
		Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: text}},
	}
}

// newTerminalSink builds an events.Sink that prints the stream to stdout and
// resolves approval prompts by reading a line from stdin.
func newTerminalSink() *terminalSink {
	return &terminalSink{
		stdin:  bufio.NewReader(os.Stdin),
		settle: make(chan struct{}, 1),
	}
}

type terminalSink struct {
	stdin  *bufio.Reader
	submit func(session.Submission)
	// settle receives a value whenever a turn ends (completed or aborted).
	// "exec" waits on it to know when to shut down; "run" ignores it.
	settle chan struct{}
}

// waitForTurnEnd blocks until the current (or next) turn ends or ctx is
// canceled.
func (s *terminalSink) waitForTurnEnd(ctx context.Context) {
	select {
	case <-s.settle:
	case <-ctx.Done():
	}
}

// bind attaches the coordinator this sink should submit approval decisions
// back to. Must be called before coord.Run starts delivering events.
func (s *terminalSink) bind(coord *session.Coordinator) {
	s.submit = coord.Submit
}

func (s *terminalSink) Publish(e events.Event) {
	switch ev := e.(type) {
	case events.AgentMessageDelta:
		fmt.Print(ev.Delta)
	case events.ReasoningDelta:
		fmt.Fprint(os.Stderr, ev.Delta)
	case events.CommandExecutionOutputDelta:
		os.Stdout.Write(ev.Bytes)
	case events.ItemCompleted:
		if _, ok := ev.Item.(historymodel.AgentMessage); ok {
			fmt.Println()
		}
	case events.TurnCompleted:
		fmt.Fprintf(os.Stderr, "\n[turn complete: %d input tokens, %d output tokens]\n",
			ev.Usage.InputTokens, ev.Usage.OutputTokens)
		s.notifySettle()
	case events.TurnAborted:
		fmt.Fprintf(os.Stderr, "\n[turn aborted: %s]\n", ev.Reason)
		s.notifySettle()
	case events.ExecApprovalRequest:
		s.promptExec(ev)
	case events.PatchApprovalRequest:
		s.promptPatch(ev)
	case events.Warning:
		fmt.Fprintf(os.Stderr, "[warning] %s\n", ev.Message)
	case events.Error:
		fmt.Fprintf(os.Stderr, "[error] %s\n", ev.Message)
	case events.StreamError:
		fmt.Fprintf(os.Stderr, "[stream error] %s\n", ev.Message)
	}
}

func (s *terminalSink) notifySettle() {
	select {
	case s.settle <- struct{}{}:
	default:
	}
}

func (s *terminalSink) promptExec(ev events.ExecApprovalRequest) {
	fmt.Fprintf(os.Stderr, "\n[approval] run command: %s\n", strings.Join(ev.Command, " "))
	if ev.Reason != "" {
		fmt.Fprintf(os.Stderr, "reason: %s\n", ev.Reason)
	}
	decision := s.readDecision()
	s.submit(session.ExecApproval{CallID: ev.CallID, Decision: decision})
}

func (s *terminalSink) promptPatch(ev events.PatchApprovalRequest) {
	fmt.Fprintf(os.Stderr, "\n[approval] apply patch touching: %s\n", strings.Join(ev.Changes, ", "))
	decision := s.readDecision()
	s.submit(session.PatchApproval{CallID: ev.CallID, Decision: decision})
}

func (s *terminalSink) readDecision() approval.UserResponse {
	fmt.Fprint(os.Stderr, "approve? [y/N/a=always this session] ")
	line, _ := s.stdin.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return approval.Approved
	case "a", "always":
		return approval.ApprovedForSession
	default:
		return approval.Denied
	}
}
