package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

// maxEmptyStreamEvents bounds consecutive no-op stream events before the
// stream is treated as malformed.
const maxEmptyStreamEvents = 50

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// AnthropicClient implements Provider against the Claude Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// NewAnthropicClient builds an AnthropicClient, defaulting MaxRetries to 3,
// RetryDelay to 1s, and DefaultModel to "claude-sonnet-4-20250514".
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("modelclient: anthropic API key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Models() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-opus-4-20250514", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
		{ID: "claude-3-5-sonnet-20241022", ContextSize: 200000, SupportsVision: true, SupportsTools: true},
	}
}

func (c *AnthropicClient) modelOrDefault(model string) string {
	if model == "" {
		return c.defaultModel
	}
	return model
}

// Complete streams a completion, retrying transient failures (rate limits,
// 5xx, timeouts) with exponential backoff before the first byte.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (<-chan Chunk, error) {
	chunks := make(chan Chunk)

	go func() {
		defer close(chunks)

		messages, err := convertHistoryToAnthropic(req.Input)
		if err != nil {
			chunks <- Chunk{Kind: ChunkError, Err: fmt.Errorf("modelclient: convert history: %w", err)}
			return
		}

		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			chunks <- Chunk{Kind: ChunkError, Err: fmt.Errorf("modelclient: convert tools: %w", err)}
			return
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(c.modelOrDefault(req.Model)),
			Messages:  messages,
			MaxTokens: int64(maxOutputTokensOrDefault(req.MaxOutputTokens)),
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]

		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			stream = c.client.Messages.NewStreaming(ctx, params)
			if stream.Err() == nil {
				break
			}
			if !isRetryableAnthropicError(stream.Err()) || attempt == c.maxRetries {
				chunks <- Chunk{Kind: ChunkError, Err: fmt.Errorf("modelclient: anthropic stream: %w", stream.Err())}
				return
			}
			backoff := c.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				chunks <- Chunk{Kind: ChunkError, Err: ctx.Err()}
				return
			case <-time.After(backoff):
			}
		}

		processAnthropicStream(stream, chunks)
	}()

	return chunks, nil
}

func maxOutputTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "connection")
}

// convertHistoryToAnthropic maps the prompt-ready history view onto
// Anthropic message params. Tool calls/outputs round-trip through
// tool_use/tool_result blocks; reasoning and ghost/other items are skipped
// since they carry no Anthropic-wire representation.
func convertHistoryToAnthropic(items []historymodel.ResponseItem) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, item := range items {
		switch v := item.(type) {
		case historymodel.UserMessage:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(joinText(v.Content))))
		case historymodel.AgentMessage:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(joinText(v.Content))))
		case historymodel.FunctionCall:
			var input map[string]any
			if v.ArgumentsJSON != "" {
				if err := json.Unmarshal([]byte(v.ArgumentsJSON), &input); err != nil {
					return nil, fmt.Errorf("function call %s: %w", v.CallID, err)
				}
			}
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewToolUseBlock(v.CallID, input, v.Name)))
		case historymodel.FunctionCallOutput:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(v.CallID, v.Output.Content, false)))
		}
	}
	return out, nil
}

func convertToolsToAnthropic(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		toolParam.OfTool.Description = anthropic.String(t.Description)
		out = append(out, toolParam)
	}
	return out, nil
}

func joinText(parts []historymodel.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Kind == historymodel.ContentText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// processAnthropicStream drains an Anthropic SSE stream into Chunks,
// assembling text and tool_use content blocks incrementally.
func processAnthropicStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- Chunk) {
	var currentToolCall *historymodel.FunctionCall
	var currentToolInput strings.Builder
	var currentText strings.Builder
	emptyEventCount := 0

	var inputTokens, outputTokens int64

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = messageStart.Message.Usage.InputTokens
			}
			eventProcessed = true

		case "content_block_start":
			contentBlockStart := event.AsContentBlockStart()
			contentBlock := contentBlockStart.ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &historymodel.FunctionCall{CallID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					currentText.WriteString(delta.Text)
					chunks <- Chunk{Kind: ChunkAgentMessageDelta, Delta: delta.Text}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.ArgumentsJSON = currentToolInput.String()
				chunks <- Chunk{Kind: ChunkFunctionCallDone, Item: *currentToolCall}
				currentToolCall = nil
				eventProcessed = true
			} else if currentText.Len() > 0 {
				chunks <- Chunk{Kind: ChunkAgentMessageDone, Item: historymodel.AgentMessage{
					Content: []historymodel.ContentPart{{Kind: historymodel.ContentText, Text: currentText.String()}},
				}}
				currentText.Reset()
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = messageDelta.Usage.OutputTokens
			}
			eventProcessed = true

		case "message_stop":
			chunks <- Chunk{Kind: ChunkCompleted, Usage: historymodel.Usage{InputTokens: inputTokens, OutputTokens: outputTokens}}
			return

		case "error":
			chunks <- Chunk{Kind: ChunkError, Err: errors.New("anthropic stream error")}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- Chunk{Kind: ChunkError, Err: fmt.Errorf("anthropic stream appears malformed: %d consecutive empty events", emptyEventCount)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- Chunk{Kind: ChunkError, Err: err}
	}
}
