package modelclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

// OpenAIClient implements Provider against the Chat Completions API.
type OpenAIClient struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIClient builds an OpenAIClient.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("modelclient: openai API key is required")
	}
	return &OpenAIClient{
		client:     openai.NewClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Models() []Model {
	return []Model{
		{ID: "gpt-4o", ContextSize: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4-turbo", ContextSize: 128000, SupportsVision: true, SupportsTools: true},
		{ID: "gpt-4", ContextSize: 8192, SupportsTools: true},
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (<-chan Chunk, error) {
	messages, err := convertHistoryToOpenAI(req.Input, req.Instructions)
	if err != nil {
		return nil, fmt.Errorf("modelclient: convert history: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxOutputTokens > 0 {
		chatReq.MaxTokens = req.MaxOutputTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = c.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return nil, fmt.Errorf("modelclient: non-retryable openai error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("modelclient: openai max retries exceeded: %w", lastErr)
	}

	chunks := make(chan Chunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

func isRetryableOpenAIError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "503") || strings.Contains(msg, "timeout")
}

// processOpenAIStream assembles streamed deltas into Chunks, accumulating
// tool-call arguments across multiple deltas by index (grounded in the
// starting point's providers.OpenAIProvider.processStream).
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- Chunk) {
	defer close(chunks)
	defer stream.Close()

	type building struct {
		id   string
		name string
		args strings.Builder
	}
	calls := make(map[int]*building)

	flush := func() {
		for _, b := range calls {
			if b.id == "" || b.name == "" {
				continue
			}
			chunks <- Chunk{Kind: ChunkFunctionCallDone, Item: historymodel.FunctionCall{
				CallID:        b.id,
				Name:          b.name,
				ArgumentsJSON: b.args.String(),
			}}
		}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- Chunk{Kind: ChunkError, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flush()
				chunks <- Chunk{Kind: ChunkCompleted}
				return
			}
			chunks <- Chunk{Kind: ChunkError, Err: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- Chunk{Kind: ChunkAgentMessageDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if calls[index] == nil {
				calls[index] = &building{}
			}
			if tc.ID != "" {
				calls[index].id = tc.ID
			}
			if tc.Function.Name != "" {
				calls[index].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[index].args.WriteString(tc.Function.Arguments)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flush()
			calls = make(map[int]*building)
		}
	}
}

func convertHistoryToOpenAI(items []historymodel.ResponseItem, instructions string) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(items)+1)
	if instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	for _, item := range items {
		switch v := item.(type) {
		case historymodel.UserMessage:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: joinText(v.Content)})
		case historymodel.AgentMessage:
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: joinText(v.Content)})
		case historymodel.FunctionCall:
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   v.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      v.Name,
						Arguments: v.ArgumentsJSON,
					},
				}},
			})
		case historymodel.FunctionCallOutput:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: v.CallID,
				Content:    v.Output.Content,
			})
		}
	}
	return messages, nil
}

func convertToolsToOpenAI(tools []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &params)
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}
