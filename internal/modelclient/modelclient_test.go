package modelclient

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/internal/historymodel"
)

func TestRegistryResolveFindsOwningProvider(t *testing.T) {
	anthropic := &AnthropicClient{defaultModel: "claude-sonnet-4-20250514"}
	openai := &OpenAIClient{}
	reg := NewRegistry(anthropic, openai)

	p, ok := reg.Resolve("gpt-4o")
	if !ok || p.Name() != "openai" {
		t.Fatalf("expected openai provider for gpt-4o, got %v ok=%v", p, ok)
	}

	p, ok = reg.Resolve("claude-opus-4-20250514")
	if !ok || p.Name() != "anthropic" {
		t.Fatalf("expected anthropic provider for claude-opus-4-20250514, got %v ok=%v", p, ok)
	}
}

func TestRegistryResolveUnknownModel(t *testing.T) {
	reg := NewRegistry(&AnthropicClient{}, &OpenAIClient{})
	if _, ok := reg.Resolve("does-not-exist"); ok {
		t.Fatalf("expected unknown model to not resolve")
	}
}

func textItem(role string, text string) historymodel.ResponseItem {
	part := historymodel.ContentPart{Kind: historymodel.ContentText, Text: text}
	if role == "user" {
		return historymodel.UserMessage{Content: []historymodel.ContentPart{part}}
	}
	return historymodel.AgentMessage{Content: []historymodel.ContentPart{part}}
}

func TestConvertHistoryToAnthropicRoundTripsToolCall(t *testing.T) {
	items := []historymodel.ResponseItem{
		textItem("user", "list files"),
		historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: `{"command":["ls"]}`},
		historymodel.FunctionCallOutput{CallID: "c1", Output: historymodel.FunctionCallOutputPayload{Content: "a.txt"}},
	}
	msgs, err := convertHistoryToAnthropic(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}

func TestConvertHistoryToAnthropicRejectsMalformedArguments(t *testing.T) {
	items := []historymodel.ResponseItem{
		historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: "{not json"},
	}
	if _, err := convertHistoryToAnthropic(items); err == nil {
		t.Fatalf("expected an error for malformed tool call arguments")
	}
}

func TestConvertHistoryToOpenAIIncludesSystemInstructions(t *testing.T) {
	msgs, err := convertHistoryToOpenAI([]historymodel.ResponseItem{textItem("user", "hi")}, "be concise")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected system + user message, got %d", len(msgs))
	}
	if msgs[0].Role != "system" || msgs[0].Content != "be concise" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
}

func TestConvertHistoryToOpenAIRoundTripsToolCall(t *testing.T) {
	items := []historymodel.ResponseItem{
		historymodel.FunctionCall{CallID: "c1", Name: "shell", ArgumentsJSON: `{"command":["ls"]}`},
		historymodel.FunctionCallOutput{CallID: "c1", Output: historymodel.FunctionCallOutputPayload{Content: "a.txt"}},
	}
	msgs, err := convertHistoryToOpenAI(items, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ToolCalls[0].ID != "c1" || msgs[0].ToolCalls[0].Function.Name != "shell" {
		t.Fatalf("unexpected tool call message: %+v", msgs[0])
	}
	if msgs[1].ToolCallID != "c1" || msgs[1].Content != "a.txt" {
		t.Fatalf("unexpected tool result message: %+v", msgs[1])
	}
}

func TestConvertToolsToOpenAIParsesSchema(t *testing.T) {
	params, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
	})
	tools := convertToolsToOpenAI([]ToolDefinition{
		{Name: "view_image", Description: "view an image", Parameters: params},
	})
	if len(tools) != 1 || tools[0].Function.Name != "view_image" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestIsRetryableErrors(t *testing.T) {
	if !isRetryableAnthropicError(errFor("rate limit exceeded")) {
		t.Fatalf("expected rate limit to be retryable")
	}
	if isRetryableAnthropicError(errFor("invalid api key")) {
		t.Fatalf("expected auth errors to not be retryable")
	}
	if !isRetryableOpenAIError(errFor("503 service unavailable")) {
		t.Fatalf("expected 503 to be retryable")
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func errFor(msg string) error { return simpleErr(msg) }
