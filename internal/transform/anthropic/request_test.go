package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/unified"
)

func TestRequestToUnified_Basic(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"model": "claude-sonnet-4",
		"system": "You are a helpful assistant",
		"max_tokens": 1024,
		"temperature": 0.7,
		"stream": true,
		"messages": [
			{"role": "user", "content": "Hello, world!"}
		]
	}`)

	req, err := tr.RequestToUnified(payload)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4", req.Model)
	assert.True(t, req.Stream)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 1024, *req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "You are a helpful assistant", req.Messages[0].Text())
	assert.Equal(t, unified.RoleUser, req.Messages[1].Role)
	assert.Equal(t, "Hello, world!", req.Messages[1].Text())
}

func TestRequestToUnified_SystemBlockArray(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"model": "claude-sonnet-4",
		"system": [
			{"type": "text", "text": "First instruction"},
			{"type": "text", "text": "Second instruction"}
		],
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	req, err := tr.RequestToUnified(payload)
	require.NoError(t, err)

	require.NotEmpty(t, req.Messages)
	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "First instruction\n\nSecond instruction", req.Messages[0].Text())
}

func TestRequestToUnified_ToolUseAndResult(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"model": "claude-sonnet-4",
		"messages": [
			{"role": "user", "content": "What is the weather in Paris?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"city": "Paris"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_01", "content": "18C, sunny"}
			]}
		],
		"tools": [{
			"name": "get_weather",
			"description": "Get current weather",
			"input_schema": {"type": "object"}
		}],
		"tool_choice": {"type": "any"}
	}`)

	req, err := tr.RequestToUnified(payload)
	require.NoError(t, err)

	require.Len(t, req.Messages, 3)

	assistant := req.Messages[1]
	assert.Equal(t, unified.RoleAssistant, assistant.Role)
	assert.Equal(t, "Let me check.", assistant.Text())
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "toolu_01", assistant.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", assistant.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Paris"}`, assistant.ToolCalls[0].Arguments)

	result := req.Messages[2]
	assert.Equal(t, unified.RoleTool, result.Role)
	assert.Equal(t, "toolu_01", result.ToolCallID)
	require.Len(t, result.Content, 1)
	assert.Equal(t, unified.PartToolResult, result.Content[0].Type)
	assert.Equal(t, "18C, sunny", result.Content[0].Text)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_weather", req.Tools[0].Name)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, unified.ToolChoiceRequired, req.ToolChoice.Mode)
}

func TestRequestToUnified_VendorEscape(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"model": "claude-sonnet-4",
		"messages": [{"role": "user", "content": "hi"}],
		"metadata": {"user_id": "u-123"}
	}`)

	req, err := tr.RequestToUnified(payload)
	require.NoError(t, err)
	require.Contains(t, req.Extra, "metadata")

	encoded, err := tr.RequestFromUnified(req)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.Equal(t, map[string]any{"user_id": "u-123"}, out["metadata"])
}

func TestRequestToUnified_Validation(t *testing.T) {
	tr := New()

	tests := []struct {
		name    string
		payload string
	}{
		{"missing model", `{"messages": [{"role": "user", "content": "hi"}]}`},
		{"missing messages", `{"model": "claude-sonnet-4"}`},
		{"invalid role", `{"model": "m", "messages": [{"role": "other", "content": "hi"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.RequestToUnified([]byte(tt.payload))

			var verr *unified.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRequestFromUnified_SystemHoisting(t *testing.T) {
	tr := New()

	maxTokens := 512
	req := &unified.ChatRequest{
		Model:     "claude-sonnet-4",
		MaxTokens: &maxTokens,
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Content: []unified.ContentPart{unified.TextPart("Be concise")}},
			{Role: unified.RoleUser, Content: []unified.ContentPart{unified.TextPart("hi")}},
		},
	}

	payload, err := tr.RequestFromUnified(req)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))

	assert.Equal(t, "Be concise", out["system"])

	messages, ok := out["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)

	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	// Single plain text part collapses to a bare string.
	assert.Equal(t, "hi", first["content"])
}

func TestRequestFromUnified_ToolResultAndIDs(t *testing.T) {
	tr := New()

	req := &unified.ChatRequest{
		Model: "claude-sonnet-4",
		Messages: []unified.Message{
			{
				Role: unified.RoleAssistant,
				ToolCalls: []unified.ToolCall{
					{ID: "call_abc", Name: "lookup", Arguments: `{"q":"x"}`},
				},
			},
			{
				Role:       unified.RoleTool,
				ToolCallID: "call_abc",
				Content: []unified.ContentPart{
					{Type: unified.PartToolResult, Text: "found it"},
				},
			},
		},
	}

	payload, err := tr.RequestFromUnified(req)
	require.NoError(t, err)

	var out struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(payload, &out))
	require.Len(t, out.Messages, 2)

	var assistantBlocks []contentBlock
	require.NoError(t, json.Unmarshal(out.Messages[0].Content, &assistantBlocks))
	require.Len(t, assistantBlocks, 1)
	assert.Equal(t, blockToolUse, assistantBlocks[0].Type)
	assert.Equal(t, "toolu_abc", assistantBlocks[0].ID)

	// Tool messages come back as user messages carrying a tool_result.
	assert.Equal(t, "user", out.Messages[1].Role)

	var resultBlocks []contentBlock
	require.NoError(t, json.Unmarshal(out.Messages[1].Content, &resultBlocks))
	require.Len(t, resultBlocks, 1)
	assert.Equal(t, blockToolResult, resultBlocks[0].Type)
	assert.Equal(t, "toolu_abc", resultBlocks[0].ToolUseID)
}

func TestRequest_RoundTrip(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"model": "claude-sonnet-4",
		"system": "stay on topic",
		"max_tokens": 256,
		"top_k": 40,
		"stop_sequences": ["END"],
		"messages": [
			{"role": "user", "content": "first"},
			{"role": "assistant", "content": "second"}
		],
		"thinking": {"type": "enabled", "budget_tokens": 2048}
	}`)

	first, err := tr.RequestToUnified(payload)
	require.NoError(t, err)

	encoded, err := tr.RequestFromUnified(first)
	require.NoError(t, err)

	second, err := tr.RequestToUnified(encoded)
	require.NoError(t, err)

	assert.Equal(t, first.Model, second.Model)
	assert.Equal(t, first.MaxTokens, second.MaxTokens)
	assert.Equal(t, first.TopK, second.TopK)
	assert.Equal(t, first.Stop, second.Stop)
	assert.Equal(t, first.Thinking, second.Thinking)
	require.Equal(t, len(first.Messages), len(second.Messages))

	for i := range first.Messages {
		assert.Equal(t, first.Messages[i].Role, second.Messages[i].Role)
		assert.Equal(t, first.Messages[i].Text(), second.Messages[i].Text())
	}
}
