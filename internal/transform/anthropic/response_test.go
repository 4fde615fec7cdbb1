package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/unified"
)

func TestResponseToUnified(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4",
		"content": [
			{"type": "thinking", "thinking": "reasoning here"},
			{"type": "text", "text": "The answer is 4."},
			{"type": "tool_use", "id": "toolu_5", "name": "calc", "input": {"expr": "2+2"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 34, "cache_read_input_tokens": 4}
	}`)

	resp, err := tr.ResponseToUnified(payload)
	require.NoError(t, err)

	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, "claude-sonnet-4", resp.Model)
	assert.Equal(t, "The answer is 4.", resp.Text())
	assert.Equal(t, "reasoning here", resp.Reasoning)
	assert.Equal(t, unified.FinishToolCalls, resp.FinishReason)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_5", resp.ToolCalls[0].ID)
	assert.Equal(t, "calc", resp.ToolCalls[0].Name)

	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 34, resp.Usage.OutputTokens)
	assert.Equal(t, 4, resp.Usage.CachedInputTokens)
}

func TestResponseToUnified_ErrorPayload(t *testing.T) {
	tr := New()

	payload := []byte(`{
		"type": "error",
		"error": {"type": "rate_limit_error", "message": "slow down"}
	}`)

	_, err := tr.ResponseToUnified(payload)

	var perr *unified.UpstreamProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Error(), "rate_limit_error")
}

func TestResponseFromUnified(t *testing.T) {
	tr := New()

	resp := &unified.ChatResponse{
		Model:        "my-model",
		Role:         unified.RoleAssistant,
		Content:      []unified.ContentPart{unified.TextPart("done")},
		FinishReason: unified.FinishLength,
		Usage:        &unified.Usage{InputTokens: 3, OutputTokens: 9},
		ToolCalls: []unified.ToolCall{
			{ID: "call_7", Name: "lookup", Arguments: `{"k":"v"}`},
		},
	}

	payload, err := tr.ResponseFromUnified(resp)
	require.NoError(t, err)

	var out messageResponse
	require.NoError(t, json.Unmarshal(payload, &out))

	assert.True(t, len(out.ID) > 4 && out.ID[:4] == "msg_")
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "my-model", out.Model)

	require.NotNil(t, out.StopReason)
	assert.Equal(t, "max_tokens", *out.StopReason)

	require.Len(t, out.Content, 2)
	assert.Equal(t, blockText, out.Content[0].Type)
	assert.Equal(t, "done", out.Content[0].Text)
	assert.Equal(t, blockToolUse, out.Content[1].Type)
	assert.Equal(t, "toolu_7", out.Content[1].ID)

	require.NotNil(t, out.Usage)
	assert.Equal(t, 3, out.Usage.InputTokens)
	assert.Equal(t, 9, out.Usage.OutputTokens)
}

func TestResponseFromUnified_EmptyContent(t *testing.T) {
	tr := New()

	payload, err := tr.ResponseFromUnified(&unified.ChatResponse{
		Model:        "m",
		FinishReason: unified.FinishStop,
	})
	require.NoError(t, err)

	var out messageResponse
	require.NoError(t, json.Unmarshal(payload, &out))

	// The Messages shape requires at least one content block.
	require.Len(t, out.Content, 1)
	assert.Equal(t, blockText, out.Content[0].Type)
	assert.Equal(t, "", out.Content[0].Text)
}
