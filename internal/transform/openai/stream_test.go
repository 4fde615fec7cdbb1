package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/unified"
)

func decodeAll(t *testing.T, d *streamDecoder, events ...string) []unified.StreamChunk {
	t.Helper()

	var chunks []unified.StreamChunk

	for _, ev := range events {
		out, err := d.Decode([]byte(ev))
		require.NoError(t, err, "event: %s", ev)

		chunks = append(chunks, out...)
	}

	return chunks
}

func TestStreamDecoder_TextStream(t *testing.T) {
	d := newStreamDecoder()

	chunks := decodeAll(t, d,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
	)

	var (
		text  strings.Builder
		final *unified.StreamChunk
	)

	for i := range chunks {
		text.WriteString(chunks[i].ContentDelta)

		if chunks[i].Finished {
			final = &chunks[i]
		}
	}

	assert.Equal(t, "Hello", text.String())
	require.NotNil(t, final)
	assert.Equal(t, unified.FinishStop, final.FinishReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 4, final.Usage.InputTokens)
	assert.Equal(t, 2, final.Usage.OutputTokens)
}

// With stream_options.include_usage the finish chunk has no usage; a
// trailing usage-only chunk follows. The finish must be held until then.
func TestStreamDecoder_DeferredUsage(t *testing.T) {
	d := newStreamDecoder()

	chunks := decodeAll(t, d,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"hi"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)

	for _, chunk := range chunks {
		assert.False(t, chunk.Finished, "finish must wait for the usage chunk")
	}

	out, err := d.Decode([]byte(`{"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":1}}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Finished)
	assert.Equal(t, unified.FinishStop, out[0].FinishReason)
	require.NotNil(t, out[0].Usage)
	assert.Equal(t, 9, out[0].Usage.InputTokens)
}

func TestStreamDecoder_DoneFlushesFinish(t *testing.T) {
	d := newStreamDecoder()

	decodeAll(t, d,
		`{"choices":[{"index":0,"delta":{"content":"x"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"length"}]}`,
	)

	out, err := d.Decode([]byte("[DONE]"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Finished)
	assert.Equal(t, unified.FinishLength, out[0].FinishReason)
}

func TestStreamDecoder_ToolCalls(t *testing.T) {
	d := newStreamDecoder()

	chunks := decodeAll(t, d,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
	)

	var (
		args     strings.Builder
		id, name string
		closed   bool
		final    *unified.StreamChunk
	)

	for i := range chunks {
		for _, tc := range chunks[i].ToolCalls {
			args.WriteString(tc.ArgumentsDelta)

			if tc.ID != "" {
				id = tc.ID
			}

			if tc.Name != "" {
				name = tc.Name
			}

			if tc.Finished {
				closed = true
			}
		}

		if chunks[i].Finished {
			final = &chunks[i]
		}
	}

	assert.Equal(t, "call_9", id)
	assert.Equal(t, "search", name)
	assert.Equal(t, `{"q":"go"}`, args.String())
	assert.True(t, closed)
	require.NotNil(t, final)
	assert.Equal(t, unified.FinishToolCalls, final.FinishReason)
}

// Some backends resend the whole accumulated argument string per chunk
// instead of an increment.
func TestStreamDecoder_CumulativeArguments(t *testing.T) {
	d := newStreamDecoder()

	chunks := decodeAll(t, d,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"f","arguments":"{\"a\""}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"a\":1}"}}]}}]}`,
	)

	var args strings.Builder

	for _, chunk := range chunks {
		for _, tc := range chunk.ToolCalls {
			args.WriteString(tc.ArgumentsDelta)
		}
	}

	assert.Equal(t, `{"a":1}`, args.String())
}

func TestStreamDecoder_ErrorEvent(t *testing.T) {
	d := newStreamDecoder()

	out, err := d.Decode([]byte(`{"error":{"type":"server_error","message":"boom"}}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Finished)

	require.Error(t, d.Err())
	assert.Contains(t, d.Err().Error(), "boom")
}

func TestStreamEncoder_Frames(t *testing.T) {
	e := newStreamEncoder()
	e.SetModel("my-model")

	var out strings.Builder

	chunks := []unified.StreamChunk{
		{Role: unified.RoleAssistant},
		{ContentDelta: "Hello"},
		{},
		{Finished: true, FinishReason: unified.FinishStop, Usage: &unified.Usage{InputTokens: 2, OutputTokens: 5}},
	}

	for _, chunk := range chunks {
		frames, err := e.Encode(chunk)
		require.NoError(t, err)

		for _, f := range frames {
			out.WriteString(string(f))
		}
	}

	s := out.String()

	assert.Contains(t, s, `"role":"assistant"`)
	assert.Contains(t, s, `"content":"Hello"`)
	assert.Contains(t, s, `"finish_reason":"stop"`)
	assert.Contains(t, s, `"prompt_tokens":2`)
	assert.Contains(t, s, `"model":"my-model"`)
	assert.True(t, strings.HasSuffix(s, "data: [DONE]\n\n"))

	// Heartbeats have no wire form here.
	assert.Equal(t, 1, strings.Count(s, `"finish_reason":"stop"`))

	frames, err := e.Encode(unified.StreamChunk{ContentDelta: "late"})
	require.NoError(t, err)
	assert.Empty(t, frames, "no frames after the stream finished")
}

func TestStreamEncoder_ToolCallFrames(t *testing.T) {
	e := newStreamEncoder()
	e.SetModel("m")

	var out strings.Builder

	chunks := []unified.StreamChunk{
		{ToolCalls: []unified.ToolCallDelta{{Index: 0, ID: "toolu_3", Name: "f"}}},
		{ToolCalls: []unified.ToolCallDelta{{Index: 0, ArgumentsDelta: `{"x":1}`}}},
		{ToolCalls: []unified.ToolCallDelta{{Index: 0, Finished: true}}},
		{Finished: true, FinishReason: unified.FinishToolCalls},
	}

	for _, chunk := range chunks {
		frames, err := e.Encode(chunk)
		require.NoError(t, err)

		for _, f := range frames {
			out.WriteString(string(f))
		}
	}

	s := out.String()

	assert.Contains(t, s, `"id":"call_3"`)
	assert.Contains(t, s, `"name":"f"`)
	assert.Contains(t, s, `{\"x\":1}`)
	assert.Contains(t, s, `"finish_reason":"tool_calls"`)
}
