package anthropic

import (
	"bufio"
	"bytes"
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
		`{"type":"message_start","message":{"id":"msg_1","type":"message","usage":{"input_tokens":25,"output_tokens":1}}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":10}}`,
		`{"type":"message_stop"}`,
	)

	var text strings.Builder

	var final *unified.StreamChunk

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
	assert.Equal(t, 25, final.Usage.InputTokens)
	assert.Equal(t, 10, final.Usage.OutputTokens)
	assert.NoError(t, d.Err())
}

func TestStreamDecoder_ToolStream(t *testing.T) {
	d := newStreamDecoder()

	chunks := decodeAll(t, d,
		`{"type":"message_start","message":{"id":"msg_1","type":"message"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"search"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`,
		`{"type":"message_stop"}`,
	)

	var (
		args     strings.Builder
		id, name string
		closed   bool
		final    *unified.StreamChunk
	)

	for i := range chunks {
		for _, tc := range chunks[i].ToolCalls {
			assert.Equal(t, 0, tc.Index)
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

	assert.Equal(t, "toolu_9", id)
	assert.Equal(t, "search", name)
	assert.Equal(t, `{"q":"go"}`, args.String())
	assert.True(t, closed)
	require.NotNil(t, final)
	assert.Equal(t, unified.FinishToolCalls, final.FinishReason)
}

func TestStreamDecoder_PingAndSignature(t *testing.T) {
	d := newStreamDecoder()

	out, err := d.Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].IsHeartbeat())

	decodeAll(t, d,
		`{"type":"message_start","message":{"id":"msg_1","type":"message"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
	)

	out, err = d.Decode([]byte(`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"abc"}}`))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStreamDecoder_ErrorEvent(t *testing.T) {
	d := newStreamDecoder()

	out, err := d.Decode([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, out[0].Finished)

	require.Error(t, d.Err())
	assert.Contains(t, d.Err().Error(), "overloaded_error")
}

func TestStreamDecoder_DeltaForUnopenedBlock(t *testing.T) {
	d := newStreamDecoder()

	_, err := d.Decode([]byte(`{"type":"content_block_delta","index":3,"delta":{"type":"text_delta","text":"x"}}`))

	var perr *unified.UpstreamProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestStreamEncoder_EventGrammar(t *testing.T) {
	e := newStreamEncoder()
	e.SetModel("my-model")

	var out bytes.Buffer

	chunks := []unified.StreamChunk{
		{Role: unified.RoleAssistant},
		{ContentDelta: "Hello"},
		{ContentDelta: ", world"},
		{Finished: true, FinishReason: unified.FinishStop, Usage: &unified.Usage{InputTokens: 5, OutputTokens: 7}},
	}

	for _, chunk := range chunks {
		frames, err := e.Encode(chunk)
		require.NoError(t, err)

		for _, f := range frames {
			out.Write(f)
		}
	}

	s := out.String()

	// The grammar appears exactly once and in order.
	order := []string{
		"event: message_start",
		"event: content_block_start",
		"event: content_block_delta",
		"event: content_block_stop",
		"event: message_delta",
		"event: message_stop",
	}

	last := -1
	for _, marker := range order {
		idx := strings.Index(s, marker)
		require.GreaterOrEqual(t, idx, 0, "missing %s", marker)
		assert.Greater(t, idx, last, "%s out of order", marker)
		last = idx
	}

	assert.Contains(t, s, `"model":"my-model"`)
	assert.Contains(t, s, `"stop_reason":"end_turn"`)
	assert.Equal(t, 1, strings.Count(s, "event: message_start"))
	assert.Equal(t, 1, strings.Count(s, "event: message_stop"))
}

func TestStreamEncoder_Heartbeat(t *testing.T) {
	e := newStreamEncoder()

	// Before message_start a ping has no stream to keep alive.
	frames, err := e.Encode(unified.StreamChunk{})
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = e.Encode(unified.StreamChunk{Role: unified.RoleAssistant})
	require.NoError(t, err)
	require.NotEmpty(t, frames)
	assert.Contains(t, string(frames[0]), "event: message_start")

	frames, err = e.Encode(unified.StreamChunk{})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), "event: ping")
}

// Encoding chunks and decoding the produced frames must preserve the
// concatenated text and the finish reason.
func TestStream_EncodeDecodeRoundTrip(t *testing.T) {
	e := newStreamEncoder()
	e.SetModel("m")

	chunks := []unified.StreamChunk{
		{Role: unified.RoleAssistant},
		{ReasoningDelta: "thinking..."},
		{ContentDelta: "part one "},
		{ContentDelta: "part two"},
		{Finished: true, FinishReason: unified.FinishStop},
	}

	var wire bytes.Buffer

	for _, chunk := range chunks {
		frames, err := e.Encode(chunk)
		require.NoError(t, err)

		for _, f := range frames {
			wire.Write(f)
		}
	}

	d := newStreamDecoder()

	var (
		text      strings.Builder
		reasoning strings.Builder
		finished  bool
	)

	scanner := bufio.NewScanner(&wire)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		out, err := d.Decode([]byte(strings.TrimPrefix(line, "data: ")))
		require.NoError(t, err)

		for _, chunk := range out {
			text.WriteString(chunk.ContentDelta)
			reasoning.WriteString(chunk.ReasoningDelta)

			if chunk.Finished {
				finished = true
				assert.Equal(t, unified.FinishStop, chunk.FinishReason)
			}
		}
	}

	assert.Equal(t, "part one part two", text.String())
	assert.Equal(t, "thinking...", reasoning.String())
	assert.True(t, finished)
}
