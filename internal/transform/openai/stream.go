package openai

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/unified"
)

// doneSentinel is the literal data payload that terminates a chat
// completions stream.
const doneSentinel = "[DONE]"

// streamDecoder folds chat completion chunks into unified stream chunks.
// When stream_options.include_usage is set the backend emits the final
// usage in a trailing chunk after finish_reason, so the finish is held
// back until that chunk or the [DONE] sentinel arrives.
type streamDecoder struct {
	err error

	// args accumulates tool call arguments per unified index so that
	// backends which resend the full argument string produce clean
	// increments downstream.
	args        map[int]string
	toolIndexes map[int]int
	nextTool    int
	lastTool    int
	openTools   []int

	pendingReason unified.FinishReason
	pendingTools  []unified.ToolCallDelta
	havePending   bool
	finished      bool
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{
		args:        make(map[int]string),
		toolIndexes: make(map[int]int),
		lastTool:    -1,
	}
}

func (d *streamDecoder) Err() error { return d.err }

// Decode consumes the data payload of one SSE event. The [DONE] sentinel
// must be passed through as-is; it flushes any held-back finish.
func (d *streamDecoder) Decode(event []byte) ([]unified.StreamChunk, error) {
	event = bytes.TrimSpace(event)
	if len(event) == 0 || d.finished {
		return nil, nil
	}

	if string(event) == doneSentinel {
		return d.flushFinish(nil), nil
	}

	var ev chatResponse
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "malformed stream chunk",
			Err:    err,
		}
	}

	if ev.Error != nil {
		d.err = &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: ev.Error.Type + ": " + ev.Error.Message,
		}

		return []unified.StreamChunk{{}}, nil
	}

	if len(ev.Choices) == 0 {
		if ev.Usage == nil {
			return nil, nil
		}

		usage := usageToUnified(ev.Usage)
		if d.havePending {
			return d.flushFinish(usage), nil
		}

		return []unified.StreamChunk{{Usage: usage}}, nil
	}

	choice := ev.Choices[0]

	delta := choice.Delta
	if delta == nil {
		delta = choice.Message
	}

	var chunks []unified.StreamChunk

	chunk := unified.StreamChunk{}
	if delta != nil {
		chunk.Role = unified.Role(delta.Role)
		chunk.ContentDelta = contentString(delta.Content)
		chunk.ReasoningDelta = delta.ReasoningContent
		chunk.ToolCalls = d.toolDeltas(delta.ToolCalls)
	}

	// A structurally empty delta carries nothing to translate; this
	// protocol has no heartbeat event it could map to.
	if !chunk.IsHeartbeat() {
		chunks = append(chunks, chunk)
	}

	if choice.FinishReason != nil {
		d.pendingReason = finishReasonToUnified(*choice.FinishReason)
		d.pendingTools = d.closeTools()
		d.havePending = true

		if ev.Usage != nil {
			chunks = append(chunks, d.flushFinish(usageToUnified(ev.Usage))...)
		}
	} else if ev.Usage != nil && len(chunks) > 0 {
		chunks[len(chunks)-1].Usage = usageToUnified(ev.Usage)
	}

	return chunks, nil
}

func (d *streamDecoder) flushFinish(usage *unified.Usage) []unified.StreamChunk {
	if d.finished {
		return nil
	}

	d.finished = true

	chunk := unified.StreamChunk{
		Finished:     true,
		FinishReason: unified.FinishStop,
		ToolCalls:    d.pendingTools,
		Usage:        usage,
	}
	if d.havePending {
		chunk.FinishReason = d.pendingReason
	}

	d.havePending = false
	d.pendingTools = nil

	return []unified.StreamChunk{chunk}
}

func (d *streamDecoder) toolDeltas(calls []wireToolCall) []unified.ToolCallDelta {
	var out []unified.ToolCallDelta

	for _, call := range calls {
		idx := d.unifiedIndex(call)

		delta := unified.ToolCallDelta{
			Index: idx,
			Name:  call.Function.Name,
		}
		if call.ID != "" {
			delta.ID = call.ID
		}

		delta.ArgumentsDelta = argumentsDelta(d.args[idx], call.Function.Arguments)
		d.args[idx] += delta.ArgumentsDelta

		out = append(out, delta)
	}

	return out
}

// unifiedIndex resolves which tool call a wire delta belongs to. Most
// backends set an explicit index; some omit it and rely on id presence to
// mark a new call, with id-less deltas continuing the previous one.
func (d *streamDecoder) unifiedIndex(call wireToolCall) int {
	if call.Index != nil {
		idx, ok := d.toolIndexes[*call.Index]
		if !ok {
			idx = d.openTool()
			d.toolIndexes[*call.Index] = idx
		}

		d.lastTool = idx

		return idx
	}

	if call.ID == "" && d.lastTool >= 0 {
		return d.lastTool
	}

	idx := d.openTool()
	d.lastTool = idx

	return idx
}

func (d *streamDecoder) openTool() int {
	idx := d.nextTool
	d.nextTool++
	d.openTools = append(d.openTools, idx)

	return idx
}

func (d *streamDecoder) closeTools() []unified.ToolCallDelta {
	var out []unified.ToolCallDelta
	for _, idx := range d.openTools {
		out = append(out, unified.ToolCallDelta{Index: idx, Finished: true})
	}

	d.openTools = nil

	return out
}

// argumentsDelta returns the increment carried by an incoming arguments
// string. Backends disagree on whether chunks carry increments or the full
// accumulated string; a string prefixed by what was already seen is
// treated as cumulative.
func argumentsDelta(accumulated, incoming string) string {
	if incoming == "" {
		return ""
	}

	if accumulated != "" && strings.HasPrefix(incoming, accumulated) {
		return strings.TrimPrefix(incoming, accumulated)
	}

	return incoming
}

func contentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}

	return s
}

// streamEncoder renders unified chunks as chat completion SSE frames. The
// first frame carries the assistant role, the final unified chunk expands
// into a finish_reason frame, an optional usage frame and the [DONE]
// sentinel. Heartbeats have no equivalent on this protocol and are
// dropped.
type streamEncoder struct {
	id       string
	created  int64
	model    string
	roleSent bool
	done     bool
}

func newStreamEncoder() *streamEncoder {
	return &streamEncoder{
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
	}
}

func (e *streamEncoder) SetModel(model string) { e.model = model }

func (e *streamEncoder) Encode(chunk unified.StreamChunk) ([][]byte, error) {
	if e.done || chunk.IsHeartbeat() {
		return nil, nil
	}

	var frames [][]byte

	appendFrame := func(delta map[string]any, finish *string) error {
		frame, err := e.frame(delta, finish)
		if err != nil {
			return err
		}

		frames = append(frames, frame)

		return nil
	}

	if !e.roleSent {
		e.roleSent = true

		if err := appendFrame(map[string]any{"role": "assistant", "content": ""}, nil); err != nil {
			return nil, err
		}
	}

	if chunk.ContentDelta != "" {
		if err := appendFrame(map[string]any{"content": chunk.ContentDelta}, nil); err != nil {
			return nil, err
		}
	}

	if chunk.ReasoningDelta != "" {
		if err := appendFrame(map[string]any{"reasoning_content": chunk.ReasoningDelta}, nil); err != nil {
			return nil, err
		}
	}

	if deltas := encodeToolDeltas(chunk.ToolCalls); len(deltas) > 0 {
		if err := appendFrame(map[string]any{"tool_calls": deltas}, nil); err != nil {
			return nil, err
		}
	}

	if chunk.Finished {
		reason := finishReasonFromUnified(chunk.FinishReason)
		if err := appendFrame(map[string]any{}, &reason); err != nil {
			return nil, err
		}

		if chunk.Usage != nil {
			frame, err := e.usageFrame(chunk.Usage)
			if err != nil {
				return nil, err
			}

			frames = append(frames, frame)
		}

		frames = append(frames, []byte("data: "+doneSentinel+"\n\n"))
		e.done = true
	}

	return frames, nil
}

func encodeToolDeltas(deltas []unified.ToolCallDelta) []map[string]any {
	var out []map[string]any

	for _, d := range deltas {
		// Per-call completion markers have no wire representation here.
		if d.Finished && d.ID == "" && d.Name == "" && d.ArgumentsDelta == "" {
			continue
		}

		entry := map[string]any{
			"index": d.Index,
			"function": map[string]any{
				"arguments": d.ArgumentsDelta,
			},
		}
		if d.ID != "" {
			entry["id"] = toolCallID(d.ID)
			entry["type"] = "function"
		}

		if d.Name != "" {
			entry["function"] = map[string]any{
				"name":      d.Name,
				"arguments": d.ArgumentsDelta,
			}
		}

		out = append(out, entry)
	}

	return out
}

func (e *streamEncoder) frame(delta map[string]any, finish *string) ([]byte, error) {
	choice := map[string]any{
		"index":         0,
		"delta":         delta,
		"finish_reason": nil,
	}
	if finish != nil {
		choice["finish_reason"] = *finish
	}

	return e.dataFrame(map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{choice},
	})
}

func (e *streamEncoder) usageFrame(usage *unified.Usage) ([]byte, error) {
	return e.dataFrame(map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{},
		"usage":   usageFromUnified(usage),
	})
}

func (e *streamEncoder) dataFrame(payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return append(append([]byte("data: "), data...), '\n', '\n'), nil
}
