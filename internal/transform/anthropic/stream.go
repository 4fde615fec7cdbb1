package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"llmgate/internal/unified"
)

// streamDecoder converts the Messages SSE event sequence into unified
// chunks, one event at a time. It owns the per-session view of open content
// blocks; nothing is buffered beyond that.
type streamDecoder struct {
	blocks        map[int]*decodedBlock
	toolIndexes   map[int]int
	nextToolIndex int

	inputUsage    *unified.Usage
	pendingFinish unified.FinishReason
	pendingUsage  *unified.Usage

	err error
}

// decodedBlock tracks one open content block's declared kind so later
// index-scoped deltas can be interpreted.
type decodedBlock struct {
	kind     string
	toolID   string
	toolName string
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{
		blocks:      make(map[int]*decodedBlock),
		toolIndexes: make(map[int]int),
	}
}

func (d *streamDecoder) Err() error { return d.err }

// Decode dispatches on the event type discriminator. Signature deltas carry
// provenance data with no canonical mapping and are discarded; this is a
// policy choice, not an error.
func (d *streamDecoder) Decode(event []byte) ([]unified.StreamChunk, error) {
	var ev streamEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "malformed stream event",
			Err:    err,
		}
	}

	switch ev.Type {
	case eventMessageStart:
		return d.handleMessageStart(ev)
	case eventContentBlockStart:
		return d.handleBlockStart(ev)
	case eventContentBlockDelta:
		return d.handleBlockDelta(ev)
	case eventContentBlockStop:
		return d.handleBlockStop(ev)
	case eventMessageDelta:
		return d.handleMessageDelta(ev)
	case eventMessageStop:
		return d.handleMessageStop()
	case eventPing:
		// Heartbeat: structurally empty, never finished.
		return []unified.StreamChunk{{}}, nil
	case eventError:
		detail := "stream error"
		if ev.Error != nil {
			detail = ev.Error.Type + ": " + ev.Error.Message
		}

		d.err = &unified.UpstreamProtocolError{Vendor: ProtocolName, Detail: detail}

		// Already-produced chunks stay valid; the terminal error is
		// reported through Err.
		return []unified.StreamChunk{{}}, nil
	default:
		// Unknown event types are ignored for forward compatibility.
		return nil, nil
	}
}

func (d *streamDecoder) handleMessageStart(ev streamEvent) ([]unified.StreamChunk, error) {
	d.blocks = make(map[int]*decodedBlock)
	d.toolIndexes = make(map[int]int)
	d.nextToolIndex = 0
	d.pendingFinish = ""
	d.pendingUsage = nil
	d.inputUsage = nil

	if ev.Message != nil {
		d.inputUsage = usageToUnified(ev.Message.Usage)
	}

	return []unified.StreamChunk{{Role: unified.RoleAssistant}}, nil
}

func (d *streamDecoder) handleBlockStart(ev streamEvent) ([]unified.StreamChunk, error) {
	if ev.ContentBlock == nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: fmt.Sprintf("content_block_start without content_block at index %d", ev.Index),
		}
	}

	block := &decodedBlock{kind: ev.ContentBlock.Type}
	d.blocks[ev.Index] = block

	if block.kind != blockToolUse {
		return nil, nil
	}

	block.toolID = ev.ContentBlock.ID
	block.toolName = ev.ContentBlock.Name

	toolIndex := d.nextToolIndex
	d.nextToolIndex++
	d.toolIndexes[ev.Index] = toolIndex

	return []unified.StreamChunk{{
		ToolCalls: []unified.ToolCallDelta{{
			Index: toolIndex,
			ID:    block.toolID,
			Name:  block.toolName,
		}},
	}}, nil
}

func (d *streamDecoder) handleBlockDelta(ev streamEvent) ([]unified.StreamChunk, error) {
	if _, open := d.blocks[ev.Index]; !open {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: fmt.Sprintf("delta for unopened content block %d", ev.Index),
		}
	}

	var delta blockDelta
	if err := json.Unmarshal(ev.Delta, &delta); err != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "malformed content_block_delta",
			Err:    err,
		}
	}

	switch delta.Type {
	case deltaText:
		return []unified.StreamChunk{{ContentDelta: delta.Text}}, nil
	case deltaThinking:
		return []unified.StreamChunk{{ReasoningDelta: delta.Thinking}}, nil
	case deltaInputJSON:
		toolIndex, ok := d.toolIndexes[ev.Index]
		if !ok {
			return nil, &unified.UpstreamProtocolError{
				Vendor: ProtocolName,
				Detail: fmt.Sprintf("input_json_delta for non-tool block %d", ev.Index),
			}
		}

		return []unified.StreamChunk{{
			ToolCalls: []unified.ToolCallDelta{{
				Index:          toolIndex,
				ArgumentsDelta: delta.PartialJSON,
			}},
		}}, nil
	case deltaSignature:
		// Provenance signature; intentionally discarded.
		return nil, nil
	default:
		return nil, nil
	}
}

func (d *streamDecoder) handleBlockStop(ev streamEvent) ([]unified.StreamChunk, error) {
	block, open := d.blocks[ev.Index]
	if !open {
		return nil, nil
	}

	delete(d.blocks, ev.Index)

	if block.kind != blockToolUse {
		return nil, nil
	}

	toolIndex := d.toolIndexes[ev.Index]

	return []unified.StreamChunk{{
		ToolCalls: []unified.ToolCallDelta{{
			Index:    toolIndex,
			Finished: true,
		}},
	}}, nil
}

func (d *streamDecoder) handleMessageDelta(ev streamEvent) ([]unified.StreamChunk, error) {
	if len(ev.Delta) > 0 {
		var delta messageDelta
		if err := json.Unmarshal(ev.Delta, &delta); err != nil {
			return nil, &unified.UpstreamProtocolError{
				Vendor: ProtocolName,
				Detail: "malformed message_delta",
				Err:    err,
			}
		}

		if delta.StopReason != nil {
			d.pendingFinish = finishReasonToUnified(*delta.StopReason)
		}
	}

	if ev.Usage != nil {
		d.pendingUsage = usageToUnified(ev.Usage)
	}

	return nil, nil
}

func (d *streamDecoder) handleMessageStop() ([]unified.StreamChunk, error) {
	finish := d.pendingFinish
	if finish == "" {
		finish = unified.FinishStop
	}

	usage := d.pendingUsage
	if usage != nil && d.inputUsage != nil && usage.InputTokens == 0 {
		usage.InputTokens = d.inputUsage.InputTokens
		usage.CachedInputTokens = d.inputUsage.CachedInputTokens
		usage.CacheCreationTokens = d.inputUsage.CacheCreationTokens
	}

	if usage == nil {
		usage = d.inputUsage
	}

	d.blocks = make(map[int]*decodedBlock)
	d.toolIndexes = make(map[int]int)

	return []unified.StreamChunk{{
		Finished:     true,
		FinishReason: finish,
		Usage:        usage,
	}}, nil
}

// streamEncoder synthesizes the Messages SSE event grammar from unified
// chunks: message_start once, content_block_start the first time a content
// kind or tool index appears, block stops and message_delta/message_stop
// when the finished chunk arrives.
type streamEncoder struct {
	model     string
	messageID string
	started   bool
	finished  bool
	nextIndex int

	text     *encodedBlock
	thinking *encodedBlock
	tools    map[int]*encodedBlock
}

// encodedBlock tracks one synthesized content block. Tool blocks buffer
// argument fragments until both id and name are known, since the start
// event needs them.
type encodedBlock struct {
	index       int
	started     bool
	stopped     bool
	toolID      string
	toolName    string
	pendingArgs string
}

func newStreamEncoder() *streamEncoder {
	return &streamEncoder{tools: make(map[int]*encodedBlock)}
}

func (e *streamEncoder) SetModel(model string) { e.model = model }

func (e *streamEncoder) Encode(chunk unified.StreamChunk) ([][]byte, error) {
	if e.finished {
		return nil, nil
	}

	if chunk.IsHeartbeat() {
		// A ping frame is only valid after message_start; earlier
		// heartbeats have no stream to keep alive yet.
		if !e.started {
			return nil, nil
		}

		return [][]byte{formatSSE(eventPing, map[string]any{"type": eventPing})}, nil
	}

	var frames [][]byte

	if !e.started {
		frames = append(frames, e.messageStartFrame(chunk))
		e.started = true
	}

	if chunk.ReasoningDelta != "" {
		frames = append(frames, e.thinkingFrames(chunk.ReasoningDelta)...)
	}

	if chunk.ContentDelta != "" {
		frames = append(frames, e.textFrames(chunk.ContentDelta)...)
	}

	for _, tc := range chunk.ToolCalls {
		frames = append(frames, e.toolFrames(tc)...)
	}

	if chunk.Finished {
		frames = append(frames, e.finishFrames(chunk)...)
		e.finished = true
	}

	return frames, nil
}

func (e *streamEncoder) messageStartFrame(chunk unified.StreamChunk) []byte {
	if e.messageID == "" {
		e.messageID = "msg_" + uuid.NewString()
	}

	usage := map[string]any{"input_tokens": 0, "output_tokens": 1}
	if chunk.Usage != nil {
		usage["input_tokens"] = chunk.Usage.InputTokens
		if chunk.Usage.CachedInputTokens > 0 {
			usage["cache_read_input_tokens"] = chunk.Usage.CachedInputTokens
		}
	}

	return formatSSE(eventMessageStart, map[string]any{
		"type": eventMessageStart,
		"message": map[string]any{
			"id":            e.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         usage,
		},
	})
}

func (e *streamEncoder) textFrames(delta string) [][]byte {
	var frames [][]byte

	if e.text == nil {
		e.text = &encodedBlock{index: e.nextIndex}
		e.nextIndex++
	}

	if !e.text.started {
		frames = append(frames, formatSSE(eventContentBlockStart, map[string]any{
			"type":          eventContentBlockStart,
			"index":         e.text.index,
			"content_block": map[string]any{"type": blockText, "text": ""},
		}))
		e.text.started = true
	}

	frames = append(frames, formatSSE(eventContentBlockDelta, map[string]any{
		"type":  eventContentBlockDelta,
		"index": e.text.index,
		"delta": map[string]any{"type": deltaText, "text": delta},
	}))

	return frames
}

func (e *streamEncoder) thinkingFrames(delta string) [][]byte {
	var frames [][]byte

	if e.thinking == nil {
		e.thinking = &encodedBlock{index: e.nextIndex}
		e.nextIndex++
	}

	if !e.thinking.started {
		frames = append(frames, formatSSE(eventContentBlockStart, map[string]any{
			"type":          eventContentBlockStart,
			"index":         e.thinking.index,
			"content_block": map[string]any{"type": blockThinking, "thinking": ""},
		}))
		e.thinking.started = true
	}

	frames = append(frames, formatSSE(eventContentBlockDelta, map[string]any{
		"type":  eventContentBlockDelta,
		"index": e.thinking.index,
		"delta": map[string]any{"type": deltaThinking, "thinking": delta},
	}))

	return frames
}

func (e *streamEncoder) toolFrames(tc unified.ToolCallDelta) [][]byte {
	var frames [][]byte

	block, ok := e.tools[tc.Index]
	if !ok {
		block = &encodedBlock{index: e.nextIndex}
		e.nextIndex++
		e.tools[tc.Index] = block
	}

	if tc.ID != "" {
		block.toolID = tc.ID
	}

	if tc.Name != "" {
		block.toolName = tc.Name
	}

	if tc.ArgumentsDelta != "" {
		block.pendingArgs += tc.ArgumentsDelta
	}

	// The start event needs both id and name; argument fragments seen
	// before that are buffered and flushed right after the start.
	if !block.started && block.toolID != "" && block.toolName != "" {
		frames = append(frames, formatSSE(eventContentBlockStart, map[string]any{
			"type":  eventContentBlockStart,
			"index": block.index,
			"content_block": map[string]any{
				"type":  blockToolUse,
				"id":    toolCallID(block.toolID),
				"name":  block.toolName,
				"input": map[string]any{},
			},
		}))
		block.started = true
	}

	if block.started && block.pendingArgs != "" {
		frames = append(frames, formatSSE(eventContentBlockDelta, map[string]any{
			"type":  eventContentBlockDelta,
			"index": block.index,
			"delta": map[string]any{"type": deltaInputJSON, "partial_json": block.pendingArgs},
		}))
		block.pendingArgs = ""
	}

	if tc.Finished && block.started && !block.stopped {
		frames = append(frames, formatSSE(eventContentBlockStop, map[string]any{
			"type":  eventContentBlockStop,
			"index": block.index,
		}))
		block.stopped = true
	}

	return frames
}

func (e *streamEncoder) finishFrames(chunk unified.StreamChunk) [][]byte {
	var frames [][]byte

	for _, block := range e.openBlocks() {
		frames = append(frames, formatSSE(eventContentBlockStop, map[string]any{
			"type":  eventContentBlockStop,
			"index": block.index,
		}))
		block.stopped = true
	}

	reason := unified.FinishStop
	if chunk.FinishReason != "" {
		reason = chunk.FinishReason
	}

	delta := map[string]any{
		"type": eventMessageDelta,
		"delta": map[string]any{
			"stop_reason":   finishReasonFromUnified(reason),
			"stop_sequence": nil,
		},
	}

	if chunk.Usage != nil {
		usage := map[string]any{
			"input_tokens":  chunk.Usage.InputTokens,
			"output_tokens": chunk.Usage.OutputTokens,
		}
		if chunk.Usage.CachedInputTokens > 0 {
			usage["cache_read_input_tokens"] = chunk.Usage.CachedInputTokens
		}

		delta["usage"] = usage
	}

	frames = append(frames, formatSSE(eventMessageDelta, delta))
	frames = append(frames, formatSSE(eventMessageStop, map[string]any{"type": eventMessageStop}))

	return frames
}

func (e *streamEncoder) openBlocks() []*encodedBlock {
	var open []*encodedBlock

	if e.thinking != nil && e.thinking.started && !e.thinking.stopped {
		open = append(open, e.thinking)
	}

	if e.text != nil && e.text.started && !e.text.stopped {
		open = append(open, e.text)
	}

	for _, block := range e.tools {
		if block.started && !block.stopped {
			open = append(open, block)
		}
	}

	return open
}

// formatSSE renders one server-sent event frame.
func formatSSE(eventType string, data map[string]any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload))
}
