// Package anthropic implements the vendor transform and stream codecs for
// the Anthropic Messages protocol.
package anthropic

import (
	"strings"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// ProtocolName is the identifier used by the transform factory.
const ProtocolName = "anthropic"

// Transformer converts between Anthropic Messages payloads and the unified
// model. It is stateless; all streaming state lives in the per-session
// decoder and encoder.
type Transformer struct{}

func New() *Transformer { return &Transformer{} }

func (t *Transformer) Protocol() string { return ProtocolName }

func (t *Transformer) NewStreamDecoder() transform.StreamDecoder {
	return newStreamDecoder()
}

func (t *Transformer) NewStreamEncoder() transform.StreamEncoder {
	return newStreamEncoder()
}

// stopReasonToUnified maps Anthropic stop reasons onto the canonical enum.
var stopReasonToUnified = map[string]unified.FinishReason{
	"end_turn":      unified.FinishStop,
	"stop_sequence": unified.FinishStop,
	"max_tokens":    unified.FinishLength,
	"tool_use":      unified.FinishToolCalls,
	"refusal":       unified.FinishContentFilter,
}

// stopReasonFromUnified is the reverse mapping. FinishError has no Messages
// equivalent and falls back to end_turn like every unknown reason.
var stopReasonFromUnified = map[unified.FinishReason]string{
	unified.FinishStop:          "end_turn",
	unified.FinishLength:        "max_tokens",
	unified.FinishToolCalls:     "tool_use",
	unified.FinishContentFilter: "refusal",
}

func finishReasonToUnified(reason string) unified.FinishReason {
	if mapped, ok := stopReasonToUnified[reason]; ok {
		return mapped
	}

	return unified.FinishStop
}

func finishReasonFromUnified(reason unified.FinishReason) string {
	if mapped, ok := stopReasonFromUnified[reason]; ok {
		return mapped
	}

	return "end_turn"
}

// toolCallID normalizes a tool call id into Anthropic's toolu_ form.
func toolCallID(id string) string {
	if strings.HasPrefix(id, "toolu_") {
		return id
	}

	if strings.HasPrefix(id, "call_") {
		return "toolu_" + strings.TrimPrefix(id, "call_")
	}

	return "toolu_" + id
}

func usageToUnified(u *wireUsage) *unified.Usage {
	if u == nil {
		return nil
	}

	out := &unified.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if u.CacheReadInputTokens != nil {
		out.CachedInputTokens = *u.CacheReadInputTokens
	}

	if u.CacheCreationInputTokens != nil {
		out.CacheCreationTokens = *u.CacheCreationInputTokens
	}

	return out
}

func usageFromUnified(u *unified.Usage) *wireUsage {
	if u == nil {
		return nil
	}

	out := &wireUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if u.CachedInputTokens != 0 {
		cached := u.CachedInputTokens
		out.CacheReadInputTokens = &cached
	}

	if u.CacheCreationTokens != 0 {
		creation := u.CacheCreationTokens
		out.CacheCreationInputTokens = &creation
	}

	return out
}
