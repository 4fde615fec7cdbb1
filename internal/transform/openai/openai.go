// Package openai implements the vendor transform and stream codecs for the
// OpenAI chat completions protocol, which also covers the broad family of
// OpenAI-compatible backends.
package openai

import (
	"strings"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// ProtocolName is the identifier used by the transform factory.
const ProtocolName = "openai"

// Transformer converts between chat completion payloads and the unified
// model. Stateless; streaming state lives in the per-session codecs.
type Transformer struct{}

func New() *Transformer { return &Transformer{} }

func (t *Transformer) Protocol() string { return ProtocolName }

func (t *Transformer) NewStreamDecoder() transform.StreamDecoder {
	return newStreamDecoder()
}

func (t *Transformer) NewStreamEncoder() transform.StreamEncoder {
	return newStreamEncoder()
}

var finishToUnified = map[string]unified.FinishReason{
	"stop":           unified.FinishStop,
	"length":         unified.FinishLength,
	"tool_calls":     unified.FinishToolCalls,
	"function_call":  unified.FinishToolCalls,
	"content_filter": unified.FinishContentFilter,
}

var finishFromUnified = map[unified.FinishReason]string{
	unified.FinishStop:          "stop",
	unified.FinishLength:        "length",
	unified.FinishToolCalls:     "tool_calls",
	unified.FinishContentFilter: "content_filter",
	unified.FinishError:         "stop",
}

func finishReasonToUnified(reason string) unified.FinishReason {
	if mapped, ok := finishToUnified[reason]; ok {
		return mapped
	}

	return unified.FinishStop
}

func finishReasonFromUnified(reason unified.FinishReason) string {
	if mapped, ok := finishFromUnified[reason]; ok {
		return mapped
	}

	return "stop"
}

// toolCallID normalizes a tool call id into OpenAI's call_ form.
func toolCallID(id string) string {
	if strings.HasPrefix(id, "call_") {
		return id
	}

	if strings.HasPrefix(id, "toolu_") {
		return "call_" + strings.TrimPrefix(id, "toolu_")
	}

	return "call_" + id
}

func usageToUnified(u *wireUsage) *unified.Usage {
	if u == nil {
		return nil
	}

	out := &unified.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CachedInputTokens = u.PromptTokensDetails.CachedTokens
	}

	return out
}

func usageFromUnified(u *unified.Usage) *wireUsage {
	if u == nil {
		return nil
	}

	out := &wireUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
	if u.CachedInputTokens != 0 {
		out.PromptTokensDetails = &promptTokenDetails{CachedTokens: u.CachedInputTokens}
	}

	return out
}
