package anthropic

import (
	"encoding/json"

	"github.com/google/uuid"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

var responseFields = []string{
	"id", "type", "role", "model", "content", "stop_reason", "stop_sequence",
	"usage", "error",
}

// ResponseToUnified decodes a non-streaming Messages response. An error
// payload surfaces as *unified.UpstreamProtocolError rather than a partially
// populated response.
func (t *Transformer) ResponseToUnified(payload []byte) (*unified.ChatResponse, error) {
	var resp messageResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "malformed response",
			Err:    err,
		}
	}

	if resp.Error != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: resp.Error.Type + ": " + resp.Error.Message,
		}
	}

	out := &unified.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Role:  unified.RoleAssistant,
		Usage: usageToUnified(resp.Usage),
	}

	if resp.StopReason != nil {
		out.FinishReason = finishReasonToUnified(*resp.StopReason)
	}

	for _, block := range resp.Content {
		switch block.Type {
		case blockToolUse:
			out.ToolCalls = append(out.ToolCalls, unified.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		case blockThinking:
			out.Reasoning += block.Thinking

			part, ok := blockToPart(block)
			if ok {
				out.Content = append(out.Content, part)
			}
		default:
			part, ok := blockToPart(block)
			if ok {
				out.Content = append(out.Content, part)
			}
		}
	}

	extra, err := transform.UnknownFields(payload, responseFields...)
	if err == nil {
		out.Extra = extra
	}

	return out, nil
}

// ResponseFromUnified serializes a unified response as a Messages response
// payload.
func (t *Transformer) ResponseFromUnified(resp *unified.ChatResponse) ([]byte, error) {
	if resp == nil {
		return nil, unified.NewValidationError("", "nil response")
	}

	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	out := messageResponse{
		ID:    id,
		Type:  "message",
		Role:  string(unified.RoleAssistant),
		Model: resp.Model,
		Usage: usageFromUnified(resp.Usage),
	}

	for _, part := range resp.Content {
		raw, ok := partToBlock(part)
		if !ok {
			continue
		}

		if block, ok := raw.(contentBlock); ok {
			out.Content = append(out.Content, block)
		}
	}

	if resp.Reasoning != "" && !hasReasoningPart(resp.Content) {
		out.Content = append([]contentBlock{{Type: blockThinking, Thinking: resp.Reasoning}}, out.Content...)
	}

	for _, call := range resp.ToolCalls {
		input := json.RawMessage(call.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}

		out.Content = append(out.Content, contentBlock{
			Type:  blockToolUse,
			ID:    toolCallID(call.ID),
			Name:  call.Name,
			Input: input,
		})
	}

	if out.Content == nil {
		out.Content = []contentBlock{{Type: blockText, Text: ""}}
	}

	if resp.FinishReason != "" {
		reason := finishReasonFromUnified(resp.FinishReason)
		out.StopReason = &reason
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return transform.MergeExtra(payload, resp.Extra)
}
