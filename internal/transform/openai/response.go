package openai

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// ResponseToUnified decodes a non-streaming chat completion. An error
// payload surfaces as *unified.UpstreamProtocolError.
func (t *Transformer) ResponseToUnified(payload []byte) (*unified.ChatResponse, error) {
	var resp chatResponse
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

	if len(resp.Choices) == 0 {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "response has no choices",
		}
	}

	choice := resp.Choices[0]

	msg := choice.Message
	if msg == nil {
		msg = choice.Delta
	}

	if msg == nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "choice has no message",
		}
	}

	out := &unified.ChatResponse{
		ID:        resp.ID,
		Model:     resp.Model,
		Role:      unified.RoleAssistant,
		Reasoning: msg.ReasoningContent,
		Usage:     usageToUnified(resp.Usage),
	}

	parts, err := contentToParts(msg.Content, unified.RoleAssistant, "")
	if err != nil {
		return nil, &unified.UpstreamProtocolError{
			Vendor: ProtocolName,
			Detail: "malformed message content",
			Err:    err,
		}
	}

	out.Content = parts

	if msg.Refusal != "" {
		out.Content = append(out.Content, unified.ContentPart{
			Type: unified.PartRefusal,
			Text: msg.Refusal,
		})
	}

	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, unified.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}

	if choice.FinishReason != nil {
		out.FinishReason = finishReasonToUnified(*choice.FinishReason)
	}

	extra, err := transform.UnknownFields(payload, responseFields...)
	if err == nil {
		out.Extra = extra
	}

	return out, nil
}

// ResponseFromUnified serializes a unified response as a chat completion
// payload. Message content is always the string form here; responses never
// carry part arrays on this protocol.
func (t *Transformer) ResponseFromUnified(resp *unified.ChatResponse) ([]byte, error) {
	if resp == nil {
		return nil, unified.NewValidationError("", "nil response")
	}

	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	msg := &chatMessage{
		Role:             string(unified.RoleAssistant),
		ReasoningContent: resp.Reasoning,
	}

	var text string
	for _, part := range resp.Content {
		switch part.Type {
		case unified.PartText:
			text += part.Text
		case unified.PartRefusal:
			msg.Refusal += part.Text
		case unified.PartReasoning:
			if resp.Reasoning == "" {
				msg.ReasoningContent += part.Text
			}
		}
	}

	content, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}

	msg.Content = content

	for _, call := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID:   toolCallID(call.ID),
			Type: "function",
			Function: functionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}

	choice := chatChoice{Message: msg}

	if resp.FinishReason != "" {
		reason := finishReasonFromUnified(resp.FinishReason)
		choice.FinishReason = &reason
	}

	out := chatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []chatChoice{choice},
		Usage:   usageFromUnified(resp.Usage),
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return transform.MergeExtra(payload, resp.Extra)
}
