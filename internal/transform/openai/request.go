package openai

import (
	"encoding/json"
	"fmt"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// RequestToUnified decodes a chat completions request into the unified
// model. OpenAI keeps system prompts inline as messages, so no hoisting is
// required on this side.
func (t *Transformer) RequestToUnified(payload []byte) (*unified.ChatRequest, error) {
	var req chatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, unified.NewValidationError("", "malformed JSON: "+err.Error())
	}

	if req.Model == "" {
		return nil, unified.NewValidationError("model", "required")
	}

	var rawMessages []json.RawMessage
	if len(req.Messages) > 0 {
		if err := json.Unmarshal(req.Messages, &rawMessages); err != nil {
			return nil, unified.NewValidationError("messages", "must be an array")
		}
	}

	if len(rawMessages) == 0 {
		return nil, unified.NewValidationError("messages", "required")
	}

	out := &unified.ChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	// max_completion_tokens supersedes the legacy max_tokens.
	if req.MaxCompletionTokens != nil {
		out.MaxTokens = req.MaxCompletionTokens
	} else {
		out.MaxTokens = req.MaxTokens
	}

	stop, err := decodeStop(req.Stop)
	if err != nil {
		return nil, err
	}

	out.Stop = stop

	if req.StreamOptions != nil {
		out.StreamOptions = &unified.StreamOptions{IncludeUsage: req.StreamOptions.IncludeUsage}
	}

	for i, raw := range rawMessages {
		msg, err := messageToUnified(raw)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}

		out.Messages = append(out.Messages, msg)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, unified.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	choice, err := decodeToolChoice(req.ToolChoice)
	if err != nil {
		return nil, err
	}

	out.ToolChoice = choice

	extra, err := transform.UnknownFields(payload, requestFields...)
	if err != nil {
		return nil, unified.NewValidationError("", "malformed JSON: "+err.Error())
	}

	out.Extra = extra

	return out, nil
}

func decodeStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var multiple []string
	if err := json.Unmarshal(raw, &multiple); err != nil {
		return nil, unified.NewValidationError("stop", "must be a string or string array")
	}

	return multiple, nil
}

func decodeToolChoice(raw json.RawMessage) (*unified.ToolChoice, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto":
			return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
		case "none":
			return &unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
		case "required":
			return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
		default:
			return nil, unified.NewValidationError("tool_choice", "unknown mode "+mode)
		}
	}

	var named namedToolChoice
	if err := json.Unmarshal(raw, &named); err != nil || named.Function.Name == "" {
		return nil, unified.NewValidationError("tool_choice", "must be a mode string or named function")
	}

	return &unified.ToolChoice{Mode: unified.ToolChoiceNamed, Name: named.Function.Name}, nil
}

func messageToUnified(raw json.RawMessage) (unified.Message, error) {
	var msg chatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return unified.Message{}, unified.NewValidationError("", "malformed message: "+err.Error())
	}

	role := unified.Role(msg.Role)
	switch msg.Role {
	case "developer":
		// Newer alias for the system role.
		role = unified.RoleSystem
	case string(unified.RoleSystem), string(unified.RoleUser),
		string(unified.RoleAssistant), string(unified.RoleTool):
	default:
		return unified.Message{}, unified.NewValidationError("role", "invalid role "+msg.Role)
	}

	out := unified.Message{
		Role:       role,
		ToolCallID: msg.ToolCallID,
		Reasoning:  msg.ReasoningContent,
	}

	parts, err := contentToParts(msg.Content, role, msg.ToolCallID)
	if err != nil {
		return unified.Message{}, err
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

	extra, err := transform.UnknownFields(raw, messageFields...)
	if err == nil {
		out.Extra = extra
	}

	return out, nil
}

func contentToParts(raw json.RawMessage, role unified.Role, toolCallID string) ([]unified.ContentPart, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	partType := unified.PartText
	if role == unified.RoleTool {
		partType = unified.PartToolResult
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []unified.ContentPart{{
			Type:       partType,
			Text:       text,
			ToolCallID: toolCallID,
		}}, nil
	}

	var wireParts []contentPart
	if err := json.Unmarshal(raw, &wireParts); err != nil {
		return nil, unified.NewValidationError("content", "must be a string or part array")
	}

	var parts []unified.ContentPart

	for _, wp := range wireParts {
		switch wp.Type {
		case "text":
			parts = append(parts, unified.ContentPart{
				Type:       partType,
				Text:       wp.Text,
				ToolCallID: toolCallID,
			})
		case "image_url":
			part := unified.ContentPart{Type: unified.PartImage}
			if wp.ImageURL != nil {
				part.URL = wp.ImageURL.URL
				if wp.ImageURL.Detail != "" {
					part.Extra = map[string]any{"detail": wp.ImageURL.Detail}
				}
			}

			parts = append(parts, part)
		case "input_audio":
			part := unified.ContentPart{Type: unified.PartAudio}
			if wp.InputAudio != nil {
				part.Data = wp.InputAudio.Data
				part.MIMEType = wp.InputAudio.Format
			}

			parts = append(parts, part)
		case "file":
			part := unified.ContentPart{Type: unified.PartFile}
			if wp.File != nil {
				part.Data = wp.File.FileData
				part.URL = wp.File.FileID
				if wp.File.Filename != "" {
					part.Extra = map[string]any{"filename": wp.File.Filename}
				}
			}

			parts = append(parts, part)
		}
	}

	return parts, nil
}

// RequestFromUnified serializes a unified request as a chat completions
// payload. System messages stay inline; max_tokens is emitted as
// max_completion_tokens; thinking options and top_k have no mapping here
// and are dropped silently.
func (t *Transformer) RequestFromUnified(req *unified.ChatRequest) ([]byte, error) {
	if req == nil {
		return nil, unified.NewValidationError("", "nil request")
	}

	out := chatRequest{
		Model:               req.Model,
		Temperature:         req.Temperature,
		TopP:                req.TopP,
		MaxCompletionTokens: req.MaxTokens,
		Stream:              req.Stream,
	}

	if len(req.Stop) > 0 {
		stop, err := json.Marshal(req.Stop)
		if err != nil {
			return nil, err
		}

		out.Stop = stop
	}

	if req.StreamOptions != nil {
		out.StreamOptions = &streamOptions{IncludeUsage: req.StreamOptions.IncludeUsage}
	}

	var rawMessages []json.RawMessage

	for _, msg := range req.Messages {
		raw, err := messageFromUnified(msg)
		if err != nil {
			return nil, err
		}

		rawMessages = append(rawMessages, raw)
	}

	if len(rawMessages) > 0 {
		msgs, err := json.Marshal(rawMessages)
		if err != nil {
			return nil, err
		}

		out.Messages = msgs
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, wireTool{
			Type: "function",
			Function: functionSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	// A tool_choice without tools is rejected upstream; drop it.
	if req.ToolChoice != nil && len(out.Tools) > 0 {
		choice, err := encodeToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}

		out.ToolChoice = choice
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return transform.MergeExtra(payload, req.Extra)
}

func encodeToolChoice(tc *unified.ToolChoice) (json.RawMessage, error) {
	switch tc.Mode {
	case unified.ToolChoiceNamed:
		named := namedToolChoice{Type: "function"}
		named.Function.Name = tc.Name

		return json.Marshal(named)
	case unified.ToolChoiceNone:
		return json.Marshal("none")
	case unified.ToolChoiceRequired:
		return json.Marshal("required")
	default:
		return json.Marshal("auto")
	}
}

func messageFromUnified(msg unified.Message) (json.RawMessage, error) {
	obj := map[string]any{}

	switch msg.Role {
	case unified.RoleTool:
		obj["role"] = "tool"
		obj["tool_call_id"] = toolCallID(msg.ToolCallID)
		obj["content"] = msg.Text() + toolResultText(msg.Content)
	default:
		obj["role"] = string(msg.Role)

		content, err := partsToContent(msg.Content)
		if err != nil {
			return nil, err
		}

		if content != nil {
			obj["content"] = content
		}

		if len(msg.ToolCalls) > 0 {
			calls := make([]wireToolCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, wireToolCall{
					ID:   toolCallID(call.ID),
					Type: "function",
					Function: functionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}

			obj["tool_calls"] = calls
		}

		reasoning := msg.Reasoning
		if reasoning == "" {
			reasoning = reasoningText(msg.Content)
		}

		if reasoning != "" {
			obj["reasoning_content"] = reasoning
		}
	}

	for key, value := range msg.Extra {
		if _, exists := obj[key]; !exists {
			obj[key] = value
		}
	}

	return json.Marshal(obj)
}

func toolResultText(parts []unified.ContentPart) string {
	var out []byte
	for _, p := range parts {
		if p.Type == unified.PartToolResult && p.Text != "" {
			out = append(out, p.Text...)
		}
	}

	return string(out)
}

func reasoningText(parts []unified.ContentPart) string {
	var out []byte
	for _, p := range parts {
		if p.Type == unified.PartReasoning && p.Text != "" {
			out = append(out, p.Text...)
		}
	}

	return string(out)
}

// partsToContent builds the content value: a bare string for a single plain
// text part, a part array when multimodal content is present, nil when the
// message carries no content at all (tool-call-only assistant turns).
func partsToContent(parts []unified.ContentPart) (any, error) {
	if len(parts) == 0 {
		return nil, nil
	}

	if len(parts) == 1 && parts[0].Type == unified.PartText && extraIsCollapsible(parts[0].Extra) {
		return parts[0].Text, nil
	}

	var out []contentPart

	for _, part := range parts {
		switch part.Type {
		case unified.PartText:
			out = append(out, contentPart{Type: "text", Text: part.Text})
		case unified.PartImage:
			url := part.URL
			if url == "" && part.Data != "" {
				// Inline images travel as data URLs on this protocol.
				url = "data:" + part.MIMEType + ";base64," + part.Data
			}

			detail, _ := part.Extra["detail"].(string)
			out = append(out, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url, Detail: detail}})
		case unified.PartAudio:
			out = append(out, contentPart{Type: "input_audio", InputAudio: &inputAudio{
				Data:   part.Data,
				Format: part.MIMEType,
			}})
		case unified.PartFile:
			filename, _ := part.Extra["filename"].(string)
			out = append(out, contentPart{Type: "file", File: &fileRef{
				FileID:   part.URL,
				FileData: part.Data,
				Filename: filename,
			}})
		case unified.PartReasoning, unified.PartRefusal, unified.PartToolResult:
			// Carried elsewhere on this protocol (reasoning_content,
			// refusal, tool messages).
		}
	}

	if out == nil {
		return nil, nil
	}

	return out, nil
}

// extraIsCollapsible reports whether a text part's escape map blocks the
// bare-string collapse. Cache markers have no meaning on this protocol and
// are stripped, so they do not block it.
func extraIsCollapsible(extra map[string]any) bool {
	for key := range extra {
		if key != "cache_control" {
			return false
		}
	}

	return true
}
