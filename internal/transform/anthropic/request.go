package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// messageFields are the per-message members with a canonical mapping.
var messageFields = []string{"role", "content"}

// RequestToUnified decodes an Anthropic Messages request into the unified
// model. The dedicated top-level system field becomes a synthetic
// system-role message; tool_result blocks inside user messages are split out
// into tool-role messages.
func (t *Transformer) RequestToUnified(payload []byte) (*unified.ChatRequest, error) {
	var req messageRequest
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
		TopK:        req.TopK,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	system, err := decodeSystem(req.System)
	if err != nil {
		return nil, err
	}

	if system != "" {
		out.Messages = append(out.Messages, unified.Message{
			Role:    unified.RoleSystem,
			Content: []unified.ContentPart{unified.TextPart(system)},
		})
	}

	for i, raw := range rawMessages {
		msgs, err := messageToUnified(raw)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}

		out.Messages = append(out.Messages, msgs...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, unified.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = toolChoiceToUnified(req.ToolChoice)
	}

	if req.Thinking != nil {
		out.Thinking = &unified.Thinking{
			Type:         req.Thinking.Type,
			BudgetTokens: req.Thinking.BudgetTokens,
		}
	}

	extra, err := transform.UnknownFields(payload, requestFields...)
	if err != nil {
		return nil, unified.NewValidationError("", "malformed JSON: "+err.Error())
	}

	out.Extra = extra

	return out, nil
}

// decodeSystem accepts the system field as a bare string or a text block
// array and flattens it to one string.
func decodeSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", unified.NewValidationError("system", "must be a string or text block array")
	}

	var sb strings.Builder

	for _, block := range blocks {
		if block.Type != blockText {
			return "", unified.NewValidationError("system", "unsupported block type "+block.Type)
		}

		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}

		sb.WriteString(block.Text)
	}

	return sb.String(), nil
}

// messageToUnified converts one wire message. A user message carrying
// tool_result blocks yields one tool-role message per result, followed by
// the remaining user content if any.
func messageToUnified(raw json.RawMessage) ([]unified.Message, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, unified.NewValidationError("", "malformed message: "+err.Error())
	}

	role := unified.Role(msg.Role)
	switch role {
	case unified.RoleUser, unified.RoleAssistant:
	default:
		return nil, unified.NewValidationError("role", "invalid role "+msg.Role)
	}

	extra, err := transform.UnknownFields(raw, messageFields...)
	if err != nil {
		return nil, unified.NewValidationError("", "malformed message: "+err.Error())
	}

	// Bare string content is the degenerate single-text-part case.
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return []unified.Message{{
			Role:    role,
			Content: []unified.ContentPart{unified.TextPart(text)},
			Extra:   extra,
		}}, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return nil, unified.NewValidationError("content", "must be a string or block array")
	}

	var (
		out       []unified.Message
		remainder unified.Message
	)

	remainder.Role = role
	remainder.Extra = extra

	for _, block := range blocks {
		switch block.Type {
		case blockToolResult:
			parts, err := toolResultParts(block)
			if err != nil {
				return nil, err
			}

			out = append(out, unified.Message{
				Role:       unified.RoleTool,
				ToolCallID: block.ToolUseID,
				Content:    parts,
			})
		case blockToolUse:
			remainder.ToolCalls = append(remainder.ToolCalls, unified.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		default:
			part, ok := blockToPart(block)
			if ok {
				remainder.Content = append(remainder.Content, part)
			}
		}
	}

	if len(remainder.Content) > 0 || len(remainder.ToolCalls) > 0 || len(out) == 0 {
		out = append(out, remainder)
	}

	return out, nil
}

// blockToPart maps a non-tool content block to a unified part. Blocks with
// no canonical variant are dropped.
func blockToPart(block contentBlock) (unified.ContentPart, bool) {
	var part unified.ContentPart

	switch block.Type {
	case blockText:
		part = unified.TextPart(block.Text)
	case blockImage:
		part = unified.ContentPart{Type: unified.PartImage}
		if block.Source != nil {
			part.URL = block.Source.URL
			part.MIMEType = block.Source.MediaType
			part.Data = block.Source.Data
		}
	case blockThinking:
		part = unified.ContentPart{Type: unified.PartReasoning, Text: block.Thinking}
		if block.Signature != "" {
			part.Extra = map[string]any{"signature": block.Signature}
		}
	case blockRedactedThinking:
		part = unified.ContentPart{
			Type:  unified.PartReasoning,
			Extra: map[string]any{"redacted_data": block.Data},
		}
	default:
		return unified.ContentPart{}, false
	}

	if len(block.CacheControl) > 0 {
		var cc any
		if err := json.Unmarshal(block.CacheControl, &cc); err == nil {
			if part.Extra == nil {
				part.Extra = make(map[string]any)
			}

			part.Extra["cache_control"] = cc
		}
	}

	return part, true
}

// toolResultParts flattens a tool_result block's content, which may be a
// bare string or a nested block array.
func toolResultParts(block contentBlock) ([]unified.ContentPart, error) {
	if len(block.Content) == 0 || string(block.Content) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(block.Content, &text); err == nil {
		return []unified.ContentPart{{
			Type:       unified.PartToolResult,
			Text:       text,
			ToolCallID: block.ToolUseID,
		}}, nil
	}

	var nested []contentBlock
	if err := json.Unmarshal(block.Content, &nested); err != nil {
		return nil, unified.NewValidationError("content", "tool_result content must be a string or block array")
	}

	var parts []unified.ContentPart

	for _, b := range nested {
		switch b.Type {
		case blockText:
			parts = append(parts, unified.ContentPart{
				Type:       unified.PartToolResult,
				Text:       b.Text,
				ToolCallID: block.ToolUseID,
			})
		case blockImage:
			part, _ := blockToPart(b)
			part.ToolCallID = block.ToolUseID
			parts = append(parts, part)
		}
	}

	return parts, nil
}

func toolChoiceToUnified(tc *wireToolChoice) *unified.ToolChoice {
	switch tc.Type {
	case "auto":
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	case "any":
		return &unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	case "none":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "tool":
		return &unified.ToolChoice{Mode: unified.ToolChoiceNamed, Name: tc.Name}
	default:
		return &unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	}
}

func toolChoiceFromUnified(tc *unified.ToolChoice) *wireToolChoice {
	switch tc.Mode {
	case unified.ToolChoiceRequired:
		return &wireToolChoice{Type: "any"}
	case unified.ToolChoiceNone:
		return &wireToolChoice{Type: "none"}
	case unified.ToolChoiceNamed:
		return &wireToolChoice{Type: "tool", Name: tc.Name}
	default:
		return &wireToolChoice{Type: "auto"}
	}
}

// RequestFromUnified serializes a unified request as an Anthropic Messages
// payload. System-role messages are hoisted into the dedicated system field;
// tool-role messages become user messages carrying tool_result blocks.
func (t *Transformer) RequestFromUnified(req *unified.ChatRequest) ([]byte, error) {
	if req == nil {
		return nil, unified.NewValidationError("", "nil request")
	}

	out := messageRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}

	var (
		systemParts []string
		rawMessages []json.RawMessage
	)

	for _, msg := range req.Messages {
		if msg.Role == unified.RoleSystem {
			systemParts = append(systemParts, msg.Text())
			continue
		}

		raw, err := messageFromUnified(msg)
		if err != nil {
			return nil, err
		}

		rawMessages = append(rawMessages, raw)
	}

	if len(systemParts) > 0 {
		system, err := json.Marshal(strings.Join(systemParts, "\n\n"))
		if err != nil {
			return nil, err
		}

		out.System = system
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
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	if req.ToolChoice != nil {
		out.ToolChoice = toolChoiceFromUnified(req.ToolChoice)
	}

	if req.Thinking != nil {
		out.Thinking = &wireThinking{
			Type:         req.Thinking.Type,
			BudgetTokens: req.Thinking.BudgetTokens,
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}

	return transform.MergeExtra(payload, req.Extra)
}

func messageFromUnified(msg unified.Message) (json.RawMessage, error) {
	obj := map[string]any{}

	switch msg.Role {
	case unified.RoleTool:
		obj["role"] = string(unified.RoleUser)
		obj["content"] = []any{toolResultBlock(msg)}
	default:
		obj["role"] = string(msg.Role)

		content, err := contentFromUnified(msg)
		if err != nil {
			return nil, err
		}

		obj["content"] = content
	}

	for key, value := range msg.Extra {
		if _, exists := obj[key]; !exists {
			obj[key] = value
		}
	}

	return json.Marshal(obj)
}

// contentFromUnified builds the content value: a bare string when the
// message is a single plain text part with nothing else attached, otherwise
// a block array.
func contentFromUnified(msg unified.Message) (any, error) {
	collapsible := len(msg.Content) == 1 &&
		msg.Content[0].Type == unified.PartText &&
		len(msg.Content[0].Extra) == 0 &&
		len(msg.ToolCalls) == 0 &&
		msg.Reasoning == ""
	if collapsible {
		return msg.Content[0].Text, nil
	}

	var blocks []any

	if msg.Reasoning != "" && !hasReasoningPart(msg.Content) {
		blocks = append(blocks, contentBlock{Type: blockThinking, Thinking: msg.Reasoning})
	}

	for _, part := range msg.Content {
		block, ok := partToBlock(part)
		if ok {
			blocks = append(blocks, block)
		}
	}

	for _, call := range msg.ToolCalls {
		input := json.RawMessage(call.Arguments)
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}

		blocks = append(blocks, contentBlock{
			Type:  blockToolUse,
			ID:    toolCallID(call.ID),
			Name:  call.Name,
			Input: input,
		})
	}

	if blocks == nil {
		blocks = []any{}
	}

	return blocks, nil
}

func hasReasoningPart(parts []unified.ContentPart) bool {
	for _, p := range parts {
		if p.Type == unified.PartReasoning {
			return true
		}
	}

	return false
}

func partToBlock(part unified.ContentPart) (any, bool) {
	var block contentBlock

	switch part.Type {
	case unified.PartText:
		block = contentBlock{Type: blockText, Text: part.Text}
	case unified.PartImage:
		src := &blockSource{MediaType: part.MIMEType}
		if part.URL != "" {
			src.Type = "url"
			src.URL = part.URL
		} else {
			src.Type = "base64"
			src.Data = part.Data
		}

		block = contentBlock{Type: blockImage, Source: src}
	case unified.PartReasoning:
		if data, ok := part.Extra["redacted_data"].(string); ok {
			return contentBlock{Type: blockRedactedThinking, Data: data}, true
		}

		block = contentBlock{Type: blockThinking, Thinking: part.Text}
		if sig, ok := part.Extra["signature"].(string); ok {
			block.Signature = sig
		}
	case unified.PartRefusal:
		// The Messages API has no refusal block; carry it as text.
		block = contentBlock{Type: blockText, Text: part.Text}
	default:
		return nil, false
	}

	if cc, ok := part.Extra["cache_control"]; ok {
		raw, err := json.Marshal(cc)
		if err == nil {
			block.CacheControl = raw
		}
	}

	return block, true
}

func toolResultBlock(msg unified.Message) contentBlock {
	block := contentBlock{
		Type:      blockToolResult,
		ToolUseID: toolCallID(msg.ToolCallID),
	}

	// Single plain text result collapses to a bare string payload.
	if len(msg.Content) == 1 && msg.Content[0].Type == unified.PartToolResult && len(msg.Content[0].Extra) == 0 {
		raw, err := json.Marshal(msg.Content[0].Text)
		if err == nil {
			block.Content = raw
		}

		return block
	}

	var nested []contentBlock

	for _, part := range msg.Content {
		switch part.Type {
		case unified.PartToolResult, unified.PartText:
			nested = append(nested, contentBlock{Type: blockText, Text: part.Text})
		case unified.PartImage:
			raw, ok := partToBlock(part)
			if ok {
				if cb, ok := raw.(contentBlock); ok {
					nested = append(nested, cb)
				}
			}
		}
	}

	if raw, err := json.Marshal(nested); err == nil {
		block.Content = raw
	}

	return block
}
