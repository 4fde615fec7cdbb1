package unified

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates ContentPart variants. Only the fields belonging to
// the active variant are meaningful; consumers must switch on Type and never
// read a different variant's fields.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartAudio      PartType = "audio"
	PartFile       PartType = "file"
	PartToolResult PartType = "tool_result"
	PartReasoning  PartType = "reasoning"
	PartRefusal    PartType = "refusal"
)

// ContentPart is one typed fragment of a message's content. It is a closed
// tagged union: text-like variants carry Text, binary variants carry
// URL/MIMEType/Data, tool results carry ToolCallID plus Text.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text payload for text, reasoning, refusal and textual tool results.
	Text string `json:"text,omitempty"`

	// Binary payloads (image, audio, file) reference either a URL or inline
	// base64 data with its media type.
	URL      string `json:"url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`

	// ToolCallID links a tool_result part to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Extra preserves vendor fields with no canonical equivalent
	// (e.g. cache markers) so same-vendor round trips stay lossless.
	Extra map[string]any `json:"extra,omitempty"`
}

// TextPart builds a plain text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// Message is one turn of a conversation. Content is always a part list; a
// vendor message whose content is a bare string becomes a single text part.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`

	// ToolCallID is set on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls are the calls issued by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Reasoning carries extended-thinking text for vendors that return it
	// separately from regular content.
	Reasoning string `json:"reasoning,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Text returns the concatenated plain text of all text parts.
func (m Message) Text() string {
	var out []byte
	for _, p := range m.Content {
		if p.Type == PartText && p.Text != "" {
			out = append(out, p.Text...)
		}
	}

	return string(out)
}
