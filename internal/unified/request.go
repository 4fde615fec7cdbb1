// Package unified holds the canonical chat model every vendor protocol is
// translated through. The types here are pure data: transforms in
// internal/transform produce and consume them, the stream codecs emit
// StreamChunk increments, and pricing reads the Usage counters.
package unified

// ToolChoiceMode is the canonical tool-choice policy.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNamed    ToolChoiceMode = "named"
)

// ToolChoice selects how the model may use tools. Name is set only for
// ToolChoiceNamed.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode"`
	Name string         `json:"name,omitempty"`
}

// Thinking enables extended reasoning with a token budget. Vendors without
// the feature drop it silently on the outbound path.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	// IncludeUsage asks the vendor to attach usage counters to the final
	// stream chunk.
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatRequest is the canonical chat completion request. It is built once per
// inbound request and discarded after the outbound vendor payload is
// produced.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	Thinking *Thinking `json:"thinking,omitempty"`

	// Extra is the vendor-escape map: top-level fields with no canonical
	// counterpart, keyed by their original field name.
	Extra map[string]any `json:"extra,omitempty"`
}
