package unified

// Usage records token accounting for one exchange. CachedInputTokens is the
// portion of InputTokens served from a prompt cache.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CachedInputTokens   int `json:"cached_input_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// ChatResponse is the canonical non-streaming chat completion response.
type ChatResponse struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Role  Role   `json:"role"`

	Content   []ContentPart `json:"content"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"`

	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Text returns the concatenated plain text of the response content.
func (r ChatResponse) Text() string {
	var out []byte
	for _, p := range r.Content {
		if p.Type == PartText && p.Text != "" {
			out = append(out, p.Text...)
		}
	}

	return string(out)
}
