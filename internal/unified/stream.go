package unified

// FinishReason is the canonical reason a response terminated. It is only
// meaningful on a StreamChunk with Finished set, or on a ChatResponse.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// StreamChunk is one increment of a streaming response. A chunk with every
// field empty and Finished false is a legal heartbeat and must be tolerated
// by consumers.
type StreamChunk struct {
	// Role is set on the first chunk of a response, empty afterwards.
	Role Role `json:"role,omitempty"`

	ContentDelta   string `json:"content_delta,omitempty"`
	ReasoningDelta string `json:"reasoning_delta,omitempty"`

	// ToolCalls carries at most one delta per in-flight tool call index.
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`

	// Usage arrives with the final chunk when the vendor reports it.
	Usage *Usage `json:"usage,omitempty"`

	Finished     bool         `json:"finished,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
}

// IsHeartbeat reports whether the chunk carries no information at all.
func (c StreamChunk) IsHeartbeat() bool {
	return !c.Finished && c.Role == "" && c.ContentDelta == "" &&
		c.ReasoningDelta == "" && len(c.ToolCalls) == 0 && c.Usage == nil
}
