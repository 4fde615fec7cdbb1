package unified

// Tool is a named function-style capability offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a model-issued request to invoke a tool. Arguments is a
// JSON-encoded string; during streaming it is assembled from deltas and is
// not valid JSON until the call is marked finished.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is one streaming increment of a tool call. Receivers must
// concatenate ArgumentsDelta values in arrival order per Index and only
// parse the result once Finished is observed.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
	Finished       bool   `json:"finished,omitempty"`
}
