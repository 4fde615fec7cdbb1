package transform

// ModelSetter is implemented by stream encoders that stamp outbound events
// with a model name. The unified chunk stream carries no model identity, so
// the caller seeds it before encoding begins.
type ModelSetter interface {
	SetModel(model string)
}
