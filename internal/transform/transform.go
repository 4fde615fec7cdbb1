// Package transform defines the vendor transform contract and the protocol
// factory. One Transformer exists per supported wire protocol; all of its
// conversion operations are pure and perform no I/O, so they are safe on the
// request hot path.
package transform

import (
	"llmgate/internal/unified"
)

// Transformer converts between one vendor's wire protocol and the unified
// chat model, in both directions, for requests and responses.
type Transformer interface {
	// Protocol returns the protocol identifier ("anthropic", "openai").
	Protocol() string

	// RequestToUnified decodes an inbound vendor request payload.
	// Malformed payloads surface as *unified.ValidationError.
	RequestToUnified(payload []byte) (*unified.ChatRequest, error)

	// RequestFromUnified serializes a unified request into this vendor's
	// request payload.
	RequestFromUnified(req *unified.ChatRequest) ([]byte, error)

	// ResponseToUnified decodes a vendor response payload.
	ResponseToUnified(payload []byte) (*unified.ChatResponse, error)

	// ResponseFromUnified serializes a unified response into this vendor's
	// response payload.
	ResponseFromUnified(resp *unified.ChatResponse) ([]byte, error)

	// NewStreamDecoder returns a fresh per-session decoder for this
	// vendor's event stream.
	NewStreamDecoder() StreamDecoder

	// NewStreamEncoder returns a fresh per-session encoder producing this
	// vendor's event stream.
	NewStreamEncoder() StreamEncoder
}

// StreamDecoder incrementally converts one vendor stream event at a time
// into zero or more unified chunks. Implementations own per-session state
// (open content block index, accumulated partial kind) and never buffer the
// full stream.
type StreamDecoder interface {
	// Decode consumes the JSON payload of a single vendor event. Events
	// that carry no canonical information (provenance signatures) yield no
	// chunks and no error.
	Decode(event []byte) ([]unified.StreamChunk, error)

	// Err returns the vendor-reported terminal error, if the stream carried
	// one. Chunks produced before the error remain valid.
	Err() error
}

// StreamEncoder incrementally converts unified chunks into ready-to-send
// vendor stream frames, synthesizing the vendor's own start/delta/stop
// event grammar.
type StreamEncoder interface {
	Encode(chunk unified.StreamChunk) ([][]byte, error)
}
