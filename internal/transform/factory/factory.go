// Package factory resolves protocol identifiers to vendor transformers. The
// mapping is an explicit table so the supported protocol set is testable and
// visible in one place.
package factory

import (
	"sort"

	"llmgate/internal/transform"
	"llmgate/internal/transform/anthropic"
	"llmgate/internal/transform/openai"
	"llmgate/internal/unified"
)

var builders = map[string]func() transform.Transformer{
	anthropic.ProtocolName: func() transform.Transformer { return anthropic.New() },
	openai.ProtocolName:    func() transform.Transformer { return openai.New() },
}

// New returns the transformer for a protocol identifier. Unknown protocols
// are a configuration fault, not a request fault.
func New(protocol string) (transform.Transformer, error) {
	build, ok := builders[protocol]
	if !ok {
		return nil, &unified.ConfigurationError{Detail: "unknown protocol: " + protocol}
	}

	return build(), nil
}

// Supported reports whether a protocol identifier is known.
func Supported(protocol string) bool {
	_, ok := builders[protocol]
	return ok
}

// Protocols lists the supported protocol identifiers in stable order.
func Protocols() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
