package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/unified"
)

func TestNew(t *testing.T) {
	for _, protocol := range Protocols() {
		tr, err := New(protocol)
		require.NoError(t, err)
		assert.Equal(t, protocol, tr.Protocol())
	}
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("gemini")

	var cerr *unified.ConfigurationError
	require.ErrorAs(t, err, &cerr)
}

func TestProtocols(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "openai"}, Protocols())
	assert.True(t, Supported("anthropic"))
	assert.False(t, Supported(""))
}
