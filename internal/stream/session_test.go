package stream

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/transform/anthropic"
	"llmgate/internal/transform/openai"
)

func TestSession_TranslatesAcrossProtocols(t *testing.T) {
	session := NewSession(openai.New(), anthropic.New(), "my-model")

	events := []string{
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`,
	}

	var out strings.Builder

	for _, ev := range events {
		frames, err := session.Translate([]byte(ev))
		require.NoError(t, err)

		for _, f := range frames {
			out.WriteString(string(f))
		}
	}

	s := out.String()
	assert.Contains(t, s, "event: message_start")
	assert.Contains(t, s, `"text":"Hel"`)
	assert.Contains(t, s, `"text":"lo"`)
	assert.Contains(t, s, "event: message_stop")
	assert.NoError(t, session.Err())

	usage := session.Usage()
	require.NotNil(t, usage)
	assert.Equal(t, 3, usage.InputTokens)
	assert.Equal(t, 2, usage.OutputTokens)
}

// Concurrent sessions must not share decoder or encoder state.
func TestStore_SessionIsolation(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	const sessions = 8

	var wg sync.WaitGroup

	results := make([]string, sessions)

	for i := 0; i < sessions; i++ {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			session := store.Open(openai.New(), anthropic.New(), "m")
			defer store.Remove(session.ID)

			marker := fmt.Sprintf("session-%d", n)

			var out strings.Builder

			events := []string{
				`{"choices":[{"index":0,"delta":{"role":"assistant","content":"` + marker + `"}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
			}

			for _, ev := range events {
				frames, err := session.Translate([]byte(ev))
				assert.NoError(t, err)

				for _, f := range frames {
					out.WriteString(string(f))
				}
			}

			results[n] = out.String()
		}(i)
	}

	wg.Wait()

	for i := 0; i < sessions; i++ {
		own := fmt.Sprintf("session-%d", i)
		assert.Contains(t, results[i], own)

		for j := 0; j < sessions; j++ {
			if j == i {
				continue
			}

			assert.NotContains(t, results[i], fmt.Sprintf(`"text":"session-%d"`, j))
		}
	}
}

func TestStore_GetAndRemove(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	session := store.Open(anthropic.New(), openai.New(), "m")
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	store.Remove(session.ID)
	assert.Equal(t, 0, store.Len())

	_, err = store.Get(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_EvictsIdleSessions(t *testing.T) {
	store := NewStore(time.Minute)
	defer store.Close()

	stale := store.Open(anthropic.New(), openai.New(), "m")
	fresh := store.Open(anthropic.New(), openai.New(), "m")

	stale.lastActive.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	store.evictIdle(time.Now())

	_, err := store.Get(stale.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "idle session past the TTL should be evicted")

	_, err = store.Get(fresh.ID)
	assert.NoError(t, err)
}
