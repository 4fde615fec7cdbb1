// Package stream manages per-connection translation sessions. A session
// pairs a vendor stream decoder with an encoder for the client's protocol
// and keeps all ordering state between events; sessions never share
// state.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/transform"
	"llmgate/internal/unified"
)

// ErrSessionNotFound reports a session id that is unknown or already
// evicted.
var ErrSessionNotFound = errors.New("stream session not found")

// Session translates one upstream SSE stream into one client stream.
type Session struct {
	ID string

	decoder    transform.StreamDecoder
	encoder    transform.StreamEncoder
	lastActive atomic.Int64

	mu    sync.Mutex
	usage *unified.Usage
}

// NewSession builds a session translating from the upstream protocol to
// the client protocol. The client-facing model name is applied to
// encoders that announce it in their opening frames.
func NewSession(upstream, client transform.Transformer, model string) *Session {
	encoder := client.NewStreamEncoder()
	if setter, ok := encoder.(transform.ModelSetter); ok {
		setter.SetModel(model)
	}

	s := &Session{
		ID:      uuid.NewString(),
		decoder: upstream.NewStreamDecoder(),
		encoder: encoder,
	}
	s.touch()

	return s
}

// Translate consumes the data payload of one upstream event and returns
// the client frames it expands to, possibly none.
func (s *Session) Translate(event []byte) ([][]byte, error) {
	s.touch()

	chunks, err := s.decoder.Decode(event)
	if err != nil {
		return nil, err
	}

	var frames [][]byte

	for _, chunk := range chunks {
		if chunk.Usage != nil {
			s.recordUsage(chunk.Usage)
		}

		encoded, err := s.encoder.Encode(chunk)
		if err != nil {
			return nil, err
		}

		frames = append(frames, encoded...)
	}

	return frames, nil
}

// Err reports a vendor error event observed mid-stream, if any.
func (s *Session) Err() error { return s.decoder.Err() }

// Usage returns the accumulated token usage observed on the stream so
// far, or nil if the upstream reported none.
func (s *Session) Usage() *unified.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usage == nil {
		return nil
	}

	copied := *s.usage

	return &copied
}

func (s *Session) recordUsage(u *unified.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.usage == nil {
		s.usage = &unified.Usage{}
	}

	if u.InputTokens > 0 {
		s.usage.InputTokens = u.InputTokens
	}

	if u.OutputTokens > 0 {
		s.usage.OutputTokens = u.OutputTokens
	}

	if u.CachedInputTokens > 0 {
		s.usage.CachedInputTokens = u.CachedInputTokens
	}

	if u.CacheCreationTokens > 0 {
		s.usage.CacheCreationTokens = u.CacheCreationTokens
	}
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

// Store tracks live sessions and evicts those idle past the TTL, which
// covers streams abandoned without a terminal event.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

const sweepInterval = 30 * time.Second

// NewStore starts a store sweeping idle sessions every sweepInterval. A
// non-positive ttl disables eviction.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}

	if ttl > 0 {
		go s.sweep()
	}

	return s
}

// Open registers a new session.
func (s *Store) Open(upstream, client transform.Transformer, model string) *Session {
	session := NewSession(upstream, client, model)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get looks up a live session and refreshes its idle clock.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	session.touch()

	return session, nil
}

// Remove drops a finished session.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Close stops the sweeper and drops all sessions.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
}

func (s *Store) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func (s *Store) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, session := range s.sessions {
		if session.idleSince(now) > s.ttl {
			delete(s.sessions, id)
		}
	}
}
