// Package conversation keeps per-session message history with bounded retention.
package conversation

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
)

// Store maps session IDs to sessions. Sessions are created on first use and only
// removed by Delete.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxMessages int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics reports the session count.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store keeping at most maxMessages per session.
func NewStore(maxMessages int, opts ...Option) *Store {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	s := &Store{sessions: make(map[string]*Session), maxMessages: maxMessages, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) session(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{id: id, max: s.maxMessages, turn: make(chan struct{}, 1)}
		s.sessions[id] = sess
		s.metrics.SetSessions(len(s.sessions))
		s.logger.Debug("session created", zap.String("session_id", id))
	}
	return sess
}

// Lock waits for exclusive access to the session, creating it if needed. The caller
// must Unlock the returned session. Turns on different sessions never block each other.
func (s *Store) Lock(ctx context.Context, id string) (*Session, error) {
	sess := s.session(id)
	select {
	case sess.turn <- struct{}{}:
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Append adds messages to a session, serialized with any turn holding the session lock.
func (s *Store) Append(id string, msgs ...models.Message) {
	sess, _ := s.Lock(context.Background(), id)
	defer sess.Unlock()
	sess.Append(msgs...)
}

// History returns a copy of the session's messages, oldest first.
func (s *Store) History(id string) []models.Message {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.History()
}

// Seed sets the initial history of a session that has no messages yet. It reports
// whether the seed was applied.
func (s *Store) Seed(id string, msgs []models.Message) bool {
	sess, _ := s.Lock(context.Background(), id)
	defer sess.Unlock()
	return sess.Seed(msgs)
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.metrics.SetSessions(len(s.sessions))
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Session is one conversation. Its methods are safe for concurrent use; holding the
// turn lock (Store.Lock) additionally keeps other writers out for a whole turn.
type Session struct {
	id   string
	max  int
	turn chan struct{}

	mu       sync.RWMutex
	messages []models.Message
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// Unlock releases the turn lock.
func (s *Session) Unlock() { <-s.turn }

// History returns a copy of the messages, oldest first.
func (s *Session) History() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of retained messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Seed applies msgs only when the session is empty.
func (s *Session) Seed(msgs []models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 0 || len(msgs) == 0 {
		return false
	}
	s.messages = append(s.messages, msgs...)
	s.evict()
	return true
}

// Append adds msgs in order as one step, then evicts down to the cap.
func (s *Session) Append(msgs ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
	s.evict()
}

// evict drops the oldest non-system messages until the cap holds. System messages
// are never dropped, so a session made only of system messages may exceed the cap.
// A tool observation never outlives its request: they leave together.
func (s *Session) evict() {
	for len(s.messages) > s.max {
		i := slices.IndexFunc(s.messages, func(m models.Message) bool { return m.Role != models.RoleSystem })
		if i < 0 {
			return
		}
		end := i + 1
		for end < len(s.messages) && s.messages[end].Role == models.RoleTool {
			end++
		}
		s.messages = slices.Delete(s.messages, i, end)
	}
}
