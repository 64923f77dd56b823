// Package session keeps short-lived, per-session conversation history in
// process memory.
//
// Locking: the session map is guarded by an RWMutex and every session has its
// own mutex. Reads and appends hold the map read lock and the session lock, so
// requests for different sessions proceed in parallel while requests for the
// same session are serialized. SweepExpired holds the map write lock, so it
// never observes a session in the middle of an append.
package session

import (
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

const (
	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = time.Hour

	// DefaultMaxTurns is how many turns a session stores.
	DefaultMaxTurns = 50

	// DefaultWindow is how many recent turns are returned by RecentHistory.
	DefaultWindow = 5
)

type entry struct {
	mu           sync.Mutex
	turns        *turnRing
	lastActivity time.Time
}

// Store maps session ids to their conversation history.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle expiry threshold.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxTurns caps how many turns each session keeps.
func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		ttl:      DefaultTTL,
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the idle expiry threshold.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// GetOrCreate returns the id of an existing session, refreshing its last
// activity, or creates a new session when id is empty, malformed or unknown.
// The boolean reports whether a session was created.
func (s *Store) GetOrCreate(id string) (string, bool) {
	id = sanitizeID(id)

	if id != "" {
		s.mu.RLock()
		e, ok := s.sessions[id]
		if ok {
			e.mu.Lock()
			e.lastActivity = s.now()
			e.mu.Unlock()
		}
		s.mu.RUnlock()
		if ok {
			return id, false
		}
	}

	newSessionID := newID()
	s.mu.Lock()
	s.sessions[newSessionID] = s.newEntry()
	s.mu.Unlock()
	return newSessionID, true
}

// AppendTurn stores one user/assistant exchange. A session evicted since the
// request started is re-created under the same id.
func (s *Store) AppendTurn(id, user, assistant string) {
	turn := domain.Turn{User: user, Assistant: assistant}

	s.mu.RLock()
	e, ok := s.sessions[id]
	if ok {
		e.append(turn, s.now())
	}
	s.mu.RUnlock()
	if ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok = s.sessions[id]
	if !ok {
		e = s.newEntry()
		s.sessions[id] = e
	}
	e.append(turn, s.now())
}

// RecentHistory returns the messages of the last limit turns, oldest first.
// A limit <= 0 uses DefaultWindow.
func (s *Store) RecentHistory(id string, limit int) []domain.Message {
	if limit <= 0 {
		limit = DefaultWindow
	}
	turns := s.turns(id, limit)
	msgs := make([]domain.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs, t.Messages()...)
	}
	return msgs
}

// HistoryView returns the full stored history of a session. Unknown ids
// yield an empty slice.
func (s *Store) HistoryView(id string) []domain.HistoryEntry {
	return domain.HistoryEntries(s.turns(id, 0))
}

// SweepExpired deletes every session idle for longer than the TTL and
// returns how many were removed.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.sessions {
		e.mu.Lock()
		expired := now.Sub(e.lastActivity) > s.ttl
		e.mu.Unlock()
		if expired {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Exists reports whether a session is currently stored.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) newEntry() *entry {
	return &entry{
		turns:        newTurnRing(s.maxTurns),
		lastActivity: s.now(),
	}
}

func (s *Store) turns(id string, limit int) []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns.Last(limit)
}

func (e *entry) append(t domain.Turn, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns.Push(t)
	e.lastActivity = now
}
