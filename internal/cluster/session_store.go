package cluster

import (
	"sync"
	"sync/atomic"

	"github.com/arenadb/arenasql/internal/session"
)

// SessionStore hands out monotonic u64 session ids and tracks live
// sessions. Clearing the store closes every session, which rolls back all
// active transactions.
type SessionStore struct {
	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*session.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint64]*session.Session)}
}

// NextID allocates a session id.
func (s *SessionStore) NextID() uint64 { return s.nextID.Add(1) }

func (s *SessionStore) Put(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

func (s *SessionStore) Get(id uint64) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove closes and forgets one session.
func (s *SessionStore) Remove(id uint64) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// Clear closes every session.
func (s *SessionStore) Clear() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[uint64]*session.Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
