package session

import (
	"sync"
)

// MemoryStore is the in-memory Store implementation.
//
// Every mutation builds a fresh slice, so a snapshot returned by List is never
// modified afterwards and readers never observe a half-updated session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions []Session
	index    map[string]int

	locksMu sync.Mutex
	locks   map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore creates a store seeded with the given sessions, in order.
func NewMemoryStore(seed ...Session) *MemoryStore {
	s := &MemoryStore{
		index: make(map[string]int),
		locks: make(map[string]*idLock),
	}
	for _, sess := range seed {
		if _, dup := s.index[sess.ID]; dup {
			continue
		}
		s.index[sess.ID] = len(s.sessions)
		s.sessions = append(s.sessions, sess)
	}
	return s
}

// Add implements Store.
func (s *MemoryStore) Add(sess Session) error {
	if sess.ID == "" {
		return ErrValidation("session id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[sess.ID]; exists {
		return ErrConflict(sess.ID)
	}
	next := make([]Session, len(s.sessions), len(s.sessions)+1)
	copy(next, s.sessions)
	s.sessions = append(next, sess)
	s.index[sess.ID] = len(s.sessions) - 1
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return
	}
	next := make([]Session, 0, len(s.sessions)-1)
	next = append(next, s.sessions[:pos]...)
	next = append(next, s.sessions[pos+1:]...)
	s.sessions = next
	s.reindex()
}

// Get implements Store.
func (s *MemoryStore) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, exists := s.index[id]
	if !exists {
		return Session{}, ErrSessionNotFound(id)
	}
	return s.sessions[pos], nil
}

// List implements Store.
func (s *MemoryStore) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Replace implements Store.
func (s *MemoryStore) Replace(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[sess.ID]
	if !exists {
		return ErrSessionNotFound(sess.ID)
	}
	s.swap(pos, sess)
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(id string, fn func(Session) Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return Session{}, ErrSessionNotFound(id)
	}
	updated := fn(s.sessions[pos])
	updated.ID = id
	s.swap(pos, updated)
	return updated, nil
}

// Lock implements Store.
func (s *MemoryStore) Lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// swap must be called with mu held.
func (s *MemoryStore) swap(pos int, sess Session) {
	next := make([]Session, len(s.sessions))
	copy(next, s.sessions)
	next[pos] = sess
	s.sessions = next
}

// reindex must be called with mu held.
func (s *MemoryStore) reindex() {
	s.index = make(map[string]int, len(s.sessions))
	for i, sess := range s.sessions {
		s.index[sess.ID] = i
	}
}
