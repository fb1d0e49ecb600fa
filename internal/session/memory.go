package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Suitable for a single instance.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Session
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Session), now: time.Now}
}

// Create stores a session, replacing any existing session with the same ID.
// Expired sessions that were never read again are dropped at the same time.
func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	if err := validate(sess); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	s.items[sess.ID] = sess
	return nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, existing := range s.items {
		if existing.Expired(now) {
			delete(s.items, id)
		}
	}
}

// Get returns a session if present and not expired.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[id]
	if !ok {
		return Session{}, false, nil
	}
	if sess.Expired(s.now()) {
		delete(s.items, id)
		return Session{}, false, nil
	}
	return sess, true, nil
}

// Delete removes a session. Missing sessions are not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
