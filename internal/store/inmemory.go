package store

import (
	"context"
	"sync"

	"github.com/carelinehq/careline/internal/consult"
)

// InMemoryStore is a simple in-process session store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]consult.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]consult.Session)}
}

func (s *InMemoryStore) SaveSession(_ context.Context, sess consult.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.Turns = append([]consult.Turn(nil), sess.Turns...)
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (consult.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return consult.Session{}, consult.ErrNotFound
	}
	sess.Turns = append([]consult.Turn(nil), sess.Turns...)
	return sess, nil
}

func (s *InMemoryStore) Close() error { return nil }
