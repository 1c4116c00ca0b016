package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/ragent/internal/session"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*session.Session)}
}

func (s *InMemoryStore) Load(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return stored.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var current int64
	if stored, ok := s.sessions[sess.ID]; ok {
		current = stored.Version
	}
	if current != sess.Version {
		return session.ErrVersionConflict
	}
	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, infoOf(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
