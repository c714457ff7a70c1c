// Package applicant caches provider applicant references by user so a
// resubmission reuses the applicant created by an earlier attempt.
package applicant

import (
	"context"
	"sync"

	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	refs map[id.UserID]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{refs: make(map[id.UserID]string)}
}

func (s *InMemoryStore) Get(_ context.Context, userID id.UserID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.refs[userID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return ref, nil
}

func (s *InMemoryStore) Put(_ context.Context, userID id.UserID, applicantRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[userID] = applicantRef
	return nil
}
