package user

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustmint/internal/verification/models"
	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	users map[id.UserID]models.User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[id.UserID]models.User)}
}

// Save inserts or replaces the profile fields of a user. Trust fields of an
// existing user are kept.
func (s *InMemoryStore) Save(_ context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		existing.FirstName = u.FirstName
		existing.LastName = u.LastName
		existing.UpdatedAt = u.UpdatedAt
		s.users[u.ID] = existing
		return nil
	}
	stored := *u
	if stored.TrustStatus == "" {
		stored.TrustStatus = models.TrustUnverified
	}
	s.users[u.ID] = stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &u, nil
}

func (s *InMemoryStore) RaiseTrust(_ context.Context, userID id.UserID, level int, status models.TrustStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if level <= u.TrustLevel {
		return false, nil
	}
	u.TrustLevel = level
	u.TrustStatus = status
	u.UpdatedAt = at
	s.users[userID] = u
	return true, nil
}

func (s *InMemoryStore) MarkInProgress(_ context.Context, userID id.UserID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if u.TrustStatus != models.TrustUnverified {
		return false, nil
	}
	u.TrustStatus = models.TrustInProgress
	u.UpdatedAt = at
	s.users[userID] = u
	return true, nil
}
