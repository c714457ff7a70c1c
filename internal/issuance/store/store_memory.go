package store

import (
	"context"
	"fmt"
	"sync"

	"trustmint/internal/issuance/models"
	"trustmint/pkg/platform/sentinel"
)

// InMemoryStore keeps token records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.TokenRecord
	byHash  map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]models.TokenRecord),
		byHash:  make(map[string]string),
	}
}

func (s *InMemoryStore) Save(_ context.Context, record *models.TokenRecord) error {
	if record == nil {
		return fmt.Errorf("token record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return sentinel.ErrConflict
	}
	if record.TxHash != "" {
		if _, ok := s.byHash[record.TxHash]; ok {
			return sentinel.ErrConflict
		}
		s.byHash[record.TxHash] = record.ID
	}
	s.records[record.ID] = *record
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, recordID string) (*models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (s *InMemoryStore) FindByTxHash(_ context.Context, hash string) (*models.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recordID, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	record := s.records[recordID]
	return &record, nil
}
