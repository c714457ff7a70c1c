package document

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustmint/internal/verification/models"
	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in process memory. All mutations happen under
// one mutex, which serializes transitions per document.
type InMemoryStore struct {
	mu        sync.RWMutex
	documents map[id.DocumentID]models.Document
	byCheck   map[string]id.DocumentID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		documents: make(map[id.DocumentID]models.Document),
		byCheck:   make(map[string]id.DocumentID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[doc.ID]; ok {
		return sentinel.ErrConflict
	}
	s.documents[doc.ID] = *doc
	if doc.CheckRef != "" {
		s.byCheck[doc.CheckRef] = doc.ID
	}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, documentID id.DocumentID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &doc, nil
}

func (s *InMemoryStore) FindByCheckRef(_ context.Context, checkRef string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	documentID, ok := s.byCheck[checkRef]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	doc := s.documents[documentID]
	return &doc, nil
}

func (s *InMemoryStore) AttachReferences(_ context.Context, documentID id.DocumentID, applicantRef, checkRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if doc.Status != models.DocumentSubmitted {
		return sentinel.ErrInvalidState
	}
	if owner, taken := s.byCheck[checkRef]; taken && owner != documentID {
		return sentinel.ErrConflict
	}
	if doc.CheckRef != "" && doc.CheckRef != checkRef {
		delete(s.byCheck, doc.CheckRef)
	}
	doc.ApplicantRef = applicantRef
	doc.CheckRef = checkRef
	doc.UpdatedAt = at
	s.documents[documentID] = doc
	s.byCheck[checkRef] = documentID
	return nil
}

func (s *InMemoryStore) Transition(_ context.Context, documentID id.DocumentID, to models.DocumentStatus, at time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("transition target %q is not terminal", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if doc.Status != models.DocumentSubmitted {
		return false, nil
	}
	doc.Status = to
	doc.VerifiedAt = &at
	doc.UpdatedAt = at
	s.documents[documentID] = doc
	return true, nil
}

func (s *InMemoryStore) ListVerifiedTypes(_ context.Context, userID id.UserID) ([]models.DocumentType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[models.DocumentType]bool{}
	var types []models.DocumentType
	for _, doc := range s.documents {
		if doc.UserID != userID || doc.Status != models.DocumentVerified || seen[doc.Type] {
			continue
		}
		seen[doc.Type] = true
		types = append(types, doc.Type)
	}
	return types, nil
}
