package drafts

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/formbot/formbot/pkg/models"
)

// MemoryStore is an in-process draft store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: map[string][]byte{}}
}

func (s *MemoryStore) Get(_ context.Context, workflowID string) (*models.Draft, error) {
	s.mu.RLock()
	data, ok := s.drafts[workflowID]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrDraftNotFound
	}

	var draft models.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, err
	}

	return &draft, nil
}

func (s *MemoryStore) Save(_ context.Context, workflowID string, draft *models.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.drafts[workflowID] = data
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, workflowID string) error {
	s.mu.Lock()
	delete(s.drafts, workflowID)
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
