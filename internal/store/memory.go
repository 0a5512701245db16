package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/continuumhq/continuum/internal/domain"
)

// MemoryGraphStore keeps graphs in process memory, keyed by conversation
// id. Graphs are copied on the way in and out so callers never share
// mutable state with the store.
type MemoryGraphStore struct {
	mu     sync.RWMutex
	graphs map[string][]byte
}

var _ domain.GraphStore = (*MemoryGraphStore)(nil)

func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{graphs: make(map[string][]byte)}
}

func (s *MemoryGraphStore) Get(ctx context.Context, conversationID string) (*domain.CommitmentGraph, error) {
	s.mu.RLock()
	raw, ok := s.graphs[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var g domain.CommitmentGraph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode graph %s: %w", conversationID, err)
	}
	return domain.MigrateGraph(&g), nil
}

func (s *MemoryGraphStore) Put(ctx context.Context, graph *domain.CommitmentGraph) error {
	raw, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", graph.ConversationID, err)
	}
	s.mu.Lock()
	s.graphs[graph.ConversationID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryGraphStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.graphs, conversationID)
	return nil
}
