package registry

import (
	"context"
	"sync"
)

// Store persists the whole agent collection. Load reads it at startup and
// Save overwrites it after every mutation.
type Store interface {
	Load(ctx context.Context) ([]RegisteredAgent, error)
	Save(ctx context.Context, agents []RegisteredAgent) error
}

// MemoryStore is a Store that keeps the collection in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	agents []RegisteredAgent
	saves  int
}

// NewMemoryStore returns a MemoryStore seeded with agents.
func NewMemoryStore(agents ...RegisteredAgent) *MemoryStore {
	return &MemoryStore{agents: cloneAll(agents)}
}

func (s *MemoryStore) Load(ctx context.Context) ([]RegisteredAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.agents), nil
}

func (s *MemoryStore) Save(ctx context.Context, agents []RegisteredAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = cloneAll(agents)
	s.saves++
	return nil
}

// Saves reports how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func cloneAll(agents []RegisteredAgent) []RegisteredAgent {
	out := make([]RegisteredAgent, len(agents))
	for i, a := range agents {
		out[i] = a.clone()
	}
	return out
}
