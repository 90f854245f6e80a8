package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskforge/internal/registry"
)

// Keys of the kv table.
const (
	AgentRegistryKey = "agent_registry" // JSON array of registry.RegisteredAgent
	KnowledgeKey     = "knowledge_base" // accumulated results text
)

// GetValue returns the raw value stored under key.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("key %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to query key %q: %w", key, err)
	}
	return value, nil
}

// PutValue stores value under key, replacing any previous value.
func (s *SQLiteStore) PutValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store key %q: %w", key, err)
	}
	return nil
}

// DeleteValue removes key. Deleting a missing key is not an error.
func (s *SQLiteStore) DeleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// AgentStore persists the agent registry as one JSON document in the kv table.
type AgentStore struct {
	store *SQLiteStore
	key   string
}

// NewAgentStore returns a registry.Store backed by s under AgentRegistryKey.
func NewAgentStore(s *SQLiteStore) *AgentStore {
	return &AgentStore{store: s, key: AgentRegistryKey}
}

var _ registry.Store = (*AgentStore)(nil)

// Load reads the whole collection. A missing key is an empty registry.
func (a *AgentStore) Load(ctx context.Context) ([]registry.RegisteredAgent, error) {
	raw, err := a.store.GetValue(ctx, a.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var agents []registry.RegisteredAgent
	if err := json.Unmarshal([]byte(raw), &agents); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", a.key, err)
	}
	return agents, nil
}

// Save overwrites the whole collection.
func (a *AgentStore) Save(ctx context.Context, agents []registry.RegisteredAgent) error {
	if agents == nil {
		agents = []registry.RegisteredAgent{}
	}
	raw, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", a.key, err)
	}
	return a.store.PutValue(ctx, a.key, string(raw))
}
