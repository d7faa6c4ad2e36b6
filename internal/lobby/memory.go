package lobby

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store implementation, used when no shared
// store is configured. Valid only within a single server process.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	lobbies map[string]map[string]string // lobbyID → connID → displayName
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies: make(map[string]map[string]string),
	}
}

// Put upserts the membership entry for (lobbyID, connID).
func (s *MemoryStore) Put(ctx context.Context, lobbyID, connID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lobbies[lobbyID] == nil {
		s.lobbies[lobbyID] = make(map[string]string)
	}
	s.lobbies[lobbyID][connID] = displayName
	return nil
}

// Remove deletes the membership entry. The lobby record itself is dropped
// once its last member is removed.
func (s *MemoryStore) Remove(ctx context.Context, lobbyID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.lobbies[lobbyID]
	if !ok {
		return nil
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(s.lobbies, lobbyID)
	}
	return nil
}

// List returns a copy of the lobby's connID → displayName mapping.
func (s *MemoryStore) List(ctx context.Context, lobbyID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.lobbies[lobbyID]
	out := make(map[string]string, len(members))
	for connID, name := range members {
		out[connID] = name
	}
	return out, nil
}

// Count returns the number of members in a lobby.
func (s *MemoryStore) Count(ctx context.Context, lobbyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lobbies[lobbyID]), nil
}

// Lobbies returns the IDs of all lobbies with at least one member.
func (s *MemoryStore) Lobbies(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.lobbies))
	for id := range s.lobbies {
		ids = append(ids, id)
	}
	return ids, nil
}

// LobbiesOf returns the IDs of all lobbies the connection belongs to.
func (s *MemoryStore) LobbiesOf(ctx context.Context, connID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, members := range s.lobbies {
		if _, ok := members[connID]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
