package redisstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
)

const (
	// lobbyKeyPrefix namespaces per-lobby membership hashes:
	// lobby:<lobbyID> → { connID: displayName }.
	lobbyKeyPrefix = "lobby:"
	// connKeyPrefix namespaces the reverse index sets:
	// conn:<connID> → { lobbyID, ... }. Disconnect cleanup reads this.
	connKeyPrefix = "conn:"
)

// Store is the shared lobby.Store implementation. Membership entries live in
// Redis hashes, so every server process connected to the same Redis observes
// the same membership. Redis drops empty hashes and sets on its own, so an
// emptied lobby leaves no key behind.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store on the given client.
//
// Precondition: client must be non-nil and connected.
func NewStore(client *Client) *Store {
	return &Store{rdb: client.DB()}
}

func lobbyKey(lobbyID string) string { return lobbyKeyPrefix + lobbyID }
func connKey(connID string) string   { return connKeyPrefix + connID }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, lobby.ErrStoreUnavailable, err)
}

// Put upserts the membership entry and the reverse index in one round trip.
func (s *Store) Put(ctx context.Context, lobbyID, connID, displayName string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, lobbyKey(lobbyID), connID, displayName)
		pipe.SAdd(ctx, connKey(connID), lobbyID)
		return nil
	})
	if err != nil {
		return unavailable("writing membership", err)
	}
	return nil
}

// Remove deletes the membership entry and the reverse index entry.
// Removing an absent entry is a no-op.
func (s *Store) Remove(ctx context.Context, lobbyID, connID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, lobbyKey(lobbyID), connID)
		pipe.SRem(ctx, connKey(connID), lobbyID)
		return nil
	})
	if err != nil {
		return unavailable("removing membership", err)
	}
	return nil
}

// List returns the connID → displayName mapping for a lobby. A lobby with no
// members yields an empty map.
func (s *Store) List(ctx context.Context, lobbyID string) (map[string]string, error) {
	members, err := s.rdb.HGetAll(ctx, lobbyKey(lobbyID)).Result()
	if err != nil {
		return nil, unavailable("listing membership", err)
	}
	if members == nil {
		members = make(map[string]string)
	}
	return members, nil
}

// Count returns the number of members in a lobby.
func (s *Store) Count(ctx context.Context, lobbyID string) (int, error) {
	n, err := s.rdb.HLen(ctx, lobbyKey(lobbyID)).Result()
	if err != nil {
		return 0, unavailable("counting membership", err)
	}
	return int(n), nil
}

// Lobbies returns the IDs of all lobbies with at least one member.
func (s *Store) Lobbies(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.rdb.Scan(ctx, 0, lobbyKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), lobbyKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scanning lobbies", err)
	}
	return ids, nil
}

// LobbiesOf returns the IDs of all lobbies the connection is a member of,
// read from the reverse index.
func (s *Store) LobbiesOf(ctx context.Context, connID string) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, connKey(connID)).Result()
	if err != nil {
		return nil, unavailable("reading connection membership", err)
	}
	return ids, nil
}
