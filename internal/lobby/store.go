package lobby

import (
	"context"
	"errors"
)

// ErrStoreUnavailable indicates the membership backing store could not be
// reached. Callers match it with errors.Is.
var ErrStoreUnavailable = errors.New("membership store unavailable")

// Store is the membership source of truth: which connections are in which
// lobbies, and under what display name. Implementations must be safe for
// concurrent use. Two implementations exist: MemoryStore (single process) and
// redisstore.Store (shared across a cluster); they must produce identical
// results for any single-process sequence of operations.
type Store interface {
	// Put upserts the membership entry for (lobbyID, connID). A re-join by
	// the same connection overwrites the display name (last write wins).
	Put(ctx context.Context, lobbyID, connID, displayName string) error

	// Remove deletes the membership entry. Removing an absent entry is a
	// no-op, not an error.
	Remove(ctx context.Context, lobbyID, connID string) error

	// List returns the connID → displayName mapping for a lobby. A lobby
	// with no members yields an empty map, never an error.
	List(ctx context.Context, lobbyID string) (map[string]string, error)

	// Count returns the number of members in a lobby.
	Count(ctx context.Context, lobbyID string) (int, error)

	// Lobbies returns the IDs of all lobbies with at least one member.
	Lobbies(ctx context.Context) ([]string, error)

	// LobbiesOf returns the IDs of all lobbies the connection is currently
	// a member of. Disconnect cleanup reads this from the store rather than
	// a local cache so it stays correct across process restarts.
	LobbiesOf(ctx context.Context, connID string) ([]string, error)
}
