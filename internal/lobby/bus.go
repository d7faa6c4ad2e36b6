package lobby

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Peer is the delivery end of a connection: the only view of a connection
// session the core needs. Send must not block; implementations enqueue the
// event for their socket's writer and report an error if the peer is gone
// or its buffer is full.
type Peer interface {
	ID() string
	Send(ev Event) error
}

// Bus fans events out to the connections subscribed to a lobby channel,
// regardless of which server process holds each connection's socket.
// Implementations must be safe for concurrent use. Subscribe and Unsubscribe
// are idempotent.
type Bus interface {
	Subscribe(ctx context.Context, connID, lobbyID string) error
	Unsubscribe(ctx context.Context, connID, lobbyID string) error

	// Publish delivers ev to every subscriber of lobbyID, skipping
	// excludeConnID when non-empty. A single call enqueues delivery to all
	// current subscribers before returning, so successive publishes on one
	// lobby are observed by every subscriber in the order they were issued.
	Publish(ctx context.Context, lobbyID string, ev Event, excludeConnID string) error

	// PublishTo delivers ev to a single connection.
	PublishTo(ctx context.Context, connID string, ev Event) error
}

// PeerRegistry tracks the live peers a process can deliver to. The transport
// attaches a peer when its socket opens and detaches it when the socket
// closes.
type PeerRegistry interface {
	Attach(p Peer)
	Detach(connID string)
}

// LocalBus is the in-process Bus implementation: a subscriber registry walked
// directly on publish. It also serves as the local delivery leg of the
// distributed bus.
type LocalBus struct {
	logger *zap.Logger

	mu    sync.RWMutex
	peers map[string]Peer                // connID → peer
	subs  map[string]map[string]struct{} // lobbyID → set of connIDs
}

// NewLocalBus creates an empty LocalBus.
func NewLocalBus(logger *zap.Logger) *LocalBus {
	return &LocalBus{
		logger: logger,
		peers:  make(map[string]Peer),
		subs:   make(map[string]map[string]struct{}),
	}
}

// Attach registers a peer for delivery.
func (b *LocalBus) Attach(p Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[p.ID()] = p
}

// Detach removes a peer and all of its subscriptions.
func (b *LocalBus) Detach(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, connID)
	for lobbyID, set := range b.subs {
		delete(set, connID)
		if len(set) == 0 {
			delete(b.subs, lobbyID)
		}
	}
}

// Subscribe adds the connection to the lobby channel. Idempotent.
func (b *LocalBus) Subscribe(ctx context.Context, connID, lobbyID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[lobbyID] == nil {
		b.subs[lobbyID] = make(map[string]struct{})
	}
	b.subs[lobbyID][connID] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from the lobby channel. Idempotent.
func (b *LocalBus) Unsubscribe(ctx context.Context, connID, lobbyID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[lobbyID]
	if !ok {
		return nil
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(b.subs, lobbyID)
	}
	return nil
}

// Publish delivers ev to every local subscriber of lobbyID except
// excludeConnID. Delivery failures to individual peers are logged and do not
// affect delivery to the rest.
func (b *LocalBus) Publish(ctx context.Context, lobbyID string, ev Event, excludeConnID string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for connID := range b.subs[lobbyID] {
		if connID == excludeConnID {
			continue
		}
		peer, ok := b.peers[connID]
		if !ok {
			continue
		}
		if err := peer.Send(ev); err != nil {
			b.logger.Debug("dropping event for peer",
				zap.String("conn_id", connID),
				zap.String("event", ev.Name),
				zap.Error(err),
			)
		}
	}
	return nil
}

// PublishTo delivers ev to a single connection, if this process holds it.
func (b *LocalBus) PublishTo(ctx context.Context, connID string, ev Event) error {
	b.mu.RLock()
	peer, ok := b.peers[connID]
	b.mu.RUnlock()

	if !ok {
		return nil
	}
	if err := peer.Send(ev); err != nil {
		b.logger.Debug("dropping event for peer",
			zap.String("conn_id", connID),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
	}
	return nil
}
