package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
)

// channelPrefix namespaces the per-lobby pub/sub channels. Redis preserves
// publish order within a channel, which is the only cross-process ordering
// the bus promises.
const channelPrefix = "lobby.events."

// envelope is the wire form of an event on the broker channel. Origin lets a
// process skip messages it published itself (those were already delivered
// locally); Exclude carries the excluded connection ID so the exclusion holds
// on every process in the cluster.
type envelope struct {
	Origin  string          `json:"origin"`
	LobbyID string          `json:"lobbyId"`
	Exclude string          `json:"exclude,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Bus is the distributed lobby.Bus implementation. Local subscribers are
// served synchronously through the wrapped LocalBus; the event is then
// published to the lobby's Redis channel so every other process in the
// cluster re-delivers it to its own local subscribers.
type Bus struct {
	local  *lobby.LocalBus
	rdb    *redis.Client
	logger *zap.Logger
	origin string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewBus creates a Bus relaying between the given local bus and Redis.
//
// Precondition: client, local, and logger must be non-nil.
func NewBus(client *Client, local *lobby.LocalBus, logger *zap.Logger) *Bus {
	return &Bus{
		local:  local,
		rdb:    client.DB(),
		logger: logger,
		origin: uuid.NewString(),
	}
}

// Start subscribes to the cluster's lobby channels and relays remote events
// to local subscribers. Blocks until Stop is called.
func (b *Bus) Start() error {
	ctx := context.Background()
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing to broker channels: %w", err)
	}

	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	b.logger.Info("broker relay started",
		zap.String("pattern", channelPrefix+"*"),
		zap.String("origin", b.origin),
	)

	for msg := range sub.Channel() {
		b.relay(ctx, msg)
	}
	return nil
}

// Stop closes the broker subscription, which unblocks Start.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		_ = b.sub.Close()
		b.sub = nil
	}
}

func (b *Bus) relay(ctx context.Context, msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("discarding malformed broker message",
			zap.String("channel", msg.Channel),
			zap.Error(err),
		)
		return
	}
	if env.Origin == b.origin {
		return
	}

	ev := lobby.Event{Name: env.Event, Payload: env.Payload}
	if err := b.local.Publish(ctx, env.LobbyID, ev, env.Exclude); err != nil {
		b.logger.Warn("relaying broker message locally",
			zap.String("lobby_id", env.LobbyID),
			zap.Error(err),
		)
	}
}

// Attach registers a peer with the local delivery leg.
func (b *Bus) Attach(p lobby.Peer) { b.local.Attach(p) }

// Detach removes a peer from the local delivery leg.
func (b *Bus) Detach(connID string) { b.local.Detach(connID) }

// Subscribe adds the connection to the lobby channel. Subscriptions are
// process-local state; the broker subscription covers all lobbies.
func (b *Bus) Subscribe(ctx context.Context, connID, lobbyID string) error {
	return b.local.Subscribe(ctx, connID, lobbyID)
}

// Unsubscribe removes the connection from the lobby channel.
func (b *Bus) Unsubscribe(ctx context.Context, connID, lobbyID string) error {
	return b.local.Unsubscribe(ctx, connID, lobbyID)
}

// Publish delivers the event to local subscribers, then hands it to the
// broker for the rest of the cluster. A broker failure is logged and the
// remote delivery dropped; it never fails the publish.
func (b *Bus) Publish(ctx context.Context, lobbyID string, ev lobby.Event, excludeConnID string) error {
	if err := b.local.Publish(ctx, lobbyID, ev, excludeConnID); err != nil {
		return err
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", ev.Name, err)
	}
	data, err := json.Marshal(envelope{
		Origin:  b.origin,
		LobbyID: lobbyID,
		Exclude: excludeConnID,
		Event:   ev.Name,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encoding broker envelope: %w", err)
	}

	if err := b.rdb.Publish(ctx, channelPrefix+lobbyID, data).Err(); err != nil {
		b.logger.Warn("broker publish failed, dropping remote delivery",
			zap.String("lobby_id", lobbyID),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
	}
	return nil
}

// PublishTo delivers the event to a single connection. The target of a
// unicast is always a socket this process holds (the joining connection), so
// no broker round trip is needed.
func (b *Bus) PublishTo(ctx context.Context, connID string, ev lobby.Event) error {
	return b.local.PublishTo(ctx, connID, ev)
}
