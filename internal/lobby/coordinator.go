package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidDisplayName rejects a join whose display name is empty after
// trimming.
var ErrInvalidDisplayName = errors.New("display name must not be empty")

// MetricRecorder records fire-and-forget counters. Failures are the
// recorder's problem, never the caller's.
type MetricRecorder interface {
	Incr(name string)
}

// Coordinator is the lobby state machine. It accepts join/action/chat/
// disconnect requests from connection sessions, mutates the membership
// store, and fans events out through the bus in the required order.
//
// Requests from different connections may be processed in any order relative
// to each other; within a single connection the transport delivers requests
// in FIFO order and the coordinator issues store and bus calls in that same
// order.
type Coordinator struct {
	store   Store
	bus     Bus
	logger  *zap.Logger
	metrics MetricRecorder
	now     func() time.Time
}

// NewCoordinator creates a Coordinator with the given dependencies.
//
// Precondition: store, bus, logger, and metrics must be non-nil.
func NewCoordinator(store Store, bus Bus, logger *zap.Logger, metrics MetricRecorder) *Coordinator {
	return &Coordinator{
		store:   store,
		bus:     bus,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Join adds the connection to a lobby under the given display name and
// synchronizes state with the existing members: the lobby is told about the
// newcomer (player-joined, newcomer excluded), then the newcomer receives a
// membership snapshot (lobby-state) that never includes itself.
//
// The membership write happens before the snapshot read so the snapshot is
// consistent with the just-written entry excluded, rather than racing an
// unrelated concurrent join.
//
// An empty lobbyID defaults to "main". A re-join by the same connection
// overwrites its display name. Returns ErrInvalidDisplayName or an error
// wrapping ErrStoreUnavailable; either is reported to the requester only.
func (c *Coordinator) Join(ctx context.Context, connID, lobbyID, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return ErrInvalidDisplayName
	}
	if lobbyID == "" {
		lobbyID = DefaultLobby
	}

	if err := c.bus.Subscribe(ctx, connID, lobbyID); err != nil {
		return fmt.Errorf("subscribing %s to %s: %w", connID, lobbyID, err)
	}

	if err := c.store.Put(ctx, lobbyID, connID, displayName); err != nil {
		// The connection never became a member, so do not leave it
		// listening on the channel.
		_ = c.bus.Unsubscribe(ctx, connID, lobbyID)
		return fmt.Errorf("joining lobby %s: %w", lobbyID, err)
	}

	ts := c.now().UnixMilli()
	joined := Event{Name: EventPlayerJoined, Payload: PlayerJoined{
		ID:        connID,
		Username:  displayName,
		Timestamp: ts,
	}}
	if err := c.bus.Publish(ctx, lobbyID, joined, connID); err != nil {
		c.logger.Warn("broadcasting player-joined failed",
			zap.String("lobby_id", lobbyID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}

	players, err := c.store.List(ctx, lobbyID)
	if err != nil {
		return fmt.Errorf("reading lobby %s state: %w", lobbyID, err)
	}
	delete(players, connID)

	state := Event{Name: EventLobbyState, Payload: LobbyState{Players: players}}
	if err := c.bus.PublishTo(ctx, connID, state); err != nil {
		c.logger.Warn("sending lobby-state failed",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}

	c.metrics.Incr("connections_opened")
	c.logger.Info("player joined lobby",
		zap.String("lobby_id", lobbyID),
		zap.String("conn_id", connID),
		zap.String("username", displayName),
		zap.Int("peers", len(players)),
	)
	return nil
}

// Action relays a gameplay action to the rest of the lobby, excluding the
// actor. The action payload is not validated or interpreted, and membership
// is not checked before relaying. Broadcast failures are logged and the
// action is dropped; they are never surfaced to the client.
func (c *Coordinator) Action(ctx context.Context, connID, lobbyID, action string, data json.RawMessage) {
	if lobbyID == "" {
		lobbyID = DefaultLobby
	}

	ev := Event{Name: EventPlayerAction, Payload: PlayerAction{
		ID:        connID,
		Action:    action,
		Data:      data,
		Timestamp: c.now().UnixMilli(),
	}}
	if err := c.bus.Publish(ctx, lobbyID, ev, connID); err != nil {
		c.logger.Warn("broadcasting player-action failed",
			zap.String("lobby_id", lobbyID),
			zap.String("conn_id", connID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// Chat broadcasts a chat message to every member of the lobby, the sender
// included. Empty or whitespace-only messages are dropped silently. The
// sender's display name is resolved from the store, falling back to
// "Anonymous" for a connection with no membership entry.
func (c *Coordinator) Chat(ctx context.Context, connID, lobbyID, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	if lobbyID == "" {
		lobbyID = DefaultLobby
	}

	players, err := c.store.List(ctx, lobbyID)
	if err != nil {
		c.logger.Warn("resolving chat sender failed, dropping message",
			zap.String("lobby_id", lobbyID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return
	}
	username := players[connID]
	if username == "" {
		username = "Anonymous"
	}

	ev := Event{Name: EventChatMessage, Payload: ChatMessage{
		ID:        connID,
		Username:  username,
		Message:   message,
		Timestamp: c.now().UnixMilli(),
	}}
	if err := c.bus.Publish(ctx, lobbyID, ev, ""); err != nil {
		c.logger.Warn("broadcasting chat-message failed",
			zap.String("lobby_id", lobbyID),
			zap.String("conn_id", connID),
			zap.Error(err),
		)
	}
}

// Disconnect removes the connection from every lobby it is a member of and
// announces each departure with player-left. The membership set is read from
// the store, not a local cache, so cleanup stays correct in distributed mode
// across process restarts.
//
// Idempotent: a second call observes empty membership and emits nothing.
// Cleanup is best-effort and never aborts on a single lobby's failure.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	defer c.metrics.Incr("connections_closed")

	lobbies, err := c.store.LobbiesOf(ctx, connID)
	if err != nil {
		c.logger.Error("reading lobby membership on disconnect",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		return
	}

	for _, lobbyID := range lobbies {
		// Resolve the display name before removal; if a concurrent
		// remove already won, fall back rather than abort the loop.
		username := "Unknown"
		if players, err := c.store.List(ctx, lobbyID); err == nil {
			if name, ok := players[connID]; ok {
				username = name
			}
		}

		if err := c.store.Remove(ctx, lobbyID, connID); err != nil {
			c.logger.Error("removing membership on disconnect",
				zap.String("lobby_id", lobbyID),
				zap.String("conn_id", connID),
				zap.Error(err),
			)
			_ = c.bus.Unsubscribe(ctx, connID, lobbyID)
			continue
		}
		_ = c.bus.Unsubscribe(ctx, connID, lobbyID)

		left := Event{Name: EventPlayerLeft, Payload: PlayerLeft{
			ID:        connID,
			Username:  username,
			Timestamp: c.now().UnixMilli(),
		}}
		if err := c.bus.Publish(ctx, lobbyID, left, connID); err != nil {
			c.logger.Warn("broadcasting player-left failed",
				zap.String("lobby_id", lobbyID),
				zap.String("conn_id", connID),
				zap.Error(err),
			)
		}

		c.logger.Info("player left lobby",
			zap.String("lobby_id", lobbyID),
			zap.String("conn_id", connID),
			zap.String("username", username),
		)
	}
}
