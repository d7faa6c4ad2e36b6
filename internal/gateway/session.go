package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
)

const (
	// writeWait is the per-write deadline.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames.
	maxMessageSize = 4096
	// sendBufferSize is the per-session outbound event buffer. A session
	// that cannot drain it has its events dropped, not the whole lobby
	// stalled.
	sendBufferSize = 64
)

// Session is one client's WebSocket connection: the reader that turns frames
// into coordinator requests and the writer that delivers lobby events. It is
// the lobby.Peer for its connection ID.
type Session struct {
	id     string
	conn   *websocket.Conn
	coord  *lobby.Coordinator
	logger *zap.Logger

	send      chan lobby.Event
	closed    chan struct{}
	closeOnce sync.Once
}

// newSession wraps an upgraded connection.
func newSession(id string, conn *websocket.Conn, coord *lobby.Coordinator, logger *zap.Logger) *Session {
	return &Session{
		id:     id,
		conn:   conn,
		coord:  coord,
		logger: logger.With(zap.String("conn_id", id)),
		send:   make(chan lobby.Event, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (s *Session) ID() string { return s.id }

// Send enqueues an event for delivery to this client. It never blocks: a
// closed session or a full buffer reports an error and the event is dropped.
func (s *Session) Send(ev lobby.Event) error {
	select {
	case <-s.closed:
		return fmt.Errorf("session %s is closed", s.id)
	default:
	}
	select {
	case s.send <- ev:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// readPump consumes frames until the connection dies, dispatching each to
// the coordinator in arrival order. It blocks; the caller runs disconnect
// cleanup when it returns.
func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, data)
	}
}

// dispatch decodes one client frame and routes it to the coordinator.
// Malformed frames earn the client an error event; the connection stays up.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError("malformed message")
		return
	}

	switch msg.Event {
	case "join-lobby":
		var req joinRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError("malformed join-lobby payload")
			return
		}
		if err := s.coord.Join(ctx, s.id, req.LobbyID, req.Username); err != nil {
			switch {
			case errors.Is(err, lobby.ErrInvalidDisplayName):
				s.sendError("username must not be empty")
			default:
				s.logger.Error("join failed", zap.Error(err))
				s.sendError("Failed to join lobby")
			}
		}

	case "player-action":
		var req actionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError("malformed player-action payload")
			return
		}
		s.coord.Action(ctx, s.id, req.LobbyID, req.Action, req.Data)

	case "chat-message":
		var req chatRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.sendError("malformed chat-message payload")
			return
		}
		s.coord.Chat(ctx, s.id, req.LobbyID, req.Message)

	default:
		s.logger.Debug("ignoring unknown event", zap.String("event", msg.Event))
	}
}

func (s *Session) sendError(message string) {
	_ = s.Send(lobby.Event{Name: lobby.EventError, Payload: lobby.ErrorEvent{Message: message}})
}

// writePump serializes queued events onto the socket and keeps the
// connection alive with pings. It exits when the session closes or a write
// fails, closing the socket either way.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(serverMessage{Event: ev.Name, Data: ev.Payload}); err != nil {
				s.logger.Debug("connection write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
