// Package lobby provides the lobby membership and state-synchronization core:
// the membership store contract, the broadcast bus contract, and the
// coordinator that drives join/action/chat/disconnect handling.
package lobby

import "encoding/json"

// Event names delivered to clients.
const (
	EventLobbyState   = "lobby-state"
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventPlayerAction = "player-action"
	EventChatMessage  = "chat-message"
	EventError        = "error"
)

// DefaultLobby is the lobby clients are placed in when they do not name one.
const DefaultLobby = "main"

// Event is a named payload fanned out to lobby subscribers.
type Event struct {
	Name    string
	Payload any
}

// PlayerJoined announces a new member to the rest of the lobby.
type PlayerJoined struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// PlayerLeft announces a departed member to the rest of the lobby.
type PlayerLeft struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

// PlayerAction relays a gameplay action to the rest of the lobby. Data is
// opaque to the server; its semantics belong to the receiving clients.
type PlayerAction struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage carries a chat line to every member of the lobby, sender included.
type ChatMessage struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// LobbyState is the membership snapshot sent to a connection when it joins.
// Keys are connection IDs, values are display names. The joining connection
// never appears in its own snapshot.
type LobbyState struct {
	Players map[string]string `json:"players"`
}

// ErrorEvent reports a failed request to the requester only.
type ErrorEvent struct {
	Message string `json:"message"`
}
