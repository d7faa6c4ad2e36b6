package gateway

import "encoding/json"

// clientMessage is the envelope for every frame a client sends:
// {"event": "...", "data": {...}}.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// serverMessage is the envelope for every frame sent to a client.
type serverMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// joinRequest is the payload of a join-lobby frame.
type joinRequest struct {
	Username string `json:"username"`
	LobbyID  string `json:"lobbyId"`
}

// actionRequest is the payload of a player-action frame. Data is relayed
// untouched.
type actionRequest struct {
	LobbyID string          `json:"lobbyId"`
	Action  string          `json:"action"`
	Data    json.RawMessage `json:"data"`
}

// chatRequest is the payload of a chat-message frame.
type chatRequest struct {
	LobbyID string `json:"lobbyId"`
	Message string `json:"message"`
}
