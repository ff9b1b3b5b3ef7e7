// Package types holds the JSON messages exchanged with the browser.
//
// Client -> Server
//
//	create_session: {}
//	submit_player_name: name
//	publish_game_state: contributor, value
//	focus: element_id
//
// Server -> Client
//
//	welcome: session_id, player_name (both optional)
//	session_created: session_id
//	game_started: {}
//	roster_changed: players
//	state_changed: contributor, value
//	focus: element_id
//	notice: error (a command that did not take effect)
//	error: error (malformed or unknown inbound message)
package types

// Inbound message types.
const (
	TypeCreateSession    = "create_session"
	TypeSubmitPlayerName = "submit_player_name"
	TypePublishGameState = "publish_game_state"
	TypeFocus            = "focus"
)

// Outbound message types.
const (
	TypeWelcome        = "welcome"
	TypeSessionCreated = "session_created"
	TypeGameStarted    = "game_started"
	TypeRosterChanged  = "roster_changed"
	TypeStateChanged   = "state_changed"
	TypeNotice         = "notice"
	TypeError          = "error"
)

type ClientMessage struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Contributor string `json:"contributor,omitempty"`
	Value       string `json:"value,omitempty"`
	ElementID   string `json:"element_id,omitempty"`
}

type ServerMessage struct {
	Type        string   `json:"type"`
	SessionID   string   `json:"session_id,omitempty"`
	PlayerName  string   `json:"player_name,omitempty"`
	Players     []string `json:"players"`
	Contributor string   `json:"contributor,omitempty"`
	Value       string   `json:"value,omitempty"`
	ElementID   string   `json:"element_id,omitempty"`
	Error       string   `json:"error,omitempty"`
}
