package session

import (
	"context"
	"encoding/json"
)

// Bridge receives notifications for the UI. Calls come from the client loop,
// one at a time and in order.
type Bridge interface {
	SessionCreated(id string)
	GameStarted()
	RosterChanged(players []string)
	StateChanged(contributor, value string)
	Focus(elementID string)
	Notice(err error)
}

// NameStore persists the local player's chosen name.
type NameStore interface {
	SavePlayerName(ctx context.Context, name string) error
}

type Msg interface{ isSessionMsg() }

// Commands from the UI.

type CreateSession struct{}

func (CreateSession) isSessionMsg() {}

type SubmitPlayerName struct{ Name string }

func (SubmitPlayerName) isSessionMsg() {}

type PublishGameState struct {
	Contributor string
	Value       string
}

func (PublishGameState) isSessionMsg() {}

type Focus struct{ ElementID string }

func (Focus) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// View is a read-only copy of the client's state.
type View struct {
	Phase      Phase
	SessionID  string
	PlayerName string
	Watching   []string
}

// Store completions, posted back into the loop.

type sessionCreated struct {
	id  string
	err error
}

type joinDone struct {
	name      string
	committed bool
	roster    []string
	err       error
}

type publishDone struct{ err error }

type watchEvent struct {
	w     *watch
	value json.RawMessage
}

func (sessionCreated) isSessionMsg() {}
func (joinDone) isSessionMsg()       {}
func (publishDone) isSessionMsg()    {}
func (watchEvent) isSessionMsg()     {}
