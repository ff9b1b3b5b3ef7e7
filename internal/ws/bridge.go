package ws

import (
	"sync"

	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/types"
)

// connBridge turns session notifications into server messages on one
// connection's outbox. If the outbox is full the connection is dropped
// rather than blocking the session client.
type connBridge struct {
	connID  string
	hub     *hub.Hub
	outbox  chan types.ServerMessage
	dropped chan struct{}
	once    sync.Once
}

func newConnBridge(connID string, h *hub.Hub, size int) *connBridge {
	return &connBridge{
		connID:  connID,
		hub:     h,
		outbox:  make(chan types.ServerMessage, size),
		dropped: make(chan struct{}),
	}
}

func (b *connBridge) send(m types.ServerMessage) {
	select {
	case <-b.dropped:
	case b.outbox <- m:
	default:
		b.drop()
	}
}

func (b *connBridge) drop() { b.once.Do(func() { close(b.dropped) }) }

func (b *connBridge) SessionCreated(id string) {
	if b.hub != nil {
		b.hub.Send(hub.Move{ConnID: b.connID, SessionID: id})
	}
	b.send(types.ServerMessage{Type: types.TypeSessionCreated, SessionID: id})
}

func (b *connBridge) GameStarted() {
	b.send(types.ServerMessage{Type: types.TypeGameStarted})
}

func (b *connBridge) RosterChanged(players []string) {
	b.send(types.ServerMessage{Type: types.TypeRosterChanged, Players: players})
}

func (b *connBridge) StateChanged(contributor, value string) {
	b.send(types.ServerMessage{Type: types.TypeStateChanged, Contributor: contributor, Value: value})
}

func (b *connBridge) Focus(elementID string) {
	b.send(types.ServerMessage{Type: types.TypeFocus, ElementID: elementID})
}

func (b *connBridge) Notice(err error) {
	b.send(types.ServerMessage{Type: types.TypeNotice, Error: err.Error()})
}
