// Package hub tracks the live session clients of this server, grouped by the
// session they are attached to.
package hub

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/session"
)

// Member is a running session client.
type Member interface {
	Inbox() chan<- session.Msg
	Done() <-chan struct{}
}

type HubMsg interface{ isHubMsg() }

// Register adds a connection. SessionID is empty until the client creates
// or joins a session.
type Register struct {
	ConnID    string
	SessionID string
	Member    Member
}

type Unregister struct {
	ConnID string
}

// Move re-files a connection under a newly created session.
type Move struct {
	ConnID    string
	SessionID string
}

type Stats struct {
	Sessions int `json:"sessions"`
	Clients  int `json:"clients"`
}

type GetStats struct {
	Reply chan Stats
}

// ShutdownHub stops every member and replies with the combined errors.
type ShutdownHub struct {
	Reply chan error
}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Move) isHubMsg()        {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

type entry struct {
	sessionID string
	member    Member
}

type Hub struct {
	inbox       chan HubMsg
	conns       map[string]entry
	sessions    map[string]map[string]struct{}
	log         *zap.Logger
	stopTimeout time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		inbox:       make(chan HubMsg, 64),
		conns:       make(map[string]entry),
		sessions:    make(map[string]map[string]struct{}),
		log:         log.Named("hub"),
		stopTimeout: 5 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Send delivers m unless the hub has stopped.
func (h *Hub) Send(m HubMsg) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.inbox <- m:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Stats asks the hub for its counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if !h.Send(GetStats{Reply: reply}) {
		return Stats{}, context.Canceled
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Shutdown stops all members and the hub itself.
func (h *Hub) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	if !h.Send(ShutdownHub{Reply: reply}) {
		return nil
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.conns[msg.ConnID] = entry{sessionID: msg.SessionID, member: msg.Member}
				h.file(msg.ConnID, msg.SessionID)
				h.log.Debug("client registered", zap.String("conn", msg.ConnID), zap.String("session", msg.SessionID))

			case Unregister:
				e, ok := h.conns[msg.ConnID]
				if !ok {
					break
				}
				h.unfile(msg.ConnID, e.sessionID)
				delete(h.conns, msg.ConnID)
				h.log.Debug("client unregistered", zap.String("conn", msg.ConnID))

			case Move:
				e, ok := h.conns[msg.ConnID]
				if !ok {
					break
				}
				h.unfile(msg.ConnID, e.sessionID)
				e.sessionID = msg.SessionID
				h.conns[msg.ConnID] = e
				h.file(msg.ConnID, msg.SessionID)

			case GetStats:
				msg.Reply <- Stats{Sessions: len(h.sessions), Clients: len(h.conns)}

			case ShutdownHub:
				err := h.shutdown()
				h.cancel()
				msg.Reply <- err
				return
			}
		}
	}
}

func (h *Hub) file(connID, sessionID string) {
	if sessionID == "" {
		return
	}
	set := h.sessions[sessionID]
	if set == nil {
		set = make(map[string]struct{})
		h.sessions[sessionID] = set
	}
	set[connID] = struct{}{}
}

func (h *Hub) unfile(connID, sessionID string) {
	set := h.sessions[sessionID]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(h.sessions, sessionID)
	}
}

func (h *Hub) shutdown() error {
	deadline := time.NewTimer(h.stopTimeout)
	defer deadline.Stop()

	for _, e := range h.conns {
		select {
		case e.member.Inbox() <- session.Shutdown{}:
		case <-e.member.Done():
		default:
		}
	}

	var errs error
	expired := false
	for id, e := range h.conns {
		if !expired {
			select {
			case <-e.member.Done():
				continue
			case <-deadline.C:
				expired = true
			}
		}
		select {
		case <-e.member.Done():
		default:
			errs = multierr.Append(errs, fmt.Errorf("client %s did not stop", id))
		}
	}
	clear(h.conns)
	clear(h.sessions)
	h.log.Info("hub stopped", zap.Error(errs))
	return errs
}
