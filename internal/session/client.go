// Package session keeps one UI client in sync with a shared session stored in
// a store.Store: it creates sessions, admits the local player into the roster,
// publishes and consumes game state, and drives the setup/started lifecycle.
//
// Each Client is a single goroutine reading its inbox. Store calls run in
// helper goroutines that post their results back, so all client state is
// touched by the loop only.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/codec"
	"github.com/DoyleJ11/gamesync/internal/store"
)

type Config struct {
	Store  store.Store
	Codec  codec.Codec
	Bridge Bridge
	Names  NameStore // optional
	Logger *zap.Logger
	Root   string
	Now    func() time.Time
}

type Client struct {
	inbox    chan Msg
	store    store.Store
	codec    codec.Codec
	bridge   Bridge
	names    NameStore
	log      *zap.Logger
	root     string
	now      func() time.Time
	identity *Identity

	life       lifecycle
	playerName string
	creating   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(parent context.Context, identity *Identity, cfg Config) *Client {
	ctx, cancel := context.WithCancel(parent)
	if identity == nil {
		identity = &Identity{}
	}
	c := &Client{
		inbox:    make(chan Msg, 64),
		store:    cfg.Store,
		codec:    cfg.Codec,
		bridge:   cfg.Bridge,
		names:    cfg.Names,
		log:      cfg.Logger,
		root:     cfg.Root,
		now:      cfg.Now,
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if c.codec == nil {
		c.codec = codec.Identity{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.root == "" {
		c.root = DefaultRoot
	}
	if c.now == nil {
		c.now = time.Now
	}

	go c.loop()
	return c
}

// Inbox accepts UI commands.
func (c *Client) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the loop has exited and every watch is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) loop() {
	defer close(c.done)

	if id, ok := c.identity.Current(); ok {
		c.log = c.log.With(zap.String("session", id))
		c.enterAwaitingStart()
	}

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case CreateSession:
				c.createSession()

			case sessionCreated:
				c.sessionCreated(msg)

			case SubmitPlayerName:
				c.join(msg.Name)

			case joinDone:
				c.joined(msg)

			case PublishGameState:
				c.publish(msg.Contributor, msg.Value)

			case publishDone:
				c.published(msg)

			case watchEvent:
				c.observe(msg)

			case Focus:
				c.bridge.Focus(msg.ElementID)

			case GetState:
				msg.Reply <- c.view()

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Client) shutdown() {
	c.life.closeAll()
	c.cancel()
}

// post hands a store result back to the loop unless the client is gone.
func (c *Client) post(m Msg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Client) sessionPaths() (paths, bool) {
	id, ok := c.identity.Current()
	return paths{root: c.root, id: id}, ok
}

func (c *Client) notice(err error) {
	c.log.Warn("operation did not take effect", zap.Error(err))
	c.bridge.Notice(err)
}

func (c *Client) view() View {
	id, _ := c.identity.Current()
	return View{
		Phase:      c.life.phase,
		SessionID:  id,
		PlayerName: c.playerName,
		Watching:   c.life.watching(),
	}
}

func (c *Client) createSession() {
	if _, ok := c.identity.Current(); ok || c.creating {
		c.notice(ErrSessionExists)
		return
	}
	c.creating = true
	go func() {
		id, err := CreateDocument(c.ctx, c.store, c.root, c.now())
		c.post(sessionCreated{id: id, err: err})
	}()
}

func (c *Client) sessionCreated(msg sessionCreated) {
	c.creating = false
	if msg.err != nil {
		c.notice(msg.err)
		return
	}
	if err := c.identity.Adopt(msg.id); err != nil {
		c.notice(err)
		return
	}
	c.log = c.log.With(zap.String("session", msg.id))
	c.log.Info("session created")
	c.bridge.SessionCreated(msg.id)
	c.enterAwaitingStart()
}
