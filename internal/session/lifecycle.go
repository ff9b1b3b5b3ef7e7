package session

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/store"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingStart
	PhaseStarted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseStarted:
		return "started"
	default:
		return "unknown"
	}
}

type watchKind int

const (
	watchStartedFlag watchKind = iota
	watchRoster
	watchState
)

// watch is one live store subscription whose events are forwarded into the
// client loop.
type watch struct {
	kind watchKind
	sub  store.Subscription
}

func (w *watch) close() {
	if w != nil {
		w.sub.Close()
	}
}

// lifecycle is the phase plus the watches the phase owns. Only the transition
// methods below open or close watches.
type lifecycle struct {
	phase   Phase
	started *watch
	roster  *watch
	state   *watch
}

// current reports whether w is still owned by the lifecycle. Events from a
// closed watch that were already in flight are dropped.
func (l *lifecycle) current(w *watch) bool {
	return w != nil && (w == l.started || w == l.roster || w == l.state)
}

func (l *lifecycle) watching() []string {
	var out []string
	for _, w := range []*watch{l.started, l.roster, l.state} {
		if w != nil {
			out = append(out, w.sub.Path())
		}
	}
	return out
}

func (l *lifecycle) closeAll() {
	l.started.close()
	l.roster.close()
	l.state.close()
	l.started, l.roster, l.state = nil, nil, nil
}

func (c *Client) openWatch(kind watchKind, path string) *watch {
	sub, err := c.store.Subscribe(c.ctx, path)
	if err != nil {
		c.log.Warn("subscribe failed", zap.String("path", path), zap.Error(err))
		return nil
	}
	w := &watch{kind: kind, sub: sub}
	go func() {
		for v := range sub.Events() {
			select {
			case c.inbox <- watchEvent{w: w, value: v}:
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return w
}

// enterAwaitingStart: Idle -> AwaitingStart. Starts watching the started flag.
func (c *Client) enterAwaitingStart() {
	if c.life.phase != PhaseIdle {
		return
	}
	p, ok := c.sessionPaths()
	if !ok {
		return
	}
	c.life.phase = PhaseAwaitingStart
	c.life.started = c.openWatch(watchStartedFlag, p.gameStarted())
	c.log.Debug("awaiting start")
}

// ensureRosterWatch starts the roster watch while the session is in setup.
func (c *Client) ensureRosterWatch() {
	if c.life.phase != PhaseAwaitingStart || c.life.roster != nil {
		return
	}
	p, _ := c.sessionPaths()
	c.life.roster = c.openWatch(watchRoster, p.players())
}

// enterStarted: AwaitingStart -> Started. Opens the state channel, tells the
// UI and closes the setup watches. Safe to call repeatedly.
func (c *Client) enterStarted() {
	if c.life.phase != PhaseAwaitingStart {
		return
	}
	p, _ := c.sessionPaths()
	c.life.phase = PhaseStarted
	c.life.state = c.openWatch(watchState, p.gameState())
	c.bridge.GameStarted()

	c.life.started.close()
	c.life.roster.close()
	c.life.started, c.life.roster = nil, nil
	c.log.Info("game started")
}

func (c *Client) observe(ev watchEvent) {
	if !c.life.current(ev.w) {
		return
	}
	switch ev.w.kind {
	case watchStartedFlag:
		if decodeStarted(ev.value) {
			c.enterStarted()
		}

	case watchRoster:
		players, err := decodeRoster(ev.value)
		if err != nil {
			c.log.Warn("bad roster value", zap.Error(err))
			return
		}
		if players != nil {
			c.bridge.RosterChanged(players)
		}

	case watchState:
		c.forwardState(ev.value)
	}
}
