package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/gamesync/internal/session"
)

// stubMember stops when it receives session.Shutdown, unless stubborn.
type stubMember struct {
	inbox    chan session.Msg
	done     chan struct{}
	stubborn bool
}

func newStub(stubborn bool) *stubMember {
	m := &stubMember{inbox: make(chan session.Msg, 4), done: make(chan struct{}), stubborn: stubborn}
	go func() {
		for msg := range m.inbox {
			if _, ok := msg.(session.Shutdown); ok && !m.stubborn {
				close(m.done)
				return
			}
		}
	}()
	return m
}

func (m *stubMember) Inbox() chan<- session.Msg { return m.inbox }
func (m *stubMember) Done() <-chan struct{}     { return m.done }

func stats(t *testing.T, h *Hub) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := h.Stats(ctx)
	require.NoError(t, err)
	return s
}

func TestHub_RegisterMoveUnregister(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))

	h.Inbox() <- Register{ConnID: "c1", SessionID: "s1", Member: newStub(false)}
	h.Inbox() <- Register{ConnID: "c2", SessionID: "s1", Member: newStub(false)}
	h.Inbox() <- Register{ConnID: "c3", Member: newStub(false)}
	assert.Equal(t, Stats{Sessions: 1, Clients: 3}, stats(t, h))

	h.Inbox() <- Move{ConnID: "c3", SessionID: "s2"}
	assert.Equal(t, Stats{Sessions: 2, Clients: 3}, stats(t, h))

	h.Inbox() <- Unregister{ConnID: "c1"}
	h.Inbox() <- Unregister{ConnID: "c2"}
	h.Inbox() <- Unregister{ConnID: "missing"}
	assert.Equal(t, Stats{Sessions: 1, Clients: 1}, stats(t, h))

	h.Inbox() <- Move{ConnID: "missing", SessionID: "s9"}
	assert.Equal(t, Stats{Sessions: 1, Clients: 1}, stats(t, h))
}

func TestHub_ShutdownStopsMembers(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))
	a, b := newStub(false), newStub(false)
	h.Inbox() <- Register{ConnID: "a", SessionID: "s", Member: a}
	h.Inbox() <- Register{ConnID: "b", Member: b}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	for _, m := range []*stubMember{a, b} {
		select {
		case <-m.done:
		case <-time.After(time.Second):
			t.Fatal("member not stopped")
		}
	}

	// a stopped hub answers nothing
	_, err := h.Stats(ctx)
	assert.Error(t, err)
}

func TestHub_ShutdownReportsStuckMembers(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))
	h.stopTimeout = 50 * time.Millisecond

	h.Inbox() <- Register{ConnID: "ok", Member: newStub(false)}
	h.Inbox() <- Register{ConnID: "stuck1", Member: newStub(true)}
	h.Inbox() <- Register{ConnID: "stuck2", Member: newStub(true)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.Shutdown(ctx)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestHub_WithRealClients(t *testing.T) {
	h := NewHub(context.Background(), zaptest.NewLogger(t))
	c := session.NewClient(context.Background(), session.ParseLocation("/"), session.Config{Bridge: nopBridge{}})
	h.Inbox() <- Register{ConnID: "c", Member: c}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	<-c.Done()
}

type nopBridge struct{}

func (nopBridge) SessionCreated(string)       {}
func (nopBridge) GameStarted()                {}
func (nopBridge) RosterChanged([]string)      {}
func (nopBridge) StateChanged(string, string) {}
func (nopBridge) Focus(string)                {}
func (nopBridge) Notice(error)                {}
