package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/gamesync/internal/codec"
	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/prefs"
	"github.com/DoyleJ11/gamesync/internal/session"
	"github.com/DoyleJ11/gamesync/internal/store/memstore"
	"github.com/DoyleJ11/gamesync/internal/types"
)

type testServer struct {
	srv   *httptest.Server
	hub   *hub.Hub
	store *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memstore.New()
	p, err := prefs.Open(context.Background(), filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	z, err := codec.NewZstd()
	require.NoError(t, err)
	h := hub.NewHub(context.Background(), log)

	srv := httptest.NewServer(Handler(Deps{Store: st, Codec: z, Prefs: p, Hub: h, Logger: log}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		_ = st.Close()
		_ = p.Close()
	})
	return &testServer{srv: srv, hub: h, store: st}
}

func (ts *testServer) dial(t *testing.T, location string, cookie *http.Cookie) (*websocket.Conn, *http.Response) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?location=" + location
	opts := &websocket.DialOptions{}
	if cookie != nil {
		opts.HTTPHeader = http.Header{"Cookie": []string{cookie.Name + "=" + cookie.Value}}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, u, opts)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, resp
}

func send(t *testing.T, conn *websocket.Conn, m types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(m)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

// recvType reads messages until one of type typ arrives.
func recvType(t *testing.T, conn *websocket.Conn, typ string, within time.Duration) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", typ)
		var m types.ServerMessage
		require.NoError(t, json.Unmarshal(data, &m))
		if m.Type == typ {
			return m
		}
	}
}

func TestCreateJoinPublish(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t, "/", nil)

	w := recvType(t, conn, types.TypeWelcome, time.Second)
	assert.Empty(t, w.SessionID)
	assert.Empty(t, w.PlayerName)

	send(t, conn, types.ClientMessage{Type: types.TypeCreateSession})
	created := recvType(t, conn, types.TypeSessionCreated, time.Second)
	require.NotEmpty(t, created.SessionID)

	send(t, conn, types.ClientMessage{Type: types.TypeSubmitPlayerName, Name: "alice"})
	roster := recvType(t, conn, types.TypeRosterChanged, time.Second)
	assert.Equal(t, []string{"alice"}, roster.Players)

	send(t, conn, types.ClientMessage{Type: types.TypePublishGameState, Contributor: "alice", Value: `{"turn":1}`})
	recvType(t, conn, types.TypeGameStarted, time.Second)
	st := recvType(t, conn, types.TypeStateChanged, time.Second)
	assert.Equal(t, "alice", st.Contributor)
	assert.Equal(t, `{"turn":1}`, st.Value)

	require.Eventually(t, func() bool {
		s, err := ts.hub.Stats(context.Background())
		return err == nil && s.Sessions == 1 && s.Clients == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSecondBrowserSeesState(t *testing.T) {
	ts := newTestServer(t)
	host, _ := ts.dial(t, "/", nil)
	send(t, host, types.ClientMessage{Type: types.TypeCreateSession})
	id := recvType(t, host, types.TypeSessionCreated, time.Second).SessionID

	guest, _ := ts.dial(t, "/"+id, nil)
	assert.Equal(t, id, recvType(t, guest, types.TypeWelcome, time.Second).SessionID)

	send(t, guest, types.ClientMessage{Type: types.TypeSubmitPlayerName, Name: "bob"})
	recvType(t, guest, types.TypeRosterChanged, time.Second)

	send(t, host, types.ClientMessage{Type: types.TypePublishGameState, Contributor: "alice", Value: "board"})
	recvType(t, guest, types.TypeGameStarted, time.Second)
	st := recvType(t, guest, types.TypeStateChanged, time.Second)
	assert.Equal(t, "board", st.Value)
}

func TestPlayerNameRemembered(t *testing.T) {
	ts := newTestServer(t)
	conn, resp := ts.dial(t, "/", nil)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == BrowserCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	send(t, conn, types.ClientMessage{Type: types.TypeCreateSession})
	id := recvType(t, conn, types.TypeSessionCreated, time.Second).SessionID
	send(t, conn, types.ClientMessage{Type: types.TypeSubmitPlayerName, Name: "alice"})
	recvType(t, conn, types.TypeRosterChanged, time.Second)

	// the name is saved before the join is reported
	again, _ := ts.dial(t, "/"+id, cookie)
	w := recvType(t, again, types.TypeWelcome, time.Second)
	assert.Equal(t, id, w.SessionID)
	assert.Equal(t, "alice", w.PlayerName)
}

func TestBadMessages(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t, "/", nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{not json`)))
	assert.Equal(t, "bad json", recvType(t, conn, types.TypeError, time.Second).Error)

	send(t, conn, types.ClientMessage{Type: "LockPick"})
	assert.Equal(t, "unknown type", recvType(t, conn, types.TypeError, time.Second).Error)

	send(t, conn, types.ClientMessage{Type: types.TypeSubmitPlayerName, Name: "alice"})
	n := recvType(t, conn, types.TypeNotice, time.Second)
	assert.Contains(t, n.Error, session.ErrNoSession.Error())

	send(t, conn, types.ClientMessage{Type: types.TypeFocus, ElementID: "share"})
	assert.Equal(t, "share", recvType(t, conn, types.TypeFocus, time.Second).ElementID)
}

func TestToCommand(t *testing.T) {
	cmd, ok := toCommand(types.ClientMessage{Type: types.TypePublishGameState, Contributor: "a", Value: "v"})
	require.True(t, ok)
	assert.Equal(t, session.PublishGameState{Contributor: "a", Value: "v"}, cmd)

	_, ok = toCommand(types.ClientMessage{Type: "HoverChampion"})
	assert.False(t, ok)
}

func TestBridgeDropsWhenFull(t *testing.T) {
	b := newConnBridge("c", nil, 1)
	b.GameStarted()
	b.GameStarted()

	select {
	case <-b.dropped:
	default:
		t.Fatal("expected bridge to drop")
	}
	// further sends are ignored
	b.RosterChanged([]string{"x"})
	assert.Len(t, b.outbox, 1)
}

func TestEmptyRosterKeepsPlayersField(t *testing.T) {
	b := newConnBridge("c", nil, 1)
	b.RosterChanged([]string{})

	payload, err := json.Marshal(<-b.outbox)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"roster_changed","players":[]}`, string(payload))
}
