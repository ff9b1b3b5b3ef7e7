// Package ws serves the browser side of a session client over a websocket.
// Each connection runs one session.Client; inbound JSON commands go to its
// inbox and its notifications come back as JSON messages.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/codec"
	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/prefs"
	"github.com/DoyleJ11/gamesync/internal/session"
	"github.com/DoyleJ11/gamesync/internal/store"
	"github.com/DoyleJ11/gamesync/internal/types"
)

const outboxSize = 64

type Deps struct {
	Store  store.Store
	Codec  codec.Codec
	Prefs  *prefs.Store // optional
	Hub    *hub.Hub
	Logger *zap.Logger
	Root   string

	// OriginPatterns is passed to websocket.Accept; empty means same origin only.
	OriginPatterns []string
}

func Handler(d Deps) http.HandlerFunc {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		location := r.URL.Query().Get("location")
		identity := session.ParseLocation(location)
		sessionID, _ := identity.Current()

		browser, err := browserID(w, r)
		if err != nil {
			http.Error(w, "failed to assign browser id", http.StatusInternalServerError)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.OriginPatterns})
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		connID := uuid.NewString()
		clog := log.With(zap.String("conn", connID), zap.String("session", sessionID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		bridge := newConnBridge(connID, d.Hub, outboxSize)

		var names session.NameStore
		welcome := types.ServerMessage{Type: types.TypeWelcome, SessionID: sessionID}
		if d.Prefs != nil {
			slot := d.Prefs.Slot(browser)
			names = slot
			name, err := slot.PlayerName(ctx)
			switch {
			case err == nil:
				welcome.PlayerName = name
			case !errors.Is(err, prefs.ErrNotFound):
				clog.Warn("load player name", zap.Error(err))
			}
		}
		bridge.send(welcome)

		client := session.NewClient(ctx, identity, session.Config{
			Store:  d.Store,
			Codec:  d.Codec,
			Bridge: bridge,
			Names:  names,
			Logger: clog,
			Root:   d.Root,
		})
		if d.Hub != nil {
			d.Hub.Send(hub.Register{ConnID: connID, SessionID: sessionID, Member: client})
			defer d.Hub.Send(hub.Unregister{ConnID: connID})
		}
		clog.Info("client connected")

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-client.Done():
					return
				case <-bridge.dropped:
					clog.Warn("outbox full, dropping connection")
					_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
					return
				case msg := <-bridge.outbox:
					if err := writeJSON(ctx, conn, msg); err != nil {
						clog.Debug("write failed", zap.Error(err))
						return
					}
				}
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Info("client disconnected")
				default:
					clog.Debug("read ended", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				bridge.send(types.ServerMessage{Type: types.TypeError, Error: "bad json"})
				continue
			}
			cmd, ok := toCommand(cm)
			if !ok {
				bridge.send(types.ServerMessage{Type: types.TypeError, Error: "unknown type"})
				continue
			}

			select {
			case client.Inbox() <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func toCommand(m types.ClientMessage) (session.Msg, bool) {
	switch m.Type {
	case types.TypeCreateSession:
		return session.CreateSession{}, true
	case types.TypeSubmitPlayerName:
		return session.SubmitPlayerName{Name: m.Name}, true
	case types.TypePublishGameState:
		return session.PublishGameState{Contributor: m.Contributor, Value: m.Value}, true
	case types.TypeFocus:
		return session.Focus{ElementID: m.ElementID}, true
	default:
		return nil, false
	}
}
