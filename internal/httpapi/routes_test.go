package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/gamesync/internal/codec"
	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/session"
	"github.com/DoyleJ11/gamesync/internal/store/memstore"
	"github.com/DoyleJ11/gamesync/internal/ws"
)

func newRouter(t *testing.T, publicURL string) http.Handler {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := memstore.New()
	h := hub.NewHub(context.Background(), log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		_ = st.Close()
	})
	return SetupRoutes(Deps{
		WS:        ws.Deps{Store: st, Codec: codec.Identity{}, Hub: h, Logger: log},
		PublicURL: publicURL,
	})
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCreateAndGetSession(t *testing.T) {
	r := newRouter(t, "")

	rec := do(t, r, http.MethodPost, "/sessions")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	rec = do(t, r, http.MethodGet, "/sessions/"+created.SessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc session.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.False(t, doc.GameStarted)
	assert.Empty(t, doc.Players)
	assert.NotZero(t, doc.Timestamp)

	rec = do(t, r, http.MethodGet, "/sessions/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	r := newRouter(t, "")
	rec := do(t, r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":0,"clients":0}`, rec.Body.String())
}

func TestShareQR(t *testing.T) {
	r := newRouter(t, "https://play.example/")
	rec := do(t, r, http.MethodGet, "/abc123/qr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestShareURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/abc/qr", nil)
	assert.Equal(t, "http://localhost:8080/abc", shareURL("", req, "abc"))
	assert.Equal(t, "https://play.example/abc", shareURL("https://play.example/", req, "abc"))
}
