package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/session"
	"github.com/DoyleJ11/gamesync/internal/ws"
)

type Deps struct {
	WS        ws.Deps
	PublicURL string
}

func SetupRoutes(d Deps) http.Handler {
	log := d.WS.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	if d.WS.Root == "" {
		d.WS.Root = session.DefaultRoot
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Post("/sessions", CreateSession(d.WS.Store, d.WS.Root, log))
	r.Get("/sessions/{sessionID}", GetSession(d.WS.Store, d.WS.Root))
	r.Get("/healthz", Healthz(d.WS.Hub))
	r.Get("/ws", ws.Handler(d.WS))
	r.Get("/{sessionID}/qr", ShareQR(d.PublicURL))
	return r
}
