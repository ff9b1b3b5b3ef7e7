package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/hub"
	"github.com/DoyleJ11/gamesync/internal/session"
	"github.com/DoyleJ11/gamesync/internal/store"
)

const qrSize = 256

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreateSession(st store.Store, root string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := session.CreateDocument(r.Context(), st, root, time.Now())
		if err != nil {
			log.Warn("create session", zap.Error(err))
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}
		log.Info("session created", zap.String("session", id))
		writeJSON(w, http.StatusCreated, struct {
			SessionID string `json:"session_id"`
		}{SessionID: id})
	}
}

func GetSession(st store.Store, root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		raw, err := st.Read(r.Context(), store.Join(root, id))
		switch {
		case errors.Is(err, store.ErrInvalidPath):
			http.Error(w, "bad session id", http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, "failed to read session", http.StatusInternalServerError)
			return
		case raw == nil:
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}
}

// ShareQR renders the session's share link as a PNG. The link is built from
// publicURL when set, otherwise from the request's own host.
func ShareQR(publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		png, err := qrcode.Encode(shareURL(publicURL, r, id), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "failed to render qr code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(png)
	}
}

func shareURL(publicURL string, r *http.Request, id string) string {
	base := strings.TrimRight(publicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/" + id
}

func Healthz(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.Stats(r.Context())
		if err != nil {
			http.Error(w, "hub stopped", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
