package ws

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

const BrowserCookie = "gamesync_id"

// browserID returns the caller's browser id, minting one and setting the
// cookie when the request has none. It must run before the upgrade.
func browserID(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(BrowserCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     BrowserCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}
