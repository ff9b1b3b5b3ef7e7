package session

import (
	"net/url"
	"strings"
)

// Identity holds the session id for one client. It starts either present
// (taken from the page location) or absent, and can move from absent to
// present exactly once.
type Identity struct {
	id string
}

// ParseLocation reads the session id from the first path segment of a page
// location. Full URLs and bare paths are both accepted.
func ParseLocation(location string) *Identity {
	path := location
	if u, err := url.Parse(location); err == nil {
		path = u.Path
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return &Identity{id: strings.TrimSpace(first)}
}

func (i *Identity) Current() (string, bool) {
	return i.id, i.id != ""
}

// Adopt records the id of a session created by this client.
func (i *Identity) Adopt(id string) error {
	if i.id != "" {
		return ErrIdentityAdopted
	}
	if strings.TrimSpace(id) == "" {
		return ErrNoSession
	}
	i.id = id
	return nil
}
