package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Split breaks a path into its segments. Leading and trailing slashes are
// ignored; the empty path addresses the root.
func Split(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, nil
	}
	segs := strings.Split(trimmed, "/")
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

func Join(segs ...string) string {
	return strings.Join(segs, "/")
}

// Related reports whether one path is a prefix of the other, i.e. a change at
// b can alter the value observed at a.
func Related(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NewPushKey returns a unique child key that sorts by creation time.
func NewPushKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate push key: %w", err)
	}
	return id.String(), nil
}
