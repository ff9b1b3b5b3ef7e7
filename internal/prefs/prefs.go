// Package prefs remembers each browser's chosen player name across reloads.
// Browsers are told apart by an opaque id kept in a cookie.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/DoyleJ11/gamesync/internal/prefs/migrations"
)

var (
	ErrNoBrowserID = errors.New("browser id is required")
	ErrNotFound    = errors.New("no stored player name")
)

// Store persists player names in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies migrations.
// ":memory:" is accepted for tests.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("prefs path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PlayerName returns the name last saved for browserID, or ErrNotFound.
func (s *Store) PlayerName(ctx context.Context, browserID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(browserID) == "" {
		return "", ErrNoBrowserID
	}
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM player_names WHERE browser_id = ?`, browserID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get player name: %w", err)
	}
	return name, nil
}

func (s *Store) SetPlayerName(ctx context.Context, browserID, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(browserID) == "" {
		return ErrNoBrowserID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_names (browser_id, name, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(browser_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		browserID, name, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set player name: %w", err)
	}
	return nil
}

// Slot binds the store to one browser so a session client can save names
// without knowing about browser ids.
type Slot struct {
	store     *Store
	browserID string
}

func (s *Store) Slot(browserID string) Slot {
	return Slot{store: s, browserID: browserID}
}

func (s Slot) SavePlayerName(ctx context.Context, name string) error {
	return s.store.SetPlayerName(ctx, s.browserID, name)
}

func (s Slot) PlayerName(ctx context.Context) (string, error) {
	return s.store.PlayerName(ctx, s.browserID)
}
