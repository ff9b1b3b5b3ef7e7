package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/gamesync/internal/store"
)

const DefaultRoot = "games"

// Field names inside a session document.
const (
	fieldTimestamp   = "timestamp"
	fieldGameStarted = "game_started"
	fieldPlayers     = "players"
	fieldGameState   = "game_state"
)

// GameState is the stored state blob tagged with the player who wrote it.
type GameState struct {
	Contributor string `json:"contributor"`
	Payload     string `json:"payload"`
}

// Document is the full session record as stored.
type Document struct {
	Timestamp   int64     `json:"timestamp"`
	GameStarted bool      `json:"game_started"`
	Players     []string  `json:"players"`
	GameState   GameState `json:"game_state"`
}

// paths resolves the store paths of one session.
type paths struct {
	root string
	id   string
}

func (p paths) session() string     { return store.Join(p.root, p.id) }
func (p paths) players() string     { return store.Join(p.root, p.id, fieldPlayers) }
func (p paths) gameStarted() string { return store.Join(p.root, p.id, fieldGameStarted) }
func (p paths) gameState() string   { return store.Join(p.root, p.id, fieldGameState) }

func millis(t time.Time) int64 { return t.UnixMilli() }

// CreateDocument pushes a fresh session below root and returns its id.
func CreateDocument(ctx context.Context, s store.Store, root string, now time.Time) (string, error) {
	id, err := s.Push(ctx, root, Document{
		Timestamp:   millis(now),
		GameStarted: false,
		Players:     []string{},
		GameState:   GameState{},
	})
	if err != nil {
		return "", fmt.Errorf("%w: create session: %w", ErrStoreWriteFailed, err)
	}
	return id, nil
}

func decodeRoster(raw json.RawMessage) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var players []string
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return players, nil
}

func decodeStarted(raw json.RawMessage) bool {
	var started bool
	if raw == nil || json.Unmarshal(raw, &started) != nil {
		return false
	}
	return started
}

func decodeGameState(raw json.RawMessage) (GameState, error) {
	var gs GameState
	if raw == nil {
		return gs, nil
	}
	if err := json.Unmarshal(raw, &gs); err != nil {
		return gs, fmt.Errorf("decode game state: %w", err)
	}
	return gs, nil
}
