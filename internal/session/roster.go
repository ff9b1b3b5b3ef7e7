package session

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/store"
)

// admit appends name to the roster unless it is already there. The store may
// call it again with a newer roster after a conflicting commit.
func admit(name string) store.UpdateFunc {
	return func(current json.RawMessage) (any, bool, error) {
		players, err := decodeRoster(current)
		if err != nil {
			return nil, false, err
		}
		if slices.Contains(players, name) {
			return nil, true, nil
		}
		return append(slices.Clip(players), name), false, nil
	}
}

func (c *Client) join(name string) {
	if strings.TrimSpace(name) == "" {
		c.notice(ErrEmptyName)
		return
	}
	p, ok := c.sessionPaths()
	if !ok {
		c.notice(ErrNoSession)
		return
	}

	log := c.log
	go func() {
		committed, final, err := c.store.Transact(c.ctx, p.players(), admit(name))
		done := joinDone{name: name, committed: committed}
		if err != nil {
			done.err = fmt.Errorf("%w: %w", ErrRosterJoinFailed, err)
			c.post(done)
			return
		}
		if done.roster, err = decodeRoster(final); err != nil {
			done.err = fmt.Errorf("%w: %w", ErrRosterJoinFailed, err)
			c.post(done)
			return
		}
		// the name is in the roster either way; remember it for reloads
		if c.names != nil {
			if err := c.names.SavePlayerName(c.ctx, name); err != nil {
				log.Warn("save player name", zap.Error(err))
			}
		}
		c.post(done)
	}()
}

func (c *Client) joined(msg joinDone) {
	if msg.err != nil {
		c.notice(msg.err)
		return
	}
	c.playerName = msg.name
	if msg.committed {
		c.log.Info("player joined", zap.String("player", msg.name), zap.Strings("roster", msg.roster))
		c.bridge.RosterChanged(msg.roster)
	} else {
		c.log.Debug("player already in roster", zap.String("player", msg.name))
	}
	c.ensureRosterWatch()
}
