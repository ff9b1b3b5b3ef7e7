package session

import (
	"fmt"

	"go.uber.org/zap"
)

// publish overwrites the session's game state and marks the game started.
// Concurrent publishers race; the last write wins.
func (c *Client) publish(contributor, value string) {
	p, ok := c.sessionPaths()
	if !ok {
		c.notice(ErrNoSession)
		return
	}
	if contributor == "" {
		contributor = c.playerName
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		c.notice(fmt.Errorf("%w: encode state: %w", ErrStoreWriteFailed, err))
		return
	}
	fields := map[string]any{
		fieldGameState:   GameState{Contributor: contributor, Payload: payload},
		fieldTimestamp:   millis(c.now()),
		fieldGameStarted: true,
	}

	go func() {
		err := c.store.Write(c.ctx, p.session(), fields)
		if err != nil {
			err = fmt.Errorf("%w: publish state: %w", ErrStoreWriteFailed, err)
		}
		c.post(publishDone{err: err})
	}()
}

func (c *Client) published(msg publishDone) {
	if msg.err != nil {
		c.notice(msg.err)
		return
	}
	// our own write flips the flag, so start without waiting for the watch
	c.enterStarted()
}

// forwardState decodes a state notification and hands it to the UI. Every
// notification is forwarded, including echoes of this client's own writes.
func (c *Client) forwardState(raw []byte) {
	gs, err := decodeGameState(raw)
	if err != nil {
		c.log.Warn("bad game state", zap.Error(err))
		return
	}
	if gs.Payload == "" {
		return
	}
	value, err := c.codec.Decode(gs.Payload)
	if err != nil {
		c.log.Warn("undecodable game state", zap.String("contributor", gs.Contributor), zap.Error(err))
		return
	}
	c.bridge.StateChanged(gs.Contributor, value)
}
