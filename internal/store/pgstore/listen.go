package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const reconnectDelay = time.Second

// listenLoop holds a dedicated connection on LISTEN and refreshes subscribed
// documents named in notifications. It reconnects until the store closes.
func (s *Store) listenLoop() {
	defer s.wg.Done()
	for {
		err := s.listenOnce(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn("change listener disconnected", zap.Error(err))

		select {
		case <-time.After(reconnectDelay):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{notifyChannel}.Sanitize()); err != nil {
		return err
	}
	s.log.Debug("listening for document changes", zap.String("channel", notifyChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if !s.watching(n.Payload) {
			continue
		}
		s.refresh(ctx, n.Payload)
	}
}

func (s *Store) watching(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds[id]) > 0
}
