// Package memstore is an in-process store.Store. A single goroutine owns the
// JSON tree; transactions run their update functions outside of it and commit
// by comparing the value they started from, so concurrent writers race the
// same way remote clients would.
package memstore

import (
	"bytes"
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gamesync/internal/store"
)

type msg interface{ isStoreMsg() }

type readMsg struct {
	segs  []string
	reply chan readResult
}

type readResult struct {
	value json.RawMessage
	err   error
}

type casMsg struct {
	segs     []string
	expected json.RawMessage
	value    any
	reply    chan casResult
}

type casResult struct {
	committed bool
	value     json.RawMessage
	err       error
}

type mergeMsg struct {
	segs   []string
	fields map[string]any
	reply  chan error
}

type watchMsg struct {
	feed  *store.Feed
	reply chan struct{}
}

type unwatchMsg struct{ feed *store.Feed }

func (readMsg) isStoreMsg()    {}
func (casMsg) isStoreMsg()     {}
func (mergeMsg) isStoreMsg()   {}
func (watchMsg) isStoreMsg()   {}
func (unwatchMsg) isStoreMsg() {}

type Store struct {
	inbox       chan msg
	root        any
	feeds       map[*store.Feed]struct{}
	maxAttempts int
	log         *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		inbox:       make(chan msg, 64),
		feeds:       make(map[*store.Feed]struct{}),
		maxAttempts: store.DefaultMaxAttempts,
		log:         zap.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.ctx.Done():
			for f := range s.feeds {
				delete(s.feeds, f)
				go f.Close()
			}
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case readMsg:
				v, err := store.Encode(store.Lookup(s.root, msg.segs))
				msg.reply <- readResult{value: v, err: err}

			case casMsg:
				cur, err := store.Encode(store.Lookup(s.root, msg.segs))
				if err != nil {
					msg.reply <- casResult{err: err}
					break
				}
				if !bytes.Equal(cur, msg.expected) {
					msg.reply <- casResult{committed: false, value: cur}
					break
				}
				s.root = store.Assign(s.root, msg.segs, msg.value)
				next, err := store.Encode(store.Lookup(s.root, msg.segs))
				msg.reply <- casResult{committed: true, value: next, err: err}
				s.notify(msg.segs)

			case mergeMsg:
				root, err := store.Merge(s.root, msg.segs, msg.fields)
				msg.reply <- err
				if err != nil {
					break
				}
				s.root = root
				s.notify(msg.segs)

			case watchMsg:
				s.feeds[msg.feed] = struct{}{}
				s.offer(msg.feed)
				close(msg.reply)

			case unwatchMsg:
				delete(s.feeds, msg.feed)
			}
		}
	}
}

// notify re-evaluates every feed whose path overlaps the changed one. Feeds
// drop values equal to what they last saw.
func (s *Store) notify(changed []string) {
	for f := range s.feeds {
		if store.Related(f.Segments(), changed) {
			s.offer(f)
		}
	}
}

func (s *Store) offer(f *store.Feed) {
	v, err := store.Encode(store.Lookup(s.root, f.Segments()))
	if err != nil {
		s.log.Warn("encode subscription value", zap.String("path", f.Path()), zap.Error(err))
		return
	}
	f.Offer(v)
}

func (s *Store) send(ctx context.Context, m msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-s.ctx.Done():
		return store.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, s *Store, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-s.stopped:
		return zero, store.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Store) Read(ctx context.Context, path string) (json.RawMessage, error) {
	segs, err := store.Split(path)
	if err != nil {
		return nil, err
	}
	reply := make(chan readResult, 1)
	if err := s.send(ctx, readMsg{segs: segs, reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return nil, err
	}
	return res.value, res.err
}

func (s *Store) Subscribe(ctx context.Context, path string) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, err := store.Split(path)
	if err != nil {
		return nil, err
	}
	feed := store.NewFeed(ctx, store.Join(segs...), segs, func(f *store.Feed) {
		select {
		case s.inbox <- unwatchMsg{feed: f}:
		case <-s.ctx.Done():
		}
	})
	reply := make(chan struct{})
	if err := s.send(ctx, watchMsg{feed: feed, reply: reply}); err != nil {
		feed.Close()
		return nil, err
	}
	if _, err := await(ctx, s, reply); err != nil {
		feed.Close()
		return nil, err
	}
	return feed, nil
}

func (s *Store) Transact(ctx context.Context, path string, fn store.UpdateFunc) (bool, json.RawMessage, error) {
	segs, err := store.Split(path)
	if err != nil {
		return false, nil, err
	}
	current, err := s.Read(ctx, path)
	if err != nil {
		return false, nil, err
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		proposed, abort, err := fn(current)
		if err != nil {
			return false, current, err
		}
		if abort {
			return false, current, nil
		}
		value, err := store.Normalize(proposed)
		if err != nil {
			return false, current, err
		}

		reply := make(chan casResult, 1)
		if err := s.send(ctx, casMsg{segs: segs, expected: current, value: value, reply: reply}); err != nil {
			return false, current, err
		}
		res, err := await(ctx, s, reply)
		if err != nil {
			return false, current, err
		}
		if res.err != nil {
			return false, current, res.err
		}
		if res.committed {
			return true, res.value, nil
		}
		s.log.Debug("transaction conflict, retrying", zap.String("path", path), zap.Int("attempt", attempt+1))
		current = res.value
	}
	return false, current, store.ErrTooManyRetries
}

func (s *Store) Write(ctx context.Context, path string, fields map[string]any) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := s.send(ctx, mergeMsg{segs: segs, fields: fields, reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, s, reply)
	if err != nil {
		return err
	}
	return res
}

func (s *Store) Push(ctx context.Context, collection string, value any) (string, error) {
	key, err := store.NewPushKey()
	if err != nil {
		return "", err
	}
	if err := s.Write(ctx, collection, map[string]any{key: value}); err != nil {
		return "", err
	}
	return key, nil
}

// Close stops the store and ends every open subscription.
func (s *Store) Close() error {
	s.cancel()
	<-s.stopped
	return nil
}
