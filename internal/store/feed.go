package store

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// Feed is the Subscription implementation shared by the backends. Offers are
// queued without bound so a slow reader never loses a change, and values equal
// to the previously offered one are skipped.
type Feed struct {
	path string
	segs []string

	events chan json.RawMessage
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending []json.RawMessage
	last    json.RawMessage
	offered bool

	closeOnce sync.Once
	onClose   func(*Feed)
	stop      func() bool
}

// NewFeed starts a feed for path. onClose runs once when the feed is closed
// and should detach it from the owning store. The feed is closed when ctx ends.
func NewFeed(ctx context.Context, path string, segs []string, onClose func(*Feed)) *Feed {
	f := &Feed{
		path:    path,
		segs:    segs,
		events:  make(chan json.RawMessage),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	// Close may run right away on a done ctx; it reads stop under mu.
	f.mu.Lock()
	f.stop = context.AfterFunc(ctx, f.Close)
	f.mu.Unlock()
	go f.pump()
	return f
}

func (f *Feed) Path() string                   { return f.path }
func (f *Feed) Segments() []string             { return f.segs }
func (f *Feed) Events() <-chan json.RawMessage { return f.events }

// Offer queues v unless it equals the last offered value.
func (f *Feed) Offer(v json.RawMessage) {
	f.mu.Lock()
	if f.offered && bytes.Equal(f.last, v) {
		f.mu.Unlock()
		return
	}
	f.offered = true
	f.last = v
	f.pending = append(f.pending, v)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		stop := f.stop
		f.mu.Unlock()
		if stop != nil {
			stop()
		}
		if f.onClose != nil {
			f.onClose(f)
		}
	})
}

func (f *Feed) pump() {
	defer close(f.events)
	for {
		f.mu.Lock()
		if len(f.pending) == 0 {
			f.mu.Unlock()
			select {
			case <-f.wake:
				continue
			case <-f.done:
				return
			}
		}
		next := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()

		select {
		case f.events <- next:
		case <-f.done:
			return
		}
	}
}
