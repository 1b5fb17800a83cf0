package changefeed

import (
	"context"
	"sync"
)

// LocalFeed provides in-process pub/sub for change events. It serves single
// process deployments and tests; RedisFeed spans processes.
type LocalFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

// NewLocalFeed constructs an empty feed.
func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	feed  *LocalFeed
	table string
	mask  Mask
	ch    chan Event
	once  sync.Once
}

func (s *localSub) Events() <-chan Event { return s.ch }

func (s *localSub) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs[s.table], s)
		s.feed.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe registers a subscription for table. It is closed when ctx ends.
func (f *LocalFeed) Subscribe(ctx context.Context, table string, mask Mask) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	sub := &localSub{feed: f, table: table, mask: mask, ch: make(chan Event, subscriberBuffer)}
	if f.subs[table] == nil {
		f.subs[table] = make(map[*localSub]struct{})
	}
	f.subs[table][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		_ = sub.Close()
	}()
	return sub, nil
}

// Publish delivers ev to every matching subscription without blocking.
func (f *LocalFeed) Publish(_ context.Context, ev Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}

	for sub := range f.subs[ev.Table] {
		if !sub.mask.Has(ev.Op) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

// Close detaches all subscriptions.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	var all []*localSub
	for _, set := range f.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}
