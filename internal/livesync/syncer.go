// Package livesync keeps a view's booking state current as appointments
// change in storage.
package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"salonagenda/internal/booking"
	"salonagenda/internal/changefeed"
	"salonagenda/internal/metrics"
	"salonagenda/internal/model"
	"salonagenda/internal/store"
	"salonagenda/internal/timegrid"
)

var ErrNoView = errors.New("livesync: no view selected")

// Loader reads appointments from storage.
type Loader interface {
	SelectAppointments(ctx context.Context, f store.Filter) ([]model.Appointment, error)
}

// Syncer owns the booking state of one view. Every reload is tagged with the
// view generation it was issued for and with a sequence number; a result is
// applied only if the view is unchanged and no later reload has landed.
type Syncer struct {
	loader Loader
	state  *booking.State
	feed   changefeed.Subscriber
	logger *zerolog.Logger

	mu      sync.Mutex
	view    booking.Range
	gen     uint64
	seq     uint64
	applied uint64

	subMu  sync.Mutex
	sub    changefeed.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyncer builds a syncer writing into state. feed may be nil, in which
// case Start fails and only explicit reloads refresh the state.
func NewSyncer(loader Loader, state *booking.State, feed changefeed.Subscriber, logger *zerolog.Logger) *Syncer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Syncer{loader: loader, state: state, feed: feed, logger: logger}
}

// View returns the dates being viewed and the view generation.
func (s *Syncer) View() (booking.Range, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view, s.gen
}

// SetView switches the view to rng and loads it. Reloads still in flight for
// the previous view are discarded when they complete.
func (s *Syncer) SetView(ctx context.Context, rng booking.Range) error {
	rng = booking.Range{From: timegrid.Day(rng.From), To: timegrid.Day(rng.To)}
	s.mu.Lock()
	if rng != s.view {
		s.view = rng
		s.gen++
	}
	s.mu.Unlock()

	_, err := s.reload(ctx, metrics.TriggerViewSwap)
	return err
}

// Reload fetches the current view and applies it unless the result is stale.
func (s *Syncer) Reload(ctx context.Context) (bool, error) {
	return s.reload(ctx, metrics.TriggerWrite)
}

// Refresh reloads the current view, for use after a local write. Without a
// view there is nothing to refresh.
func (s *Syncer) Refresh(ctx context.Context) error {
	_, err := s.reload(ctx, metrics.TriggerWrite)
	if errors.Is(err, ErrNoView) {
		return nil
	}
	return err
}

func (s *Syncer) reload(ctx context.Context, trigger string) (bool, error) {
	s.mu.Lock()
	rng, gen := s.view, s.gen
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if rng.IsZero() {
		return false, ErrNoView
	}

	start := time.Now()
	appts, err := s.loader.SelectAppointments(ctx, store.DateBetween(rng.From, rng.To))
	metrics.ObserveReload(time.Since(start).Seconds())
	if err != nil {
		metrics.IncStateReload(trigger, metrics.ReloadFailed)
		return false, err
	}
	snap := booking.NewSnapshot(rng, appts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || seq < s.applied {
		metrics.IncStateReload(trigger, metrics.ReloadStale)
		s.logger.Debug().
			Uint64("view_gen", gen).
			Uint64("current_gen", s.gen).
			Str("range", rng.String()).
			Msg("discarding stale reload")
		return false, nil
	}
	s.applied = seq
	s.state.Replace(snap)
	metrics.IncStateReload(trigger, metrics.ReloadApplied)
	return true, nil
}

// Start subscribes to appointment changes and reloads the view on each one.
// Calling Start while already subscribed does nothing.
func (s *Syncer) Start(ctx context.Context) error {
	if s.feed == nil {
		return errors.New("livesync: no change feed")
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.sub != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := s.feed.Subscribe(ctx, changefeed.TableAppointments, changefeed.MaskAll)
	if err != nil {
		cancel()
		return err
	}
	s.sub, s.cancel, s.done = sub, cancel, make(chan struct{})
	go s.loop(ctx, sub, s.done)
	return nil
}

// Stop tears down the subscription. The syncer can be started again.
func (s *Syncer) Stop() error {
	s.subMu.Lock()
	sub, cancel, done := s.sub, s.cancel, s.done
	s.sub, s.cancel, s.done = nil, nil, nil
	s.subMu.Unlock()

	if sub == nil {
		return nil
	}
	cancel()
	err := sub.Close()
	<-done
	return err
}

// Active reports whether a subscription is open.
func (s *Syncer) Active() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.sub != nil
}

func (s *Syncer) loop(ctx context.Context, sub changefeed.Subscription, done chan struct{}) {
	defer close(done)
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			// Every event triggers a full reload, so queued ones add nothing.
			drain(events)
			if _, err := s.reload(ctx, metrics.TriggerFeed); err != nil && !errors.Is(err, ErrNoView) && ctx.Err() == nil {
				s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("reload after change event")
			}
		}
	}
}

func drain(ch <-chan changefeed.Event) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
