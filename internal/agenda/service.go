// Package agenda wires availability, booking state, slot resolution, writes
// and live sync together for one admin view.
package agenda

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"salonagenda/internal/appointment"
	"salonagenda/internal/availability"
	"salonagenda/internal/booking"
	"salonagenda/internal/changefeed"
	"salonagenda/internal/livesync"
	"salonagenda/internal/model"
	"salonagenda/internal/notify"
	"salonagenda/internal/slots"
	"salonagenda/internal/store"
	"salonagenda/internal/timegrid"
)

// Store is everything the agenda reads and writes.
type Store interface {
	appointment.Store
	appointment.Directory
	livesync.Loader
	SelectAvailabilities(ctx context.Context, f store.Filter) ([]model.TreatmentAvailability, error)
}

// Service is one view over the salon agenda.
type Service struct {
	store    Store
	opts     availability.Options
	state    *booking.State
	resolver *slots.Resolver
	writer   *appointment.Writer
	syncer   *livesync.Syncer
	boxes    atomic.Pointer[[]string]
	logger   *zerolog.Logger
}

// New builds a service. feed may be nil to disable live updates.
func New(st Store, feed changefeed.Subscriber, grid timegrid.Grid, opts availability.Options, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	state := booking.NewState()
	resolver := slots.NewResolver(nil, state, grid)
	writer := appointment.NewWriter(st, resolver, state, logger)
	syncer := livesync.NewSyncer(st, state, feed, logger)
	writer.SetRefresher(syncer)

	s := &Service{
		store:    st,
		opts:     opts,
		state:    state,
		resolver: resolver,
		writer:   writer,
		syncer:   syncer,
		logger:   logger,
	}
	s.SetBoxes(nil)
	return s
}

// SetNotifier enables booking confirmations.
func (s *Service) SetNotifier(d notify.Dispatcher) {
	s.writer.SetNotifier(s.store, d)
}

// SetBoxes replaces the boxes shown by DayGrid.
func (s *Service) SetBoxes(boxes []string) {
	cp := append([]string(nil), boxes...)
	s.boxes.Store(&cp)
}

// Boxes returns the boxes shown by DayGrid.
func (s *Service) Boxes() []string {
	return *s.boxes.Load()
}

// LoadIndex reloads availability windows from storage.
func (s *Service) LoadIndex(ctx context.Context) error {
	avs, err := s.store.SelectAvailabilities(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("load availabilities: %w", err)
	}
	s.resolver.SetIndex(availability.NewIndex(avs, s.opts))
	s.logger.Debug().Int("windows", len(avs)).Msg("availability index loaded")
	return nil
}

// Open loads availability and the booking state for rng, then subscribes to
// changes when a feed is configured.
func (s *Service) Open(ctx context.Context, rng booking.Range, live bool) error {
	if err := s.LoadIndex(ctx); err != nil {
		return err
	}
	if err := s.syncer.SetView(ctx, rng); err != nil {
		return fmt.Errorf("load bookings %s: %w", rng, err)
	}
	if live {
		if err := s.syncer.Start(ctx); err != nil {
			return fmt.Errorf("subscribe to changes: %w", err)
		}
	}
	return nil
}

// SetView switches the viewed dates.
func (s *Service) SetView(ctx context.Context, rng booking.Range) error {
	return s.syncer.SetView(ctx, rng)
}

// ShowDay switches the view to a single date.
func (s *Service) ShowDay(ctx context.Context, date time.Time) error {
	return s.SetView(ctx, booking.Day(date))
}

// Close stops live updates and waits for pending confirmations.
func (s *Service) Close() error {
	err := s.syncer.Stop()
	s.writer.Wait()
	return err
}

func (s *Service) State() *booking.State { return s.state }
func (s *Service) Resolver() *slots.Resolver { return s.resolver }
func (s *Service) Writer() *appointment.Writer { return s.writer }
func (s *Service) Syncer() *livesync.Syncer { return s.syncer }

func (s *Service) OpenSlotsFor(treatmentID int64, date time.Time) []slots.Slot {
	return s.resolver.OpenSlotsFor(treatmentID, date)
}

func (s *Service) IsSlotBookable(date time.Time, at timegrid.Clock, box string) bool {
	return s.resolver.IsSlotBookable(date, at, box)
}

func (s *Service) CellStatus(date time.Time, at timegrid.Clock, box string) slots.CellStatus {
	return s.resolver.CellStatus(date, at, box)
}

func (s *Service) TreatmentsAvailableOn(date time.Time) []int64 {
	return s.resolver.Index().TreatmentsAvailableOn(date)
}

// DayGrid renders every configured box for date.
func (s *Service) DayGrid(date time.Time) []slots.Row {
	return s.resolver.DayGrid(date, s.Boxes())
}

// Appointments lists the live appointments loaded for date.
func (s *Service) Appointments(date time.Time) []model.Appointment {
	return s.state.Snapshot().List(date)
}

func (s *Service) Create(ctx context.Context, req appointment.Request) (model.Appointment, error) {
	return s.writer.Create(ctx, req)
}

func (s *Service) Update(ctx context.Context, id int64, p store.Patch) (model.Appointment, error) {
	return s.writer.Update(ctx, id, p)
}

func (s *Service) Cancel(ctx context.Context, id int64) (model.Appointment, error) {
	return s.writer.Cancel(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.writer.Delete(ctx, id)
}
