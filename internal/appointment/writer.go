// Package appointment validates and persists appointment changes without
// letting two live appointments share a slot.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"salonagenda/internal/availability"
	"salonagenda/internal/metrics"
	"salonagenda/internal/model"
	"salonagenda/internal/notify"
	"salonagenda/internal/store"
	"salonagenda/internal/timegrid"
)

// Store is the persistence the writer needs.
type Store interface {
	InsertAppointment(ctx context.Context, a model.Appointment) (model.Appointment, error)
	GetAppointment(ctx context.Context, id int64) (model.Appointment, error)
	UpdateAppointments(ctx context.Context, f store.Filter, p store.Patch) ([]model.Appointment, error)
	DeleteAppointments(ctx context.Context, f store.Filter) ([]model.Appointment, error)
	SlotTaken(ctx context.Context, key model.SlotKey, exceptID int64) (bool, error)
	GetSubtreatment(ctx context.Context, id int64) (model.Subtreatment, error)
}

// Directory resolves the names and contact used in confirmations.
type Directory interface {
	GetClient(ctx context.Context, id int64) (model.Client, error)
	GetTreatment(ctx context.Context, id int64) (model.Treatment, error)
}

// Availability exposes the current availability index and grid.
type Availability interface {
	Index() *availability.Index
	Grid() timegrid.Grid
}

// Occupancy is the in-memory booking state checked before every write.
type Occupancy interface {
	AppointmentAt(date time.Time, at timegrid.Clock, box string) (model.Appointment, bool)
}

// Refresher reloads booking state after a write.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Request describes a new appointment. A zero TreatmentID lets the writer
// infer the treatment from the window covering the slot.
type Request struct {
	Date           time.Time
	Time           timegrid.Clock
	Box            string
	ClientID       int64
	ProfessionalID int64
	TreatmentID    int64
	SubtreatmentID int64
	Status         model.Status
	Deposit        model.Money
	Notes          string
}

func (r Request) key() model.SlotKey {
	return model.NewSlotKey(r.Date, r.Time, r.Box)
}

const notifyTimeout = 15 * time.Second

// Writer applies create, update, cancel and delete operations.
type Writer struct {
	store     Store
	avail     Availability
	state     Occupancy
	refresher Refresher
	directory Directory
	notifier  notify.Dispatcher
	logger    *zerolog.Logger

	// mu serializes check-then-write within the process.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewWriter builds a writer over st that checks slots against avail and state.
func NewWriter(st Store, avail Availability, state Occupancy, logger *zerolog.Logger) *Writer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Writer{store: st, avail: avail, state: state, logger: logger}
}

// SetRefresher sets what reloads booking state after each write.
func (w *Writer) SetRefresher(r Refresher) {
	w.refresher = r
}

// SetNotifier enables confirmation messages after create.
func (w *Writer) SetNotifier(dir Directory, d notify.Dispatcher) {
	w.directory = dir
	w.notifier = d
}

// Wait blocks until in-flight confirmation messages are done.
func (w *Writer) Wait() {
	w.wg.Wait()
}

// Create books a new appointment. It fails with a SlotConflictError when the
// slot is closed or already held by a live appointment.
func (w *Writer) Create(ctx context.Context, req Request) (model.Appointment, error) {
	if strings.TrimSpace(req.Box) == "" {
		return model.Appointment{}, invalid("box is required")
	}
	if req.Date.IsZero() {
		return model.Appointment{}, invalid("date is required")
	}
	req.Date = timegrid.Day(req.Date)
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	if !req.Status.Valid() || !req.Status.Occupies() {
		return model.Appointment{}, invalid("cannot create appointment with status %q", req.Status)
	}

	key := req.key()
	if !w.avail.Grid().Contains(req.Time) {
		metrics.IncSlotConflict(string(ReasonClosed))
		return model.Appointment{}, conflict(key, ReasonClosed, 0)
	}

	ix := w.avail.Index()
	if req.TreatmentID == 0 {
		c, ok := ix.InferTreatment(req.Date, req.Time, req.Box)
		if !ok {
			metrics.IncSlotConflict(string(ReasonClosed))
			return model.Appointment{}, conflict(key, ReasonClosed, 0)
		}
		req.TreatmentID = c.TreatmentID
	} else if !ix.Covers(req.TreatmentID, req.Date, req.Time, req.Box) {
		metrics.IncSlotConflict(string(ReasonClosed))
		return model.Appointment{}, conflict(key, ReasonClosed, 0)
	}

	a := model.Appointment{
		Date:           req.Date,
		Time:           req.Time,
		Box:            req.Box,
		ClientID:       req.ClientID,
		ProfessionalID: req.ProfessionalID,
		TreatmentID:    req.TreatmentID,
		SubtreatmentID: req.SubtreatmentID,
		Status:         req.Status,
		Deposit:        req.Deposit,
		Notes:          req.Notes,
	}
	if req.SubtreatmentID != 0 {
		sub, err := w.store.GetSubtreatment(ctx, req.SubtreatmentID)
		if errors.Is(err, store.ErrNotFound) {
			return model.Appointment{}, invalid("unknown subtreatment %d", req.SubtreatmentID)
		}
		if err != nil {
			return model.Appointment{}, err
		}
		if sub.TreatmentID != req.TreatmentID {
			return model.Appointment{}, invalid("subtreatment %d does not belong to treatment %d", sub.ID, req.TreatmentID)
		}
		a.Price = sub.Price
	}

	created, err := w.insert(ctx, a)
	if err != nil {
		return model.Appointment{}, err
	}

	metrics.IncAppointmentCreated(string(created.Status))
	w.logger.Info().
		Int64("appointment_id", created.ID).
		Str("date", timegrid.DateKey(created.Date)).
		Str("time", created.Time.String()).
		Str("box", created.Box).
		Int64("treatment_id", created.TreatmentID).
		Msg("appointment created")

	w.refresh(ctx)
	w.confirm(ctx, created)
	return created, nil
}

func (w *Writer) insert(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := a.Key()
	if err := w.checkFree(ctx, key, 0); err != nil {
		return model.Appointment{}, err
	}
	created, err := w.store.InsertAppointment(ctx, a)
	if err != nil {
		return model.Appointment{}, w.mapWriteErr(key, err)
	}
	return created, nil
}

// checkFree fails when an appointment other than selfID holds key, either in
// the loaded state or in storage.
func (w *Writer) checkFree(ctx context.Context, key model.SlotKey, selfID int64) error {
	date, err := timegrid.ParseDate(key.Date)
	if err != nil {
		return err
	}
	if held, ok := w.state.AppointmentAt(date, key.Time, key.Box); ok && held.ID != selfID {
		metrics.IncSlotConflict(string(ReasonOccupied))
		return conflict(key, ReasonOccupied, held.ID)
	}
	taken, err := w.store.SlotTaken(ctx, key, selfID)
	if err != nil {
		return err
	}
	if taken {
		metrics.IncSlotConflict(string(ReasonOccupied))
		return conflict(key, ReasonOccupied, 0)
	}
	return nil
}

func (w *Writer) mapWriteErr(key model.SlotKey, err error) error {
	if errors.Is(err, store.ErrConstraint) {
		metrics.IncSlotConflict(string(ReasonOccupied))
		return conflict(key, ReasonOccupied, 0)
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (w *Writer) get(ctx context.Context, id int64) (model.Appointment, error) {
	a, err := w.store.GetAppointment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Appointment{}, fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	return a, err
}

// Update applies p to appointment id. The slot is re-checked against other
// appointments only when p moves the appointment or restores it from
// canceled; edits to notes, deposit or status never conflict with the
// appointment itself.
func (w *Writer) Update(ctx context.Context, id int64, p store.Patch) (model.Appointment, error) {
	cur, err := w.get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return model.Appointment{}, invalid("unknown status %q", *p.Status)
		}
		if !cur.Status.CanTransition(*p.Status) {
			return model.Appointment{}, fmt.Errorf("%w: %s to %s", ErrTransition, cur.Status, *p.Status)
		}
	}
	if p.Box != nil && strings.TrimSpace(*p.Box) == "" {
		return model.Appointment{}, invalid("box is required")
	}

	next := cur
	p.Apply(&next)
	moved := next.Key() != cur.Key()
	if p.MovesSlot(cur) {
		if !w.avail.Grid().Contains(next.Time) || !w.avail.Index().Covers(next.TreatmentID, next.Date, next.Time, next.Box) {
			metrics.IncSlotConflict(string(ReasonClosed))
			return model.Appointment{}, conflict(next.Key(), ReasonClosed, 0)
		}
	}

	updated, err := w.update(ctx, cur, next, p)
	if err != nil {
		return model.Appointment{}, err
	}

	if cur.Occupies() && !updated.Occupies() {
		metrics.IncAppointmentCanceled()
	}
	w.logger.Info().
		Int64("appointment_id", updated.ID).
		Str("status", string(updated.Status)).
		Bool("moved", moved).
		Msg("appointment updated")

	w.refresh(ctx)
	return updated, nil
}

func (w *Writer) update(ctx context.Context, cur, next model.Appointment, p store.Patch) (model.Appointment, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.MovesSlot(cur) {
		if err := w.checkFree(ctx, next.Key(), cur.ID); err != nil {
			return model.Appointment{}, err
		}
	}
	rows, err := w.store.UpdateAppointments(ctx, store.Eq("id", cur.ID), p)
	if err != nil {
		return model.Appointment{}, w.mapWriteErr(next.Key(), err)
	}
	if len(rows) == 0 {
		return model.Appointment{}, fmt.Errorf("appointment %d: %w", cur.ID, ErrNotFound)
	}
	return rows[0], nil
}

// Cancel marks the appointment canceled, freeing its slot.
func (w *Writer) Cancel(ctx context.Context, id int64) (model.Appointment, error) {
	canceled := model.StatusCanceled
	return w.Update(ctx, id, store.Patch{Status: &canceled})
}

// Delete removes the appointment row.
func (w *Writer) Delete(ctx context.Context, id int64) error {
	gone, err := w.store.DeleteAppointments(ctx, store.Eq("id", id))
	if err != nil {
		return err
	}
	if len(gone) == 0 {
		return fmt.Errorf("appointment %d: %w", id, ErrNotFound)
	}
	metrics.IncAppointmentDeleted()
	w.logger.Info().Int64("appointment_id", id).Msg("appointment deleted")
	w.refresh(ctx)
	return nil
}

func (w *Writer) refresh(ctx context.Context) {
	if w.refresher == nil {
		return
	}
	if err := w.refresher.Refresh(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("refresh booking state after write")
	}
}

// confirm sends the booking confirmation in the background. Failures are
// logged and never reach the caller.
func (w *Writer) confirm(ctx context.Context, a model.Appointment) {
	if w.notifier == nil || w.directory == nil || a.ClientID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()

		log := w.logger.With().Int64("appointment_id", a.ID).Int64("client_id", a.ClientID).Logger()
		client, err := w.directory.GetClient(ctx, a.ClientID)
		if err != nil {
			metrics.IncNotificationFailed()
			log.Error().Err(err).Msg("load client for confirmation")
			return
		}
		if client.ChatID == "" {
			log.Debug().Msg("client has no chat id, skipping confirmation")
			return
		}
		c := notify.Confirmation{ClientName: client.Name, Appointment: a}
		if t, err := w.directory.GetTreatment(ctx, a.TreatmentID); err == nil {
			c.TreatmentName = t.Name
		}
		if err := w.notifier.SendMessage(ctx, client.ChatID, notify.FormatConfirmation(c)); err != nil {
			metrics.IncNotificationFailed()
			log.Error().Err(err).Msg("send confirmation")
		}
	}()
}
