package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonagenda/internal/changefeed"
	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

const appointmentSelect = `SELECT id, date, time, client_id, professional_id, treatment_id,
	subtreatment_id, box, status, deposit, price, notes, created_at, updated_at
	FROM appointments`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Patch lists the appointment fields an update sets. Nil fields are left
// unchanged.
type Patch struct {
	Date           *time.Time
	Time           *timegrid.Clock
	Box            *string
	Status         *model.Status
	ClientID       *int64
	ProfessionalID *int64
	Deposit        *model.Money
	Notes          *string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Date == nil && p.Time == nil && p.Box == nil && p.Status == nil &&
		p.ClientID == nil && p.ProfessionalID == nil && p.Deposit == nil && p.Notes == nil
}

// MovesSlot reports whether applying the patch to a could change the slot a
// occupies, either by moving it or by restoring it from canceled.
func (p Patch) MovesSlot(a model.Appointment) bool {
	next := a
	p.Apply(&next)
	if !next.Occupies() {
		return false
	}
	return !a.Occupies() || next.Key() != a.Key()
}

// Apply copies the set fields onto a.
func (p Patch) Apply(a *model.Appointment) {
	if p.Date != nil {
		a.Date = timegrid.Day(*p.Date)
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Box != nil {
		a.Box = *p.Box
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.ClientID != nil {
		a.ClientID = *p.ClientID
	}
	if p.ProfessionalID != nil {
		a.ProfessionalID = *p.ProfessionalID
	}
	if p.Deposit != nil {
		a.Deposit = *p.Deposit
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}

func (p Patch) set() (string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		cols = append(cols, col+" = ?")
		args = append(args, sqlValue(v))
	}
	if p.Date != nil {
		add("date", *p.Date)
	}
	if p.Time != nil {
		add("time", *p.Time)
	}
	if p.Box != nil {
		add("box", *p.Box)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.ClientID != nil {
		add("client_id", *p.ClientID)
	}
	if p.ProfessionalID != nil {
		add("professional_id", *p.ProfessionalID)
	}
	if p.Deposit != nil {
		add("deposit", *p.Deposit)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	// Timestamps are stored whole; sqlValue would reduce them to a date.
	cols = append(cols, "updated_at = ?")
	args = append(args, time.Now().UTC())
	return strings.Join(cols, ", "), args
}

func scanAppointments(rows *sql.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	out := []model.Appointment{}
	for rows.Next() {
		var (
			a          model.Appointment
			date, at   string
			status     string
			dep, price int64
		)
		if err := rows.Scan(&a.ID, &date, &at, &a.ClientID, &a.ProfessionalID, &a.TreatmentID,
			&a.SubtreatmentID, &a.Box, &status, &dep, &price, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		d, err := timegrid.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
		}
		c, err := timegrid.ParseClock(at)
		if err != nil {
			return nil, fmt.Errorf("appointment %d: %w", a.ID, err)
		}
		a.Date, a.Time = d, c
		a.Status = model.Status(status)
		a.Deposit, a.Price = model.Money(dep), model.Money(price)
		out = append(out, a)
	}
	return out, rows.Err()
}

func selectAppointments(ctx context.Context, q querier, f Filter) ([]model.Appointment, error) {
	where, args, err := f.where(appointmentColumns)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, appointmentSelect+where+" ORDER BY date, time, box, id", args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

// SelectAppointments returns appointments matching f ordered by date, time
// and box.
func (db *DB) SelectAppointments(ctx context.Context, f Filter) ([]model.Appointment, error) {
	out, err := selectAppointments(ctx, db.DB, f)
	return out, wrap("select appointments", err)
}

// GetAppointment returns one appointment by id.
func (db *DB) GetAppointment(ctx context.Context, id int64) (model.Appointment, error) {
	out, err := selectAppointments(ctx, db.DB, Eq("id", id))
	if err != nil {
		return model.Appointment{}, wrap("get appointment", err)
	}
	if len(out) == 0 {
		return model.Appointment{}, wrap("get appointment", fmt.Errorf("appointment %d: %w", id, ErrNotFound))
	}
	return out[0], nil
}

// SlotTaken reports whether a live appointment other than exceptID holds the slot.
func (db *DB) SlotTaken(ctx context.Context, key model.SlotKey, exceptID int64) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments
		WHERE date = ? AND time = ? AND box = ? AND status <> 'canceled' AND id <> ?`,
		key.Date, key.Time.String(), key.Box, exceptID,
	).Scan(&n)
	if err != nil {
		return false, wrap("check slot", err)
	}
	return n > 0, nil
}

// InsertAppointment stores a and returns it with its id and timestamps set.
func (db *DB) InsertAppointment(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	now := time.Now().UTC()
	a.Date = timegrid.Day(a.Date)
	a.CreatedAt, a.UpdatedAt = now, now

	res, err := db.ExecContext(ctx, `
		INSERT INTO appointments (
			date, time, client_id, professional_id, treatment_id, subtreatment_id,
			box, status, deposit, price, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timegrid.DateKey(a.Date), a.Time.String(), a.ClientID, a.ProfessionalID, a.TreatmentID,
		a.SubtreatmentID, a.Box, string(a.Status), int64(a.Deposit), int64(a.Price), a.Notes, now, now,
	)
	if err != nil {
		return model.Appointment{}, wrap("insert appointment", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return model.Appointment{}, wrap("insert appointment", err)
	}

	row := a
	db.publish(ctx, []changefeed.Event{
		changefeed.NewEvent(changefeed.TableAppointments, changefeed.OpInsert, &row, nil, OriginFrom(ctx)),
	})
	return a, nil
}

func idList(rows []model.Appointment) (string, []any) {
	marks := make([]string, len(rows))
	args := make([]any, len(rows))
	for i, r := range rows {
		marks[i] = "?"
		args[i] = r.ID
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

// UpdateAppointments applies p to every appointment matching f and returns
// the updated rows. An unfiltered update is refused.
func (db *DB) UpdateAppointments(ctx context.Context, f Filter, p Patch) ([]model.Appointment, error) {
	const op = "update appointments"
	if f.IsZero() {
		return nil, wrap(op, fmt.Errorf("%w: update without filter", ErrBadFilter))
	}
	if p.IsZero() {
		out, err := db.SelectAppointments(ctx, f)
		return out, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rollback(tx)

	before, err := selectAppointments(ctx, tx, f)
	if err != nil {
		return nil, wrap(op, err)
	}
	if len(before) == 0 {
		return []model.Appointment{}, nil
	}

	set, args := p.set()
	in, ids := idList(before)
	if _, err := tx.ExecContext(ctx, "UPDATE appointments SET "+set+" WHERE id IN "+in, append(args, ids...)...); err != nil {
		return nil, wrap(op, err)
	}

	rows, err := tx.QueryContext(ctx, appointmentSelect+" WHERE id IN "+in, ids...)
	if err != nil {
		return nil, wrap(op, err)
	}
	after, err := scanAppointments(rows)
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap(op, err)
	}

	byID := make(map[int64]model.Appointment, len(after))
	for _, a := range after {
		byID[a.ID] = a
	}
	out := make([]model.Appointment, 0, len(before))
	events := make([]changefeed.Event, 0, len(before))
	for i := range before {
		old := before[i]
		cur, ok := byID[old.ID]
		if !ok {
			continue
		}
		out = append(out, cur)
		events = append(events, changefeed.NewEvent(changefeed.TableAppointments, changefeed.OpUpdate, &cur, &old, OriginFrom(ctx)))
	}
	db.publish(ctx, events)
	return out, nil
}

// DeleteAppointments removes every appointment matching f and returns the
// removed rows. An unfiltered delete is refused.
func (db *DB) DeleteAppointments(ctx context.Context, f Filter) ([]model.Appointment, error) {
	const op = "delete appointments"
	if f.IsZero() {
		return nil, wrap(op, fmt.Errorf("%w: delete without filter", ErrBadFilter))
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rollback(tx)

	gone, err := selectAppointments(ctx, tx, f)
	if err != nil {
		return nil, wrap(op, err)
	}
	if len(gone) == 0 {
		return gone, nil
	}
	in, ids := idList(gone)
	if _, err := tx.ExecContext(ctx, "DELETE FROM appointments WHERE id IN "+in, ids...); err != nil {
		return nil, wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap(op, err)
	}

	events := make([]changefeed.Event, len(gone))
	for i := range gone {
		old := gone[i]
		events[i] = changefeed.NewEvent(changefeed.TableAppointments, changefeed.OpDelete, nil, &old, OriginFrom(ctx))
	}
	db.publish(ctx, events)
	return gone, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
