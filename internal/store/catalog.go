package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

// InsertTreatment stores t and returns it with its id.
func (db *DB) InsertTreatment(ctx context.Context, t model.Treatment) (model.Treatment, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO treatments (name, description) VALUES (?, ?)",
		t.Name, t.Description,
	)
	if err != nil {
		return t, wrap("insert treatment", err)
	}
	t.ID, err = res.LastInsertId()
	return t, wrap("insert treatment", err)
}

// DeleteTreatment removes a treatment together with its subtreatments and
// availability windows. It fails with ErrInUse while a live appointment
// references the treatment.
func (db *DB) DeleteTreatment(ctx context.Context, id int64) error {
	const op = "delete treatment"
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	defer rollback(tx)

	var live int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM appointments WHERE treatment_id = ? AND status <> 'canceled'", id,
	).Scan(&live); err != nil {
		return wrap(op, err)
	}
	if live > 0 {
		return wrap(op, fmt.Errorf("treatment %d has %d live appointments: %w", id, live, ErrInUse))
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM treatments WHERE id = ?", id)
	if err != nil {
		return wrap(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap(op, fmt.Errorf("treatment %d: %w", id, ErrNotFound))
	}
	return wrap(op, tx.Commit())
}

// GetTreatment returns one treatment by id.
func (db *DB) GetTreatment(ctx context.Context, id int64) (model.Treatment, error) {
	var t model.Treatment
	err := db.QueryRowContext(ctx,
		"SELECT id, name, description FROM treatments WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return t, wrap("get treatment", fmt.Errorf("treatment %d: %w", id, ErrNotFound))
	}
	return t, wrap("get treatment", err)
}

// ListTreatments returns every treatment ordered by id.
func (db *DB) ListTreatments(ctx context.Context) ([]model.Treatment, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, name, description FROM treatments ORDER BY id")
	if err != nil {
		return nil, wrap("list treatments", err)
	}
	defer rows.Close()

	var out []model.Treatment
	for rows.Next() {
		var t model.Treatment
		if err := rows.Scan(&t.ID, &t.Name, &t.Description); err != nil {
			return nil, wrap("list treatments", err)
		}
		out = append(out, t)
	}
	return out, wrap("list treatments", rows.Err())
}

// InsertSubtreatment stores s and returns it with its id.
func (db *DB) InsertSubtreatment(ctx context.Context, s model.Subtreatment) (model.Subtreatment, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO subtreatments (treatment_id, name, duration_min, price) VALUES (?, ?, ?, ?)",
		s.TreatmentID, s.Name, s.DurationMin, int64(s.Price),
	)
	if err != nil {
		return s, wrap("insert subtreatment", err)
	}
	s.ID, err = res.LastInsertId()
	return s, wrap("insert subtreatment", err)
}

// GetSubtreatment returns one subtreatment by id.
func (db *DB) GetSubtreatment(ctx context.Context, id int64) (model.Subtreatment, error) {
	var (
		s     model.Subtreatment
		price int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, treatment_id, name, duration_min, price FROM subtreatments WHERE id = ?", id,
	).Scan(&s.ID, &s.TreatmentID, &s.Name, &s.DurationMin, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return s, wrap("get subtreatment", fmt.Errorf("subtreatment %d: %w", id, ErrNotFound))
	}
	if err != nil {
		return s, wrap("get subtreatment", err)
	}
	s.Price = model.Money(price)
	return s, nil
}

// UpdateSubtreatmentPrice changes the list price. Existing appointments keep
// the price they were booked at.
func (db *DB) UpdateSubtreatmentPrice(ctx context.Context, id int64, price model.Money) error {
	res, err := db.ExecContext(ctx, "UPDATE subtreatments SET price = ? WHERE id = ?", int64(price), id)
	if err != nil {
		return wrap("update subtreatment", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("update subtreatment", fmt.Errorf("subtreatment %d: %w", id, ErrNotFound))
	}
	return nil
}

func nullFlag(w *model.WeekdayFlags, day func(model.WeekdayFlags) bool) sql.NullBool {
	if w == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: day(*w), Valid: true}
}

// InsertAvailability stores a and returns it with its id.
func (db *DB) InsertAvailability(ctx context.Context, a model.TreatmentAvailability) (model.TreatmentAvailability, error) {
	w := a.Weekdays
	res, err := db.ExecContext(ctx, `
		INSERT INTO treatment_availabilities (
			treatment_id, start_date, end_date, start_time, end_time, box,
			monday, tuesday, wednesday, thursday, friday, saturday, sunday
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TreatmentID, timegrid.DateKey(a.StartDate), timegrid.DateKey(a.EndDate),
		a.StartTime.String(), a.EndTime.String(), a.Box,
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Monday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Tuesday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Wednesday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Thursday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Friday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Saturday }),
		nullFlag(w, func(f model.WeekdayFlags) bool { return f.Sunday }),
	)
	if err != nil {
		return a, wrap("insert availability", err)
	}
	a.ID, err = res.LastInsertId()
	return a, wrap("insert availability", err)
}

// SelectAvailabilities returns availability windows matching f ordered by
// treatment and id.
func (db *DB) SelectAvailabilities(ctx context.Context, f Filter) ([]model.TreatmentAvailability, error) {
	const op = "select availabilities"
	where, args, err := f.where(availabilityColumns)
	if err != nil {
		return nil, wrap(op, err)
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, treatment_id, start_date, end_date, start_time, end_time, box,
			monday, tuesday, wednesday, thursday, friday, saturday, sunday
		FROM treatment_availabilities`+where+` ORDER BY treatment_id, id`, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	out := []model.TreatmentAvailability{}
	for rows.Next() {
		var (
			a                      model.TreatmentAvailability
			sd, ed, st, et         string
			mo, tu, we, th, fr, sa sql.NullBool
			su                     sql.NullBool
		)
		if err := rows.Scan(&a.ID, &a.TreatmentID, &sd, &ed, &st, &et, &a.Box,
			&mo, &tu, &we, &th, &fr, &sa, &su); err != nil {
			return nil, wrap(op, err)
		}
		if a.StartDate, err = timegrid.ParseDate(sd); err != nil {
			return nil, wrap(op, err)
		}
		if a.EndDate, err = timegrid.ParseDate(ed); err != nil {
			return nil, wrap(op, err)
		}
		if a.StartTime, err = timegrid.ParseClock(st); err != nil {
			return nil, wrap(op, err)
		}
		if a.EndTime, err = timegrid.ParseClock(et); err != nil {
			return nil, wrap(op, err)
		}
		if mo.Valid || tu.Valid || we.Valid || th.Valid || fr.Valid || sa.Valid || su.Valid {
			a.Weekdays = &model.WeekdayFlags{
				Monday: mo.Bool, Tuesday: tu.Bool, Wednesday: we.Bool, Thursday: th.Bool,
				Friday: fr.Bool, Saturday: sa.Bool, Sunday: su.Bool,
			}
		}
		out = append(out, a)
	}
	return out, wrap(op, rows.Err())
}

// InsertClient stores c and returns it with its id.
func (db *DB) InsertClient(ctx context.Context, c model.Client) (model.Client, error) {
	res, err := db.ExecContext(ctx,
		"INSERT INTO clients (name, phone, chat_id) VALUES (?, ?, ?)",
		c.Name, c.Phone, c.ChatID,
	)
	if err != nil {
		return c, wrap("insert client", err)
	}
	c.ID, err = res.LastInsertId()
	return c, wrap("insert client", err)
}

// GetClient returns one client by id.
func (db *DB) GetClient(ctx context.Context, id int64) (model.Client, error) {
	var c model.Client
	err := db.QueryRowContext(ctx,
		"SELECT id, name, phone, chat_id FROM clients WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.ChatID)
	if errors.Is(err, sql.ErrNoRows) {
		return c, wrap("get client", fmt.Errorf("client %d: %w", id, ErrNotFound))
	}
	return c, wrap("get client", err)
}
