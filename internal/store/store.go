// Package store persists the salon catalog and appointments in sqlite and
// announces committed appointment changes on a change feed.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"salonagenda/internal/changefeed"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrConstraint = errors.New("store: constraint violation")
	ErrInUse      = errors.New("store: in use")
	ErrBadFilter  = errors.New("store: bad filter")
)

// Error is a failed storage operation. Constraint is set when the database
// rejected the write on a uniqueness constraint.
type Error struct {
	Op         string
	Err        error
	Constraint bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrConstraint && e.Constraint
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInUse) || errors.Is(err, ErrBadFilter) {
		return &Error{Op: op, Err: err}
	}
	var sqe sqlite3.Error
	if errors.As(err, &sqe) && sqe.Code == sqlite3.ErrConstraint {
		unique := sqe.ExtendedCode == sqlite3.ErrConstraintUnique || sqe.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
		return &Error{Op: op, Err: err, Constraint: unique}
	}
	return &Error{Op: op, Err: err}
}

// DB is the sqlite-backed store.
type DB struct {
	*sql.DB
	feed   changefeed.Publisher
	logger *zerolog.Logger
}

// Open opens the database at path, runs migrations and publishes appointment
// changes to feed. A nil feed disables change events.
func Open(path string, feed changefeed.Publisher, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, feed: feed, logger: logger}, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS treatments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS subtreatments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			treatment_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			duration_min INTEGER NOT NULL DEFAULT 30,
			price INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (treatment_id) REFERENCES treatments(id) ON DELETE CASCADE
		)`,

		// Weekday columns are all NULL when the window applies every day.
		`CREATE TABLE IF NOT EXISTS treatment_availabilities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			treatment_id INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			box TEXT NOT NULL,
			monday BOOLEAN,
			tuesday BOOLEAN,
			wednesday BOOLEAN,
			thursday BOOLEAN,
			friday BOOLEAN,
			saturday BOOLEAN,
			sunday BOOLEAN,
			FOREIGN KEY (treatment_id) REFERENCES treatments(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS appointments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			client_id INTEGER NOT NULL DEFAULT 0,
			professional_id INTEGER NOT NULL DEFAULT 0,
			treatment_id INTEGER NOT NULL,
			subtreatment_id INTEGER NOT NULL DEFAULT 0,
			box TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'confirmed', 'completed', 'canceled')),
			deposit INTEGER NOT NULL DEFAULT 0,
			price INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// One live appointment per slot.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_appointments_slot
			ON appointments(date, time, box) WHERE status <> 'canceled'`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_date ON appointments(date)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_treatment ON appointments(treatment_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_availabilities_treatment ON treatment_availabilities(treatment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subtreatments_treatment ON subtreatments(treatment_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

type originKey struct{}

// WithOrigin tags writes made with ctx so change events name the session
// that made them.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin set by WithOrigin.
func OriginFrom(ctx context.Context) string {
	s, _ := ctx.Value(originKey{}).(string)
	return s
}

// publish announces committed changes. The write already succeeded, so a
// feed failure is logged rather than returned.
func (db *DB) publish(ctx context.Context, events []changefeed.Event) {
	if db.feed == nil {
		return
	}
	for _, ev := range events {
		if err := db.feed.Publish(ctx, ev); err != nil {
			db.logger.Warn().Err(err).Str("event_id", ev.ID).Str("op", string(ev.Op)).Msg("publish change event")
		}
	}
}

func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
