// Package changefeed carries row-level change notifications for storage tables.
package changefeed

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"salonagenda/internal/model"
)

// TableAppointments is the only table the agenda subscribes to.
const TableAppointments = "appointments"

// ErrClosed is returned when publishing to or subscribing on a closed feed.
var ErrClosed = errors.New("changefeed: closed")

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Mask selects which operations a subscription receives.
type Mask uint8

const (
	MaskInsert Mask = 1 << iota
	MaskUpdate
	MaskDelete

	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

// Has reports whether op is selected by the mask.
func (m Mask) Has(op Op) bool {
	switch op {
	case OpInsert:
		return m&MaskInsert != 0
	case OpUpdate:
		return m&MaskUpdate != 0
	case OpDelete:
		return m&MaskDelete != 0
	}
	return false
}

// Event describes one changed row. New is nil for deletes, Old is nil for inserts.
type Event struct {
	ID     string             `json:"id"`
	Table  string             `json:"table"`
	Op     Op                 `json:"op"`
	New    *model.Appointment `json:"new,omitempty"`
	Old    *model.Appointment `json:"old,omitempty"`
	Origin string             `json:"origin,omitempty"` // session that made the change
	At     time.Time          `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(table string, op Op, newRow, oldRow *model.Appointment, origin string) Event {
	return Event{
		ID:     uuid.NewString(),
		Table:  table,
		Op:     op,
		New:    newRow,
		Old:    oldRow,
		Origin: origin,
		At:     time.Now().UTC(),
	}
}

// Dates returns the calendar days touched by the event.
func (e Event) Dates() []time.Time {
	var out []time.Time
	if e.New != nil {
		out = append(out, e.New.Date)
	}
	if e.Old != nil && (e.New == nil || !e.Old.Date.Equal(e.New.Date)) {
		out = append(out, e.Old.Date)
	}
	return out
}

// Publisher announces committed changes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscription delivers events until closed.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Subscriber opens subscriptions scoped to one table.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, mask Mask) (Subscription, error)
}

// Feed is both ends of the change stream.
type Feed interface {
	Publisher
	Subscriber
}

// subscriberBuffer bounds per-subscription queues. Subscribers only use events
// as reload triggers, so dropping one while others are queued loses nothing.
const subscriberBuffer = 16
