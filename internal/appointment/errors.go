package appointment

import (
	"errors"
	"fmt"

	"salonagenda/internal/model"
)

var (
	ErrNotFound     = errors.New("appointment: not found")
	ErrSlotConflict = errors.New("appointment: slot conflict")
	ErrInvalid      = errors.New("appointment: invalid request")
	ErrTransition   = errors.New("appointment: status transition not allowed")
)

// ConflictReason says why a slot could not be booked.
type ConflictReason string

const (
	ReasonOccupied ConflictReason = "occupied"
	ReasonClosed   ConflictReason = "closed"
)

// SlotConflictError reports a booking against a taken or closed slot.
// ExistingID is set when the holder of the slot is known.
type SlotConflictError struct {
	Key        model.SlotKey
	Reason     ConflictReason
	ExistingID int64
}

func (e *SlotConflictError) Error() string {
	if e.ExistingID != 0 {
		return fmt.Sprintf("slot %s is %s by appointment %d", e.Key, e.Reason, e.ExistingID)
	}
	return fmt.Sprintf("slot %s is %s", e.Key, e.Reason)
}

func (e *SlotConflictError) Is(target error) bool {
	return target == ErrSlotConflict
}

func conflict(key model.SlotKey, reason ConflictReason, existing int64) error {
	return &SlotConflictError{Key: key, Reason: reason, ExistingID: existing}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
