package model

import (
	"fmt"
	"time"

	"salonagenda/internal/timegrid"
)

// Status is an appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// Occupies reports whether an appointment in this status holds its slot.
func (s Status) Occupies() bool {
	return s != StatusCanceled
}

// CanTransition reports whether staff may move an appointment from s to next.
// Canceled appointments may be restored to pending or confirmed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCompleted || next == StatusCanceled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCanceled || next == StatusPending
	case StatusCanceled:
		return next == StatusPending || next == StatusConfirmed
	case StatusCompleted:
		return false
	}
	return false
}

// SlotKey identifies one bookable cell: a box at a slot start on a calendar day.
type SlotKey struct {
	Date string         `json:"date"` // YYYY-MM-DD
	Time timegrid.Clock `json:"time"`
	Box  string         `json:"box"`
}

// NewSlotKey builds a key from a calendar day.
func NewSlotKey(date time.Time, at timegrid.Clock, box string) SlotKey {
	return SlotKey{Date: timegrid.DateKey(date), Time: at, Box: box}
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s %s %s", k.Date, k.Time, k.Box)
}

// Appointment is a booking of one slot in one box.
type Appointment struct {
	ID             int64          `json:"id"`
	Date           time.Time      `json:"date"`
	Time           timegrid.Clock `json:"time"`
	ClientID       int64          `json:"client_id"`
	ProfessionalID int64          `json:"professional_id"`
	TreatmentID    int64          `json:"treatment_id"`
	SubtreatmentID int64          `json:"subtreatment_id"`
	Box            string         `json:"box"`
	Status         Status         `json:"status"`
	Deposit        Money          `json:"deposit"`
	Price          Money          `json:"price"`
	Notes          string         `json:"notes"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Key returns the slot the appointment sits in.
func (a *Appointment) Key() SlotKey {
	return NewSlotKey(a.Date, a.Time, a.Box)
}

// Occupies reports whether the appointment currently holds its slot.
func (a *Appointment) Occupies() bool {
	return a.Status.Occupies()
}
