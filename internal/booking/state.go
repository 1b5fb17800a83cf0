package booking

import (
	"sort"
	"sync/atomic"
	"time"

	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

// Range is an inclusive span of calendar days.
type Range struct {
	From time.Time
	To   time.Time
}

// Day returns a range covering a single date.
func Day(date time.Time) Range {
	d := timegrid.Day(date)
	return Range{From: d, To: d}
}

// Contains reports whether date is inside the range.
func (r Range) Contains(date time.Time) bool {
	d := timegrid.DateKey(date)
	return timegrid.DateKey(r.From) <= d && d <= timegrid.DateKey(r.To)
}

// IsZero reports whether the range was never set.
func (r Range) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

func (r Range) String() string {
	return timegrid.DateKey(r.From) + ".." + timegrid.DateKey(r.To)
}

// Snapshot is an immutable set of slot-holding appointments for a date range.
type Snapshot struct {
	rng      Range
	byKey    map[model.SlotKey]model.Appointment
	loadedAt time.Time
}

// NewSnapshot indexes appointments by slot. Canceled appointments are dropped.
// When storage holds two live appointments for one slot the lower id wins, so
// the view is deterministic even without a uniqueness constraint.
func NewSnapshot(rng Range, appointments []model.Appointment) *Snapshot {
	byKey := make(map[model.SlotKey]model.Appointment, len(appointments))
	for _, a := range appointments {
		if !a.Occupies() {
			continue
		}
		k := a.Key()
		if prev, ok := byKey[k]; ok && prev.ID < a.ID {
			continue
		}
		byKey[k] = a
	}
	return &Snapshot{rng: rng, byKey: byKey, loadedAt: time.Now()}
}

var emptySnapshot = NewSnapshot(Range{}, nil)

// Range returns the dates the snapshot was loaded for.
func (s *Snapshot) Range() Range { return s.rng }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of occupied slots.
func (s *Snapshot) Len() int { return len(s.byKey) }

// IsOccupied reports whether a live appointment holds (date, at, box).
func (s *Snapshot) IsOccupied(date time.Time, at timegrid.Clock, box string) bool {
	_, ok := s.byKey[model.NewSlotKey(date, at, box)]
	return ok
}

// AppointmentAt returns the live appointment holding (date, at, box), if any.
func (s *Snapshot) AppointmentAt(date time.Time, at timegrid.Clock, box string) (model.Appointment, bool) {
	a, ok := s.byKey[model.NewSlotKey(date, at, box)]
	return a, ok
}

// List returns the live appointments on date ordered by time then box.
func (s *Snapshot) List(date time.Time) []model.Appointment {
	key := timegrid.DateKey(date)
	var out []model.Appointment
	for k, a := range s.byKey {
		if k.Date == key {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time != out[j].Time {
			return out[i].Time < out[j].Time
		}
		return out[i].Box < out[j].Box
	})
	return out
}

// State holds the current snapshot. Replace swaps it atomically, so readers
// always see one complete snapshot.
type State struct {
	cur atomic.Pointer[Snapshot]
}

// NewState returns a state holding an empty snapshot.
func NewState() *State {
	s := &State{}
	s.cur.Store(emptySnapshot)
	return s
}

// Replace installs snap as the current snapshot.
func (s *State) Replace(snap *Snapshot) {
	if snap == nil {
		snap = emptySnapshot
	}
	s.cur.Store(snap)
}

// Snapshot returns the current snapshot. Callers that make several lookups
// should hold on to one snapshot rather than re-reading the state.
func (s *State) Snapshot() *Snapshot {
	return s.cur.Load()
}

func (s *State) IsOccupied(date time.Time, at timegrid.Clock, box string) bool {
	return s.Snapshot().IsOccupied(date, at, box)
}

func (s *State) AppointmentAt(date time.Time, at timegrid.Clock, box string) (model.Appointment, bool) {
	return s.Snapshot().AppointmentAt(date, at, box)
}
