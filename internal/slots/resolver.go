package slots

import (
	"sort"
	"sync/atomic"
	"time"

	"salonagenda/internal/availability"
	"salonagenda/internal/booking"
	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

// Slot is one bookable cell.
type Slot struct {
	Time timegrid.Clock
	Box  string
}

// SlotInfo is a simplified representation for UI.
type SlotInfo struct {
	Start string `json:"start"` // "10:00"
	End   string `json:"end"`   // "10:30"
	Box   string `json:"box"`
}

// CellKind classifies a grid cell.
type CellKind int

const (
	Closed CellKind = iota
	Available
	Occupied
)

func (k CellKind) String() string {
	switch k {
	case Available:
		return "available"
	case Occupied:
		return "occupied"
	}
	return "closed"
}

// CellStatus drives rendering of one grid cell.
type CellStatus struct {
	Kind        CellKind
	Appointment *model.Appointment // set when Occupied
	Candidates  []int64            // treatment ids, set when Available; first one wins a bare click
}

// Cell is a box column within a grid row.
type Cell struct {
	Box    string
	Status CellStatus
}

// Row is one slot start across all boxes.
type Row struct {
	Time  timegrid.Clock
	Cells []Cell
}

// Occupancy exposes the current booking snapshot.
type Occupancy interface {
	Snapshot() *booking.Snapshot
}

// Resolver combines availability windows and bookings into bookable slots.
// Every call reads a single booking snapshot.
type Resolver struct {
	index atomic.Pointer[availability.Index]
	state Occupancy
	grid  timegrid.Grid
}

// NewResolver creates a resolver over the given index, booking state and grid.
func NewResolver(index *availability.Index, state Occupancy, grid timegrid.Grid) *Resolver {
	r := &Resolver{state: state, grid: grid}
	r.SetIndex(index)
	return r
}

// SetIndex swaps the availability index, e.g. after availability records change.
func (r *Resolver) SetIndex(index *availability.Index) {
	if index == nil {
		index = availability.NewIndex(nil, availability.Options{})
	}
	r.index.Store(index)
}

// Index returns the availability index in use.
func (r *Resolver) Index() *availability.Index {
	return r.index.Load()
}

// Grid returns the slot grid in use.
func (r *Resolver) Grid() timegrid.Grid {
	return r.grid
}

// OpenSlotsFor returns the free grid slots inside the treatment's windows on
// date, ordered by time then box. Overlapping windows yield each slot once.
func (r *Resolver) OpenSlotsFor(treatmentID int64, date time.Time) []Slot {
	snap := r.state.Snapshot()
	seen := make(map[Slot]struct{})
	out := make([]Slot, 0)

	for _, w := range r.Index().WindowsFor(treatmentID, date) {
		for at := range r.grid.Within(w.Start, w.End) {
			s := Slot{Time: at, Box: w.Box}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			if snap.IsOccupied(date, at, w.Box) {
				continue
			}
			out = append(out, s)
		}
	}

	sortSlots(out)
	return out
}

// IsSlotBookable reports whether some window covers (date, at, box) and no
// live appointment holds it.
func (r *Resolver) IsSlotBookable(date time.Time, at timegrid.Clock, box string) bool {
	if !r.grid.Contains(at) {
		return false
	}
	if len(r.Index().Covering(date, at, box)) == 0 {
		return false
	}
	return !r.state.Snapshot().IsOccupied(date, at, box)
}

// CellStatus classifies a single cell. An appointment wins over availability,
// so a booking outside any window still renders as occupied.
func (r *Resolver) CellStatus(date time.Time, at timegrid.Clock, box string) CellStatus {
	return r.cellStatus(r.state.Snapshot(), date, at, box)
}

func (r *Resolver) cellStatus(snap *booking.Snapshot, date time.Time, at timegrid.Clock, box string) CellStatus {
	if a, ok := snap.AppointmentAt(date, at, box); ok {
		return CellStatus{Kind: Occupied, Appointment: &a}
	}
	if !r.grid.Contains(at) {
		return CellStatus{Kind: Closed}
	}
	cands := r.Index().Covering(date, at, box)
	if len(cands) == 0 {
		return CellStatus{Kind: Closed}
	}
	ids := make([]int64, 0, len(cands))
	for _, c := range cands {
		if n := len(ids); n == 0 || ids[n-1] != c.TreatmentID {
			ids = append(ids, c.TreatmentID)
		}
	}
	return CellStatus{Kind: Available, Candidates: ids}
}

// DayGrid renders every grid slot of date across boxes.
func (r *Resolver) DayGrid(date time.Time, boxes []string) []Row {
	snap := r.state.Snapshot()
	rows := make([]Row, 0, r.grid.Len())
	for at := range r.grid.Slots() {
		row := Row{Time: at, Cells: make([]Cell, 0, len(boxes))}
		for _, box := range boxes {
			row.Cells = append(row.Cells, Cell{Box: box, Status: r.cellStatus(snap, date, at, box)})
		}
		rows = append(rows, row)
	}
	return rows
}

// ToSlotInfo converts slots to SlotInfo for UI.
func ToSlotInfo(slots []Slot, step int) []SlotInfo {
	if step <= 0 {
		step = timegrid.DefaultStep
	}
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start: s.Time.String(),
			End:   s.Time.Add(step).String(),
			Box:   s.Box,
		}
	}
	return result
}

// GroupByBox returns the open times per box, preserving order.
func GroupByBox(slots []Slot) map[string][]timegrid.Clock {
	out := make(map[string][]timegrid.Clock)
	for _, s := range slots {
		out[s.Box] = append(out[s.Box], s.Time)
	}
	return out
}

func sortSlots(s []Slot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Time != s[j].Time {
			return s[i].Time < s[j].Time
		}
		return s[i].Box < s[j].Box
	})
}
