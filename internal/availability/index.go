package availability

import (
	"slices"
	"sort"
	"time"

	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

// Window is one open (box, time range) for a treatment on a given day.
type Window struct {
	AvailabilityID int64
	TreatmentID    int64
	Box            string
	Start          timegrid.Clock
	End            timegrid.Clock
}

// Candidate is a treatment whose availability covers a specific cell.
type Candidate struct {
	TreatmentID    int64
	AvailabilityID int64
}

// Options tunes how availability records are interpreted.
type Options struct {
	// EnforceDayOfWeek makes weekday flags binding when a record carries them.
	// Records without flags are governed by their date range alone either way.
	EnforceDayOfWeek bool
}

// Index answers which treatment windows are open on a date.
// It is immutable once built; rebuild it when availability records change.
type Index struct {
	opts    Options
	records []model.TreatmentAvailability
}

// NewIndex builds an index over a copy of records, sorted by treatment id then availability id.
func NewIndex(records []model.TreatmentAvailability, opts Options) *Index {
	sorted := slices.Clone(records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].TreatmentID != sorted[j].TreatmentID {
			return sorted[i].TreatmentID < sorted[j].TreatmentID
		}
		return sorted[i].ID < sorted[j].ID
	})
	return &Index{opts: opts, records: sorted}
}

// Options returns the strictness the index was built with.
func (ix *Index) Options() Options {
	return ix.opts
}

// Len returns the number of availability records.
func (ix *Index) Len() int {
	return len(ix.records)
}

func (ix *Index) openOn(rec *model.TreatmentAvailability, date time.Time) bool {
	if rec.EndTime <= rec.StartTime {
		return false
	}
	if !rec.CoversDate(date) {
		return false
	}
	if ix.opts.EnforceDayOfWeek && rec.Weekdays != nil && !rec.Weekdays.Allows(date.Weekday()) {
		return false
	}
	return true
}

// WindowsFor returns the open windows of a treatment on date. An empty result
// means the treatment is not bookable that day.
func (ix *Index) WindowsFor(treatmentID int64, date time.Time) []Window {
	var out []Window
	for i := range ix.records {
		rec := &ix.records[i]
		if rec.TreatmentID != treatmentID || !ix.openOn(rec, date) {
			continue
		}
		out = append(out, windowOf(rec))
	}
	return out
}

// WindowsOn returns every open window on date across treatments.
func (ix *Index) WindowsOn(date time.Time) []Window {
	var out []Window
	for i := range ix.records {
		rec := &ix.records[i]
		if ix.openOn(rec, date) {
			out = append(out, windowOf(rec))
		}
	}
	return out
}

// TreatmentsAvailableOn returns, in ascending order, the treatments with at
// least one non-empty window on date.
func (ix *Index) TreatmentsAvailableOn(date time.Time) []int64 {
	var out []int64
	for i := range ix.records {
		rec := &ix.records[i]
		if !ix.openOn(rec, date) {
			continue
		}
		if n := len(out); n == 0 || out[n-1] != rec.TreatmentID {
			out = append(out, rec.TreatmentID)
		}
	}
	return out
}

// Covering returns every treatment window covering (date, at, box), ordered by
// treatment id then availability id. The first element is the grid-click tie-break winner.
func (ix *Index) Covering(date time.Time, at timegrid.Clock, box string) []Candidate {
	var out []Candidate
	for i := range ix.records {
		rec := &ix.records[i]
		if rec.Box != box || !rec.CoversTime(at) || !ix.openOn(rec, date) {
			continue
		}
		out = append(out, Candidate{TreatmentID: rec.TreatmentID, AvailabilityID: rec.ID})
	}
	return out
}

// Covers reports whether treatmentID is open at (date, at, box).
func (ix *Index) Covers(treatmentID int64, date time.Time, at timegrid.Clock, box string) bool {
	for _, c := range ix.Covering(date, at, box) {
		if c.TreatmentID == treatmentID {
			return true
		}
	}
	return false
}

// InferTreatment picks the treatment for a bare grid click: lowest treatment id,
// then lowest availability id. ok is false when nothing covers the cell.
func (ix *Index) InferTreatment(date time.Time, at timegrid.Clock, box string) (Candidate, bool) {
	c := ix.Covering(date, at, box)
	if len(c) == 0 {
		return Candidate{}, false
	}
	return c[0], true
}

func windowOf(rec *model.TreatmentAvailability) Window {
	return Window{
		AvailabilityID: rec.ID,
		TreatmentID:    rec.TreatmentID,
		Box:            rec.Box,
		Start:          rec.StartTime,
		End:            rec.EndTime,
	}
}
