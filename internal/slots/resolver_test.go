package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonagenda/internal/availability"
	"salonagenda/internal/booking"
	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

func day(s string) time.Time {
	d, err := timegrid.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func clock(s string) timegrid.Clock {
	return timegrid.MustClock(s)
}

func window(id, treatmentID int64, box, from, to string) model.TreatmentAvailability {
	return model.TreatmentAvailability{
		ID:          id,
		TreatmentID: treatmentID,
		StartDate:   day("2024-01-01"),
		EndDate:     day("2024-01-31"),
		StartTime:   clock(from),
		EndTime:     clock(to),
		Box:         box,
	}
}

func adminGrid(t *testing.T) timegrid.Grid {
	g, err := timegrid.ParseGrid("08:00", "20:00", 30)
	require.NoError(t, err)
	return g
}

func newResolver(t *testing.T, records []model.TreatmentAvailability, appts ...model.Appointment) (*Resolver, *booking.State) {
	state := booking.NewState()
	state.Replace(booking.NewSnapshot(booking.Day(day("2024-01-15")), appts))
	ix := availability.NewIndex(records, availability.Options{})
	return NewResolver(ix, state, adminGrid(t)), state
}

func pending(id int64, date, at, box string) model.Appointment {
	return model.Appointment{ID: id, Date: day(date), Time: clock(at), Box: box, Status: model.StatusPending, TreatmentID: 1}
}

func TestOpenSlotsFor_NoAppointments(t *testing.T) {
	r, _ := newResolver(t, []model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "11:00")})

	got := r.OpenSlotsFor(1, day("2024-01-15"))
	assert.Equal(t, []Slot{
		{clock("09:00"), "Box 1"},
		{clock("09:30"), "Box 1"},
		{clock("10:00"), "Box 1"},
		{clock("10:30"), "Box 1"},
	}, got)
}

func TestOpenSlotsFor_ExcludesOccupied(t *testing.T) {
	r, state := newResolver(t,
		[]model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "11:00")},
		pending(10, "2024-01-15", "10:00", "Box 1"),
	)

	assert.Equal(t, []Slot{
		{clock("09:00"), "Box 1"},
		{clock("09:30"), "Box 1"},
		{clock("10:30"), "Box 1"},
	}, r.OpenSlotsFor(1, day("2024-01-15")))

	canceled := pending(10, "2024-01-15", "10:00", "Box 1")
	canceled.Status = model.StatusCanceled
	state.Replace(booking.NewSnapshot(booking.Day(day("2024-01-15")), []model.Appointment{canceled}))

	assert.Contains(t, r.OpenSlotsFor(1, day("2024-01-15")), Slot{clock("10:00"), "Box 1"})
}

func TestOpenSlotsFor_OverlapDedupAndOrder(t *testing.T) {
	r, _ := newResolver(t, []model.TreatmentAvailability{
		window(1, 1, "Box 2", "09:00", "10:00"),
		window(2, 1, "Box 1", "09:00", "10:00"),
		window(3, 1, "Box 1", "09:30", "10:30"),
		window(4, 2, "Box 3", "09:00", "10:00"),
	})

	got := r.OpenSlotsFor(1, day("2024-01-15"))
	assert.Equal(t, []Slot{
		{clock("09:00"), "Box 1"},
		{clock("09:00"), "Box 2"},
		{clock("09:30"), "Box 1"},
		{clock("09:30"), "Box 2"},
		{clock("10:00"), "Box 1"},
	}, got)

	assert.Equal(t, got, r.OpenSlotsFor(1, day("2024-01-15")), "repeated calls are identical")
}

func TestOpenSlotsFor_Empty(t *testing.T) {
	r, _ := newResolver(t, []model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "11:00")})

	got := r.OpenSlotsFor(1, day("2024-03-01"))
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, r.OpenSlotsFor(42, day("2024-01-15")))
}

func TestOpenSlotsFor_ClipsToGrid(t *testing.T) {
	r, _ := newResolver(t, []model.TreatmentAvailability{window(1, 1, "Box 1", "07:00", "08:30")})
	assert.Equal(t, []Slot{{clock("08:00"), "Box 1"}}, r.OpenSlotsFor(1, day("2024-01-15")))
}

func TestIsSlotBookable(t *testing.T) {
	r, _ := newResolver(t,
		[]model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "11:00")},
		pending(10, "2024-01-15", "10:00", "Box 1"),
	)

	tests := []struct {
		name string
		at   string
		box  string
		date string
		want bool
	}{
		{"open slot", "09:00", "Box 1", "2024-01-15", true},
		{"occupied slot", "10:00", "Box 1", "2024-01-15", false},
		{"other box closed", "09:00", "Box 2", "2024-01-15", false},
		{"end exclusive", "11:00", "Box 1", "2024-01-15", false},
		{"off grid", "09:15", "Box 1", "2024-01-15", false},
		{"outside date range", "09:00", "Box 1", "2024-02-15", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsSlotBookable(day(tt.date), clock(tt.at), tt.box))
		})
	}
}

func TestCellStatus(t *testing.T) {
	r, _ := newResolver(t,
		[]model.TreatmentAvailability{
			window(5, 3, "Box 1", "09:00", "11:00"),
			window(6, 2, "Box 1", "09:00", "11:00"),
		},
		pending(10, "2024-01-15", "10:00", "Box 1"),
		pending(11, "2024-01-15", "15:00", "Box 1"),
	)

	st := r.CellStatus(day("2024-01-15"), clock("09:00"), "Box 1")
	assert.Equal(t, Available, st.Kind)
	assert.Equal(t, []int64{2, 3}, st.Candidates)

	st = r.CellStatus(day("2024-01-15"), clock("10:00"), "Box 1")
	assert.Equal(t, Occupied, st.Kind)
	require.NotNil(t, st.Appointment)
	assert.Equal(t, int64(10), st.Appointment.ID)

	st = r.CellStatus(day("2024-01-15"), clock("15:00"), "Box 1")
	assert.Equal(t, Occupied, st.Kind, "bookings outside windows still render")

	st = r.CellStatus(day("2024-01-15"), clock("12:00"), "Box 1")
	assert.Equal(t, Closed, st.Kind)
	assert.Equal(t, "closed", st.Kind.String())
}

func TestDayGrid(t *testing.T) {
	r, _ := newResolver(t,
		[]model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "11:00")},
		pending(10, "2024-01-15", "10:00", "Box 1"),
	)

	rows := r.DayGrid(day("2024-01-15"), []string{"Box 1", "Box 2"})
	require.Len(t, rows, 24)
	assert.Equal(t, clock("08:00"), rows[0].Time)

	counts := map[CellKind]int{}
	for _, row := range rows {
		require.Len(t, row.Cells, 2)
		for _, c := range row.Cells {
			counts[c.Status.Kind]++
		}
	}
	assert.Equal(t, 3, counts[Available])
	assert.Equal(t, 1, counts[Occupied])
	assert.Equal(t, 44, counts[Closed])
}

func TestSetIndex(t *testing.T) {
	r, _ := newResolver(t, nil)
	assert.Empty(t, r.OpenSlotsFor(1, day("2024-01-15")))

	r.SetIndex(availability.NewIndex([]model.TreatmentAvailability{window(1, 1, "Box 1", "09:00", "10:00")}, availability.Options{}))
	assert.Len(t, r.OpenSlotsFor(1, day("2024-01-15")), 2)

	r.SetIndex(nil)
	assert.Equal(t, 0, r.Index().Len())
}

func TestToSlotInfo(t *testing.T) {
	infos := ToSlotInfo([]Slot{{clock("09:00"), "Box 1"}, {clock("09:30"), "Box 2"}}, 30)
	require.Len(t, infos, 2)
	assert.Equal(t, SlotInfo{Start: "09:00", End: "09:30", Box: "Box 1"}, infos[0])
	assert.Equal(t, "10:00", infos[1].End)

	grouped := GroupByBox([]Slot{{clock("09:00"), "Box 1"}, {clock("09:30"), "Box 1"}, {clock("09:00"), "Box 2"}})
	assert.Len(t, grouped["Box 1"], 2)
	assert.Len(t, grouped["Box 2"], 1)
}
