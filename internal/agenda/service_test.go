package agenda

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonagenda/internal/appointment"
	"salonagenda/internal/availability"
	"salonagenda/internal/booking"
	"salonagenda/internal/changefeed"
	"salonagenda/internal/model"
	"salonagenda/internal/slots"
	"salonagenda/internal/store"
	"salonagenda/internal/timegrid"
)

var testLogger = zerolog.New(io.Discard)

func day(s string) time.Time {
	d, err := timegrid.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func clock(s string) timegrid.Clock { return timegrid.MustClock(s) }

func seed(t *testing.T) (*store.DB, *changefeed.LocalFeed, int64) {
	t.Helper()
	feed := changefeed.NewLocalFeed()
	t.Cleanup(func() { _ = feed.Close() })
	db, err := store.Open(filepath.Join(t.TempDir(), "agenda.db"), feed, &testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	tr, err := db.InsertTreatment(ctx, model.Treatment{Name: "Manicure"})
	require.NoError(t, err)
	_, err = db.InsertAvailability(ctx, model.TreatmentAvailability{
		TreatmentID: tr.ID,
		StartDate:   day("2024-01-01"),
		EndDate:     day("2024-01-31"),
		StartTime:   clock("09:00"),
		EndTime:     clock("11:00"),
		Box:         "Box 1",
	})
	require.NoError(t, err)
	return db, feed, tr.ID
}

func openSession(t *testing.T, db *store.DB, feed *changefeed.LocalFeed) *Service {
	t.Helper()
	grid, err := timegrid.ParseGrid("08:00", "20:00", 30)
	require.NoError(t, err)
	svc := New(db, feed, grid, availability.Options{}, &testLogger)
	svc.SetBoxes([]string{"Box 1", "Box 2"})
	require.NoError(t, svc.Open(context.Background(), booking.Day(day("2024-01-15")), true))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_BookingScenario(t *testing.T) {
	db, feed, treatmentID := seed(t)
	svc := openSession(t, db, feed)
	ctx := context.Background()
	date := day("2024-01-15")

	all := []slots.Slot{
		{Time: clock("09:00"), Box: "Box 1"},
		{Time: clock("09:30"), Box: "Box 1"},
		{Time: clock("10:00"), Box: "Box 1"},
		{Time: clock("10:30"), Box: "Box 1"},
	}
	assert.Equal(t, all, svc.OpenSlotsFor(treatmentID, date))
	assert.Equal(t, []int64{treatmentID}, svc.TreatmentsAvailableOn(date))

	a, err := svc.Create(ctx, appointment.Request{Date: date, Time: clock("10:00"), Box: "Box 1", TreatmentID: treatmentID})
	require.NoError(t, err)
	assert.Equal(t, []slots.Slot{all[0], all[1], all[3]}, svc.OpenSlotsFor(treatmentID, date))
	assert.False(t, svc.IsSlotBookable(date, clock("10:00"), "Box 1"))
	assert.Equal(t, slots.Occupied, svc.CellStatus(date, clock("10:00"), "Box 1").Kind)
	require.Len(t, svc.Appointments(date), 1)

	_, err = svc.Create(ctx, appointment.Request{Date: date, Time: clock("10:00"), Box: "Box 1", TreatmentID: treatmentID})
	assert.ErrorIs(t, err, appointment.ErrSlotConflict)

	_, err = svc.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, all, svc.OpenSlotsFor(treatmentID, date))
	assert.True(t, svc.IsSlotBookable(date, clock("10:00"), "Box 1"))
}

func TestService_LiveSyncAcrossSessions(t *testing.T) {
	db, feed, treatmentID := seed(t)
	alice := openSession(t, db, feed)
	bob := openSession(t, db, feed)
	ctx := context.Background()
	date := day("2024-01-15")

	a, err := alice.Create(ctx, appointment.Request{Date: date, Time: clock("09:30"), Box: "Box 1", TreatmentID: treatmentID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return bob.State().IsOccupied(date, clock("09:30"), "Box 1")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, bob.OpenSlotsFor(treatmentID, date), 3)

	require.NoError(t, alice.Delete(ctx, a.ID))
	require.Eventually(t, func() bool {
		return len(bob.OpenSlotsFor(treatmentID, date)) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_DayGridAndView(t *testing.T) {
	db, feed, treatmentID := seed(t)
	svc := openSession(t, db, feed)
	ctx := context.Background()

	_, err := svc.Create(ctx, appointment.Request{Date: day("2024-01-16"), Time: clock("09:00"), Box: "Box 1", TreatmentID: treatmentID})
	require.NoError(t, err)
	assert.Empty(t, svc.Appointments(day("2024-01-16")), "not in view")

	require.NoError(t, svc.ShowDay(ctx, day("2024-01-16")))
	rows := svc.DayGrid(day("2024-01-16"))
	require.Len(t, rows, 24)
	require.Len(t, rows[2].Cells, 2)
	assert.Equal(t, clock("09:00"), rows[2].Time)
	assert.Equal(t, slots.Occupied, rows[2].Cells[0].Status.Kind)
	assert.Equal(t, slots.Closed, rows[2].Cells[1].Status.Kind)
	assert.Equal(t, slots.Available, rows[3].Cells[0].Status.Kind)
}

func TestService_InUseTreatmentCannotBeDeleted(t *testing.T) {
	db, feed, treatmentID := seed(t)
	svc := openSession(t, db, feed)
	ctx := context.Background()

	_, err := svc.Create(ctx, appointment.Request{Date: day("2024-01-15"), Time: clock("09:00"), Box: "Box 1", TreatmentID: treatmentID})
	require.NoError(t, err)

	err = db.DeleteTreatment(ctx, treatmentID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInUse))
}
