package store

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

	"salonagenda/internal/changefeed"
	"salonagenda/internal/model"
	"salonagenda/internal/timegrid"
)

type recorder struct {
	events []changefeed.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev changefeed.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func openTestDB(t *testing.T) (*DB, *recorder) {
	t.Helper()
	rec := &recorder{}
	logger := zerolog.New(io.Discard)
	db, err := Open(filepath.Join(t.TempDir(), "agenda.db"), rec, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, rec
}

func day(s string) time.Time {
	d, err := timegrid.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func appt(date, at, box string) model.Appointment {
	return model.Appointment{
		Date:        day(date),
		Time:        timegrid.MustClock(at),
		Box:         box,
		TreatmentID: 1,
		Price:       2500,
	}
}

func TestFilter_Where(t *testing.T) {
	f := And(Eq("box", "Box 1"), DateBetween(day("2024-01-01"), day("2024-01-31")), Ne("status", model.StatusCanceled))
	where, args, err := f.where(appointmentColumns)
	require.NoError(t, err)
	assert.Equal(t, " WHERE box = ? AND date >= ? AND date <= ? AND status <> ?", where)
	assert.Equal(t, []any{"Box 1", "2024-01-01", "2024-01-31", "canceled"}, args)

	_, _, err = Eq("price; DROP TABLE appointments", 1).where(appointmentColumns)
	assert.ErrorIs(t, err, ErrBadFilter)

	where, args, err = Filter{}.where(appointmentColumns)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestAppointments_CRUD(t *testing.T) {
	db, rec := openTestDB(t)
	ctx := WithOrigin(context.Background(), "session-1")

	a, err := db.InsertAppointment(ctx, appt("2024-01-15", "10:00", "Box 1"))
	require.NoError(t, err)
	assert.NotZero(t, a.ID)
	assert.Equal(t, model.StatusPending, a.Status)

	got, err := db.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-15"), got.Date)
	assert.Equal(t, timegrid.MustClock("10:00"), got.Time)
	assert.Equal(t, model.Money(2500), got.Price)

	require.Len(t, rec.events, 1)
	assert.Equal(t, changefeed.OpInsert, rec.events[0].Op)
	assert.Equal(t, "session-1", rec.events[0].Origin)

	notes := "allergic to lavender"
	updated, err := db.UpdateAppointments(ctx, Eq("id", a.ID), Patch{Notes: &notes})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, notes, updated[0].Notes)
	require.Len(t, rec.events, 2)
	assert.Equal(t, changefeed.OpUpdate, rec.events[1].Op)
	require.NotNil(t, rec.events[1].Old)
	assert.Empty(t, rec.events[1].Old.Notes)

	gone, err := db.DeleteAppointments(ctx, Eq("id", a.ID))
	require.NoError(t, err)
	assert.Len(t, gone, 1)
	assert.Equal(t, changefeed.OpDelete, rec.events[2].Op)

	_, err = db.GetAppointment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestUpdateAppointments_KeepsFullTimestamp(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	a, err := db.InsertAppointment(ctx, appt("2024-01-15", "10:00", "Box 1"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	notes := "bring own polish"
	_, err = db.UpdateAppointments(ctx, Eq("id", a.ID), Patch{Notes: &notes})
	require.NoError(t, err)

	got, err := db.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt), "updated_at %s before created_at %s", got.UpdatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)
}

func TestAppointments_UniqueLiveSlot(t *testing.T) {
	db, rec := openTestDB(t)
	ctx := context.Background()

	first, err := db.InsertAppointment(ctx, appt("2024-01-15", "10:00", "Box 1"))
	require.NoError(t, err)

	_, err = db.InsertAppointment(ctx, appt("2024-01-15", "10:00", "Box 1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraint)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Constraint)
	assert.Len(t, rec.events, 1, "failed writes publish nothing")

	canceled := model.StatusCanceled
	_, err = db.UpdateAppointments(ctx, Eq("id", first.ID), Patch{Status: &canceled})
	require.NoError(t, err)

	second, err := db.InsertAppointment(ctx, appt("2024-01-15", "10:00", "Box 1"))
	require.NoError(t, err, "canceled appointments free the slot")

	pending := model.StatusPending
	_, err = db.UpdateAppointments(ctx, Eq("id", first.ID), Patch{Status: &pending})
	assert.ErrorIs(t, err, ErrConstraint)

	taken, err := db.SlotTaken(ctx, second.Key(), 0)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = db.SlotTaken(ctx, second.Key(), second.ID)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestAppointments_SelectRange(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	for _, a := range []model.Appointment{
		appt("2024-01-16", "09:00", "Box 1"),
		appt("2024-01-15", "11:00", "Box 2"),
		appt("2024-01-15", "09:30", "Box 1"),
		appt("2024-02-01", "09:00", "Box 1"),
	} {
		_, err := db.InsertAppointment(ctx, a)
		require.NoError(t, err)
	}

	got, err := db.SelectAppointments(ctx, DateBetween(day("2024-01-15"), day("2024-01-16")))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-01-15 09:30 Box 1", got[0].Key().String())
	assert.Equal(t, "2024-01-15 11:00 Box 2", got[1].Key().String())
	assert.Equal(t, "2024-01-16 09:00 Box 1", got[2].Key().String())

	none, err := db.SelectAppointments(ctx, Eq("date", day("2023-12-31")))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestAppointments_UnfilteredWritesRefused(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	notes := "x"
	_, err := db.UpdateAppointments(ctx, Filter{}, Patch{Notes: &notes})
	assert.ErrorIs(t, err, ErrBadFilter)
	_, err = db.DeleteAppointments(ctx, Filter{})
	assert.ErrorIs(t, err, ErrBadFilter)
}

func TestPatch_MovesSlot(t *testing.T) {
	a := appt("2024-01-15", "10:00", "Box 1")
	a.Status = model.StatusPending

	notes := "n"
	confirmed := model.StatusConfirmed
	canceled := model.StatusCanceled
	box := "Box 2"
	same := "Box 1"

	assert.False(t, Patch{Notes: &notes}.MovesSlot(a))
	assert.False(t, Patch{Status: &confirmed}.MovesSlot(a))
	assert.False(t, Patch{Box: &same}.MovesSlot(a))
	assert.False(t, Patch{Box: &box, Status: &canceled}.MovesSlot(a))
	assert.True(t, Patch{Box: &box}.MovesSlot(a))

	a.Status = model.StatusCanceled
	assert.True(t, Patch{Status: &confirmed}.MovesSlot(a))
}

func TestCatalog(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	tr, err := db.InsertTreatment(ctx, model.Treatment{Name: "Facial"})
	require.NoError(t, err)
	sub, err := db.InsertSubtreatment(ctx, model.Subtreatment{TreatmentID: tr.ID, Name: "Deep clean", DurationMin: 60, Price: 4500})
	require.NoError(t, err)

	flags := model.WeekdayFlags{Monday: true, Friday: true}
	_, err = db.InsertAvailability(ctx, model.TreatmentAvailability{
		TreatmentID: tr.ID, StartDate: day("2024-01-01"), EndDate: day("2024-01-31"),
		StartTime: timegrid.MustClock("09:00"), EndTime: timegrid.MustClock("11:00"), Box: "Box 1",
		Weekdays: &flags,
	})
	require.NoError(t, err)
	_, err = db.InsertAvailability(ctx, model.TreatmentAvailability{
		TreatmentID: tr.ID, StartDate: day("2024-02-01"), EndDate: day("2024-02-28"),
		StartTime: timegrid.MustClock("14:00"), EndTime: timegrid.MustClock("16:00"), Box: "Box 2",
	})
	require.NoError(t, err)

	avs, err := db.SelectAvailabilities(ctx, Eq("treatment_id", tr.ID))
	require.NoError(t, err)
	require.Len(t, avs, 2)
	require.NotNil(t, avs[0].Weekdays)
	assert.Equal(t, flags, *avs[0].Weekdays)
	assert.Nil(t, avs[1].Weekdays)
	assert.Equal(t, timegrid.MustClock("14:00"), avs[1].StartTime)

	got, err := db.GetSubtreatment(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Money(4500), got.Price)
	_, err = db.GetSubtreatment(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := db.InsertClient(ctx, model.Client{Name: "Ana", ChatID: "12345"})
	require.NoError(t, err)
	gotClient, err := db.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "12345", gotClient.ChatID)
}

func TestDeleteTreatment(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()

	tr, err := db.InsertTreatment(ctx, model.Treatment{Name: "Massage"})
	require.NoError(t, err)
	_, err = db.InsertSubtreatment(ctx, model.Subtreatment{TreatmentID: tr.ID, Name: "Full body", DurationMin: 60})
	require.NoError(t, err)
	_, err = db.InsertAvailability(ctx, model.TreatmentAvailability{
		TreatmentID: tr.ID, StartDate: day("2024-01-01"), EndDate: day("2024-01-31"),
		StartTime: timegrid.MustClock("09:00"), EndTime: timegrid.MustClock("11:00"), Box: "Box 1",
	})
	require.NoError(t, err)

	a := appt("2024-01-15", "09:00", "Box 1")
	a.TreatmentID = tr.ID
	a, err = db.InsertAppointment(ctx, a)
	require.NoError(t, err)

	err = db.DeleteTreatment(ctx, tr.ID)
	assert.ErrorIs(t, err, ErrInUse)

	canceled := model.StatusCanceled
	_, err = db.UpdateAppointments(ctx, Eq("id", a.ID), Patch{Status: &canceled})
	require.NoError(t, err)

	require.NoError(t, db.DeleteTreatment(ctx, tr.ID))
	avs, err := db.SelectAvailabilities(ctx, Eq("treatment_id", tr.ID))
	require.NoError(t, err)
	assert.Empty(t, avs, "availabilities cascade")

	assert.ErrorIs(t, db.DeleteTreatment(ctx, tr.ID), ErrNotFound)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	db, rec := openTestDB(t)
	rec.err = changefeed.ErrClosed

	_, err := db.InsertAppointment(context.Background(), appt("2024-01-15", "10:00", "Box 1"))
	require.NoError(t, err)
	assert.Len(t, rec.events, 1)
}
