package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"campusevents/internal/audit"
	"campusevents/internal/invariant"
	"campusevents/internal/model"
)

type fixture struct {
	store     *Memory
	collegeID int64
	adminID   int64
	typeID    int64
	studentID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemory()

	collegeID, err := store.CreateCollege(ctx, &model.College{Name: "Riverside Tech"})
	require.NoError(t, err)
	adminID, err := store.CreateAdmin(ctx, &model.Admin{CollegeID: collegeID, Name: "Dana", Email: "dana@riverside.edu"})
	require.NoError(t, err)
	typeID, err := store.CreateEventType(ctx, &model.EventType{Name: "workshop"})
	require.NoError(t, err)
	studentID, err := store.CreateStudent(ctx, &model.Student{CollegeID: collegeID, Name: "Lee", Email: "lee@riverside.edu"})
	require.NoError(t, err)

	return &fixture{store: store, collegeID: collegeID, adminID: adminID, typeID: typeID, studentID: studentID}
}

func (f *fixture) newEvent(t *testing.T, capacity int, start, end time.Time) int64 {
	t.Helper()
	id, err := f.store.CreateEvent(context.Background(), &model.Event{
		CollegeID: f.collegeID,
		Title:     "Distributed Systems 101",
		TypeID:    f.typeID,
		StartTime: start,
		EndTime:   end,
		Capacity:  capacity,
		CreatedBy: f.adminID,
		Status:    model.EventStatusActive,
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) newStudent(t *testing.T, i int) int64 {
	t.Helper()
	id, err := f.store.CreateStudent(context.Background(), &model.Student{
		CollegeID: f.collegeID,
		Name:      fmt.Sprintf("student-%d", i),
		Email:     fmt.Sprintf("student-%d@riverside.edu", i),
	})
	require.NoError(t, err)
	return id
}

func TestRegisterLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	eventID := f.newEvent(t, 2, now.Add(time.Hour), now.Add(3*time.Hour))

	regID, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
	require.NoError(t, err)

	reg, err := f.store.GetRegistrationByID(ctx, regID)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationStatusRegistered, reg.Status)
	assert.Equal(t, eventID, reg.EventID)

	t.Run("duplicate rejected", func(t *testing.T) {
		_, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
		assert.ErrorIs(t, err, invariant.ErrDuplicateRegistration)
	})

	t.Run("unknown student", func(t *testing.T) {
		_, err := f.store.RegisterTx(ctx, 9999, eventID, now)
		assert.ErrorIs(t, err, ErrStudentNotFound)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := f.store.RegisterTx(ctx, f.studentID, 9999, now)
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("started event rejected", func(t *testing.T) {
		startedID := f.newEvent(t, 2, now.Add(time.Hour), now.Add(3*time.Hour))
		_, err := f.store.RegisterTx(ctx, f.studentID, startedID, now.Add(2*time.Hour))
		assert.ErrorIs(t, err, invariant.ErrEventStarted)
	})

	t.Run("cancel frees the seat", func(t *testing.T) {
		other := f.newStudent(t, 1)
		otherReg, err := f.store.RegisterTx(ctx, other, eventID, now)
		require.NoError(t, err)

		// Event is now at capacity 2/2.
		third := f.newStudent(t, 2)
		_, err = f.store.RegisterTx(ctx, third, eventID, now)
		assert.ErrorIs(t, err, invariant.ErrCapacityExceeded)

		require.NoError(t, f.store.CancelRegistrationTx(ctx, otherReg))
		_, err = f.store.RegisterTx(ctx, third, eventID, now)
		assert.NoError(t, err)

		// The cancelled student may come back too, once a seat opens.
		require.NoError(t, f.store.CancelRegistrationTx(ctx, regID))
		_, err = f.store.RegisterTx(ctx, other, eventID, now)
		assert.NoError(t, err)
	})
}

func TestRegisterCapacityUnderConcurrency(t *testing.T) {
	const (
		capacity = 5
		students = 20
	)

	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	eventID := f.newEvent(t, capacity, now.Add(time.Hour), now.Add(3*time.Hour))

	studentIDs := make([]int64, students)
	for i := range studentIDs {
		studentIDs[i] = f.newStudent(t, i)
	}

	errs := make([]error, students)
	var g errgroup.Group
	for i, sid := range studentIDs {
		i, sid := i, sid
		g.Go(func() error {
			_, errs[i] = f.store.RegisterTx(ctx, sid, eventID, now)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, invariant.ErrCapacityExceeded):
			rejected++
		}
	}
	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, students-capacity, rejected)

	count, err := f.store.CountActiveRegistrations(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, capacity, count)
}

func TestCheckInLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	start := now.Add(time.Hour)
	eventID := f.newEvent(t, 5, start, now.Add(3*time.Hour))

	regID, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
	require.NoError(t, err)

	t.Run("before start rejected", func(t *testing.T) {
		_, err := f.store.CheckInTx(ctx, regID, true, now, 0)
		assert.ErrorIs(t, err, invariant.ErrCheckInBeforeStart)
	})

	t.Run("grace window admits early arrivals", func(t *testing.T) {
		_, err := f.store.CheckInTx(ctx, regID, true, start.Add(-10*time.Minute), 15*time.Minute)
		assert.NoError(t, err)
	})

	t.Run("second check-in rejected", func(t *testing.T) {
		_, err := f.store.CheckInTx(ctx, regID, true, start, 0)
		assert.ErrorIs(t, err, invariant.ErrAlreadyCheckedIn)
	})

	t.Run("cancel after attendance rejected", func(t *testing.T) {
		err := f.store.CancelRegistrationTx(ctx, regID)
		assert.ErrorIs(t, err, invariant.ErrAlreadyCheckedIn)
	})

	t.Run("cancelled registration cannot check in", func(t *testing.T) {
		other := f.newStudent(t, 1)
		otherReg, err := f.store.RegisterTx(ctx, other, eventID, now)
		require.NoError(t, err)
		require.NoError(t, f.store.CancelRegistrationTx(ctx, otherReg))

		_, err = f.store.CheckInTx(ctx, otherReg, true, start, 0)
		assert.ErrorIs(t, err, invariant.ErrRegistrationCancelled)

		err = f.store.CancelRegistrationTx(ctx, otherReg)
		assert.ErrorIs(t, err, invariant.ErrAlreadyCancelled)
	})
}

func TestSubmitFeedbackLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	start := now.Add(time.Hour)
	eventID := f.newEvent(t, 5, start, now.Add(3*time.Hour))

	regID, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
	require.NoError(t, err)

	t.Run("without attendance rejected", func(t *testing.T) {
		_, err := f.store.SubmitFeedbackTx(ctx, regID, 4, "great talk", now)
		assert.ErrorIs(t, err, invariant.ErrNotAttended)
	})

	t.Run("marked absent rejected", func(t *testing.T) {
		other := f.newStudent(t, 1)
		otherReg, err := f.store.RegisterTx(ctx, other, eventID, now)
		require.NoError(t, err)
		_, err = f.store.CheckInTx(ctx, otherReg, false, start, 0)
		require.NoError(t, err)

		_, err = f.store.SubmitFeedbackTx(ctx, otherReg, 4, "", now)
		assert.ErrorIs(t, err, invariant.ErrNotAttended)
	})

	_, err = f.store.CheckInTx(ctx, regID, true, start, 0)
	require.NoError(t, err)

	t.Run("rating out of range leaves no row", func(t *testing.T) {
		_, err := f.store.SubmitFeedbackTx(ctx, regID, 6, "", now)
		assert.ErrorIs(t, err, invariant.ErrRatingOutOfRange)
		assert.Equal(t, 0, f.store.AuditCount(audit.ActionFeedbackSubmitted))
	})

	t.Run("accepted once", func(t *testing.T) {
		_, err := f.store.SubmitFeedbackTx(ctx, regID, 5, "great talk", now)
		require.NoError(t, err)

		_, err = f.store.SubmitFeedbackTx(ctx, regID, 3, "changed my mind", now)
		assert.ErrorIs(t, err, invariant.ErrDuplicateFeedback)
	})
}

func TestAuditTrailPerMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	start := now.Add(time.Hour)
	eventID := f.newEvent(t, 5, start, now.Add(3*time.Hour))

	regID, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
	require.NoError(t, err)
	attID, err := f.store.CheckInTx(ctx, regID, true, start, 0)
	require.NoError(t, err)
	_, err = f.store.SubmitFeedbackTx(ctx, regID, 4, "", now)
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.AuditCount(audit.ActionEventCreated))
	assert.Equal(t, 1, f.store.AuditCount(audit.ActionRegistered))
	assert.Equal(t, 1, f.store.AuditCount(audit.ActionCheckedIn))
	assert.Equal(t, 1, f.store.AuditCount(audit.ActionFeedbackSubmitted))

	trail, err := f.store.AuditTrail(ctx, audit.EntityRegistration, regID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionRegistered, trail[0].Action)
	assert.NotEmpty(t, trail[0].After)

	trail, err = f.store.AuditTrail(ctx, audit.EntityAttendance, attID)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, audit.ActionCheckedIn, trail[0].Action)

	t.Run("rejected operations leave no entry", func(t *testing.T) {
		before := f.store.AuditCount(audit.ActionRegistered)
		_, err := f.store.RegisterTx(ctx, f.studentID, eventID, now)
		require.ErrorIs(t, err, invariant.ErrDuplicateRegistration)
		assert.Equal(t, before, f.store.AuditCount(audit.ActionRegistered))
	})

	t.Run("cancel records before and after snapshots", func(t *testing.T) {
		other := f.newStudent(t, 1)
		otherReg, err := f.store.RegisterTx(ctx, other, eventID, now)
		require.NoError(t, err)
		require.NoError(t, f.store.CancelRegistrationTx(ctx, otherReg))

		trail, err := f.store.AuditTrail(ctx, audit.EntityRegistration, otherReg)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, audit.ActionRegistrationCancel, trail[1].Action)
		assert.NotEmpty(t, trail[1].Before)
		assert.NotEmpty(t, trail[1].After)
	})
}

func TestCreateEventValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()

	_, err := f.store.CreateEvent(ctx, &model.Event{
		CollegeID: f.collegeID,
		Title:     "Inverted",
		TypeID:    f.typeID,
		StartTime: now.Add(2 * time.Hour),
		EndTime:   now.Add(time.Hour),
		Capacity:  10,
		CreatedBy: f.adminID,
		Status:    model.EventStatusActive,
	})
	assert.ErrorIs(t, err, invariant.ErrInvalidEventWindow)

	_, err = f.store.CreateEvent(ctx, &model.Event{
		CollegeID: f.collegeID,
		Title:     "Zero seats",
		TypeID:    f.typeID,
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(2 * time.Hour),
		Capacity:  0,
		CreatedBy: f.adminID,
		Status:    model.EventStatusActive,
	})
	assert.ErrorIs(t, err, invariant.ErrInvalidCapacity)
}
