package invariant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/model"
)

func futureEvent(capacity int) *model.Event {
	now := time.Now()
	return &model.Event{
		ID:        1,
		Title:     "Go Workshop",
		StartTime: now.Add(time.Hour),
		EndTime:   now.Add(3 * time.Hour),
		Capacity:  capacity,
		Status:    model.EventStatusActive,
	}
}

func TestCanRegister(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name              string
		mutate            func(*model.Event)
		activeCount       int
		alreadyRegistered bool
		wantErr           error
	}{
		{name: "ok", activeCount: 0},
		{name: "last seat", activeCount: 9},
		{
			name:    "completed event",
			mutate:  func(e *model.Event) { e.Status = model.EventStatusCompleted },
			wantErr: ErrEventNotActive,
		},
		{
			name:    "cancelled event",
			mutate:  func(e *model.Event) { e.Status = model.EventStatusCancelled },
			wantErr: ErrEventNotActive,
		},
		{
			name:    "already started",
			mutate:  func(e *model.Event) { e.StartTime = now.Add(-time.Minute) },
			wantErr: ErrEventStarted,
		},
		{
			name:              "duplicate",
			alreadyRegistered: true,
			wantErr:           ErrDuplicateRegistration,
		},
		{
			name:        "full",
			activeCount: 10,
			wantErr:     ErrCapacityExceeded,
		},
		{
			name:        "overfull from drifted data",
			activeCount: 12,
			wantErr:     ErrCapacityExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := futureEvent(10)
			if tt.mutate != nil {
				tt.mutate(event)
			}
			err := CanRegister(event, now, tt.activeCount, tt.alreadyRegistered)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCanRegisterStatusChecksBeforeCapacity(t *testing.T) {
	// A full but inactive event must report its status, not the capacity.
	event := futureEvent(1)
	event.Status = model.EventStatusCompleted
	err := CanRegister(event, time.Now(), 1, false)
	assert.ErrorIs(t, err, ErrEventNotActive)
}

func TestCanCheckIn(t *testing.T) {
	event := futureEvent(10)
	reg := &model.Registration{ID: 5, EventID: event.ID, Status: model.RegistrationStatusRegistered}

	t.Run("at start", func(t *testing.T) {
		assert.NoError(t, CanCheckIn(event, reg, false, event.StartTime, 0))
	})

	t.Run("after start", func(t *testing.T) {
		assert.NoError(t, CanCheckIn(event, reg, false, event.StartTime.Add(10*time.Minute), 0))
	})

	t.Run("before start", func(t *testing.T) {
		err := CanCheckIn(event, reg, false, event.StartTime.Add(-time.Minute), 0)
		assert.ErrorIs(t, err, ErrCheckInBeforeStart)
	})

	t.Run("before start within grace", func(t *testing.T) {
		err := CanCheckIn(event, reg, false, event.StartTime.Add(-time.Minute), 15*time.Minute)
		assert.NoError(t, err)
	})

	t.Run("before grace window", func(t *testing.T) {
		err := CanCheckIn(event, reg, false, event.StartTime.Add(-time.Hour), 15*time.Minute)
		assert.ErrorIs(t, err, ErrCheckInBeforeStart)
	})

	t.Run("second check-in rejected", func(t *testing.T) {
		err := CanCheckIn(event, reg, true, event.StartTime, 0)
		assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	})

	t.Run("cancelled registration", func(t *testing.T) {
		cancelled := &model.Registration{ID: 6, EventID: event.ID, Status: model.RegistrationStatusCancelled}
		err := CanCheckIn(event, cancelled, false, event.StartTime, 0)
		assert.ErrorIs(t, err, ErrRegistrationCancelled)
	})
}

func TestCanSubmitFeedback(t *testing.T) {
	reg := &model.Registration{ID: 5, Status: model.RegistrationStatusRegistered}
	attended := &model.Attendance{ID: 7, RegistrationID: 5, Attended: true}
	absent := &model.Attendance{ID: 8, RegistrationID: 5, Attended: false}

	t.Run("ok", func(t *testing.T) {
		require.NoError(t, CanSubmitFeedback(reg, attended, false, 4))
	})

	t.Run("no attendance", func(t *testing.T) {
		assert.ErrorIs(t, CanSubmitFeedback(reg, nil, false, 4), ErrNotAttended)
	})

	t.Run("marked absent", func(t *testing.T) {
		assert.ErrorIs(t, CanSubmitFeedback(reg, absent, false, 4), ErrNotAttended)
	})

	t.Run("duplicate", func(t *testing.T) {
		assert.ErrorIs(t, CanSubmitFeedback(reg, attended, true, 4), ErrDuplicateFeedback)
	})

	t.Run("rating bounds", func(t *testing.T) {
		assert.ErrorIs(t, CanSubmitFeedback(reg, attended, false, 0), ErrRatingOutOfRange)
		assert.ErrorIs(t, CanSubmitFeedback(reg, attended, false, 6), ErrRatingOutOfRange)
		assert.NoError(t, CanSubmitFeedback(reg, attended, false, 1))
		assert.NoError(t, CanSubmitFeedback(reg, attended, false, 5))
	})

	t.Run("cancelled registration", func(t *testing.T) {
		cancelled := &model.Registration{ID: 9, Status: model.RegistrationStatusCancelled}
		assert.ErrorIs(t, CanSubmitFeedback(cancelled, attended, false, 4), ErrRegistrationCancelled)
	})
}

func TestCanCancel(t *testing.T) {
	reg := &model.Registration{ID: 5, Status: model.RegistrationStatusRegistered}

	assert.NoError(t, CanCancel(reg, false))
	assert.ErrorIs(t, CanCancel(reg, true), ErrAlreadyCheckedIn)

	cancelled := &model.Registration{ID: 6, Status: model.RegistrationStatusCancelled}
	assert.ErrorIs(t, CanCancel(cancelled, false), ErrAlreadyCancelled)
}

func TestValidEventWindow(t *testing.T) {
	event := futureEvent(10)
	assert.NoError(t, ValidEventWindow(event))

	zeroCap := futureEvent(0)
	assert.ErrorIs(t, ValidEventWindow(zeroCap), ErrInvalidCapacity)

	inverted := futureEvent(10)
	inverted.EndTime = inverted.StartTime.Add(-time.Hour)
	assert.ErrorIs(t, ValidEventWindow(inverted), ErrInvalidEventWindow)

	equal := futureEvent(10)
	equal.EndTime = equal.StartTime
	assert.ErrorIs(t, ValidEventWindow(equal), ErrInvalidEventWindow)
}

func TestIsRuleViolation(t *testing.T) {
	assert.True(t, IsRuleViolation(ErrCapacityExceeded))
	assert.True(t, IsRuleViolation(ErrRatingOutOfRange))
	assert.False(t, IsRuleViolation(assert.AnError))
	assert.False(t, IsRuleViolation(nil))
}
