// Package invariant holds the pre-commit business rules for the participation
// lifecycle. Every function here is pure: callers load the facts, these
// functions only judge them, so the rules are testable without a database.
package invariant

import (
	"errors"
	"time"

	"campusevents/internal/model"
)

var (
	ErrEventNotActive        = errors.New("event is not active")
	ErrEventStarted          = errors.New("event has already started")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrCapacityExceeded      = errors.New("event capacity exceeded")

	ErrRegistrationCancelled = errors.New("registration is cancelled")
	ErrAlreadyCheckedIn      = errors.New("attendance already recorded")
	ErrCheckInBeforeStart    = errors.New("check-in before event start")

	ErrNotAttended       = errors.New("student did not attend")
	ErrDuplicateFeedback = errors.New("feedback already submitted")
	ErrRatingOutOfRange  = errors.New("rating must be between 1 and 5")

	ErrAlreadyCancelled = errors.New("registration already cancelled")

	ErrInvalidEventWindow = errors.New("event end time must be after start time")
	ErrInvalidCapacity    = errors.New("event capacity must be positive")
)

const (
	MinRating = 1
	MaxRating = 5
)

// CanRegister decides whether a student may take a seat. activeCount is the
// number of non-cancelled registrations for the event, read under the same
// lock that guards the insert.
func CanRegister(event *model.Event, now time.Time, activeCount int, alreadyRegistered bool) error {
	if event.Status != model.EventStatusActive {
		return ErrEventNotActive
	}
	if now.After(event.StartTime) {
		return ErrEventStarted
	}
	if alreadyRegistered {
		return ErrDuplicateRegistration
	}
	if activeCount >= event.Capacity {
		return ErrCapacityExceeded
	}
	return nil
}

// CanCheckIn permits at most one attendance per registration. Check-in earlier
// than the event start is rejected; earlyGrace widens the accepted window to
// start-earlyGrace for venues that open doors ahead of time.
func CanCheckIn(event *model.Event, reg *model.Registration, hasAttendance bool, checkInTime time.Time, earlyGrace time.Duration) error {
	if reg.Status == model.RegistrationStatusCancelled {
		return ErrRegistrationCancelled
	}
	if hasAttendance {
		return ErrAlreadyCheckedIn
	}
	if checkInTime.Before(event.StartTime.Add(-earlyGrace)) {
		return ErrCheckInBeforeStart
	}
	return nil
}

// CanSubmitFeedback requires a recorded attendance with attended=true. A
// registration whose attendance says absent is a terminal branch: feedback
// stays blocked forever.
func CanSubmitFeedback(reg *model.Registration, attendance *model.Attendance, hasFeedback bool, rating int) error {
	if reg.Status == model.RegistrationStatusCancelled {
		return ErrRegistrationCancelled
	}
	if attendance == nil || !attendance.Attended {
		return ErrNotAttended
	}
	if hasFeedback {
		return ErrDuplicateFeedback
	}
	if !ValidRating(rating) {
		return ErrRatingOutOfRange
	}
	return nil
}

// CanCancel allows a soft status flip while no attendance exists. Once the
// student has been checked in the participation is a recorded fact and the
// registration can no longer be cancelled.
func CanCancel(reg *model.Registration, hasAttendance bool) error {
	if reg.Status == model.RegistrationStatusCancelled {
		return ErrAlreadyCancelled
	}
	if hasAttendance {
		return ErrAlreadyCheckedIn
	}
	return nil
}

// ValidEventWindow checks the structural event rules shared by creation and
// reconciliation: positive capacity, end strictly after start.
func ValidEventWindow(event *model.Event) error {
	if event.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if !event.EndTime.After(event.StartTime) {
		return ErrInvalidEventWindow
	}
	return nil
}

func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}

// IsRuleViolation reports whether err is a business-rule rejection rather than
// a storage failure. Rule violations are final and must not be retried.
func IsRuleViolation(err error) bool {
	for _, rule := range []error{
		ErrEventNotActive, ErrEventStarted, ErrDuplicateRegistration, ErrCapacityExceeded,
		ErrRegistrationCancelled, ErrAlreadyCheckedIn, ErrCheckInBeforeStart,
		ErrNotAttended, ErrDuplicateFeedback, ErrRatingOutOfRange,
		ErrAlreadyCancelled, ErrInvalidEventWindow, ErrInvalidCapacity,
	} {
		if errors.Is(err, rule) {
			return true
		}
	}
	return false
}
