package repo

import (
	"context"
	"errors"
	"time"

	"campusevents/internal/model"
)

var (
	ErrCollegeNotFound      = errors.New("college not found")
	ErrStudentNotFound      = errors.New("student not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")

	// ErrTxConflict marks a transient storage conflict (serialization failure,
	// deadlock). Safe to retry; rule violations never map to it.
	ErrTxConflict = errors.New("storage conflict, retry")
)

// Overbooked pairs an event with its active registration count when the count
// exceeds capacity. Reported, never auto-repaired.
type Overbooked struct {
	Event       model.Event `json:"event"`
	ActiveCount int         `json:"active_count"`
}

// Store is the single shared mutable resource of the lifecycle engine. Each
// lifecycle method runs as one all-or-nothing transaction that re-validates
// the invariants under a lock on the rows it touches and appends exactly one
// audit row before committing.
type Store interface {
	CreateCollege(ctx context.Context, c *model.College) (int64, error)
	CreateAdmin(ctx context.Context, a *model.Admin) (int64, error)
	CreateStudent(ctx context.Context, s *model.Student) (int64, error)
	CreateEventType(ctx context.Context, t *model.EventType) (int64, error)
	CreateEvent(ctx context.Context, e *model.Event) (int64, error)

	GetStudentByID(ctx context.Context, id int64) (*model.Student, error)
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	GetAllEvents(ctx context.Context) ([]model.Event, error)
	GetRegistrationByID(ctx context.Context, id int64) (*model.Registration, error)
	GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error)
	CountActiveRegistrations(ctx context.Context, eventID int64) (int, error)

	RegisterTx(ctx context.Context, studentID, eventID int64, now time.Time) (int64, error)
	CheckInTx(ctx context.Context, registrationID int64, attended bool, checkInTime time.Time, earlyGrace time.Duration) (int64, error)
	SubmitFeedbackTx(ctx context.Context, registrationID int64, rating int, comments string, now time.Time) (int64, error)
	CancelRegistrationTx(ctx context.Context, registrationID int64) error

	// Reconciliation repairs; each runs in its own transaction and audits
	// every record it changes. The Find* calls are read-only detections.
	CompleteElapsedEventsTx(ctx context.Context, now time.Time) ([]model.Event, error)
	ReactivateFutureCompletedEventsTx(ctx context.Context, now time.Time) ([]model.Event, error)
	CancelDuplicateRegistrationsTx(ctx context.Context) ([]model.Registration, error)
	RemoveOrphanedAttendanceTx(ctx context.Context) ([]model.Attendance, error)
	RemoveOrphanedFeedbackTx(ctx context.Context) ([]model.Feedback, error)
	FindInvalidFeedback(ctx context.Context) ([]model.Feedback, error)
	FindOverbookedEvents(ctx context.Context) ([]Overbooked, error)
	FindMalformedEvents(ctx context.Context) ([]model.Event, error)

	AuditTrail(ctx context.Context, entityName string, entityID int64) ([]model.AuditLog, error)
}
