package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"campusevents/internal/audit"
	"campusevents/internal/invariant"
	"campusevents/internal/model"
)

// Postgres implements Store on top of a master/slave pool. Writes always go
// through the master inside explicit transactions.
type Postgres struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewPostgres(db *dbpg.DB, log *zerolog.Logger) (*Postgres, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &Postgres{db: db, log: log}, nil
}

func (r *Postgres) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

// wrapTxErr normalizes storage failures: serialization failures and deadlocks
// become ErrTxConflict, and a race that trips the partial unique index on
// active registrations is reported as the duplicate rule it defends.
func wrapTxErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return ErrTxConflict
		case "23505":
			if pqErr.Constraint == "uq_registrations_active" {
				return invariant.ErrDuplicateRegistration
			}
			return ErrTxConflict
		}
	}
	return err
}

func (r *Postgres) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, entry *model.AuditLog) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (action, entity_name, entity_id, before_data, after_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Action, entry.EntityName, entry.EntityID, entry.Before, entry.After, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *Postgres) CreateCollege(ctx context.Context, c *model.College) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO colleges (name, location, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`, c.Name, c.Location, c.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert college: %w", err)
	}
	return id, nil
}

func (r *Postgres) CreateAdmin(ctx context.Context, a *model.Admin) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO admins (college_id, name, email, role, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, a.CollegeID, a.Name, a.Email, a.Role, a.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert admin: %w", err)
	}
	return id, nil
}

func (r *Postgres) CreateStudent(ctx context.Context, s *model.Student) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO students (college_id, name, email, department, year, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, s.CollegeID, s.Name, s.Email, s.Department, s.Year, s.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert student: %w", err)
	}
	return id, nil
}

func (r *Postgres) CreateEventType(ctx context.Context, t *model.EventType) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO event_types (name) VALUES ($1) RETURNING id
	`, t.Name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event type: %w", err)
	}
	return id, nil
}

func (r *Postgres) CreateEvent(ctx context.Context, e *model.Event) (int64, error) {
	if err := invariant.ValidEventWindow(e); err != nil {
		return 0, err
	}

	tx, err := r.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollbackOnPanic(tx)

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (college_id, title, description, type_id, venue, start_time, end_time,
		                    capacity, created_by, semester, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id
	`, e.CollegeID, e.Title, e.Description, e.TypeID, e.Venue, e.StartTime, e.EndTime,
		e.Capacity, e.CreatedBy, e.Semester, e.Status).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	e.ID = id
	if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionEventCreated, audit.EntityEvent, id, nil, e)); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", wrapTxErr(err))
	}
	return id, nil
}

const eventColumns = `id, college_id, title, description, type_id, venue, start_time, end_time,
	capacity, created_by, semester, status, created_at, updated_at`

func scanEvent(row interface{ Scan(dest ...any) error }, e *model.Event) error {
	return row.Scan(
		&e.ID, &e.CollegeID, &e.Title, &e.Description, &e.TypeID, &e.Venue,
		&e.StartTime, &e.EndTime, &e.Capacity, &e.CreatedBy, &e.Semester, &e.Status,
		&e.CreatedAt, &e.UpdatedAt,
	)
}

func (r *Postgres) GetStudentByID(ctx context.Context, id int64) (*model.Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, college_id, name, email, department, year, status
		FROM students WHERE id = $1
	`, id)

	var s model.Student
	if err := row.Scan(&s.ID, &s.CollegeID, &s.Name, &s.Email, &s.Department, &s.Year, &s.Status); err != nil {
		return nil, ErrStudentNotFound
	}
	return &s, nil
}

func (r *Postgres) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)

	var e model.Event
	if err := scanEvent(row, &e); err != nil {
		return nil, ErrEventNotFound
	}
	return &e, nil
}

func (r *Postgres) GetAllEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const registrationColumns = `id, student_id, event_id, registration_time, status`

func (r *Postgres) GetRegistrationByID(ctx context.Context, id int64) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1
	`, id)

	var reg model.Registration
	if err := row.Scan(&reg.ID, &reg.StudentID, &reg.EventID, &reg.RegistrationTime, &reg.Status); err != nil {
		return nil, ErrRegistrationNotFound
	}
	return &reg, nil
}

func (r *Postgres) GetRegistrationsByEventID(ctx context.Context, eventID int64) ([]model.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status = $2
		ORDER BY registration_time ASC
	`, eventID, model.RegistrationStatusRegistered)
	if err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.StudentID, &reg.EventID, &reg.RegistrationTime, &reg.Status); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (r *Postgres) CountActiveRegistrations(ctx context.Context, eventID int64) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2
	`, eventID, model.RegistrationStatusRegistered).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// RegisterTx takes the seat inside one transaction: the event row is locked
// FOR UPDATE, so the count-then-insert sequence is serialized per event and
// two concurrent calls cannot both take the last seat.
func (r *Postgres) RegisterTx(ctx context.Context, studentID, eventID int64, now time.Time) (int64, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollbackOnPanic(tx)

	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)
	`, studentID).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to check student: %w", err)
	}
	if !exists {
		_ = tx.Rollback()
		return 0, ErrStudentNotFound
	}

	var event model.Event
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID)
	if err := scanEvent(row, &event); err != nil {
		_ = tx.Rollback()
		return 0, ErrEventNotFound
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2
	`, eventID, model.RegistrationStatusRegistered).Scan(&count); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}

	var alreadyRegistered bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE student_id = $1 AND event_id = $2 AND status = $3
		)
	`, studentID, eventID, model.RegistrationStatusRegistered).Scan(&alreadyRegistered); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to check duplicate registration: %w", err)
	}

	if err := invariant.CanRegister(&event, now, count, alreadyRegistered); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	reg := model.Registration{
		StudentID:        studentID,
		EventID:          eventID,
		RegistrationTime: now,
		Status:           model.RegistrationStatusRegistered,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO registrations (student_id, event_id, registration_time, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, reg.StudentID, reg.EventID, reg.RegistrationTime, reg.Status).Scan(&reg.ID); err != nil {
		_ = tx.Rollback()
		return 0, wrapTxErr(err)
	}

	if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionRegistered, audit.EntityRegistration, reg.ID, nil, reg)); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapTxErr(err)
	}
	return reg.ID, nil
}

func (r *Postgres) CheckInTx(ctx context.Context, registrationID int64, attended bool, checkInTime time.Time, earlyGrace time.Duration) (int64, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollbackOnPanic(tx)

	reg, event, err := lockRegistrationWithEvent(ctx, tx, registrationID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	var hasAttendance bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE registration_id = $1)
	`, registrationID).Scan(&hasAttendance); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to check attendance: %w", err)
	}

	if err := invariant.CanCheckIn(event, reg, hasAttendance, checkInTime, earlyGrace); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	att := model.Attendance{
		RegistrationID: registrationID,
		Attended:       attended,
		CheckInTime:    checkInTime,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO attendance (registration_id, attended, check_in_time)
		VALUES ($1, $2, $3)
		RETURNING id
	`, att.RegistrationID, att.Attended, att.CheckInTime).Scan(&att.ID); err != nil {
		_ = tx.Rollback()
		return 0, wrapTxErr(err)
	}

	if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionCheckedIn, audit.EntityAttendance, att.ID, nil, att)); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapTxErr(err)
	}
	return att.ID, nil
}

func (r *Postgres) SubmitFeedbackTx(ctx context.Context, registrationID int64, rating int, comments string, now time.Time) (int64, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer rollbackOnPanic(tx)

	reg, _, err := lockRegistrationWithEvent(ctx, tx, registrationID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	var att *model.Attendance
	var a model.Attendance
	err = tx.QueryRowContext(ctx, `
		SELECT id, registration_id, attended, check_in_time
		FROM attendance WHERE registration_id = $1
	`, registrationID).Scan(&a.ID, &a.RegistrationID, &a.Attended, &a.CheckInTime)
	switch {
	case err == nil:
		att = &a
	case errors.Is(err, sql.ErrNoRows):
		att = nil
	default:
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to load attendance: %w", err)
	}

	var hasFeedback bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM feedback WHERE registration_id = $1)
	`, registrationID).Scan(&hasFeedback); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to check feedback: %w", err)
	}

	if err := invariant.CanSubmitFeedback(reg, att, hasFeedback, rating); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	fb := model.Feedback{
		RegistrationID: registrationID,
		Rating:         rating,
		Comments:       comments,
		SubmittedAt:    now,
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO feedback (registration_id, rating, comments, submitted_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, fb.RegistrationID, fb.Rating, fb.Comments, fb.SubmittedAt).Scan(&fb.ID); err != nil {
		_ = tx.Rollback()
		return 0, wrapTxErr(err)
	}

	if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionFeedbackSubmitted, audit.EntityFeedback, fb.ID, nil, fb)); err != nil {
		_ = tx.Rollback()
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapTxErr(err)
	}
	return fb.ID, nil
}

func (r *Postgres) CancelRegistrationTx(ctx context.Context, registrationID int64) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer rollbackOnPanic(tx)

	reg, _, err := lockRegistrationWithEvent(ctx, tx, registrationID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	var hasAttendance bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM attendance WHERE registration_id = $1)
	`, registrationID).Scan(&hasAttendance); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to check attendance: %w", err)
	}

	if err := invariant.CanCancel(reg, hasAttendance); err != nil {
		_ = tx.Rollback()
		return err
	}

	before := *reg
	if _, err := tx.ExecContext(ctx, `
		UPDATE registrations SET status = $1 WHERE id = $2
	`, model.RegistrationStatusCancelled, registrationID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to cancel registration: %w", err)
	}
	after := before
	after.Status = model.RegistrationStatusCancelled

	if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionRegistrationCancel, audit.EntityRegistration, registrationID, before, after)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapTxErr(err)
	}
	return nil
}

// lockRegistrationWithEvent loads the registration FOR UPDATE plus its event,
// serializing concurrent check-in/feedback/cancel calls per registration.
func lockRegistrationWithEvent(ctx context.Context, tx *sql.Tx, registrationID int64) (*model.Registration, *model.Event, error) {
	var reg model.Registration
	err := tx.QueryRowContext(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE
	`, registrationID).Scan(&reg.ID, &reg.StudentID, &reg.EventID, &reg.RegistrationTime, &reg.Status)
	if err != nil {
		return nil, nil, ErrRegistrationNotFound
	}

	var event model.Event
	row := tx.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, reg.EventID)
	if err := scanEvent(row, &event); err != nil {
		return nil, nil, ErrEventNotFound
	}
	return &reg, &event, nil
}

func rollbackOnPanic(tx *sql.Tx) {
	if p := recover(); p != nil {
		_ = tx.Rollback()
		panic(p)
	}
}
