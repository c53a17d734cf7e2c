package repo

import (
	"context"
	"fmt"
	"time"

	"campusevents/internal/audit"
	"campusevents/internal/invariant"
	"campusevents/internal/model"
)

// CompleteElapsedEventsTx flips active events whose end time has passed to
// completed. Runs as one transaction; one audit row per event.
func (r *Postgres) CompleteElapsedEventsTx(ctx context.Context, now time.Time) ([]model.Event, error) {
	return r.transitionEventsTx(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = $1 AND end_time <= $2
		FOR UPDATE
	`, model.EventStatusActive, now, model.EventStatusCompleted, audit.ActionRepairEventCompleted)
}

// ReactivateFutureCompletedEventsTx reverts the data-entry mistake of marking
// an event completed before it has ended.
func (r *Postgres) ReactivateFutureCompletedEventsTx(ctx context.Context, now time.Time) ([]model.Event, error) {
	return r.transitionEventsTx(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE status = $1 AND end_time > $2
		FOR UPDATE
	`, model.EventStatusCompleted, now, model.EventStatusActive, audit.ActionRepairEventReactivated)
}

func (r *Postgres) transitionEventsTx(ctx context.Context, query, fromStatus string, now time.Time, toStatus, action string) ([]model.Event, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnPanic(tx)

	rows, err := tx.QueryContext(ctx, query, fromStatus, now)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to select drifted events: %w", err)
	}

	var drifted []model.Event
	for rows.Next() {
		var e model.Event
		if err := scanEvent(rows, &e); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		drifted = append(drifted, e)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	rows.Close()

	repaired := make([]model.Event, 0, len(drifted))
	for _, before := range drifted {
		after := before
		after.Status = toStatus
		if _, err := tx.ExecContext(ctx, `
			UPDATE events SET status = $1, updated_at = NOW() WHERE id = $2
		`, toStatus, before.ID); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to transition event %d: %w", before.ID, err)
		}
		if err := insertAudit(ctx, tx, audit.NewEntry(action, audit.EntityEvent, before.ID, before, after)); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		repaired = append(repaired, after)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return repaired, nil
}

// CancelDuplicateRegistrationsTx keeps, per (student, event), the most recent
// active registration and soft-cancels the rest. Records are never deleted so
// the audit trail stays coherent.
func (r *Postgres) CancelDuplicateRegistrationsTx(ctx context.Context) ([]model.Registration, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnPanic(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE status = $1
		  AND (student_id, event_id) IN (
			SELECT student_id, event_id FROM registrations
			WHERE status = $1
			GROUP BY student_id, event_id
			HAVING COUNT(*) > 1
		  )
		ORDER BY student_id, event_id, registration_time DESC, id DESC
		FOR UPDATE
	`, model.RegistrationStatusRegistered)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to select duplicate registrations: %w", err)
	}

	var dupGroups []model.Registration
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.StudentID, &reg.EventID, &reg.RegistrationTime, &reg.Status); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		dupGroups = append(dupGroups, reg)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	rows.Close()

	// Rows arrive newest-first within each group; the first of a group
	// survives, the rest are cancelled.
	var cancelled []model.Registration
	var lastStudent, lastEvent int64 = -1, -1
	for _, reg := range dupGroups {
		isGroupHead := reg.StudentID != lastStudent || reg.EventID != lastEvent
		lastStudent, lastEvent = reg.StudentID, reg.EventID
		if isGroupHead {
			continue
		}

		before := reg
		after := reg
		after.Status = model.RegistrationStatusCancelled
		if _, err := tx.ExecContext(ctx, `
			UPDATE registrations SET status = $1 WHERE id = $2
		`, model.RegistrationStatusCancelled, reg.ID); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to cancel duplicate %d: %w", reg.ID, err)
		}
		if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionRepairDuplicateCancel, audit.EntityRegistration, reg.ID, before, after)); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		cancelled = append(cancelled, after)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return cancelled, nil
}

// RemoveOrphanedAttendanceTx deletes attendance rows whose registration is
// gone. Impossible under foreign keys, but imported data may lack them.
func (r *Postgres) RemoveOrphanedAttendanceTx(ctx context.Context) ([]model.Attendance, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnPanic(tx)

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM attendance
		WHERE registration_id NOT IN (SELECT id FROM registrations)
		RETURNING id, registration_id, attended, check_in_time
	`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to remove orphaned attendance: %w", err)
	}

	var removed []model.Attendance
	for rows.Next() {
		var a model.Attendance
		if err := rows.Scan(&a.ID, &a.RegistrationID, &a.Attended, &a.CheckInTime); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		removed = append(removed, a)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	rows.Close()

	for _, a := range removed {
		if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionRepairOrphanRemoved, audit.EntityAttendance, a.ID, a, nil)); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return removed, nil
}

func (r *Postgres) RemoveOrphanedFeedbackTx(ctx context.Context) ([]model.Feedback, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer rollbackOnPanic(tx)

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM feedback
		WHERE registration_id NOT IN (SELECT id FROM registrations)
		RETURNING id, registration_id, rating, comments, submitted_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to remove orphaned feedback: %w", err)
	}

	var removed []model.Feedback
	for rows.Next() {
		var f model.Feedback
		if err := rows.Scan(&f.ID, &f.RegistrationID, &f.Rating, &f.Comments, &f.SubmittedAt); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		removed = append(removed, f)
	}
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	rows.Close()

	for _, f := range removed {
		if err := insertAudit(ctx, tx, audit.NewEntry(audit.ActionRepairOrphanRemoved, audit.EntityFeedback, f.ID, f, nil)); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxErr(err)
	}
	return removed, nil
}

// FindInvalidFeedback reports feedback lacking a qualifying attendance or with
// a rating outside the allowed range. Ratings are never rewritten; the rows go
// to a manual-review list.
func (r *Postgres) FindInvalidFeedback(ctx context.Context) ([]model.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT f.id, f.registration_id, f.rating, f.comments, f.submitted_at
		FROM feedback f
		LEFT JOIN attendance a ON a.registration_id = f.registration_id
		WHERE a.id IS NULL OR a.attended = FALSE OR f.rating < $1 OR f.rating > $2
		ORDER BY f.id
	`, invariant.MinRating, invariant.MaxRating)
	if err != nil {
		return nil, fmt.Errorf("failed to find invalid feedback: %w", err)
	}
	defer rows.Close()

	var flagged []model.Feedback
	for rows.Next() {
		var f model.Feedback
		if err := rows.Scan(&f.ID, &f.RegistrationID, &f.Rating, &f.Comments, &f.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		flagged = append(flagged, f)
	}
	return flagged, rows.Err()
}

// FindOverbookedEvents reports events whose active registration count exceeds
// capacity. Capacity is what the admin configured; the pass proposes, a human
// decides.
func (r *Postgres) FindOverbookedEvents(ctx context.Context) ([]Overbooked, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`, cnt.active_count
		FROM events e
		JOIN (
			SELECT event_id, COUNT(*) AS active_count
			FROM registrations
			WHERE status = $1
			GROUP BY event_id
		) cnt ON cnt.event_id = e.id
		WHERE cnt.active_count > e.capacity
		ORDER BY e.id
	`, model.RegistrationStatusRegistered)
	if err != nil {
		return nil, fmt.Errorf("failed to find overbooked events: %w", err)
	}
	defer rows.Close()

	var flagged []Overbooked
	for rows.Next() {
		var o Overbooked
		if err := rows.Scan(
			&o.Event.ID, &o.Event.CollegeID, &o.Event.Title, &o.Event.Description, &o.Event.TypeID,
			&o.Event.Venue, &o.Event.StartTime, &o.Event.EndTime, &o.Event.Capacity, &o.Event.CreatedBy,
			&o.Event.Semester, &o.Event.Status, &o.Event.CreatedAt, &o.Event.UpdatedAt, &o.ActiveCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan overbooked event: %w", err)
		}
		flagged = append(flagged, o)
	}
	return flagged, rows.Err()
}

// FindMalformedEvents reports events breaking the structural rules: end time
// not after start, or non-positive capacity.
func (r *Postgres) FindMalformedEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE end_time <= start_time OR capacity <= 0
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to find malformed events: %w", err)
	}
	defer rows.Close()

	var flagged []model.Event
	for rows.Next() {
		var e model.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		flagged = append(flagged, e)
	}
	return flagged, rows.Err()
}

func (r *Postgres) AuditTrail(ctx context.Context, entityName string, entityID int64) ([]model.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, entity_name, entity_id, before_data, after_data, created_at
		FROM audit_log
		WHERE entity_name = $1 AND entity_id = $2
		ORDER BY id ASC
	`, entityName, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditLog
	for rows.Next() {
		var e model.AuditLog
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityName, &e.EntityID, &e.Before, &e.After, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
