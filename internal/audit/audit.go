// Package audit builds the append-only trail entries written alongside every
// committed mutation and every reconciliation repair.
package audit

import (
	"encoding/json"
	"time"

	"campusevents/internal/model"
)

const (
	ActionEventCreated       = "event.created"
	ActionRegistered         = "registration.created"
	ActionRegistrationCancel = "registration.cancelled"
	ActionCheckedIn          = "attendance.created"
	ActionFeedbackSubmitted  = "feedback.created"

	ActionRepairEventCompleted   = "reconcile.event_completed"
	ActionRepairEventReactivated = "reconcile.event_reactivated"
	ActionRepairDuplicateCancel  = "reconcile.duplicate_cancelled"
	ActionRepairOrphanRemoved    = "reconcile.orphan_removed"

	EntityEvent        = "events"
	EntityRegistration = "registrations"
	EntityAttendance   = "attendance"
	EntityFeedback     = "feedback"
)

// NewEntry snapshots before/after as JSON. A nil before marks an insert, a nil
// after marks a removal. Marshal failures are swallowed into a null snapshot
// rather than failing the mutation the entry describes.
func NewEntry(action, entityName string, entityID int64, before, after any) *model.AuditLog {
	return &model.AuditLog{
		Action:     action,
		EntityName: entityName,
		EntityID:   entityID,
		Before:     snapshot(before),
		After:      snapshot(after),
		Timestamp:  time.Now().UTC(),
	}
}

func snapshot(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
