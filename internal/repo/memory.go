package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusevents/internal/audit"
	"campusevents/internal/invariant"
	"campusevents/internal/model"
)

// Memory is an in-process Store with the same transactional semantics as the
// postgres implementation: one mutex section per lifecycle call plays the role
// of the row locks, so the count-then-insert sequence stays serialized.
// Used by unit tests; the Seed* helpers inject drifted data the way external
// tooling would, bypassing the invariant checks on purpose.
type Memory struct {
	mu sync.Mutex

	colleges      map[int64]*model.College
	admins        map[int64]*model.Admin
	students      map[int64]*model.Student
	eventTypes    map[int64]*model.EventType
	events        map[int64]*model.Event
	registrations map[int64]*model.Registration
	attendance    map[int64]*model.Attendance
	feedback      map[int64]*model.Feedback
	auditLog      []model.AuditLog

	nextID int64
}

func NewMemory() *Memory {
	return &Memory{
		colleges:      make(map[int64]*model.College),
		admins:        make(map[int64]*model.Admin),
		students:      make(map[int64]*model.Student),
		eventTypes:    make(map[int64]*model.EventType),
		events:        make(map[int64]*model.Event),
		registrations: make(map[int64]*model.Registration),
		attendance:    make(map[int64]*model.Attendance),
		feedback:      make(map[int64]*model.Feedback),
	}
}

func (m *Memory) nextSeq() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) appendAudit(entry *model.AuditLog) {
	entry.ID = m.nextSeq()
	m.auditLog = append(m.auditLog, *entry)
}

func (m *Memory) CreateCollege(_ context.Context, c *model.College) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.ID = m.nextSeq()
	m.colleges[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) CreateAdmin(_ context.Context, a *model.Admin) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.ID = m.nextSeq()
	m.admins[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) CreateStudent(_ context.Context, s *model.Student) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.ID = m.nextSeq()
	m.students[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) CreateEventType(_ context.Context, t *model.EventType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.ID = m.nextSeq()
	m.eventTypes[cp.ID] = &cp
	return cp.ID, nil
}

func (m *Memory) CreateEvent(_ context.Context, e *model.Event) (int64, error) {
	if err := invariant.ValidEventWindow(e); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = m.nextSeq()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.events[cp.ID] = &cp
	m.appendAudit(audit.NewEntry(audit.ActionEventCreated, audit.EntityEvent, cp.ID, nil, cp))
	return cp.ID, nil
}

func (m *Memory) GetStudentByID(_ context.Context, id int64) (*model.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, ErrStudentNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetEventByID(_ context.Context, id int64) (*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) GetAllEvents(_ context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (m *Memory) GetRegistrationByID(_ context.Context, id int64) (*model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.registrations[id]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	cp := *reg
	return &cp, nil
}

func (m *Memory) GetRegistrationsByEventID(_ context.Context, eventID int64) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var regs []model.Registration
	for _, reg := range m.registrations {
		if reg.EventID == eventID && reg.Status == model.RegistrationStatusRegistered {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].ID < regs[j].ID })
	return regs, nil
}

func (m *Memory) CountActiveRegistrations(_ context.Context, eventID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveLocked(eventID), nil
}

func (m *Memory) countActiveLocked(eventID int64) int {
	count := 0
	for _, reg := range m.registrations {
		if reg.EventID == eventID && reg.Status == model.RegistrationStatusRegistered {
			count++
		}
	}
	return count
}

func (m *Memory) RegisterTx(_ context.Context, studentID, eventID int64, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[studentID]; !ok {
		return 0, ErrStudentNotFound
	}
	event, ok := m.events[eventID]
	if !ok {
		return 0, ErrEventNotFound
	}

	count := m.countActiveLocked(eventID)
	alreadyRegistered := false
	for _, reg := range m.registrations {
		if reg.StudentID == studentID && reg.EventID == eventID && reg.Status == model.RegistrationStatusRegistered {
			alreadyRegistered = true
			break
		}
	}

	if err := invariant.CanRegister(event, now, count, alreadyRegistered); err != nil {
		return 0, err
	}

	reg := &model.Registration{
		ID:               m.nextSeq(),
		StudentID:        studentID,
		EventID:          eventID,
		RegistrationTime: now,
		Status:           model.RegistrationStatusRegistered,
	}
	m.registrations[reg.ID] = reg
	m.appendAudit(audit.NewEntry(audit.ActionRegistered, audit.EntityRegistration, reg.ID, nil, *reg))
	return reg.ID, nil
}

func (m *Memory) CheckInTx(_ context.Context, registrationID int64, attended bool, checkInTime time.Time, earlyGrace time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[registrationID]
	if !ok {
		return 0, ErrRegistrationNotFound
	}
	event, ok := m.events[reg.EventID]
	if !ok {
		return 0, ErrEventNotFound
	}

	if err := invariant.CanCheckIn(event, reg, m.attendanceForLocked(registrationID) != nil, checkInTime, earlyGrace); err != nil {
		return 0, err
	}

	att := &model.Attendance{
		ID:             m.nextSeq(),
		RegistrationID: registrationID,
		Attended:       attended,
		CheckInTime:    checkInTime,
	}
	m.attendance[att.ID] = att
	m.appendAudit(audit.NewEntry(audit.ActionCheckedIn, audit.EntityAttendance, att.ID, nil, *att))
	return att.ID, nil
}

func (m *Memory) SubmitFeedbackTx(_ context.Context, registrationID int64, rating int, comments string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[registrationID]
	if !ok {
		return 0, ErrRegistrationNotFound
	}

	att := m.attendanceForLocked(registrationID)
	hasFeedback := m.feedbackForLocked(registrationID) != nil

	if err := invariant.CanSubmitFeedback(reg, att, hasFeedback, rating); err != nil {
		return 0, err
	}

	fb := &model.Feedback{
		ID:             m.nextSeq(),
		RegistrationID: registrationID,
		Rating:         rating,
		Comments:       comments,
		SubmittedAt:    now,
	}
	m.feedback[fb.ID] = fb
	m.appendAudit(audit.NewEntry(audit.ActionFeedbackSubmitted, audit.EntityFeedback, fb.ID, nil, *fb))
	return fb.ID, nil
}

func (m *Memory) CancelRegistrationTx(_ context.Context, registrationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registrations[registrationID]
	if !ok {
		return ErrRegistrationNotFound
	}

	if err := invariant.CanCancel(reg, m.attendanceForLocked(registrationID) != nil); err != nil {
		return err
	}

	before := *reg
	reg.Status = model.RegistrationStatusCancelled
	m.appendAudit(audit.NewEntry(audit.ActionRegistrationCancel, audit.EntityRegistration, reg.ID, before, *reg))
	return nil
}

func (m *Memory) attendanceForLocked(registrationID int64) *model.Attendance {
	for _, a := range m.attendance {
		if a.RegistrationID == registrationID {
			return a
		}
	}
	return nil
}

func (m *Memory) feedbackForLocked(registrationID int64) *model.Feedback {
	for _, f := range m.feedback {
		if f.RegistrationID == registrationID {
			return f
		}
	}
	return nil
}

func (m *Memory) CompleteElapsedEventsTx(_ context.Context, now time.Time) ([]model.Event, error) {
	return m.transitionEvents(model.EventStatusActive, model.EventStatusCompleted, audit.ActionRepairEventCompleted,
		func(e *model.Event) bool { return !e.EndTime.After(now) })
}

func (m *Memory) ReactivateFutureCompletedEventsTx(_ context.Context, now time.Time) ([]model.Event, error) {
	return m.transitionEvents(model.EventStatusCompleted, model.EventStatusActive, audit.ActionRepairEventReactivated,
		func(e *model.Event) bool { return e.EndTime.After(now) })
}

func (m *Memory) transitionEvents(fromStatus, toStatus, action string, drifted func(*model.Event) bool) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.events))
	for id := range m.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var repaired []model.Event
	for _, id := range ids {
		e := m.events[id]
		if e.Status != fromStatus || !drifted(e) {
			continue
		}
		before := *e
		e.Status = toStatus
		e.UpdatedAt = time.Now()
		m.appendAudit(audit.NewEntry(action, audit.EntityEvent, e.ID, before, *e))
		repaired = append(repaired, *e)
	}
	return repaired, nil
}

func (m *Memory) CancelDuplicateRegistrationsTx(_ context.Context) ([]model.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct{ student, event int64 }
	groups := make(map[key][]*model.Registration)
	for _, reg := range m.registrations {
		if reg.Status == model.RegistrationStatusRegistered {
			k := key{reg.StudentID, reg.EventID}
			groups[k] = append(groups[k], reg)
		}
	}

	var cancelled []model.Registration
	for _, regs := range groups {
		if len(regs) <= 1 {
			continue
		}
		// Most recent registration wins, id breaks ties.
		sort.Slice(regs, func(i, j int) bool {
			if !regs[i].RegistrationTime.Equal(regs[j].RegistrationTime) {
				return regs[i].RegistrationTime.After(regs[j].RegistrationTime)
			}
			return regs[i].ID > regs[j].ID
		})
		for _, reg := range regs[1:] {
			before := *reg
			reg.Status = model.RegistrationStatusCancelled
			m.appendAudit(audit.NewEntry(audit.ActionRepairDuplicateCancel, audit.EntityRegistration, reg.ID, before, *reg))
			cancelled = append(cancelled, *reg)
		}
	}
	sort.Slice(cancelled, func(i, j int) bool { return cancelled[i].ID < cancelled[j].ID })
	return cancelled, nil
}

func (m *Memory) RemoveOrphanedAttendanceTx(_ context.Context) ([]model.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []model.Attendance
	for id, a := range m.attendance {
		if _, ok := m.registrations[a.RegistrationID]; ok {
			continue
		}
		removed = append(removed, *a)
		delete(m.attendance, id)
		m.appendAudit(audit.NewEntry(audit.ActionRepairOrphanRemoved, audit.EntityAttendance, a.ID, *a, nil))
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (m *Memory) RemoveOrphanedFeedbackTx(_ context.Context) ([]model.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []model.Feedback
	for id, f := range m.feedback {
		if _, ok := m.registrations[f.RegistrationID]; ok {
			continue
		}
		removed = append(removed, *f)
		delete(m.feedback, id)
		m.appendAudit(audit.NewEntry(audit.ActionRepairOrphanRemoved, audit.EntityFeedback, f.ID, *f, nil))
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func (m *Memory) FindInvalidFeedback(_ context.Context) ([]model.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []model.Feedback
	for _, f := range m.feedback {
		att := m.attendanceForLocked(f.RegistrationID)
		if att == nil || !att.Attended || !invariant.ValidRating(f.Rating) {
			flagged = append(flagged, *f)
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i].ID < flagged[j].ID })
	return flagged, nil
}

func (m *Memory) FindOverbookedEvents(_ context.Context) ([]Overbooked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []Overbooked
	for _, e := range m.events {
		count := m.countActiveLocked(e.ID)
		if count > e.Capacity {
			flagged = append(flagged, Overbooked{Event: *e, ActiveCount: count})
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i].Event.ID < flagged[j].Event.ID })
	return flagged, nil
}

func (m *Memory) FindMalformedEvents(_ context.Context) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flagged []model.Event
	for _, e := range m.events {
		if invariant.ValidEventWindow(e) != nil {
			flagged = append(flagged, *e)
		}
	}
	sort.Slice(flagged, func(i, j int) bool { return flagged[i].ID < flagged[j].ID })
	return flagged, nil
}

func (m *Memory) AuditTrail(_ context.Context, entityName string, entityID int64) ([]model.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []model.AuditLog
	for _, e := range m.auditLog {
		if e.EntityName == entityName && e.EntityID == entityID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// AuditCount reports how many trail entries carry the given action. Test hook.
func (m *Memory) AuditCount(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.auditLog {
		if e.Action == action {
			count++
		}
	}
	return count
}

// Seed helpers write records directly, skipping the invariant checks the same
// way a bulk import or an ad-hoc script would. Tests use them to manufacture
// the drift the reconciliation pass must detect.

func (m *Memory) SeedEvent(e model.Event) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextSeq()
	}
	m.events[e.ID] = &e
	return e.ID
}

func (m *Memory) SeedRegistration(reg model.Registration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reg.ID == 0 {
		reg.ID = m.nextSeq()
	}
	m.registrations[reg.ID] = &reg
	return reg.ID
}

func (m *Memory) SeedAttendance(a model.Attendance) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.nextSeq()
	}
	m.attendance[a.ID] = &a
	return a.ID
}

func (m *Memory) SeedFeedback(f model.Feedback) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == 0 {
		f.ID = m.nextSeq()
	}
	m.feedback[f.ID] = &f
	return f.ID
}
