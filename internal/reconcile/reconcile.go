// Package reconcile runs the batch detect-and-repair pass over data that
// drifted outside the normal lifecycle operations (bulk imports, ad-hoc
// scripts, legacy migrations). Repairs are deterministic and idempotent:
// a second consecutive run finds nothing left to fix.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"campusevents/internal/repo"
)

// ErrAlreadyRunning is returned when a run is requested while another run
// holds the single-instance lock.
var ErrAlreadyRunning = errors.New("reconciliation already running")

const (
	FindingInvalidFeedback = "feedback_invalid"
	FindingOverbooked      = "event_overbooked"
	FindingMalformedEvent  = "event_malformed"
)

// Repair describes one healed record.
type Repair struct {
	Action     string `json:"action"`
	EntityName string `json:"entity_name"`
	EntityID   int64  `json:"entity_id"`
}

// Finding describes a record that needs a human decision. Nothing here is
// auto-corrected: rewriting a rating or raising a capacity would falsify what
// was actually recorded.
type Finding struct {
	Kind       string `json:"kind"`
	EntityName string `json:"entity_name"`
	EntityID   int64  `json:"entity_id"`
	Detail     string `json:"detail,omitempty"`
}

type Report struct {
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	RepairsApplied int       `json:"repairs_applied"`
	Repairs        []Repair  `json:"repairs,omitempty"`
	Flagged        []Finding `json:"flagged_for_review,omitempty"`
}

type Reconciler struct {
	store repo.Store
	log   *zerolog.Logger
	mu    sync.Mutex
	now   func() time.Time
}

func New(store repo.Store, log *zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, log: log, now: time.Now}
}

// Run executes every repair step, each in its own storage transaction, so one
// bad record cannot block the rest. Only one run may be in flight at a time;
// lifecycle operations keep working concurrently.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrAlreadyRunning
	}
	defer r.mu.Unlock()

	now := r.now()
	report := &Report{StartedAt: now}

	completed, err := r.store.CompleteElapsedEventsTx(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, e := range completed {
		report.addRepair("event_completed", "events", e.ID)
	}

	reactivated, err := r.store.ReactivateFutureCompletedEventsTx(ctx, now)
	if err != nil {
		return nil, err
	}
	for _, e := range reactivated {
		report.addRepair("event_reactivated", "events", e.ID)
	}

	cancelled, err := r.store.CancelDuplicateRegistrationsTx(ctx)
	if err != nil {
		return nil, err
	}
	for _, reg := range cancelled {
		report.addRepair("duplicate_cancelled", "registrations", reg.ID)
	}

	orphanAtt, err := r.store.RemoveOrphanedAttendanceTx(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range orphanAtt {
		report.addRepair("orphan_removed", "attendance", a.ID)
	}

	orphanFb, err := r.store.RemoveOrphanedFeedbackTx(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range orphanFb {
		report.addRepair("orphan_removed", "feedback", f.ID)
	}

	if err := r.flag(ctx, report); err != nil {
		return nil, err
	}

	report.FinishedAt = r.now()
	r.log.Info().
		Int("repairs", report.RepairsApplied).
		Int("flagged", len(report.Flagged)).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("reconciliation run finished")
	return report, nil
}

func (r *Reconciler) flag(ctx context.Context, report *Report) error {
	invalidFb, err := r.store.FindInvalidFeedback(ctx)
	if err != nil {
		return err
	}
	for _, f := range invalidFb {
		report.Flagged = append(report.Flagged, Finding{
			Kind:       FindingInvalidFeedback,
			EntityName: "feedback",
			EntityID:   f.ID,
			Detail:     "no qualifying attendance or rating out of range",
		})
	}

	overbooked, err := r.store.FindOverbookedEvents(ctx)
	if err != nil {
		return err
	}
	for _, o := range overbooked {
		report.Flagged = append(report.Flagged, Finding{
			Kind:       FindingOverbooked,
			EntityName: "events",
			EntityID:   o.Event.ID,
			Detail:     "active registrations exceed capacity; raise capacity or prune manually",
		})
	}

	malformed, err := r.store.FindMalformedEvents(ctx)
	if err != nil {
		return err
	}
	for _, e := range malformed {
		report.Flagged = append(report.Flagged, Finding{
			Kind:       FindingMalformedEvent,
			EntityName: "events",
			EntityID:   e.ID,
			Detail:     "non-positive capacity or end time not after start time",
		})
	}
	return nil
}

func (report *Report) addRepair(action, entityName string, id int64) {
	report.Repairs = append(report.Repairs, Repair{Action: action, EntityName: entityName, EntityID: id})
	report.RepairsApplied++
}

// RunEvery triggers a run on each tick until ctx is cancelled. Overlapping
// ticks are absorbed by the single-instance lock.
func (r *Reconciler) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				r.log.Error().Err(err).Msg("scheduled reconciliation failed")
			}
		}
	}
}
