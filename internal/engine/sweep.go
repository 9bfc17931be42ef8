package engine

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
	"github.com/roach88/ncflow/internal/store"
)

// SweepResult counts what one RunScheduledSweep did.
type SweepResult struct {
	RemindersSent        int `json:"reminders_sent"`
	EscalationsTriggered int `json:"escalations_triggered"`
	LockoutsTriggered    int `json:"lockouts_triggered"`
	NotificationsRetried int `json:"notifications_retried"`
	ActivityRepaired     int `json:"activity_repaired"`
	DeliveryFailures     int `json:"delivery_failures"`
}

// RunScheduledSweep performs the periodic maintenance pass. It is invoked by
// an external scheduler and is safe to re-run: every notification it
// creates has an id tied to its occurrence, so a second run on the same day
// sends nothing new.
//
// In order it:
//  1. retries undelivered notifications from the outbox
//  2. re-appends audit entries missing for any history event
//  3. issues escalation notices that were never enqueued
//  4. sends due-soon reminders and overdue notices, once per record per day
//  5. records lockout changes, notifying on lock and on restore
//
// No record is locked while the notifier is called.
func (e *Engine) RunScheduledSweep(ctx context.Context) (SweepResult, error) {
	ctx, span, _ := e.metrics.start(ctx, "sweep")
	var res SweepResult
	var err error
	defer func() { e.metrics.end(span, err) }()

	err = e.sweep(ctx, &res)
	e.logger.InfoContext(ctx, "sweep finished",
		"reminders_sent", res.RemindersSent,
		"escalations_triggered", res.EscalationsTriggered,
		"lockouts_triggered", res.LockoutsTriggered,
		"notifications_retried", res.NotificationsRetried,
		"activity_repaired", res.ActivityRepaired,
		"delivery_failures", res.DeliveryFailures,
	)
	return res, err
}

func (e *Engine) sweep(ctx context.Context, res *SweepResult) error {
	undelivered, err := e.outbox.Undelivered(ctx, e.maxAttempts)
	if err != nil {
		return newError(CodePersistence, "Could not read the notification outbox").wrap(err)
	}
	retry := make([]domain.Notification, len(undelivered))
	for i, entry := range undelivered {
		retry[i] = entry.Notification
	}
	res.NotificationsRetried = len(retry)
	res.DeliveryFailures += e.deliverAll(ctx, retry)

	recs, err := e.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return newError(CodePersistence, "Could not list records").wrap(err)
	}

	var fresh []domain.Notification
	for _, rec := range recs {
		repaired, err := e.repairActivity(ctx, rec)
		if err != nil {
			return err
		}
		res.ActivityRepaired += repaired

		if n, ok := e.escalationNotification(ctx, rec); ok {
			if inserted := e.enqueue(ctx, []domain.Notification{n}); len(inserted) > 0 {
				res.EscalationsTriggered++
				fresh = append(fresh, inserted...)
			}
		}
	}

	now := e.now()
	day := policy.OverdueCutoff(now).Format("2006-01-02")
	for _, rec := range recs {
		n, ok := e.reminder(ctx, rec, now, day)
		if !ok {
			continue
		}
		if inserted := e.enqueue(ctx, []domain.Notification{n}); len(inserted) > 0 {
			res.RemindersSent++
			fresh = append(fresh, inserted...)
		}
	}

	lockNotes, triggered, err := e.sweepLockouts(ctx)
	if err != nil {
		return err
	}
	res.LockoutsTriggered = triggered
	fresh = append(fresh, lockNotes...)

	res.DeliveryFailures += e.deliverAll(ctx, fresh)
	return nil
}

// deliverAll delivers notes concurrently, bounded by the sweep concurrency.
// Returns the number of failed deliveries.
func (e *Engine) deliverAll(ctx context.Context, notes []domain.Notification) int {
	var failures atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.sweepConcurrency)
	for _, n := range notes {
		g.Go(func() error {
			if err := e.deliver(ctx, n); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failures.Load())
}

// repairActivity appends the audit entries missing for rec's history.
func (e *Engine) repairActivity(ctx context.Context, rec *domain.Record) (int, error) {
	have, err := e.recorder.ActivityIDs(ctx, rec.ID)
	if err != nil {
		return 0, newError(CodePersistence, "Could not read activity for record %s", rec.ID).wrap(err)
	}
	repaired := 0
	for _, ev := range rec.History {
		id, err := domain.ActivityID(rec.ID, ev.Seq, ev.Action)
		if err != nil {
			return repaired, newError(CodePersistence, "Could not derive activity id for record %s", rec.ID).wrap(err)
		}
		if have[id] {
			continue
		}
		if err := e.appendActivity(ctx, rec, ev); err != nil {
			e.logger.WarnContext(ctx, "activity repair failed", "record_id", rec.ID, "seq", ev.Seq, "error", err)
			continue
		}
		repaired++
	}
	return repaired, nil
}

// reminder builds today's due-soon or overdue notice for rec, if any.
// The notice goes to the responsible person, or to QA before assignment.
func (e *Engine) reminder(ctx context.Context, rec *domain.Record, now time.Time, day string) (domain.Notification, bool) {
	var typ domain.NotificationType
	switch {
	case policy.IsOverdue(rec, now):
		typ = domain.NotifyOverdue
	case policy.DueSoon(rec, now, e.settings.ReminderLeadDays):
		typ = domain.NotifyDueReminder
	default:
		return domain.Notification{}, false
	}
	to := recipients{}
	if rec.ResponsibleID != "" {
		to.add(rec.ResponsibleID)
	} else {
		to.addActors(e.withRole(ctx, domain.RoleQA))
	}
	return e.newNotification(typ, rec, day, to, map[string]string{
		"due_date": rec.DueDate.Format("2006-01-02"),
	})
}

// sweepLockouts re-evaluates every user who is either responsible for an
// active record or currently locked, and records changes in the ledger.
// A lock or restore notice is enqueued before its ledger row is written; if
// the enqueue fails the ledger keeps the old state and the next sweep
// retries the change. Returns the enqueued notices and the number of users
// newly locked.
func (e *Engine) sweepLockouts(ctx context.Context) ([]domain.Notification, int, error) {
	responsible, err := e.store.ResponsibleUsers(ctx)
	if err != nil {
		return nil, 0, newError(CodePersistence, "Could not list responsible users").wrap(err)
	}
	locked, err := e.lockouts.LockedUsers(ctx)
	if err != nil {
		return nil, 0, newError(CodePersistence, "Could not list locked users").wrap(err)
	}
	users := recipients{}
	users.add(responsible...)
	users.add(locked...)

	now := e.now()
	var notes []domain.Notification
	triggered := 0
	for _, userID := range users.sorted() {
		st, err := e.LockStatus(ctx, userID)
		if IsNotFound(err) {
			e.logger.WarnContext(ctx, "lockout check skipped unknown user", "user_id", userID)
			continue
		}
		if err != nil {
			return notes, triggered, err
		}
		prev, found, err := e.lockouts.GetLockout(ctx, userID)
		if err != nil {
			return notes, triggered, newError(CodePersistence, "Could not read lockout state for %s", userID).wrap(err)
		}
		if found && prev.Locked == st.Locked && prev.OverdueCount == st.OverdueCount {
			continue
		}

		changed := (!found && st.Locked) || (found && prev.Locked != st.Locked)
		if changed {
			n := e.lockoutNotification(ctx, st, now)
			inserted, err := e.outbox.Enqueue(ctx, n)
			if err != nil {
				e.logger.WarnContext(ctx, "lockout notice enqueue failed; ledger left unchanged",
					"user_id", userID,
					"type", string(n.Type),
					"error", err,
				)
				continue
			}
			if inserted {
				notes = append(notes, n)
			}
		}
		if err := e.lockouts.PutLockout(ctx, store.LockoutState{
			UserID:       userID,
			Locked:       st.Locked,
			OverdueCount: st.OverdueCount,
			ChangedAt:    now,
		}); err != nil {
			return notes, triggered, newError(CodePersistence, "Could not save lockout state for %s", userID).wrap(err)
		}
		if !changed {
			continue
		}
		if st.Locked {
			triggered++
		}
		e.logger.InfoContext(ctx, "lockout changed",
			"user_id", userID,
			"locked", st.Locked,
			"overdue_count", st.OverdueCount,
		)
	}
	return notes, triggered, nil
}

// lockoutNotification builds the notice for st, a changed lockout decision.
// Its id is tied to the user and the moment of the change.
func (e *Engine) lockoutNotification(ctx context.Context, st LockStatus, now time.Time) domain.Notification {
	to := recipients{}
	to.add(st.UserID)
	typ := domain.NotifyAccessRestored
	if st.Locked {
		typ = domain.NotifyAccessLocked
		to.addActors(e.withRole(ctx, domain.RoleAdmin))
	}
	return domain.Notification{
		ID:         domain.MustNotificationID(typ, st.UserID, strconv.FormatInt(now.UnixMilli(), 10)),
		Type:       typ,
		Recipients: to.sorted(),
		Context: map[string]string{
			"user_id":       st.UserID,
			"overdue_count": strconv.Itoa(st.OverdueCount),
			"threshold":     strconv.Itoa(st.Threshold),
		},
		CreatedAt: now,
	}
}
