package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/ncflow/internal/domain"
)

const activityRetryMaxElapsed = 2 * time.Second

func defaultActivityBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxElapsedTime = activityRetryMaxElapsed
	return bo
}

// activityDetail is the structured context stored with an audit entry.
func activityDetail(rec *domain.Record, ev domain.Event) map[string]string {
	detail := map[string]string{
		"from": ev.From.String(),
		"to":   ev.To.String(),
	}
	switch ev.Action {
	case domain.EventCreated, domain.EventClassified:
		detail["severity"] = string(rec.Severity)
		if rec.ResponsibleID != "" {
			detail["responsible_id"] = rec.ResponsibleID
		}
	case domain.EventRemediationSubmitted:
		if s := rec.ActiveSubmission(); s != nil {
			detail["submission_id"] = s.ID
		}
	}
	return detail
}

// appendActivity writes the audit entry for ev, retrying with backoff.
func (e *Engine) appendActivity(ctx context.Context, rec *domain.Record, ev domain.Event) error {
	entry, err := domain.NewActivityEntry(rec, ev, activityDetail(rec, ev))
	if err != nil {
		return err
	}
	return backoff.Retry(func() error {
		return e.recorder.Append(ctx, entry)
	}, backoff.WithContext(e.activityBackoff(), ctx))
}

// afterCommit records audit entries and enqueues notifications for a
// committed change, then hands new notifications to the background
// dispatcher. Failures are logged and left for the sweep.
func (e *Engine) afterCommit(ctx context.Context, rec *domain.Record, events []domain.Event, notes []domain.Notification) {
	for _, ev := range events {
		if err := e.appendActivity(ctx, rec, ev); err != nil {
			e.logger.WarnContext(ctx, "activity append failed; sweep will repair",
				"record_id", rec.ID,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}
	e.dispatch(ctx, e.enqueue(ctx, notes))
}
