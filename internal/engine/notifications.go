package engine

import (
	"context"
	"sort"
	"strconv"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// recipients collects user ids, dropping blanks and duplicates.
type recipients map[string]bool

func (r recipients) add(ids ...string) {
	for _, id := range ids {
		if id != "" {
			r[id] = true
		}
	}
}

func (r recipients) addActors(actors []domain.Actor) {
	for _, a := range actors {
		r.add(a.ID)
	}
}

func (r recipients) sorted() []string {
	out := make([]string, 0, len(r))
	for id := range r {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// withRole returns every actor holding role. Directory failures
// are logged and yield no recipients.
func (e *Engine) withRole(ctx context.Context, role domain.Role) []domain.Actor {
	actors, err := e.directory.ActorsWithRole(ctx, role)
	if err != nil {
		e.logger.WarnContext(ctx, "recipient lookup failed", "role", string(role), "error", err)
		return nil
	}
	return actors
}

// reviewers returns the managers who review rec: its department managers,
// else organisation-wide managers, else admins.
func (e *Engine) reviewers(ctx context.Context, rec *domain.Record) []domain.Actor {
	if rec.DepartmentID != "" {
		managers, err := e.directory.DepartmentManagers(ctx, rec.DepartmentID)
		if err != nil {
			e.logger.WarnContext(ctx, "recipient lookup failed", "department_id", rec.DepartmentID, "error", err)
		}
		if len(managers) > 0 {
			return managers
		}
	}
	var elevated []domain.Actor
	for _, m := range e.withRole(ctx, domain.RoleManager) {
		if policy.IsElevatedManager(m) {
			elevated = append(elevated, m)
		}
	}
	if len(elevated) > 0 {
		return elevated
	}
	return e.withRole(ctx, domain.RoleAdmin)
}

// newNotification builds a notification with a content-addressed id.
// Returns false when there is nobody to tell.
func (e *Engine) newNotification(typ domain.NotificationType, rec *domain.Record, discriminator string, to recipients, detail map[string]string) (domain.Notification, bool) {
	if len(to) == 0 {
		return domain.Notification{}, false
	}
	summary := rec.Summary()
	return domain.Notification{
		ID:         domain.MustNotificationID(typ, rec.ID, discriminator),
		Type:       typ,
		RecordID:   rec.ID,
		Record:     &summary,
		Recipients: to.sorted(),
		Context:    detail,
		CreatedAt:  e.now(),
	}, true
}

func (e *Engine) createdNotifications(ctx context.Context, rec *domain.Record) []domain.Notification {
	to := recipients{}
	to.addActors(e.withRole(ctx, domain.RoleQA))
	n, ok := e.newNotification(domain.NotifyRecordCreated, rec, "1", to, map[string]string{
		"reporter_id": rec.ReporterID,
	})
	if !ok {
		return nil
	}
	return []domain.Notification{n}
}

// transitionNotifications decides who hears about the move from cur to next.
func (e *Engine) transitionNotifications(ctx context.Context, cur, next *domain.Record, action domain.Action) []domain.Notification {
	last := next.History[len(next.History)-1]
	seq := strconv.FormatInt(last.Seq, 10)
	info := map[string]string{
		"actor_id": last.ActorID,
		"from":     last.From.String(),
		"to":       last.To.String(),
	}
	if last.Comment != "" {
		info["comment"] = last.Comment
	}

	var out []domain.Notification
	add := func(typ domain.NotificationType, discriminator string, to recipients, detail map[string]string) {
		if n, ok := e.newNotification(typ, next, discriminator, to, detail); ok {
			out = append(out, n)
		}
	}

	to := recipients{}
	switch action {
	case domain.ActionClassify:
		to.add(next.ResponsibleID)
		if next.DepartmentID != "" {
			managers, err := e.directory.DepartmentManagers(ctx, next.DepartmentID)
			if err != nil {
				e.logger.WarnContext(ctx, "recipient lookup failed", "department_id", next.DepartmentID, "error", err)
			}
			to.addActors(managers)
		}
		info["due_date"] = next.DueDate.Format("2006-01-02")
		add(domain.NotifyRecordAssigned, seq, to, info)

	case domain.ActionSubmitRemediation:
		to.addActors(e.reviewers(ctx, next))
		add(domain.NotifyRemediationSubmitted, seq, to, info)

	case domain.ActionApprove:
		if next.Status == domain.StatusClosed {
			to.add(next.ReporterID, next.ResponsibleID)
			add(domain.NotifyRecordClosed, seq, to, info)
			break
		}
		to.addActors(e.withRole(ctx, domain.RoleQA))
		to.addActors(e.withRole(ctx, domain.RoleVerifier))
		add(domain.NotifyReviewApproved, seq, to, info)

	case domain.ActionDecline:
		to.add(next.ResponsibleID)
		add(domain.NotifyRemediationDeclined, seq, to, info)
		esc := e.settings.Escalation()
		if esc.JustEscalated(cur.History, next.History) {
			if n, ok := e.escalationNotification(ctx, next); ok {
				out = append(out, n)
			}
		}

	case domain.ActionVerifyApprove:
		to.add(next.ReporterID, next.ResponsibleID)
		add(domain.NotifyRecordClosed, seq, to, info)

	case domain.ActionVerifyReject:
		to.addActors(e.withRole(ctx, domain.RoleAdmin))
		add(domain.NotifyRecordRejected, seq, to, info)

	case domain.ActionAdminOverride:
		to.add(next.ReporterID, next.ResponsibleID)
		add(domain.NotifyAdminOverride, seq, to, info)
	}
	return out
}

// escalationNotification builds the one record_escalated notice of rec.
// Its id is pinned to the decline that crossed the threshold, so it is the
// same however often it is rebuilt.
func (e *Engine) escalationNotification(ctx context.Context, rec *domain.Record) (domain.Notification, bool) {
	st := e.settings.Escalation().EvaluateRecord(rec)
	if !st.Escalated {
		return domain.Notification{}, false
	}
	to := recipients{}
	to.addActors(e.withRole(ctx, domain.RoleAdmin))
	return e.newNotification(domain.NotifyRecordEscalated, rec, strconv.FormatInt(st.CrossedAt, 10), to, map[string]string{
		"decline_count": strconv.Itoa(st.DeclineCount),
		"threshold":     strconv.Itoa(e.settings.DeclineThreshold),
	})
}

// enqueue writes notifications to the outbox and returns those that were
// new. Notifications already present are not delivered again.
func (e *Engine) enqueue(ctx context.Context, notes []domain.Notification) []domain.Notification {
	var fresh []domain.Notification
	for _, n := range notes {
		inserted, err := e.outbox.Enqueue(ctx, n)
		if err != nil {
			e.logger.WarnContext(ctx, "notification enqueue failed",
				"notification_id", n.ID,
				"type", string(n.Type),
				"record_id", n.RecordID,
				"error", err,
			)
			continue
		}
		if inserted {
			fresh = append(fresh, n)
		}
	}
	return fresh
}

// dispatch delivers notes in the background without holding up the caller.
// At most sweepConcurrency deliveries run at once across the engine.
func (e *Engine) dispatch(ctx context.Context, notes []domain.Notification) {
	if len(notes) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	e.inflight.Add(len(notes))
	for _, n := range notes {
		go func() {
			defer e.inflight.Done()
			e.slots <- struct{}{}
			defer func() { <-e.slots }()
			_ = e.deliver(bg, n)
		}()
	}
}

// deliver sends n once, bounded by the notify timeout, and records the
// outcome in the outbox. A failure is logged and returned as a
// NOTIFICATION_FAILURE; it is never retried inline.
func (e *Engine) deliver(ctx context.Context, n domain.Notification) error {
	bg := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(bg, e.notifyTimeout)
	err := e.notifier.Notify(dctx, n)
	cancel()

	e.metrics.notified(ctx, n.Type, err)
	if err != nil {
		if markErr := e.outbox.MarkFailed(bg, n.ID, err, e.now()); markErr != nil {
			e.logger.WarnContext(ctx, "outbox update failed", "notification_id", n.ID, "error", markErr)
		}
		e.logger.WarnContext(ctx, "notification delivery failed; will retry on next sweep",
			"notification_id", n.ID,
			"type", string(n.Type),
			"record_id", n.RecordID,
			"error", err,
		)
		return newError(CodeNotification, "Could not deliver %s notification", n.Type).wrap(err)
	}
	if markErr := e.outbox.MarkSent(bg, n.ID, e.now()); markErr != nil {
		e.logger.WarnContext(ctx, "outbox update failed", "notification_id", n.ID, "error", markErr)
	}
	return nil
}
