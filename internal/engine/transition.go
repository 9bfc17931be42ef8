package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/policy"
)

// Transition applies action to record recordID on behalf of rc.ActorID.
//
// On success the committed record is returned. On failure the stored record
// is unchanged and err is an *Error whose Message is fit for display.
// Audit and notification failures after the commit are logged, never
// returned.
func (e *Engine) Transition(ctx context.Context, rc RequestContext, recordID string, action domain.Action, p Payload) (rec *domain.Record, err error) {
	ctx, span, start := e.metrics.start(ctx, "transition",
		attribute.String("ncflow.record.id", recordID),
		attribute.String("ncflow.action", string(action)),
	)
	defer func() { e.metrics.done(ctx, span, start, action, err) }()

	rec, err = e.transition(ctx, rc, recordID, action, p)
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) && ee.RecordID == "" {
			ee.on(recordID, action)
		}
		e.logger.DebugContext(ctx, "transition rejected",
			"record_id", recordID,
			"action", string(action),
			"actor_id", rc.ActorID,
			"code", string(CodeOf(err)),
			"reason", Message(err),
		)
		return nil, err
	}
	return rec, nil
}

func (e *Engine) transition(ctx context.Context, rc RequestContext, recordID string, action domain.Action, p Payload) (*domain.Record, error) {
	actor, err := e.resolveActor(ctx, rc.ActorID)
	if err != nil {
		return nil, err
	}
	if !action.Valid() {
		return nil, newError(CodeValidation, "Unknown action %q", action)
	}
	cur, err := e.loadRecord(ctx, rc, recordID)
	if err != nil {
		return nil, err
	}
	if p.ExpectedVersion != 0 && p.ExpectedVersion != cur.Version {
		return nil, newError(CodeConflict,
			"Record %s was changed by someone else (version %d, expected %d); reload and try again",
			recordID, cur.Version, p.ExpectedVersion)
	}

	if cur.Status.Terminal() {
		if !actor.IsAdmin() {
			return nil, newError(CodeAuthorization, "Record is %s; only an administrator can change it", cur.Status)
		}
		if action != domain.ActionAdminOverride {
			return nil, newError(CodeValidation, "Record is %s; use admin_override to change it", cur.Status)
		}
	}

	now := e.now()
	var next *domain.Record
	if action == domain.ActionAdminOverride {
		next, err = e.applyOverride(ctx, actor, cur, p, now)
	} else {
		next, err = e.applyRule(ctx, actor, cur, action, p, now)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.CompareAndSwap(ctx, cur.Version, next); err != nil {
		return nil, storeError(err, recordID)
	}

	newEvents := next.History[len(cur.History):]
	e.logger.InfoContext(ctx, "transition applied",
		"record_id", next.ID,
		"action", string(action),
		"actor_id", actor.ID,
		"from", cur.State().String(),
		"to", next.State().String(),
		"version", next.Version,
		"request_id", rc.RequestID,
	)

	e.afterCommit(ctx, next, newEvents, e.transitionNotifications(ctx, cur, next, action))
	return next.Clone(), nil
}

// applyRule checks the transition table, the capability, the payload and
// the field matrix, then returns the mutated copy of cur.
func (e *Engine) applyRule(ctx context.Context, actor domain.Actor, cur *domain.Record, action domain.Action, p Payload, now time.Time) (*domain.Record, error) {
	rule, ok := LookupRule(cur.State(), action)
	if !ok {
		return nil, newError(CodeValidation, "Cannot %s a record in %s", action, cur.State())
	}
	if !rule.Requires.Allows(actor, cur) {
		return nil, newError(CodeAuthorization, "%s", rule.Requires.Denial)
	}
	if err := validatePayload(action, cur, p); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		fp := policy.EditableFields(actor, cur)
		for _, f := range p.touchedFields() {
			if !fp.Editable(f) {
				return nil, newError(CodeAuthorization, "%s", fp.Reason(f))
			}
		}
	}

	next := cur.Clone()
	switch action {
	case domain.ActionClassify:
		if err := e.applyClassification(ctx, next, p); err != nil {
			return nil, err
		}
	case domain.ActionSubmitRemediation:
		e.applySubmission(next, actor, p, now)
	case domain.ActionApprove, domain.ActionDecline:
		if p.ManagerComment != "" {
			next.ManagerComment = p.ManagerComment
		}
	case domain.ActionVerifyApprove, domain.ActionVerifyReject:
		if p.VerifierComment != "" {
			next.VerifierComment = p.VerifierComment
		}
	}
	if rule.To.Status == domain.StatusClosed {
		t := now
		next.ClosedAt = &t
	}
	appendEvent(next, rule.Event, actor.ID, p.Comment, rule.To, now)
	return next, nil
}

func validatePayload(action domain.Action, cur *domain.Record, p Payload) error {
	switch action {
	case domain.ActionClassify:
		if p.Severity != "" && !p.Severity.Valid() {
			return newError(CodeValidation, "Severity must be one of critical, major, minor; got %q", p.Severity)
		}
		if p.ResponsibleID == "" && cur.ResponsibleID == "" {
			return newError(CodeValidation, "A responsible person must be assigned during classification")
		}
	case domain.ActionSubmitRemediation:
		var missing []string
		if strings.TrimSpace(p.RootCause) == "" {
			missing = append(missing, "root cause")
		}
		if strings.TrimSpace(p.CorrectiveAction) == "" {
			missing = append(missing, "corrective action")
		}
		if strings.TrimSpace(p.PreventiveAction) == "" {
			missing = append(missing, "preventive action")
		}
		if p.TargetCompletionDate == nil {
			missing = append(missing, "target completion date")
		}
		if len(missing) > 0 {
			return newError(CodeValidation, "Remediation is missing: %s", strings.Join(missing, ", "))
		}
	case domain.ActionDecline, domain.ActionVerifyReject:
		if strings.TrimSpace(p.Comment) == "" {
			return newError(CodeValidation, "A comment is required to %s", strings.ReplaceAll(string(action), "_", " "))
		}
	}
	return nil
}

// applyClassification sets severity, assignment and the due date.
func (e *Engine) applyClassification(ctx context.Context, next *domain.Record, p Payload) error {
	if p.Severity != "" {
		next.Severity = p.Severity
	}
	if p.ResponsibleID != "" {
		if err := e.checkAssignee(ctx, p.ResponsibleID); err != nil {
			return err
		}
		next.ResponsibleID = p.ResponsibleID
	}
	if p.QAComment != "" {
		next.QAComment = p.QAComment
	}
	if p.DueDate != nil {
		next.DueDate = policy.StartOfDay(p.DueDate.UTC())
		return nil
	}
	due, err := e.settings.DueDate(next.Severity, next.CreatedAt)
	if err != nil {
		return newError(CodeValidation, "%v", err).wrap(err)
	}
	next.DueDate = due
	return nil
}

func (e *Engine) checkAssignee(ctx context.Context, userID string) error {
	_, err := e.directory.Resolve(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return newError(CodeValidation, "Responsible person %s was not found", userID).wrap(err)
	}
	if err != nil {
		return newError(CodePersistence, "Could not resolve user %s", userID).wrap(err)
	}
	return nil
}

// applySubmission supersedes the active submission and stores a new round.
func (e *Engine) applySubmission(next *domain.Record, actor domain.Actor, p Payload, now time.Time) {
	if active := next.ActiveSubmission(); active != nil {
		t := now
		active.SupersededAt = &t
	}
	next.Submissions = append(next.Submissions, domain.Submission{
		ID:                   e.ids.Generate(),
		RecordID:             next.ID,
		Round:                len(next.Submissions) + 1,
		ImmediateAction:      p.ImmediateAction,
		RootCause:            p.RootCause,
		CorrectiveAction:     p.CorrectiveAction,
		PreventiveAction:     p.PreventiveAction,
		TargetCompletionDate: policy.StartOfDay(p.TargetCompletionDate.UTC()),
		SubmitterID:          actor.ID,
		SubmittedAt:          now,
	})
	if p.ImmediateAction != "" {
		next.ImmediateAction = p.ImmediateAction
	}
}

// applyOverride moves cur to any valid state requested by an admin. The
// field matrix does not apply.
func (e *Engine) applyOverride(ctx context.Context, actor domain.Actor, cur *domain.Record, p Payload, now time.Time) (*domain.Record, error) {
	if !policy.AdminCapability.Allows(actor, cur) {
		return nil, newError(CodeAuthorization, "%s", policy.AdminCapability.Denial)
	}
	if strings.TrimSpace(p.Comment) == "" {
		return nil, newError(CodeValidation, "A comment is required for an admin override")
	}
	if p.Target == nil {
		return nil, newError(CodeValidation, "An admin override needs a target state")
	}
	target := *p.Target
	if !domain.ValidState(target.Status, target.Step) {
		return nil, newError(CodeValidation, "%s is not a workflow state", target)
	}
	if target == cur.State() {
		return nil, newError(CodeValidation, "Record is already in %s", target)
	}
	if p.Severity != "" && !p.Severity.Valid() {
		return nil, newError(CodeValidation, "Severity must be one of critical, major, minor; got %q", p.Severity)
	}

	next := cur.Clone()
	if p.Title != "" {
		next.Title = p.Title
	}
	if p.Description != "" {
		next.Description = p.Description
	}
	if p.DepartmentID != "" {
		next.DepartmentID = p.DepartmentID
	}
	if p.ResponsibleID != "" {
		if err := e.checkAssignee(ctx, p.ResponsibleID); err != nil {
			return nil, err
		}
		next.ResponsibleID = p.ResponsibleID
	}
	if p.QAComment != "" {
		next.QAComment = p.QAComment
	}
	if p.ImmediateAction != "" {
		next.ImmediateAction = p.ImmediateAction
	}
	if p.ManagerComment != "" {
		next.ManagerComment = p.ManagerComment
	}
	if p.VerifierComment != "" {
		next.VerifierComment = p.VerifierComment
	}
	switch {
	case p.DueDate != nil:
		next.DueDate = policy.StartOfDay(p.DueDate.UTC())
		if p.Severity != "" {
			next.Severity = p.Severity
		}
	case p.Severity != "" && p.Severity != cur.Severity:
		next.Severity = p.Severity
		due, err := e.settings.DueDate(next.Severity, next.CreatedAt)
		if err != nil {
			return nil, newError(CodeValidation, "%v", err).wrap(err)
		}
		next.DueDate = due
	}

	switch {
	case target.Status == domain.StatusClosed:
		t := now
		next.ClosedAt = &t
	case cur.Status == domain.StatusClosed:
		next.ClosedAt = nil
	}
	appendEvent(next, domain.EventAdminOverride, actor.ID, p.Comment, target, now)
	return next, nil
}

// appendEvent records the move to `to` and updates the record's state.
func appendEvent(rec *domain.Record, action domain.EventAction, actorID, comment string, to domain.State, now time.Time) {
	rec.History = append(rec.History, domain.Event{
		Seq:       rec.NextSeq(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: now,
		Comment:   comment,
		From:      rec.State(),
		To:        to,
	})
	rec.Status = to.Status
	rec.Step = to.Step
	rec.UpdatedAt = now
}
