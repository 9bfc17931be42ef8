package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/engine"
	"github.com/roach88/ncflow/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			switch ev.Kind {
			case KindStep:
				fmt.Fprintf(&buf, "  [%d] %s %s %s %s -> %s\n", ev.Seq, ev.Op, ev.Actor, ev.Record, ev.Action, ev.Outcome)
			case KindNotify:
				fmt.Fprintf(&buf, "  [%d] notify %s %s %v\n", ev.Seq, ev.Notification, ev.Record, ev.Recipients)
			}
		}
	}
	return buf.String()
}

// evaluate runs every assertion and returns the failures.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion, trace []TraceEvent) []error {
	var errs []error
	for _, a := range assertions {
		if err := h.evaluateOne(ctx, a, trace); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (h *Harness) evaluateOne(ctx context.Context, a Assertion, trace []TraceEvent) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: trace}
	}

	switch a.Type {
	case AssertRecordState:
		rec, err := h.store.GetRecord(ctx, h.recordID(a.Record))
		if err != nil {
			return fail(fmt.Sprintf("record %s in %s", a.Record, a.State), err.Error())
		}
		if got := rec.State().String(); got != a.State {
			return fail(fmt.Sprintf("record %s in %s", a.Record, a.State), got)
		}

	case AssertEscalation:
		rec, err := h.store.GetRecord(ctx, h.recordID(a.Record))
		if err != nil {
			return fail("escalation state of "+a.Record, err.Error())
		}
		st := h.engine.Settings().Escalation().EvaluateRecord(rec)
		if a.DeclineCount != nil && st.DeclineCount != *a.DeclineCount {
			return fail(fmt.Sprintf("decline count %d", *a.DeclineCount), fmt.Sprintf("%d", st.DeclineCount))
		}
		if a.Escalated != nil && st.Escalated != *a.Escalated {
			return fail(fmt.Sprintf("escalated=%t", *a.Escalated), fmt.Sprintf("escalated=%t", st.Escalated))
		}

	case AssertReplay:
		rec, err := h.store.GetRecord(ctx, h.recordID(a.Record))
		if err != nil {
			return fail("history of "+a.Record+" replays cleanly", err.Error())
		}
		report := engine.Replay(rec, h.engine.Settings())
		if !report.OK {
			return fail("history of "+a.Record+" replays cleanly", strings.Join(report.Problems, "; "))
		}

	case AssertNotificationCount:
		entries, err := h.outbox(ctx, a)
		if err != nil {
			return fail(fmt.Sprintf("%d %s notifications", *a.Count, a.Notification), err.Error())
		}
		if len(entries) != *a.Count {
			return fail(fmt.Sprintf("%d %s notifications", *a.Count, a.Notification), fmt.Sprintf("%d", len(entries)))
		}

	case AssertNotified:
		want := sortedCopy(a.Recipients)
		expected := fmt.Sprintf("%s to %v", a.Notification, want)
		entries, err := h.outbox(ctx, a)
		if err != nil {
			return fail(expected, err.Error())
		}
		var seen []string
		for _, e := range entries {
			got := sortedCopy(e.Notification.Recipients)
			if strings.Join(got, ",") == strings.Join(want, ",") {
				return nil
			}
			seen = append(seen, fmt.Sprintf("%v", got))
		}
		if len(seen) == 0 {
			return fail(expected, "no such notification")
		}
		return fail(expected, strings.Join(seen, " "))

	case AssertLocked:
		locked, err := h.engine.IsLocked(ctx, a.User)
		if err != nil {
			return fail(fmt.Sprintf("%s locked=%t", a.User, *a.Locked), fmt.Sprintf("%s: %s", engine.CodeOf(err), engine.Message(err)))
		}
		if locked != *a.Locked {
			return fail(fmt.Sprintf("%s locked=%t", a.User, *a.Locked), fmt.Sprintf("locked=%t", locked))
		}

	default:
		return fail("known assertion type", a.Type)
	}
	return nil
}

func (h *Harness) outbox(ctx context.Context, a Assertion) ([]store.OutboxEntry, error) {
	f := store.OutboxFilter{Type: domain.NotificationType(a.Notification)}
	if a.Record != "" {
		f.RecordID = h.recordID(a.Record)
	}
	return h.store.Notifications(ctx, f)
}

func sortedCopy(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}
