package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/ncflow/internal/compiler"
	"github.com/roach88/ncflow/internal/domain"
	"github.com/roach88/ncflow/internal/engine"
	"github.com/roach88/ncflow/internal/policy"
	"github.com/roach88/ncflow/internal/store"
	"github.com/roach88/ncflow/internal/testutil"
)

// Harness drives one scenario against a real engine.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	notifier *testutil.RecordingNotifier
	tenant   string

	records map[string]string // alias -> id
	aliases map[string]string // id -> alias
	traced  int               // delivered notifications already in the trace
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database and seed the actor directory
// 2. Compile the scenario policy
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the final state
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(ctx, st, scenario)
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.engine.Drain(context.WithoutCancel(ctx)) }()

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
		if err := h.engine.Drain(ctx); err != nil {
			return nil, fmt.Errorf("flow[%d]: waiting for deliveries: %w", i, err)
		}
		h.traceNotifications(result)
	}

	for alias, id := range h.records {
		result.Records[alias] = id
	}
	for _, err := range h.evaluate(ctx, scenario.Assertions, result.Trace) {
		result.AddError(err.Error())
	}
	return result, nil
}

func newHarness(ctx context.Context, st *store.Store, scenario *Scenario) (*Harness, error) {
	settings := policy.DefaultSettings()
	if strings.TrimSpace(scenario.Policy) != "" {
		s, err := compiler.CompileSource(scenario.Name+".cue", []byte(scenario.Policy))
		if err != nil {
			return nil, fmt.Errorf("failed to compile policy: %w", err)
		}
		settings = s
	}

	start := DefaultStart
	if scenario.Start != "" {
		start = scenario.Start
	}
	at, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}

	for _, def := range scenario.Actors {
		roles, err := domain.ParseRoles(strings.Join(def.Roles, ","))
		if err != nil {
			return nil, fmt.Errorf("actor %s: %w", def.ID, err)
		}
		a := domain.Actor{ID: def.ID, Name: def.Name, Roles: roles, DepartmentID: def.Department}
		if err := st.PutActor(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to seed actor %s: %w", def.ID, err)
		}
	}

	h := &Harness{
		store:    st,
		clock:    testutil.NewDeterministicClock(at),
		notifier: &testutil.RecordingNotifier{},
		tenant:   scenario.Tenant,
		records:  make(map[string]string),
		aliases:  make(map[string]string),
	}
	h.engine, err = engine.New(engine.Config{
		Store:     st,
		Directory: st,
		Recorder:  st,
		Notifier:  h.notifier,
		Settings:  settings,
	},
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialGenerator("nc")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in tests
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}
	return h, nil
}

func (h *Harness) rc(actorID string) engine.RequestContext {
	return engine.RequestContext{ActorID: actorID, Tenant: h.tenant}
}

// recordID resolves an alias. Unknown aliases pass through so the engine
// reports them as missing records.
func (h *Harness) recordID(alias string) string {
	if id, ok := h.records[alias]; ok {
		return id
	}
	return alias
}

func (h *Harness) alias(id string) string {
	if a, ok := h.aliases[id]; ok {
		return a
	}
	return id
}

// executeStep runs one flow step, records it in the trace and checks its
// expectation. Only harness failures are returned; engine errors are
// outcomes.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	ev := TraceEvent{
		Kind:   KindStep,
		Op:     step.Op,
		Actor:  step.As,
		Record: step.Record,
		Action: step.Action,
	}

	var (
		rec    *domain.Record
		sweep  *engine.SweepResult
		runErr error
	)
	switch step.Op {
	case OpCreate:
		rec, runErr = h.engine.Create(ctx, h.rc(step.As), engine.NewRecord{
			Title:        step.Args.Title,
			Description:  step.Args.Description,
			DepartmentID: step.Args.Department,
			Severity:     domain.Severity(step.Args.Severity),
		})
		if runErr == nil {
			h.records[step.Record] = rec.ID
			h.aliases[rec.ID] = step.Record
		}

	case OpTransition:
		p, err := step.Args.payload()
		if err != nil {
			return err
		}
		rec, runErr = h.engine.Transition(ctx, h.rc(step.As), h.recordID(step.Record), domain.Action(step.Action), p)

	case OpAdvance:
		now := h.clock.AdvanceDays(step.Days)
		ev.Detail = map[string]any{"now": now.Format(time.DateOnly)}

	case OpSweep:
		res, err := h.engine.RunScheduledSweep(ctx)
		runErr = err
		sweep = &res
		if counters := nonZero(sweepCounters(res)); len(counters) > 0 {
			ev.Detail = counters
		}

	case OpGate:
		ev.Action = step.Operation
		runErr = h.engine.Gate(ctx, step.As, step.Operation)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	ev.Outcome = "ok"
	if runErr != nil {
		ev.Outcome = string(engine.CodeOf(runErr))
		if ev.Outcome == "" {
			ev.Outcome = "error"
		}
	}
	if rec != nil {
		ev.State = rec.State().String()
		ev.Detail = map[string]any{"due_date": rec.DueDate.Format(time.DateOnly)}
	}
	result.addEvent(ev)

	for _, msg := range checkExpect(step.Expect, rec, sweep, runErr) {
		result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Op, msg))
	}
	return nil
}

// checkExpect compares a step outcome with its expectation. A step
// without an expectation must succeed.
func checkExpect(want *Expect, rec *domain.Record, sweep *engine.SweepResult, err error) []string {
	if want == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	if want.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected %s error, got success", want.Error)}
		}
		var msgs []string
		if got := string(engine.CodeOf(err)); got != want.Error {
			msgs = append(msgs, fmt.Sprintf("expected %s error, got %q (%v)", want.Error, got, err))
		}
		if want.Message != "" && engine.Message(err) != want.Message {
			msgs = append(msgs, fmt.Sprintf("expected message %q, got %q", want.Message, engine.Message(err)))
		}
		return msgs
	}

	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}
	var msgs []string
	if want.State != "" {
		if rec == nil {
			msgs = append(msgs, "state expected but step produced no record")
		} else if got := rec.State().String(); got != want.State {
			msgs = append(msgs, fmt.Sprintf("expected state %s, got %s", want.State, got))
		}
	}
	if want.DueDate != "" && rec != nil {
		if got := rec.DueDate.Format(time.DateOnly); got != want.DueDate {
			msgs = append(msgs, fmt.Sprintf("expected due date %s, got %s", want.DueDate, got))
		}
	}
	if len(want.Sweep) > 0 {
		if sweep == nil {
			msgs = append(msgs, "sweep counters expected on a non-sweep step")
		} else {
			got := sweepCounters(*sweep)
			keys := make([]string, 0, len(want.Sweep))
			for k := range want.Sweep {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				v, ok := got[k]
				if !ok {
					msgs = append(msgs, fmt.Sprintf("unknown sweep counter %q", k))
					continue
				}
				if v != want.Sweep[k] {
					msgs = append(msgs, fmt.Sprintf("expected %s=%d, got %d", k, want.Sweep[k], v))
				}
			}
		}
	}
	return msgs
}

// traceNotifications appends notifications delivered since the last call,
// sorted so concurrent deliveries trace deterministically.
func (h *Harness) traceNotifications(result *Result) {
	sent := h.notifier.Sent()
	fresh := sent[h.traced:]
	h.traced = len(sent)

	events := make([]TraceEvent, 0, len(fresh))
	for _, n := range fresh {
		events = append(events, TraceEvent{
			Kind:         KindNotify,
			Notification: string(n.Type),
			Record:       h.alias(n.RecordID),
			Recipients:   append([]string(nil), n.Recipients...),
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Notification != b.Notification {
			return a.Notification < b.Notification
		}
		if a.Record != b.Record {
			return a.Record < b.Record
		}
		return strings.Join(a.Recipients, ",") < strings.Join(b.Recipients, ",")
	})
	for _, ev := range events {
		result.addEvent(ev)
	}
}

// payload converts step args into an engine payload.
func (a Args) payload() (engine.Payload, error) {
	p := engine.Payload{
		ExpectedVersion:  a.ExpectedVersion,
		Comment:          a.Comment,
		Severity:         domain.Severity(a.Severity),
		ResponsibleID:    a.ResponsibleID,
		QAComment:        a.QAComment,
		ImmediateAction:  a.ImmediateAction,
		RootCause:        a.RootCause,
		CorrectiveAction: a.CorrectiveAction,
		PreventiveAction: a.PreventiveAction,
		ManagerComment:   a.ManagerComment,
		VerifierComment:  a.VerifierComment,
		Title:            a.Title,
		Description:      a.Description,
		DepartmentID:     a.Department,
	}
	var err error
	if p.DueDate, err = parseDate(a.DueDate); err != nil {
		return p, fmt.Errorf("args.due_date: %w", err)
	}
	if p.TargetCompletionDate, err = parseDate(a.TargetCompletionDate); err != nil {
		return p, fmt.Errorf("args.target_completion_date: %w", err)
	}
	if a.Target != "" {
		target, err := domain.ParseState(a.Target)
		if err != nil {
			return p, fmt.Errorf("args.target: %w", err)
		}
		p.Target = &target
	}
	return p, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// sweepCounters flattens a sweep result under its JSON field names.
func sweepCounters(r engine.SweepResult) map[string]int {
	return map[string]int{
		"reminders_sent":        r.RemindersSent,
		"escalations_triggered": r.EscalationsTriggered,
		"lockouts_triggered":    r.LockoutsTriggered,
		"notifications_retried": r.NotificationsRetried,
		"activity_repaired":     r.ActivityRepaired,
		"delivery_failures":     r.DeliveryFailures,
	}
}

func nonZero(counters map[string]int) map[string]any {
	out := make(map[string]any)
	for k, v := range counters {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}
