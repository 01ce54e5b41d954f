// Package engine interprets change recipes step by step, probing live data
// through a read-only probe and accumulating DML statements. The engine
// never executes the DML it generates.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quayside/workorder/pkg/predicate"
	"github.com/quayside/workorder/pkg/recipe"
	"github.com/quayside/workorder/pkg/render"
	"github.com/quayside/workorder/pkg/trace"
)

// QueryResult is one probe result set.
type QueryResult struct {
	Columns  []string
	Rows     [][]any
	RowCount int
}

// Probe executes read-only SELECT statements against the target system.
type Probe interface {
	Query(ctx context.Context, sqlText string) (*QueryResult, error)
}

// Clock abstracts time so tests can pin trace timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

const (
	// DefaultIterationLimit caps visited steps per run. Recipes are small
	// hand-written documents; a run that executes this many steps is
	// looping.
	DefaultIterationLimit = 100
	// DefaultProbeTimeout bounds each individual probe query.
	DefaultProbeTimeout = 10 * time.Second
)

// Engine runs recipes. Stateless across runs and safe for concurrent use;
// all per-run state lives in the run struct.
type Engine struct {
	probe        Probe
	clock        Clock
	limit        int
	probeTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock substitutes the time source.
func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

// WithIterationLimit overrides the per-run step budget.
func WithIterationLimit(n int) Option { return func(e *Engine) { e.limit = n } }

// WithProbeTimeout overrides the per-query probe timeout.
func WithProbeTimeout(d time.Duration) Option { return func(e *Engine) { e.probeTimeout = d } }

// New creates an engine over a probe.
func New(probe Probe, opts ...Option) *Engine {
	e := &Engine{
		probe:        probe,
		clock:        systemClock{},
		limit:        DefaultIterationLimit,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// run is the per-run state: the variable scope, the DML accumulator, and
// the step trace.
type run struct {
	e     *Engine
	rc    *recipe.Recipe
	vars  *Context
	tw    *trace.Writer
	dml   []DMLRecord
	steps []TraceEntry
}

// Run interprets a recipe against a seeded context. The trace writer may be
// nil; trace write failures never fail the run.
func (e *Engine) Run(ctx context.Context, rc *recipe.Recipe, seed *Context, tw *trace.Writer) *RunResult {
	if seed == nil {
		seed = NewContext()
	}
	r := &run{e: e, rc: rc, vars: seed, tw: tw}
	start := e.clock.Now()
	if tw != nil {
		seedMap := make(map[string]any, seed.Len())
		for _, b := range seed.Snapshot() {
			seedMap[b.Name] = b.Value
		}
		tw.EmitRunStart(rc.WorkOrderType, seedMap)
	}

	res := r.execute(ctx)
	res.Context = r.vars.Snapshot()
	res.Trace = r.steps

	if tw != nil {
		tw.EmitRunComplete(string(res.Status), len(res.DML), e.clock.Now().Sub(start))
	}
	return res
}

// stepOutcome is what executing one step decides: a terminal result, the
// end of the recipe, or the next step number.
type stepOutcome struct {
	result   *RunResult
	end      bool
	next     int
	decision string
}

func (r *run) execute(ctx context.Context) *RunResult {
	cur := r.rc.EntryStep()
	for iter := 0; ; iter++ {
		if iter >= r.e.limit {
			return r.engineErr(ErrIterationLimit, cur, fmt.Sprintf("step budget of %d exhausted", r.e.limit))
		}
		step := r.rc.StepByNumber(cur)
		if step == nil {
			return r.engineErr(ErrBadJump, cur, fmt.Sprintf("jump to undefined step %d", cur))
		}
		if r.tw != nil {
			r.tw.EmitStepStart(step.Step, string(step.Operation))
		}

		var out stepOutcome
		switch step.Operation {
		case recipe.KindQuery:
			out = r.execQuery(ctx, step)
		case recipe.KindGenerateDML:
			out = r.execGenerateDML(step)
		case recipe.KindReturnSuccess:
			res := r.finish(step.Step)
			if res.Status == StatusCompleted && step.Message != "" {
				res.Message = render.RenderLenient(step.Message, r.lookup)
			}
			out = stepOutcome{result: res, decision: string(res.Status)}
		case recipe.KindReturnError:
			msg := render.RenderLenient(step.Message, r.lookup)
			out = stepOutcome{
				result:   &RunResult{Status: StatusUserError, Message: msg},
				decision: string(StatusUserError),
			}
		default:
			out = r.fail(ErrBadJump, step.Step, fmt.Sprintf("unknown operation %q", step.Operation))
		}

		r.steps = append(r.steps, TraceEntry{Step: step.Step, Operation: step.Operation, Decision: out.decision})
		if r.tw != nil {
			r.tw.EmitStepComplete(step.Step, string(step.Operation), out.decision)
		}

		switch {
		case out.result != nil:
			return out.result
		case out.end:
			return r.finish(step.Step)
		default:
			cur = out.next
		}
	}
}

// finish closes a run that reached the end of its recipe.
func (r *run) finish(step int) *RunResult {
	if len(r.dml) == 0 {
		return r.engineErr(ErrNoDML, step, "recipe terminated without generating any DML")
	}
	return &RunResult{
		Status:         StatusCompleted,
		DML:            r.dml,
		AffectedTables: AffectedTables(r.dml),
		Risk:           ClassifyRisk(r.dml),
	}
}

func (r *run) execQuery(ctx context.Context, step *recipe.Step) stepOutcome {
	// Catalog validation already vets identifiers, but a recipe handed to
	// Run directly never went through it. Re-check before interpolating.
	if !render.ValidIdentifier(step.Table) {
		return r.fail(ErrRender, step.Step, fmt.Sprintf("invalid table identifier %q", step.Table))
	}
	for _, f := range step.OutputFields {
		if !render.ValidIdentifier(f) {
			return r.fail(ErrRender, step.Step, fmt.Sprintf("invalid column identifier %q", f))
		}
	}
	where, err := render.Render(step.Where, r.lookup, render.SQLLiteral)
	if err != nil {
		return r.fail(ErrRender, step.Step, fmt.Sprintf("render where clause: %v", err))
	}
	sqlText := "SELECT " + strings.Join(step.OutputFields, ", ") +
		" FROM " + step.Table + " WHERE " + where

	// Cancellation is observed only at probe boundaries; a run with no
	// remaining probes finishes normally.
	if ctx.Err() != nil {
		return r.fail(ErrCancelled, step.Step, "run cancelled")
	}
	qctx, cancel := context.WithTimeout(ctx, r.e.probeTimeout)
	res, qerr := r.e.probe.Query(qctx, sqlText)
	cancel()
	if ctx.Err() != nil {
		return r.fail(ErrCancelled, step.Step, "run cancelled")
	}

	// Emptiness is keyed off the rows actually present, never the probe's
	// self-reported row_count: the two arrive as independent fields and a
	// mismatched payload must not crash the run.
	if qerr != nil || res == nil || len(res.Rows) == 0 {
		if step.OnFailure != nil {
			return r.takeBranch(step, step.OnFailure, "on_failure")
		}
		if qerr != nil {
			return r.fail(ErrQueryFailed, step.Step, fmt.Sprintf("probe query failed: %v", qerr))
		}
		return r.fail(ErrQueryFailed, step.Step, "query returned no rows and the step has no on_failure branch")
	}

	if len(res.Rows) > 1 {
		if r.tw != nil {
			r.tw.EmitQueryWarning(step.Step, fmt.Sprintf("query returned %d rows; using the first", len(res.Rows)))
		}
	}
	row := res.Rows[0]
	cols := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		cols[c] = i
	}
	for _, f := range step.OutputFields {
		var v any
		if i, ok := cols[f]; ok && i < len(row) {
			v = normalize(row[i])
		}
		r.vars.Set(f, v)
	}

	if step.OnSuccess != nil {
		return r.takeBranch(step, step.OnSuccess, "on_success")
	}
	return r.fallThrough(step)
}

func (r *run) execGenerateDML(step *recipe.Step) stepOutcome {
	rec, err := buildDML(step, r.lookup)
	if err != nil {
		return r.fail(ErrRender, step.Step, fmt.Sprintf("render %s statement: %v", step.Type, err))
	}
	r.dml = append(r.dml, rec)
	if r.tw != nil {
		r.tw.EmitDMLGenerated(step.Step, string(rec.Kind), rec.Table)
	}
	return r.resolveRef(step, step.NextStep, "dml "+string(rec.Kind))
}

// takeBranch follows an on_success/on_failure branch, evaluating its
// condition when present.
func (r *run) takeBranch(step *recipe.Step, b *recipe.Branch, label string) stepOutcome {
	target := b.NextStep
	if b.Condition != "" {
		ok, err := predicate.Eval(b.Condition, predicate.Lookup(r.lookup))
		if err != nil {
			return r.fail(ErrEval, step.Step, fmt.Sprintf("evaluate %s condition: %v", label, err))
		}
		if ok {
			label += " true"
		} else {
			label += " false"
			target = b.ElseStep
		}
	}
	return r.resolveRef(step, target, label)
}

// resolveRef maps a step reference to a transition: absent falls through,
// explicit null ends the run, a number jumps.
func (r *run) resolveRef(step *recipe.Step, ref recipe.StepRef, label string) stepOutcome {
	switch {
	case !ref.Present:
		return r.fallThrough(step)
	case ref.Null:
		return stepOutcome{end: true, decision: label + " -> end"}
	default:
		return stepOutcome{next: ref.Step, decision: fmt.Sprintf("%s -> %d", label, ref.Step)}
	}
}

// fallThrough transitions to step+1 if such a step exists, otherwise ends
// the run.
func (r *run) fallThrough(step *recipe.Step) stepOutcome {
	n := step.Step + 1
	if r.rc.StepByNumber(n) != nil {
		return stepOutcome{next: n, decision: fmt.Sprintf("-> %d", n)}
	}
	return stepOutcome{end: true, decision: "-> end"}
}

func (r *run) fail(kind ErrorKind, step int, detail string) stepOutcome {
	return stepOutcome{result: r.engineErr(kind, step, detail), decision: string(kind)}
}

// engineErr builds an engine-error result. Partially accumulated DML is
// deliberately dropped: a half-assembled change set must never reach an
// operator.
func (r *run) engineErr(kind ErrorKind, step int, detail string) *RunResult {
	return &RunResult{Status: StatusEngineError, Kind: kind, Step: step, Message: detail}
}

func (r *run) lookup(name string) (any, bool) { return r.vars.Get(name) }

// normalize converts driver-level representations into the context's value
// vocabulary.
func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return v
	}
}
