// Package migration drives a sorted item sequence through the lifecycle
// phases, executing the script chain of every item and recording the
// versions reached.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/schemachain/executor"
	"github.com/GoCodeAlone/schemachain/graph"
	"github.com/GoCodeAlone/schemachain/resolver"
	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/session"
	"github.com/GoCodeAlone/schemachain/version"
	"github.com/GoCodeAlone/schemachain/versioning"
)

// DefaultLockKey is the run lock key used when none is configured.
const DefaultLockKey = "schemachain"

// ItemOutcome describes the work done for one item in one phase.
type ItemOutcome struct {
	Phase    scripts.Phase
	Item     string
	From     *version.Version
	Final    version.Version
	Executed []string
	Skipped  []string
}

// Gap is an item left below its target because no script applies.
type Gap struct {
	Phase  scripts.Phase
	Item   string
	From   *version.Version
	Target version.Version
}

// RunResult summarizes a run. It is returned alongside an ExecutionFailure
// too, describing the progress made before the failure.
type RunResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Applied   []ItemOutcome
	Gaps      []Gap
	Failure   *ExecutionFailure
}

// ScriptsExecuted returns the number of scripts executed by the run.
func (r *RunResult) ScriptsExecuted() int {
	n := 0
	for _, o := range r.Applied {
		n += len(o.Executed)
	}
	return n
}

// ScriptsSkipped returns the number of scripts skipped because an earlier
// attempt already ran them.
func (r *RunResult) ScriptsSkipped() int {
	n := 0
	for _, o := range r.Applied {
		n += len(o.Skipped)
	}
	return n
}

// Runner executes migration runs. A Runner is not safe for concurrent runs;
// use a DistributedLock to serialize runs across processes.
type Runner struct {
	memory         session.Memory
	locker         DistributedLock
	logger         *slog.Logger
	metrics        *Metrics
	tracer         *Tracer
	lockKey        string
	keepUnaccessed bool
}

// NewRunner creates a Runner. A nil memory falls back to an in-memory
// session, a nil locker disables locking and a nil logger falls back to
// slog.Default().
func NewRunner(memory session.Memory, locker DistributedLock, logger *slog.Logger) *Runner {
	if memory == nil {
		memory = session.NewInMemory()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		memory:         memory,
		locker:         locker,
		logger:         logger,
		tracer:         NewTracer(nil),
		lockKey:        DefaultLockKey,
		keepUnaccessed: true,
	}
}

// WithMetrics sets the metrics the runner reports to.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// WithTracer sets the span factory.
func (r *Runner) WithTracer(t *Tracer) *Runner {
	if t != nil {
		r.tracer = t
	}
	return r
}

// WithLockKey sets the key passed to the DistributedLock.
func (r *Runner) WithLockKey(key string) *Runner {
	if key != "" {
		r.lockKey = key
	}
	return r
}

// WithKeepUnaccessed controls whether a successful run keeps version records
// that no item looked up. When false they are flagged deleted.
func (r *Runner) WithKeepUnaccessed(keep bool) *Runner {
	r.keepUnaccessed = keep
	return r
}

// hasWork reports whether phase work is attached to the entry. A container
// works at its head, after its children; its start entry only orders them.
func hasWork(e graph.Entry) bool {
	if e.IsContainerHead() {
		return true
	}
	return !e.Item.IsContainer()
}

// Run migrates every item of seq through phases.
//
// Per phase, items are visited in sequence order. Each item's script chain is
// resolved from the version recorded when the run started; scripts already
// executed by an earlier attempt of the same run are skipped. A failing
// script aborts the run with an *ExecutionFailure: versions of items that
// still have work left are not recorded, everything else is committed, and
// the session is kept so the next run resumes after the last good script.
func (r *Runner) Run(ctx context.Context, seq *graph.Sequence, phases []scripts.Phase, store *versioning.VersionStore, index *scripts.Index, exec executor.Executor) (*RunResult, error) {
	if seq == nil || store == nil || index == nil || exec == nil {
		return nil, errors.New("run: sequence, store, index and executor are required")
	}

	res := &RunResult{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := r.logger.With("run_id", res.RunID)

	ctx, span := r.tracer.StartRun(ctx, res.RunID, len(seq.Entries), len(phases))
	defer span.End()

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, r.lockKey)
		if err != nil {
			r.tracer.RecordError(span, err)
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		defer release()
	}

	if _, err := store.Load(ctx); err != nil {
		r.tracer.RecordError(span, err)
		return nil, err
	}

	logger.Info("migration run started", "entries", len(seq.Entries), "phases", len(phases))

	for pi, phase := range phases {
		phaseStart := time.Now()
		pctx, pspan := r.tracer.StartPhase(ctx, phase)

		for ei, e := range seq.Entries {
			if !hasWork(e) {
				continue
			}
			outcome, failure := r.runItem(pctx, res, logger, phase, e.Item, store, index, exec)
			if failure != nil {
				r.tracer.RecordError(pspan, failure)
				pspan.End()
				return res, r.abort(ctx, span, res, logger, failure, seq, phases, pi, ei, store, index)
			}
			if outcome != nil {
				res.Applied = append(res.Applied, *outcome)
			}
		}

		r.metrics.observePhase(phase.String(), time.Since(phaseStart))
		r.tracer.SetSuccess(pspan)
		pspan.End()
	}

	if err := store.Commit(ctx, r.keepUnaccessed); err != nil {
		r.tracer.RecordError(span, err)
		r.metrics.recordRun("error")
		return res, fmt.Errorf("commit versions: %w", err)
	}
	if err := r.memory.Reset(ctx); err != nil {
		logger.Warn("failed to reset session memory", "error", err)
	}

	res.Duration = time.Since(res.StartedAt)
	r.metrics.recordRun("success")
	r.tracer.SetSuccess(span)
	logger.Info("migration run finished",
		"executed", res.ScriptsExecuted(),
		"skipped", res.ScriptsSkipped(),
		"gaps", len(res.Gaps),
		"duration", res.Duration)
	return res, nil
}

func (r *Runner) runItem(ctx context.Context, res *RunResult, logger *slog.Logger, phase scripts.Phase, item *graph.Item, store *versioning.VersionStore, index *scripts.Index, exec executor.Executor) (*ItemOutcome, *ExecutionFailure) {
	from := store.Lookup(item)
	entry := index.ScriptsFor(item.FullName, phase)
	vec := resolver.Resolve(from, item.Target, entry)
	if vec == nil {
		if !entry.Empty() && (from == nil || from.Less(item.Target)) {
			logger.Info("no applicable script, item stays below target",
				"item", item.FullName,
				"phase", phase.String(),
				"from", version.Format(from),
				"target", item.Target.String())
			res.Gaps = append(res.Gaps, Gap{Phase: phase, Item: item.FullName, From: from, Target: item.Target})
			r.metrics.recordGap(phase.String())
		}
		return nil, nil
	}

	ictx, ispan := r.tracer.StartItem(ctx, item.FullName, phase, from, vec.Final)
	defer ispan.End()

	outcome := &ItemOutcome{Phase: phase, Item: item.FullName, From: from, Final: vec.Final}
	fail := func(s *scripts.Script, cause error) *ExecutionFailure {
		f := &ExecutionFailure{RunID: res.RunID, Item: item.FullName, Phase: phase, Script: s.ID(), Cause: cause}
		r.tracer.RecordError(ispan, f)
		r.metrics.recordFailure(phase.String())
		return f
	}

	for _, s := range vec.Scripts {
		if err := ctx.Err(); err != nil {
			return nil, fail(s, err)
		}
		key := session.KeyFor(s)
		done, err := r.memory.IsDone(ictx, key)
		if err != nil {
			return nil, fail(s, err)
		}
		if done {
			logger.Debug("script already executed in this run, skipping", "item", item.FullName, "phase", phase.String(), "script", s.ID())
			outcome.Skipped = append(outcome.Skipped, s.ID())
			r.metrics.recordSkipped(phase.String())
			continue
		}

		logger.Info("executing script", "item", item.FullName, "phase", phase.String(), "script", s.ID())
		if err := exec.Execute(ictx, s); err != nil {
			return nil, fail(s, err)
		}
		if err := r.memory.MarkDone(ictx, key); err != nil {
			return nil, fail(s, fmt.Errorf("remember executed script: %w", err))
		}
		outcome.Executed = append(outcome.Executed, s.ID())
		r.metrics.recordExecuted(phase.String(), s.Kind.String())
	}

	store.RecordVersion(item.FullName, vec.Final, item.Type)
	r.metrics.recordAdvanced(phase.String())
	r.tracer.SetSuccess(ispan)
	logger.Info("item migrated",
		"item", item.FullName,
		"phase", phase.String(),
		"from", version.Format(from),
		"final", vec.Final.String())
	return outcome, nil
}

// abort commits what can be kept after a failure at (phases[pi], entry ei).
// An item keeps its staged version only if no later step of the run would
// still have run scripts for it; otherwise the next run must start it from
// the same baseline again.
func (r *Runner) abort(ctx context.Context, span trace.Span, res *RunResult, logger *slog.Logger, failure *ExecutionFailure, seq *graph.Sequence, phases []scripts.Phase, pi, ei int, store *versioning.VersionStore, index *scripts.Index) error {
	res.Failure = failure
	res.Duration = time.Since(res.StartedAt)
	r.tracer.RecordError(span, failure)
	r.metrics.recordRun("failed")

	discarded := make(map[string]bool)
	for pj := pi; pj < len(phases); pj++ {
		for ej, e := range seq.Entries {
			if !hasWork(e) || (pj == pi && ej < ei) {
				continue
			}
			item := e.Item
			if discarded[item.Key()] {
				continue
			}
			from := store.Lookup(item)
			if resolver.Resolve(from, item.Target, index.ScriptsFor(item.FullName, phases[pj])) != nil {
				store.Discard(item.FullName)
				discarded[item.Key()] = true
			}
		}
	}

	logger.Error("migration run aborted",
		"item", failure.Item,
		"phase", failure.Phase.String(),
		"script", failure.Script,
		"error", failure.Cause)

	// commit with ctx detached from cancellation so partial progress survives
	if err := store.Commit(context.WithoutCancel(ctx), true); err != nil {
		return errors.Join(failure, fmt.Errorf("commit versions after failure: %w", err))
	}
	return failure
}

// PlannedScript is one script of a plan and whether an earlier attempt of
// the current run already executed it.
type PlannedScript struct {
	Script *scripts.Script
	Done   bool
}

// PlanStep is the resolved work of one item in one phase.
type PlanStep struct {
	Phase   scripts.Phase
	Item    string
	From    *version.Version
	Target  version.Version
	Final   version.Version
	Scripts []PlannedScript
	// Gap is set when the item is below target and nothing applies.
	Gap bool
}

// Plan resolves every item and phase like Run would, without executing
// anything or writing versions.
func (r *Runner) Plan(ctx context.Context, seq *graph.Sequence, phases []scripts.Phase, store *versioning.VersionStore, index *scripts.Index) ([]PlanStep, error) {
	if seq == nil || store == nil || index == nil {
		return nil, errors.New("plan: sequence, store and index are required")
	}
	if _, err := store.Load(ctx); err != nil {
		return nil, err
	}

	var steps []PlanStep
	for _, phase := range phases {
		for _, e := range seq.Entries {
			if !hasWork(e) {
				continue
			}
			item := e.Item
			from := store.Lookup(item)
			entry := index.ScriptsFor(item.FullName, phase)
			vec := resolver.Resolve(from, item.Target, entry)
			if vec == nil {
				if !entry.Empty() && (from == nil || from.Less(item.Target)) {
					steps = append(steps, PlanStep{Phase: phase, Item: item.FullName, From: from, Target: item.Target, Gap: true})
				}
				continue
			}
			step := PlanStep{Phase: phase, Item: item.FullName, From: from, Target: item.Target, Final: vec.Final}
			for _, s := range vec.Scripts {
				done, err := r.memory.IsDone(ctx, session.KeyFor(s))
				if err != nil {
					return nil, fmt.Errorf("plan %s: %w", s, err)
				}
				step.Scripts = append(step.Scripts, PlannedScript{Script: s, Done: done})
			}
			steps = append(steps, step)
		}
	}
	return steps, nil
}
