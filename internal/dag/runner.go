package dag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"assetweaver/internal/trace"
)

// Runner executes tasks of a TaskGraph by name.
//
// A Runner holds no per-run state; concurrent Run calls (for example from a
// watcher) each get their own Status and RunResult.
type Runner struct {
	Graph  *TaskGraph
	Logger *zap.Logger
}

// NewRunner creates a runner. A nil logger discards output.
func NewRunner(g *TaskGraph, logger *zap.Logger) (*Runner, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Graph: g, Logger: logger}, nil
}

type runnerKey struct{}

// WithRunner returns a context carrying r. Run installs it automatically so
// task work can start further runs (watch tasks do).
func WithRunner(ctx context.Context, r *Runner) context.Context {
	return context.WithValue(ctx, runnerKey{}, r)
}

// RunnerFrom returns the runner executing the current task, if any.
func RunnerFrom(ctx context.Context) (*Runner, bool) {
	r, ok := ctx.Value(runnerKey{}).(*Runner)
	return r, ok && r != nil
}

// Run executes the named task and everything it composes.
//
// An unknown name is reported as an error before any work starts. Task
// failures do not produce an error here; they are carried by RunResult.Err and
// RunResult.Status.
func (r *Runner) Run(ctx context.Context, name string) (*RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := r.Graph.Node(name); !ok {
		return nil, unknownf("task %q is not registered", name)
	}

	rec := trace.NewRecorder()
	st := &Status{}
	x := &run{
		runner:   r,
		logger:   r.Logger.With(zap.String("run", rec.RunID())),
		recorder: rec,
		state:    make(ExecutionState),
		counts:   make(map[string]int),
	}

	ctx = WithStatus(ctx, st)
	ctx = WithRunner(ctx, r)

	err := x.invoke(ctx, name)
	if err != nil {
		st.Fail()
	}

	res := &RunResult{
		GraphHash:   r.Graph.Hash(),
		RunID:       rec.RunID(),
		Task:        name,
		Status:      st,
		Invocations: x.snapshot(),
		Order:       append([]string(nil), x.order...),
		Err:         err,
	}
	res.trace = rec.Trace(r.Graph.Hash().String(), name, st.String())
	return res, nil
}

// run is the mutable bookkeeping of a single Run call.
type run struct {
	runner   *Runner
	logger   *zap.Logger
	recorder *trace.Recorder

	mu          sync.Mutex
	state       ExecutionState
	invocations []*Invocation
	counts      map[string]int
	order       []string
}

func (x *run) begin(task string) *Invocation {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.counts[task]++
	inv := &Invocation{Task: task, Ordinal: x.counts[task], State: TaskPending}
	x.invocations = append(x.invocations, inv)
	x.state[inv.Key()] = TaskPending
	return inv
}

func (x *run) transition(inv *Invocation, to TaskState) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := Transition(x.state, inv.Key(), inv.State, to); err != nil {
		// The runner drives every transition itself; a rejected one is a bug.
		panic(err)
	}
	inv.State = to
	if to == TaskRunning {
		x.order = append(x.order, inv.Task)
	}
}

func (x *run) snapshot() []Invocation {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]Invocation, 0, len(x.invocations))
	for _, inv := range x.invocations {
		out = append(out, *inv)
	}
	return out
}

func (x *run) skip(task, reason, cause string) {
	inv := x.begin(task)
	x.transition(inv, TaskSkipped)
	trace.SafeRecord(x.recorder, trace.TraceEvent{
		Kind:        trace.EventTaskSkipped,
		TaskID:      task,
		Invocation:  inv.Ordinal,
		Reason:      reason,
		CauseTaskID: cause,
	})
	x.logger.Debug(fmt.Sprintf("Skipping '%s'", task), zap.String("cause", cause))
}

func (x *run) invoke(ctx context.Context, name string) error {
	node, _ := x.runner.Graph.Node(name)

	if err := ctx.Err(); err != nil {
		x.skip(name, trace.ReasonContextStopped, "")
		return err
	}

	inv := x.begin(name)
	x.transition(inv, TaskRunning)
	x.logger.Info(fmt.Sprintf("Starting '%s'...", name))
	start := time.Now()

	var (
		err    error
		reason string
		cause  string
	)
	switch node.Mode {
	case ModeTask:
		err = callWork(ctx, node.Work)
		if err != nil {
			reason = trace.ReasonWorkFailed
			var pe *PanicError
			if errors.As(err, &pe) {
				reason = trace.ReasonPanicked
			}
			err = &TaskError{Task: name, Err: err}
		}
	case ModeSeries:
		cause, err = x.series(ctx, node)
		reason = trace.ReasonChildFailed
	case ModeParallel:
		cause, err = x.parallel(ctx, node)
		reason = trace.ReasonChildFailed
	}

	elapsed := time.Since(start)
	x.mu.Lock()
	inv.Duration = elapsed
	inv.Err = err
	x.mu.Unlock()

	if err != nil {
		x.transition(inv, TaskFailed)
		trace.SafeRecord(x.recorder, trace.TraceEvent{
			Kind:        trace.EventTaskFailed,
			TaskID:      name,
			Invocation:  inv.Ordinal,
			Reason:      reason,
			CauseTaskID: cause,
		})
		x.logger.Error(fmt.Sprintf("'%s' errored after %s", name, formatDuration(elapsed)), zap.Error(err))
		return err
	}

	x.transition(inv, TaskCompleted)
	trace.SafeRecord(x.recorder, trace.TraceEvent{
		Kind:       trace.EventTaskExecuted,
		TaskID:     name,
		Invocation: inv.Ordinal,
	})
	x.logger.Info(fmt.Sprintf("Finished '%s' after %s", name, formatDuration(elapsed)))
	return nil
}

// series runs children in declaration order and stops at the first failure.
// Children after the failing one are recorded as skipped and never started.
func (x *run) series(ctx context.Context, node *TaskNode) (string, error) {
	for i, child := range node.Children {
		if err := x.invoke(ctx, child); err != nil {
			for _, rest := range node.Children[i+1:] {
				x.skip(rest, trace.ReasonSiblingFailed, child)
			}
			return child, err
		}
	}
	return "", nil
}

// parallel starts every child at once and waits for all of them. Failures are
// aggregated in declaration order.
func (x *run) parallel(ctx context.Context, node *TaskNode) (string, error) {
	errs := make([]error, len(node.Children))

	var wg sync.WaitGroup
	for i, child := range node.Children {
		wg.Add(1)
		go func(i int, child string) {
			defer wg.Done()
			errs[i] = x.invoke(ctx, child)
		}(i, child)
	}
	wg.Wait()

	var (
		merged *multierror.Error
		cause  string
	)
	for i, err := range errs {
		if err == nil {
			continue
		}
		if cause == "" {
			cause = node.Children[i]
		}
		merged = multierror.Append(merged, err)
	}
	return cause, merged.ErrorOrNil()
}

func callWork(ctx context.Context, work Work) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return work(ctx)
}

// formatDuration renders durations the way gulp does: "12 ms", "1.2 s".
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%d ns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%d μs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2g s", d.Seconds())
	default:
		return fmt.Sprintf("%.2g min", d.Minutes())
	}
}
