package dag

import (
	"fmt"
	"time"

	"assetweaver/internal/trace"
)

// Invocation is one reach of a task within a run.
type Invocation struct {
	Task string
	// Ordinal is 1 for the first reach of Task in the run, 2 for the second, and so on.
	Ordinal  int
	State    TaskState
	Err      error
	Duration time.Duration
}

// Key identifies the invocation inside an ExecutionState.
func (i Invocation) Key() string { return invocationKey(i.Task, i.Ordinal) }

func invocationKey(task string, ordinal int) string {
	return fmt.Sprintf("%s#%d", task, ordinal)
}

// RunResult is the outcome of one Runner.Run call.
type RunResult struct {
	GraphHash GraphHash
	RunID     string
	Task      string

	// Status is the run's build status. Lint issues can fail it even when every
	// task returned nil.
	Status *Status

	// Invocations lists every invocation in the order it was created.
	Invocations []Invocation

	// Order lists task names in the order they transitioned to RUNNING.
	Order []string

	// Err is the error returned by the requested task, if any.
	Err error

	trace trace.ExecutionTrace
}

// Failed reports whether the run failed, either through a task error or a
// status downgrade.
func (r *RunResult) Failed() bool {
	return r.Err != nil || r.Status.Failed()
}

// ExecutionOrder returns a copy of the names of started tasks in start order.
func (r *RunResult) ExecutionOrder() []string {
	return append([]string(nil), r.Order...)
}

// CallCount returns how many times task was actually started in this run.
func (r *RunResult) CallCount(task string) int {
	n := 0
	for _, name := range r.Order {
		if name == task {
			n++
		}
	}
	return n
}

// FinalState returns the terminal state of every invocation keyed by Invocation.Key.
func (r *RunResult) FinalState() ExecutionState {
	out := make(ExecutionState, len(r.Invocations))
	for _, inv := range r.Invocations {
		out[inv.Key()] = inv.State
	}
	return out
}

// Trace returns the canonical trace of the run.
func (r *RunResult) Trace() trace.ExecutionTrace { return r.trace }
