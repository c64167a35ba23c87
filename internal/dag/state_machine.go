package dag

import "fmt"

// TaskState is the runtime execution state of one task invocation.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
)

// ExecutionState maps invocation keys (see Invocation.Key) to their TaskState.
type ExecutionState map[string]TaskState

// Transition performs a validated transition for a single invocation.
//
// The caller supplies the expected prior state (from) to make races observable.
// This function mutates the provided state map if and only if the transition is valid.
func Transition(state ExecutionState, key string, from, to TaskState) error {
	cur, ok := state[key]
	if !ok {
		return fmt.Errorf("unknown invocation in state: %q", key)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", key, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", key, from, to)
	}
	state[key] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}
