package dag

import "context"

// GraphHash is the deterministic identity of a TaskGraph.
//
// It is computed from task names, composition modes and ordered child lists,
// and is stable across registration order.
type GraphHash string

// String returns the string representation of the GraphHash.
func (h GraphHash) String() string { return string(h) }

// Work is the body of a leaf task. It takes no arguments beyond the context
// and reports failure through the returned error.
type Work func(ctx context.Context) error

// Mode describes how a task node executes.
type Mode string

const (
	ModeTask     Mode = "task"
	ModeSeries   Mode = "series"
	ModeParallel Mode = "parallel"
)

// Handle is a typed reference to a registered (or forward-referenced) task.
//
// Handles are produced by a Registry; the zero Handle refers to nothing and is
// rejected by Build.
type Handle struct {
	name string
}

// Name returns the task name the handle refers to.
func (h Handle) Name() string { return h.name }

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name        string
	Description string
	Mode        Mode
	Work        Work
	// Children lists composed task names in declaration order. Empty for ModeTask.
	Children []string

	canonicalIndex int
}
