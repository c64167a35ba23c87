package dag

import (
	"context"
	"sync/atomic"
)

// Status is the build status of one run. It starts as success and can only
// move to failure; Fail is safe to call from any goroutine.
type Status struct {
	failed atomic.Bool
}

// Fail marks the run as failed. Later calls are no-ops.
func (s *Status) Fail() {
	if s != nil {
		s.failed.Store(true)
	}
}

// Failed reports whether anything marked the run as failed.
func (s *Status) Failed() bool {
	return s != nil && s.failed.Load()
}

func (s *Status) String() string {
	if s.Failed() {
		return "failure"
	}
	return "success"
}

type statusKey struct{}

// WithStatus returns a context carrying s.
func WithStatus(ctx context.Context, s *Status) context.Context {
	return context.WithValue(ctx, statusKey{}, s)
}

// StatusFrom returns the run status carried by ctx. Outside a run it returns a
// detached Status, so callers can always call Fail.
func StatusFrom(ctx context.Context) *Status {
	if s, ok := ctx.Value(statusKey{}).(*Status); ok && s != nil {
		return s
	}
	return &Status{}
}
