package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Sink is the minimal interface the runner depends on.
//
// Record must not panic and must not block for long; the runner calls it from
// task goroutines.
type Sink interface {
	Record(event TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TraceEvent) {}

// SafeRecord records an event and swallows any panic raised by the sink.
func SafeRecord(s Sink, event TraceEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory collector for one run.
type Recorder struct {
	runID string

	mu     sync.Mutex
	events []TraceEvent
}

// NewRecorder returns a recorder stamped with a fresh run id.
func NewRecorder() *Recorder { return &Recorder{runID: uuid.NewString()} }

// RunID returns the identifier shared by every event of this run.
func (r *Recorder) RunID() string { return r.runID }

func (r *Recorder) Record(event TraceEvent) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []TraceEvent {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(graphHash, task, status string) ExecutionTrace {
	tr := ExecutionTrace{
		GraphHash: graphHash,
		RunID:     r.runID,
		Task:      task,
		Status:    status,
		Events:    r.Snapshot(),
	}
	tr.Canonicalize()
	return tr
}

// WriteFile writes the canonical JSON of tr to path, creating parent
// directories as needed.
func WriteFile(path string, tr ExecutionTrace) error {
	b, err := tr.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}
