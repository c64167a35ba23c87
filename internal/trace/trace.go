package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical record of one task run.
//
// Events are logical transitions only: no timestamps, durations or error
// strings. Two runs of the same graph that make the same decisions produce the
// same canonical bytes, except for RunID.
type ExecutionTrace struct {
	GraphHash string
	RunID     string
	Task      string
	Status    string
	Events    []TraceEvent
}

// TraceEventKind is the stable discriminator for TraceEvent.
//
// The string values are part of the trace's canonical bytes; do not rename.
type TraceEventKind string

const (
	EventTaskExecuted TraceEventKind = "TaskExecuted"
	EventTaskFailed   TraceEventKind = "TaskFailed"
	EventTaskSkipped  TraceEventKind = "TaskSkipped"
)

// Reason codes attached to events.
const (
	ReasonWorkFailed     = "WorkFailed"
	ReasonPanicked       = "Panicked"
	ReasonChildFailed    = "ChildFailed"
	ReasonSiblingFailed  = "SiblingFailed"
	ReasonContextStopped = "ContextStopped"
)

// TraceEvent is a single logical transition of one task invocation.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskID is the task name.
	TaskID string

	// Invocation is the 1-based ordinal of this reach of TaskID within the run.
	// A task reached twice in one run records two invocations.
	Invocation int

	Reason string

	// CauseTaskID records the task whose failure caused a skip or a composite failure.
	CauseTaskID string
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		switch e.Kind {
		case EventTaskExecuted, EventTaskFailed, EventTaskSkipped:
		case "":
			return fmt.Errorf("events[%d].kind is required", i)
		default:
			return fmt.Errorf("events[%d].kind %q is unknown", i, e.Kind)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
		if e.Invocation < 1 {
			return fmt.Errorf("events[%d].invocation must be >= 1", i)
		}
	}
	return nil
}

// Canonicalize sorts events into a total order that does not depend on
// goroutine scheduling: (taskId, invocation, kind, reason, causeTaskId).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if a.Invocation != b.Invocation {
			return a.Invocation < b.Invocation
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.CauseTaskID < b.CauseTaskID
	})
}

func kindOrder(k TraceEventKind) int {
	switch k {
	case EventTaskExecuted:
		return 10
	case EventTaskFailed:
		return 20
	case EventTaskSkipped:
		return 30
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slice.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := t
	cp.Events = append([]TraceEvent(nil), t.Events...)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex of the canonical JSON with RunID cleared, so
// identical decisions hash identically across runs.
func (t ExecutionTrace) Hash() (string, error) {
	t.RunID = ""
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "graphHash", t.GraphHash, false)
	if t.RunID != "" {
		writeString(&buf, "runId", t.RunID, true)
	}
	if t.Task != "" {
		writeString(&buf, "task", t.Task, true)
	}
	if t.Status != "" {
		writeString(&buf, "status", t.Status, true)
	}
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, "kind", string(e.Kind), false)
	if e.TaskID != "" {
		writeString(&buf, "taskId", e.TaskID, true)
	}
	if e.Invocation > 0 {
		fmt.Fprintf(&buf, `,"invocation":%d`, e.Invocation)
	}
	if e.Reason != "" {
		writeString(&buf, "reason", e.Reason, true)
	}
	if e.CauseTaskID != "" {
		writeString(&buf, "causeTaskId", e.CauseTaskID, true)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, key, value string, comma bool) {
	if comma {
		buf.WriteByte(',')
	}
	kb, _ := json.Marshal(key)
	vb, _ := json.Marshal(value)
	buf.Write(kb)
	buf.WriteByte(':')
	buf.Write(vb)
}
