package trace

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestCanonicalTraceStability_ByteForByte(t *testing.T) {
	trace1 := ExecutionTrace{
		GraphHash: "graph-abc",
		Task:      "default",
		Events: []TraceEvent{
			{Kind: EventTaskFailed, TaskID: "b", Invocation: 1, Reason: ReasonWorkFailed},
			{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1},
			{Kind: EventTaskSkipped, TaskID: "c", Invocation: 1, Reason: ReasonSiblingFailed, CauseTaskID: "b"},
		},
	}

	trace2 := ExecutionTrace{
		GraphHash: "graph-abc",
		Task:      "default",
		Events: []TraceEvent{
			{Kind: EventTaskSkipped, TaskID: "c", Invocation: 1, CauseTaskID: "b", Reason: ReasonSiblingFailed},
			{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1},
			{Kind: EventTaskFailed, TaskID: "b", Invocation: 1, Reason: ReasonWorkFailed},
		},
	}

	b1, err := trace1.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (1): %v", err)
	}
	b2, err := trace2.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json (2): %v", err)
	}

	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected identical bytes\n1=%s\n2=%s", string(b1), string(b2))
	}
}

func TestCanonicalOrdering_SortsByTaskThenInvocation(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TraceEvent{
			{Kind: EventTaskExecuted, TaskID: "b", Invocation: 1},
			{Kind: EventTaskExecuted, TaskID: "a", Invocation: 2},
			{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1},
		},
	}
	b, err := tr.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	expected := `{"graphHash":"graph-abc","events":[` +
		`{"kind":"TaskExecuted","taskId":"a","invocation":1},` +
		`{"kind":"TaskExecuted","taskId":"a","invocation":2},` +
		`{"kind":"TaskExecuted","taskId":"b","invocation":1}]}`
	if string(b) != expected {
		t.Fatalf("unexpected canonical bytes\nexpected=%s\nactual  =%s", expected, string(b))
	}
}

func TestCanonicalJSON_DoesNotMutateCaller(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TraceEvent{
			{Kind: EventTaskExecuted, TaskID: "b", Invocation: 1},
			{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1},
		},
	}
	if _, err := tr.CanonicalJSON(); err != nil {
		t.Fatalf("canonical json: %v", err)
	}
	if tr.Events[0].TaskID != "b" {
		t.Fatalf("caller slice was reordered: %+v", tr.Events)
	}
}

func TestHash_IgnoresRunID(t *testing.T) {
	tr1 := ExecutionTrace{GraphHash: "g", RunID: "r1", Events: []TraceEvent{{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1}}}
	tr2 := ExecutionTrace{GraphHash: "g", RunID: "r2", Events: []TraceEvent{{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1}}}

	h1, err := tr1.Hash()
	if err != nil {
		t.Fatalf("hash (1): %v", err)
	}
	h2, err := tr2.Hash()
	if err != nil {
		t.Fatalf("hash (2): %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash, got %q != %q", h1, h2)
	}
	if tr1.RunID != "r1" {
		t.Fatalf("Hash must not clear the caller's RunID")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]ExecutionTrace{
		"missing graph hash": {Events: []TraceEvent{{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1}}},
		"missing kind":       {GraphHash: "g", Events: []TraceEvent{{TaskID: "a", Invocation: 1}}},
		"unknown kind":       {GraphHash: "g", Events: []TraceEvent{{Kind: "TaskCached", TaskID: "a", Invocation: 1}}},
		"missing task":       {GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskExecuted, Invocation: 1}}},
		"zero invocation":    {GraphHash: "g", Events: []TraceEvent{{Kind: EventTaskExecuted, TaskID: "a"}}},
	}
	for name, tr := range cases {
		tr := tr
		t.Run(name, func(t *testing.T) {
			if err := tr.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestRecorder_ConcurrentRecordAndTrace(t *testing.T) {
	r := NewRecorder()
	if r.RunID() == "" {
		t.Fatalf("expected run id")
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			SafeRecord(r, TraceEvent{Kind: EventTaskExecuted, TaskID: "t", Invocation: i + 1})
		}(i)
	}
	wg.Wait()

	tr := r.Trace("g", "default", "success")
	if len(tr.Events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(tr.Events))
	}
	for i, e := range tr.Events {
		if e.Invocation != i+1 {
			t.Fatalf("events not canonical at %d: %+v", i, e)
		}
	}
	if tr.RunID != r.RunID() {
		t.Fatalf("trace run id mismatch")
	}
}

type panickySink struct{}

func (panickySink) Record(TraceEvent) { panic("boom") }

func TestSafeRecord_SwallowsPanics(t *testing.T) {
	SafeRecord(panickySink{}, TraceEvent{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1})
	SafeRecord(nil, TraceEvent{Kind: EventTaskExecuted, TaskID: "a", Invocation: 1})
}

func TestWriteFile_WritesCanonicalJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "trace.json")
	tr := ExecutionTrace{
		GraphHash: "g",
		RunID:     "run",
		Task:      "lint",
		Status:    "failure",
		Events:    []TraceEvent{{Kind: EventTaskFailed, TaskID: "lint", Invocation: 1, Reason: ReasonChildFailed, CauseTaskID: "lint:markup"}},
	}
	if err := WriteFile(path, tr); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["status"] != "failure" || decoded["task"] != "lint" || decoded["runId"] != "run" {
		t.Fatalf("unexpected header fields: %v", decoded)
	}
}
