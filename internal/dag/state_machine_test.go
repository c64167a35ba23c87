package dag

import "testing"

func TestStateMachine_Transitions_ValidAndInvalid(t *testing.T) {
	state := ExecutionState{"A#1": TaskPending}

	if err := Transition(state, "A#1", TaskPending, TaskRunning); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "A#1", TaskRunning, TaskCompleted); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}

	// Terminal -> RUNNING is forbidden.
	if err := Transition(state, "A#1", TaskCompleted, TaskRunning); err == nil {
		t.Fatalf("expected error")
	}

	// FAILED -> RUNNING is forbidden.
	state["A#1"] = TaskFailed
	if err := Transition(state, "A#1", TaskFailed, TaskRunning); err == nil {
		t.Fatalf("expected error")
	}

	// SKIPPED is only reachable from PENDING and is terminal.
	state["B#1"] = TaskRunning
	if err := Transition(state, "B#1", TaskRunning, TaskSkipped); err == nil {
		t.Fatalf("expected error")
	}
	state["C#1"] = TaskPending
	if err := Transition(state, "C#1", TaskPending, TaskSkipped); err != nil {
		t.Fatalf("expected valid transition, got %v", err)
	}
	if err := Transition(state, "C#1", TaskSkipped, TaskRunning); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStateMachine_StaleFromIsRejected(t *testing.T) {
	state := ExecutionState{"A#1": TaskRunning}
	if err := Transition(state, "A#1", TaskPending, TaskRunning); err == nil {
		t.Fatalf("expected error for stale prior state")
	}
	if state["A#1"] != TaskRunning {
		t.Fatalf("state must not change on rejected transition, got %s", state["A#1"])
	}
	if err := Transition(state, "missing", TaskPending, TaskRunning); err == nil {
		t.Fatalf("expected error for unknown invocation")
	}
}
