package job

import (
	"encoding/json"
	"testing"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status     Status
		terminal   bool
		approvable bool
		executable bool
	}{
		{StatusAnalyzing, false, false, false},
		{StatusAwaitingApproval, false, true, false},
		{StatusApproved, false, false, true},
		{StatusInProgress, false, false, true},
		{StatusNeedsMoreCredits, false, true, false},
		{StatusCompleted, true, false, false},
		{StatusFailed, true, false, false},
		{StatusCancelled, true, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.Approvable(); got != tt.approvable {
				t.Errorf("Approvable() = %v, want %v", got, tt.approvable)
			}
			if got := tt.status.Executable(); got != tt.executable {
				t.Errorf("Executable() = %v, want %v", got, tt.executable)
			}
		})
	}
}

func TestEventMarshalFlattensPayload(t *testing.T) {
	ev := Event{
		Type:    EventTaskStarted,
		Payload: TaskStartedPayload{TaskIndex: 2, TaskID: "t3", Title: "Build", Agent: "developer"},
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m["type"] != "task_started" {
		t.Errorf("type = %v, want task_started", m["type"])
	}
	if m["task_index"].(float64) != 2 || m["task_id"] != "t3" || m["agent"] != "developer" {
		t.Errorf("payload not flattened: %v", m)
	}
	if _, nested := m["Payload"]; nested {
		t.Error("payload nested instead of flattened")
	}
}

func TestEventMarshalNilPayload(t *testing.T) {
	data, err := json.Marshal(Event{Type: EventJobFailed})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"type":"job_failed"}` {
		t.Errorf("got %s", data)
	}
}
