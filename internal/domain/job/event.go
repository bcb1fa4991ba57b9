package job

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of progress event.
type EventType string

// Progress event types. These names are the wire contract consumed by clients.
const (
	EventJobStarted   EventType = "job_started"
	EventTaskStarted  EventType = "task_started"
	EventTaskDone     EventType = "task_completed"
	EventAutoFix      EventType = "auto_fix_applied"
	EventTaskError    EventType = "task_error"
	EventNeedsCredits EventType = "needs_credits"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventError        EventType = "error"
)

// Event is the envelope for one progress event. Payload holds the typed
// payload struct for the event type; MarshalJSON flattens it so the wire
// shape is {"type": ..., <payload fields>}.
type Event struct {
	Type    EventType
	Payload any
}

// MarshalJSON emits the payload fields inline next to "type".
func (e Event) MarshalJSON() ([]byte, error) {
	body := []byte("{}")
	if e.Payload != nil {
		var err error
		body, err = json.Marshal(e.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
	}
	head := fmt.Sprintf(`{"type":%q`, e.Type)
	if len(body) <= 2 { // empty object
		return []byte(head + "}"), nil
	}
	return append(append([]byte(head+","), body[1:len(body)-1]...), '}'), nil
}

// JobStartedPayload announces the start (or resumption) of the task loop.
type JobStartedPayload struct {
	JobID      string `json:"job_id"`
	TotalTasks int    `json:"total_tasks"`
}

// TaskStartedPayload announces that a task entered the running state.
type TaskStartedPayload struct {
	TaskIndex int    `json:"task_index"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Agent     string `json:"agent"`
}

// TaskDonePayload reports the outcome of one task execution.
type TaskDonePayload struct {
	TaskIndex     int      `json:"task_index"`
	TaskID        string   `json:"task_id"`
	Success       bool     `json:"success"`
	FilesCreated  []string `json:"files_created"`
	CreditsUsed   float64  `json:"credits_used"`
	OutputPreview string   `json:"output_preview"`
}

// AutoFixPayload reports that the debugger produced a fix for a failing task.
type AutoFixPayload struct {
	TaskID         string `json:"task_id"`
	FixDescription string `json:"fix_description"`
}

// TaskErrorPayload reports an exception contained at the task boundary.
type TaskErrorPayload struct {
	TaskIndex int    `json:"task_index"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
}

// NeedsCreditsPayload reports a credit-exhaustion pause. The job remains
// resumable at the persisted cursor.
type NeedsCreditsPayload struct {
	Message        string  `json:"message"`
	CreditsNeeded  float64 `json:"credits_needed"`
	CurrentCredits float64 `json:"current_credits"`
	CompletedTasks int     `json:"completed_tasks"`
	RemainingTasks int     `json:"remaining_tasks"`
}

// JobCompletedPayload reports aggregate counts after the final task.
type JobCompletedPayload struct {
	JobID            string  `json:"job_id"`
	TotalCreditsUsed float64 `json:"total_credits_used"`
	FilesCreated     int     `json:"files_created"`
}

// JobFailedPayload reports a terminal failure of the whole job.
type JobFailedPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload reports an error that prevented execution from starting.
type ErrorPayload struct {
	Message string `json:"message"`
}
