// Package job defines the Job domain entity: one user-initiated build request
// composed of an ordered task list, plus the progress events its execution emits.
package job

import (
	"time"

	"github.com/buildhive/buildhive/internal/domain/task"
)

// Status represents the current state of a job.
type Status string

const (
	StatusAnalyzing        Status = "analyzing"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusApproved         Status = "approved"
	StatusInProgress       Status = "in_progress"
	StatusNeedsMoreCredits Status = "needs_more_credits"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether the job can never make further progress.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Approvable reports whether approve_job is accepted in this state. A paused
// job is re-approved as the explicit needs_more_credits -> approved resume.
func (s Status) Approvable() bool {
	return s == StatusAwaitingApproval || s == StatusNeedsMoreCredits
}

// Executable reports whether execute_job may (re-)enter the task loop.
func (s Status) Executable() bool {
	return s == StatusApproved || s == StatusInProgress
}

// DefaultMaxErrors is the bounded retry budget for a job.
const DefaultMaxErrors = 5

// Job is one end-to-end build request. CurrentTaskIndex is the orchestrator's
// resumption cursor: -1 before approval, otherwise the index of the next task
// to execute. It never exceeds len(Tasks) and never decreases.
type Job struct {
	ID                    string         `json:"id"`
	ProjectID             string         `json:"project_id"`
	UserID                string         `json:"user_id"`
	Prompt                string         `json:"prompt"`
	Status                Status         `json:"status"`
	MultiAgentMode        bool           `json:"multi_agent_mode"`
	Tasks                 []task.Task    `json:"tasks"`
	TotalEstimatedCredits float64        `json:"total_estimated_credits"`
	CreditsUsed           float64        `json:"credits_used"`
	CreditsApproved       float64        `json:"credits_approved"`
	CreditsNeeded         float64        `json:"credits_needed,omitempty"`
	CurrentTaskIndex      int            `json:"current_task_index"`
	ErrorCount            int            `json:"error_count"`
	MaxErrors             int            `json:"max_errors"`
	Error                 string         `json:"error,omitempty"`
	PlannerOutput         string         `json:"planner_output,omitempty"`
	PlannerMetadata       map[string]any `json:"planner_metadata,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	StartedAt             *time.Time     `json:"started_at,omitempty"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt             time.Time      `json:"updated_at"`
}
