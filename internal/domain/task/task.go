// Package task defines the Task domain entity: one unit of agent work within a job.
package task

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AgentType selects which agent role executes a task.
type AgentType string

const (
	AgentPlanner       AgentType = "planner"
	AgentResearcher    AgentType = "researcher"
	AgentDeveloper     AgentType = "developer"
	AgentTestDesigner  AgentType = "test_designer"
	AgentExecutor      AgentType = "executor"
	AgentDebugger      AgentType = "debugger"
	AgentVerifier      AgentType = "verifier"
	AgentErrorAnalyzer AgentType = "error_analyzer"
)

// Types lists every known agent type in dispatch-table order.
func Types() []AgentType {
	return []AgentType{
		AgentPlanner, AgentResearcher, AgentDeveloper, AgentTestDesigner,
		AgentExecutor, AgentDebugger, AgentVerifier, AgentErrorAnalyzer,
	}
}

// Task is one unit of agent work within a job. Tasks are created by the
// planner at job-creation time, mutated in place during execution, and
// removed only with their parent job.
type Task struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	AgentType        AgentType `json:"agent_type"`
	Order            int       `json:"order"`
	Status           Status    `json:"status"`
	EstimatedTokens  int       `json:"estimated_tokens"`
	EstimatedCredits float64   `json:"estimated_credits"`
	ActualTokens     int       `json:"actual_tokens"`
	ActualCredits    float64   `json:"actual_credits"`
	Dependencies     []string  `json:"dependencies"`
	Deliverables     []string  `json:"deliverables"`
	Output           string    `json:"output,omitempty"`
	FilesCreated     []string  `json:"files_created"`
	Error            string    `json:"error,omitempty"`
}
