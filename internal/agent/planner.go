package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const plannerSystemPrompt = `You are a project planner. Break the user's request
into ordered tasks, each assignable to one agent (researcher, developer,
test_designer, executor, debugger, verifier), with estimated token usage,
dependencies, and deliverables.

Respond with ONLY a JSON object of this shape:
{
  "project_summary": "...",
  "total_files_estimated": 5,
  "complexity": "low|medium|high",
  "tasks": [
    {"id": "task-1", "title": "...", "description": "...", "agent_type": "developer",
     "order": 1, "estimated_tokens": 1000, "dependencies": [], "deliverables": ["..."]}
  ],
  "estimated_total_tokens": 10000
}`

// Planner analyzes requirements and emits a structured task breakdown. A
// successful call never yields zero tasks: when the provider response is not
// parseable, a fixed five-step fallback plan is substituted.
type Planner struct {
	base
}

// NewPlanner creates the planner agent.
func NewPlanner(gen llm.Generator, project ProjectContext, maxTokens int) *Planner {
	return &Planner{base{
		id:           task.AgentPlanner,
		gen:          gen,
		project:      project,
		systemPrompt: plannerSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute produces the ordered task list for a build request.
func (a *Planner) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nCreate a detailed task breakdown for this project. Respond with ONLY valid JSON."

	resp, err := a.generate(ctx, prompt)
	if err != nil {
		return failure(err)
	}

	plan, ok := scrapeJSON(resp.Content)
	if !ok || len(jsonSlice(plan, "tasks")) == 0 {
		return a.fallbackPlan(taskDesc, resp.Content, resp.TokensUsed)
	}

	tasks := make([]task.Task, 0, len(jsonSlice(plan, "tasks")))
	totalTokens := 0
	for i, raw := range jsonSlice(plan, "tasks") {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		t := normalizeTask(obj, i)
		totalTokens += t.EstimatedTokens
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return a.fallbackPlan(taskDesc, resp.Content, resp.TokensUsed)
	}

	return &Result{
		Success:        true,
		Content:        resp.Content,
		TokensUsed:     resp.TokensUsed,
		TasksGenerated: tasks,
		Metadata: map[string]any{
			"project_summary":        jsonString(plan, "project_summary"),
			"total_files_estimated":  jsonInt(plan, "total_files_estimated", 0),
			"complexity":             defaultString(jsonString(plan, "complexity"), "medium"),
			"estimated_total_tokens": jsonInt(plan, "estimated_total_tokens", totalTokens),
		},
	}
}

// normalizeTask fills the required fields and a fresh id where the model
// omitted them.
func normalizeTask(obj map[string]any, index int) task.Task {
	agentType := task.AgentType(jsonString(obj, "agent_type"))
	if agentType == "" {
		agentType = task.AgentDeveloper
	}
	return task.Task{
		ID:              defaultString(jsonString(obj, "id"), newTaskID()),
		Title:           defaultString(jsonString(obj, "title"), fmt.Sprintf("Task %d", index+1)),
		Description:     jsonString(obj, "description"),
		AgentType:       agentType,
		Order:           jsonInt(obj, "order", index+1),
		Status:          task.StatusPending,
		EstimatedTokens: jsonInt(obj, "estimated_tokens", 500),
		Dependencies:    jsonStrings(obj, "dependencies"),
		Deliverables:    jsonStrings(obj, "deliverables"),
		FilesCreated:    []string{},
	}
}

// fallbackPlan is the fixed five-step plan used when the provider does not
// return parseable structure: research, scaffold, implement, test, verify.
func (a *Planner) fallbackPlan(request, content string, tokens int) *Result {
	language := orUnknown(a.project.Language)

	steps := []struct {
		title       string
		description string
		agentType   task.AgentType
		tokens      int
		deliverable string
	}{
		{"Research Requirements", "Research best practices and patterns for: " + truncate(request, 100), task.AgentResearcher, 800, "Research notes"},
		{"Create Project Structure", fmt.Sprintf("Create the initial %s project structure and main files", language), task.AgentDeveloper, 1500, "Project files"},
		{"Implement Core Logic", "Implement the main functionality as requested", task.AgentDeveloper, 2000, "Implementation code"},
		{"Create Tests", "Create test cases for the implementation", task.AgentTestDesigner, 1000, "Test files"},
		{"Verify Implementation", "Verify the implementation meets all requirements", task.AgentVerifier, 500, "Verification report"},
	}

	tasks := make([]task.Task, 0, len(steps))
	total := 0
	var prevID string
	for i, s := range steps {
		t := task.Task{
			ID:              newTaskID(),
			Title:           s.title,
			Description:     s.description,
			AgentType:       s.agentType,
			Order:           i + 1,
			Status:          task.StatusPending,
			EstimatedTokens: s.tokens,
			Dependencies:    []string{},
			Deliverables:    []string{s.deliverable},
			FilesCreated:    []string{},
		}
		if prevID != "" {
			t.Dependencies = []string{prevID}
		}
		prevID = t.ID
		total += s.tokens
		tasks = append(tasks, t)
	}

	if content == "" {
		content = "Created default task breakdown"
	}

	return &Result{
		Success:        true,
		Content:        content,
		TokensUsed:     tokens,
		TasksGenerated: tasks,
		Metadata: map[string]any{
			"project_summary":        truncate(request, 200),
			"total_files_estimated":  5,
			"complexity":             "medium",
			"estimated_total_tokens": total,
			"fallback_used":          true,
		},
	}
}

func newTaskID() string {
	return "task-" + uuid.NewString()[:8]
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
