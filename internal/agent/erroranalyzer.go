package agent

import (
	"context"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const errorAnalyzerSystemPrompt = `You are an error analyst. Parse the error
messages and logs, categorize each error (SYNTAX, IMPORT, RUNTIME, LOGIC,
DEPENDENCY, CONFIG) with severity and root cause, and propose fix tasks for
other agents.

Respond with JSON:
{
  "errors_found": [{"category": "...", "severity": "...", "file": "...",
                    "message": "...", "root_cause": "...", "fix_description": "..."}],
  "fix_tasks": [{"agent": "debugger", "priority": 1, "description": "...",
                 "files_affected": ["..."]}],
  "can_auto_fix": true,
  "requires_user_input": false
}`

// ErrorAnalyzer categorizes errors and emits downstream fix tasks. The fix
// tasks become new job tasks appended by the caller, not inserted here.
type ErrorAnalyzer struct {
	base
}

// NewErrorAnalyzer creates the error analyzer agent.
func NewErrorAnalyzer(gen llm.Generator, project ProjectContext, maxTokens int) *ErrorAnalyzer {
	return &ErrorAnalyzer{base{
		id:           task.AgentErrorAnalyzer,
		gen:          gen,
		project:      project,
		systemPrompt: errorAnalyzerSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute analyzes the errors in context and returns structured fix tasks.
func (a *ErrorAnalyzer) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nAnalyze all errors and respond with the error-analysis JSON."

	resp, err := a.generate(ctx, prompt)
	if err != nil {
		return failure(err)
	}

	analysis, ok := scrapeJSON(resp.Content)
	if !ok {
		return &Result{
			Success:    true,
			Content:    resp.Content,
			TokensUsed: resp.TokensUsed,
			Metadata:   map[string]any{"analysis_complete": true},
		}
	}

	var fixTasks []task.Task
	for i, raw := range jsonSlice(analysis, "fix_tasks") {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		agentType := task.AgentType(defaultString(jsonString(obj, "agent"), string(task.AgentDebugger)))
		desc := jsonString(obj, "description")
		fixTasks = append(fixTasks, task.Task{
			ID:           newTaskID(),
			Title:        defaultString(desc, "Fix error"),
			Description:  desc,
			AgentType:    agentType,
			Order:        jsonInt(obj, "priority", i+1),
			Status:       task.StatusPending,
			Deliverables: jsonStrings(obj, "files_affected"),
			FilesCreated: []string{},
		})
	}

	categories := map[string]struct{}{}
	for _, raw := range jsonSlice(analysis, "errors_found") {
		if obj, ok := raw.(map[string]any); ok {
			categories[defaultString(jsonString(obj, "category"), "UNKNOWN")] = struct{}{}
		}
	}
	categoryList := make([]string, 0, len(categories))
	for c := range categories {
		categoryList = append(categoryList, c)
	}

	canAutoFix, _ := analysis["can_auto_fix"].(bool)
	needsInput, _ := analysis["requires_user_input"].(bool)

	return &Result{
		Success:        true,
		Content:        resp.Content,
		TokensUsed:     resp.TokensUsed,
		TasksGenerated: fixTasks,
		Metadata: map[string]any{
			"errors_found":        len(jsonSlice(analysis, "errors_found")),
			"can_auto_fix":        canAutoFix,
			"requires_user_input": needsInput,
			"error_categories":    categoryList,
		},
	}
}
