package agent

import (
	"context"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const executorSystemPrompt = `You are a code execution specialist. Analyze the
project files and produce an execution plan.

Respond with JSON:
{
  "language": "...",
  "main_file": "...",
  "dependencies": ["..."],
  "setup_commands": ["..."],
  "run_command": "...",
  "expected_behavior": "..."
}`

// Executor derives an execution plan for the generated project. Actual
// sandboxed execution happens outside this service; the plan and the model's
// analysis are recorded in the result metadata.
type Executor struct {
	base
}

// NewExecutor creates the executor agent.
func NewExecutor(gen llm.Generator, project ProjectContext, maxTokens int) *Executor {
	return &Executor{base{
		id:           task.AgentExecutor,
		gen:          gen,
		project:      project,
		systemPrompt: executorSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute asks the provider for an execution plan over the existing files.
func (a *Executor) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nAnalyze the files and respond with the execution plan JSON."

	resp, err := a.generate(ctx, prompt)
	if err != nil {
		return failure(err)
	}

	meta := map[string]any{}
	if plan, ok := scrapeJSON(resp.Content); ok {
		meta["execution_plan"] = plan
		meta["run_command"] = jsonString(plan, "run_command")
	}

	return &Result{
		Success:    true,
		Content:    resp.Content,
		TokensUsed: resp.TokensUsed,
		Metadata:   meta,
	}
}
