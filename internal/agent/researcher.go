package agent

import (
	"context"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const researcherSystemPrompt = `You are a technical researcher. For the given
task, recommend an approach, libraries with versions, best practices, common
pitfalls, and a file structure. Be thorough but concise, and organize the
answer under markdown headings (Overview, Recommended Approach, Libraries &
Dependencies, Best Practices, File Structure, Code Patterns).`

// Researcher gathers documentation and best practices as free text.
type Researcher struct {
	base
}

// NewResearcher creates the researcher agent.
func NewResearcher(gen llm.Generator, project ProjectContext, maxTokens int) *Researcher {
	return &Researcher{base{
		id:           task.AgentResearcher,
		gen:          gen,
		project:      project,
		systemPrompt: researcherSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute gathers research notes for the task.
func (a *Researcher) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	resp, err := a.generate(ctx, a.buildPrompt(taskDesc, ec))
	if err != nil {
		return failure(err)
	}
	return &Result{
		Success:    true,
		Content:    resp.Content,
		TokensUsed: resp.TokensUsed,
	}
}
