package agent

import (
	"context"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const debuggerSystemPrompt = `You are a debugger. Analyze the error messages,
identify the root cause, and provide COMPLETE corrected files (never snippets).

Provide each fixed file in this EXACT format:

### filename.ext
` + "```" + `language
corrected code
` + "```"

// Debugger identifies and fixes errors, returning corrected files.
type Debugger struct {
	base
}

// NewDebugger creates the debugger agent.
func NewDebugger(gen llm.Generator, project ProjectContext, maxTokens int) *Debugger {
	return &Debugger{base{
		id:           task.AgentDebugger,
		gen:          gen,
		project:      project,
		systemPrompt: debuggerSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute analyzes the errors in context and extracts corrected files.
func (a *Debugger) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nProvide complete corrected files using the exact format: ### filename.ext followed by a code block."

	resp, err := a.generate(ctx, prompt)
	if err != nil {
		return failure(err)
	}

	files := ExtractFiles(resp.Content)
	return &Result{
		Success:      true,
		Content:      resp.Content,
		TokensUsed:   resp.TokensUsed,
		FilesCreated: files,
		Metadata: map[string]any{
			"files_count": len(files),
		},
	}
}
