package agent

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

func testDesignerSystemPrompt(language string) string {
	return fmt.Sprintf(`You are a test engineer for %s projects. Design thorough
test cases covering happy paths, edge cases, and failure modes, and write the
test files.

When creating files, use this EXACT format for each file:

### test_filename.ext
`+"```"+`language
test code here
`+"```", language)
}

// TestDesigner creates test cases and test files.
type TestDesigner struct {
	base
}

// NewTestDesigner creates the test designer agent.
func NewTestDesigner(gen llm.Generator, project ProjectContext, maxTokens int) *TestDesigner {
	return &TestDesigner{base{
		id:           task.AgentTestDesigner,
		gen:          gen,
		project:      project,
		systemPrompt: testDesignerSystemPrompt(orUnknown(project.Language)),
		maxTokens:    maxTokens,
	}}
}

// Execute generates test files for the task.
func (a *TestDesigner) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nCreate the test files. Use the exact format: ### filename.ext followed by a code block."

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
			"file_names":  filePaths(files),
		},
	}
}
