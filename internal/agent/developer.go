package agent

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

func developerSystemPrompt(language string) string {
	return fmt.Sprintf(`You are an expert %s developer. Write clean, complete,
working code with error handling, following %s conventions.

When creating files, use this EXACT format for each file:

### filename.ext
`+"```"+`language
code here
`+"```"+`

Create ALL necessary files for the task, including configuration files.`, language, language)
}

// Developer writes code and extracts the produced files from the response.
type Developer struct {
	base
}

// NewDeveloper creates the developer agent.
func NewDeveloper(gen llm.Generator, project ProjectContext, maxTokens int) *Developer {
	return &Developer{base{
		id:           task.AgentDeveloper,
		gen:          gen,
		project:      project,
		systemPrompt: developerSystemPrompt(orUnknown(project.Language)),
		maxTokens:    maxTokens,
	}}
}

// Execute generates code for the task and extracts (path, content) pairs.
func (a *Developer) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec) +
		"\n\nCreate all necessary files for this task. Use the exact format: ### filename.ext followed by a code block."

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

func filePaths(files []File) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}
