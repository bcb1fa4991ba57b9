// Package agent implements the role-specific agents that turn task
// descriptions into generated content and files via the generation provider.
//
// Agents never propagate provider failures past their boundary: network
// errors, timeouts, and malformed responses are converted into a Result with
// Success=false and the error text recorded.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

// File is one (path, content) pair produced by an agent.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// OutputRef is a truncated summary of a prior task's output, carried forward
// as context for later tasks.
type OutputRef struct {
	Agent   string `json:"agent"`
	Summary string `json:"summary"`
}

// Context is the optional structured context passed into an execution.
type Context struct {
	PreviousOutputs      []OutputRef
	ExistingFiles        []File
	Errors               []string
	BuildLogs            string
	OriginalRequirements string
}

// Result is the ephemeral value returned by every execution. It is owned by
// the caller for the duration of one task execution and is not persisted
// directly; its fields are copied into the task and into file-storage calls.
type Result struct {
	Success        bool
	Content        string
	TokensUsed     int
	FilesCreated   []File
	TasksGenerated []task.Task
	Errors         []string
	Metadata       map[string]any
}

// ProjectContext carries the target project's identity into prompts.
type ProjectContext struct {
	Name        string
	Language    string
	Description string
}

// Agent is one role behind the uniform execution interface.
type Agent interface {
	// ID returns the agent's role key used for dispatch.
	ID() task.AgentType

	// Execute runs the agent on a task description. Internal failures are
	// reported through the returned Result, never as a panic or raw error.
	Execute(ctx context.Context, taskDesc string, ec *Context) *Result

	// ExecuteStream runs the same task with the provider in streaming mode.
	// Chunks arrive in generation order; the stream is cancelled by ctx.
	ExecuteStream(ctx context.Context, taskDesc string, ec *Context) (<-chan string, error)
}

const (
	maxPreviousOutputs = 3
	maxContextFiles    = 10
	maxSummaryLen      = 500
)

// base holds the pieces every agent shares: the generator, the project
// context, and the role's fixed system prompt.
type base struct {
	id           task.AgentType
	gen          llm.Generator
	project      ProjectContext
	systemPrompt string
	maxTokens    int
}

func (b *base) ID() task.AgentType { return b.id }

func (b *base) ExecuteStream(ctx context.Context, taskDesc string, ec *Context) (<-chan string, error) {
	return b.gen.GenerateStream(ctx, b.buildPrompt(taskDesc, ec), b.systemPrompt, b.maxTokens)
}

// generate is the non-streaming provider call shared by all agents.
func (b *base) generate(ctx context.Context, prompt string) (*llm.Response, error) {
	return b.gen.Generate(ctx, prompt, b.systemPrompt, b.maxTokens)
}

// buildPrompt assembles the full prompt: project identity, the most recent
// prior outputs (truncated), a subset of existing file paths, errors to
// address, and finally the task itself.
func (b *base) buildPrompt(taskDesc string, ec *Context) string {
	var sb strings.Builder

	if b.project.Name != "" || b.project.Language != "" {
		sb.WriteString("## Project Context\n")
		fmt.Fprintf(&sb, "Language: %s\n", orUnknown(b.project.Language))
		fmt.Fprintf(&sb, "Project: %s\n", orUnknown(b.project.Name))
		if b.project.Description != "" {
			fmt.Fprintf(&sb, "Description: %s\n", b.project.Description)
		}
		sb.WriteString("\n")
	}

	if ec != nil {
		if len(ec.PreviousOutputs) > 0 {
			sb.WriteString("## Previous Agent Outputs\n")
			outputs := ec.PreviousOutputs
			if len(outputs) > maxPreviousOutputs {
				outputs = outputs[len(outputs)-maxPreviousOutputs:]
			}
			for _, o := range outputs {
				fmt.Fprintf(&sb, "[%s]: %s\n", o.Agent, truncate(o.Summary, maxSummaryLen))
			}
			sb.WriteString("\n")
		}

		if len(ec.ExistingFiles) > 0 {
			sb.WriteString("## Existing Files\n")
			files := ec.ExistingFiles
			if len(files) > maxContextFiles {
				files = files[:maxContextFiles]
			}
			for _, f := range files {
				fmt.Fprintf(&sb, "- %s\n", f.Path)
			}
			sb.WriteString("\n")
		}

		if len(ec.Errors) > 0 {
			sb.WriteString("## Errors to Address\n")
			for _, e := range ec.Errors {
				fmt.Fprintf(&sb, "- %s\n", e)
			}
			sb.WriteString("\n")
		}

		if ec.BuildLogs != "" {
			sb.WriteString("## Build Logs\n```\n" + ec.BuildLogs + "\n```\n\n")
		}
	}

	sb.WriteString("## Task\n")
	sb.WriteString(taskDesc)
	return sb.String()
}

// failure converts an internal error into an unsuccessful Result.
func failure(err error) *Result {
	return &Result{
		Success: false,
		Content: err.Error(),
		Errors:  []string{err.Error()},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
