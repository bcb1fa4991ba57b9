package agent

import (
	"context"
	"fmt"

	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

const verifierSystemPrompt = `You are a code reviewer. Compare the
implementation against the original requirements, check completeness and
quality, list any issues found, and end with a clear verdict line containing
**PASS** or **FAIL**.`

// maxVerifierFileLen bounds how much of each file is quoted into the prompt.
const maxVerifierFileLen = 2000

// Verifier validates the implementation against requirements. The caller
// derives pass/fail from the free-text verdict via Verdict.
type Verifier struct {
	base
}

// NewVerifier creates the verifier agent.
func NewVerifier(gen llm.Generator, project ProjectContext, maxTokens int) *Verifier {
	return &Verifier{base{
		id:           task.AgentVerifier,
		gen:          gen,
		project:      project,
		systemPrompt: verifierSystemPrompt,
		maxTokens:    maxTokens,
	}}
}

// Execute reviews the current implementation and records the verdict in the
// result metadata.
func (a *Verifier) Execute(ctx context.Context, taskDesc string, ec *Context) *Result {
	prompt := a.buildPrompt(taskDesc, ec)

	if ec != nil {
		if ec.OriginalRequirements != "" {
			prompt += "\n\n## Original Requirements\n" + ec.OriginalRequirements + "\n"
		}
		if len(ec.ExistingFiles) > 0 {
			prompt += "\n\n## Current Implementation\n"
			for _, f := range ec.ExistingFiles {
				prompt += fmt.Sprintf("\n### %s\n```\n%s\n```\n", f.Path, truncate(f.Content, maxVerifierFileLen))
			}
		}
	}
	prompt += "\n\nVerify the implementation and provide a detailed report."

	resp, err := a.generate(ctx, prompt)
	if err != nil {
		return failure(err)
	}

	passed := Verdict(resp.Content)
	verdict := "FAIL"
	if passed {
		verdict = "PASS"
	}

	return &Result{
		Success:    true,
		Content:    resp.Content,
		TokensUsed: resp.TokensUsed,
		Metadata: map[string]any{
			"verification_passed": passed,
			"verdict":             verdict,
		},
	}
}
