package agent

import (
	"github.com/buildhive/buildhive/internal/domain/task"
	"github.com/buildhive/buildhive/internal/port/llm"
)

// Factory constructs one agent variant bound to a generator and project.
type Factory func(gen llm.Generator, project ProjectContext) Agent

// Registry is the dispatch table from agent type to factory, built once at
// startup. Unknown types fall back to the developer agent.
type Registry struct {
	factories map[task.AgentType]Factory
}

// NewRegistry builds the registry with all eight role variants registered.
func NewRegistry(maxTokens int) *Registry {
	r := &Registry{factories: make(map[task.AgentType]Factory)}

	r.Register(task.AgentPlanner, func(g llm.Generator, p ProjectContext) Agent { return NewPlanner(g, p, maxTokens) })
	r.Register(task.AgentResearcher, func(g llm.Generator, p ProjectContext) Agent { return NewResearcher(g, p, maxTokens) })
	r.Register(task.AgentDeveloper, func(g llm.Generator, p ProjectContext) Agent { return NewDeveloper(g, p, maxTokens) })
	r.Register(task.AgentTestDesigner, func(g llm.Generator, p ProjectContext) Agent { return NewTestDesigner(g, p, maxTokens) })
	r.Register(task.AgentExecutor, func(g llm.Generator, p ProjectContext) Agent { return NewExecutor(g, p, maxTokens) })
	r.Register(task.AgentDebugger, func(g llm.Generator, p ProjectContext) Agent { return NewDebugger(g, p, maxTokens) })
	r.Register(task.AgentVerifier, func(g llm.Generator, p ProjectContext) Agent { return NewVerifier(g, p, maxTokens) })
	r.Register(task.AgentErrorAnalyzer, func(g llm.Generator, p ProjectContext) Agent { return NewErrorAnalyzer(g, p, maxTokens) })

	return r
}

// Register adds or replaces the factory for an agent type.
func (r *Registry) Register(t task.AgentType, f Factory) {
	r.factories[t] = f
}

// New constructs the agent for the given type. Unknown types dispatch to the
// developer agent, matching the orchestrator's fallback contract.
func (r *Registry) New(t task.AgentType, gen llm.Generator, project ProjectContext) Agent {
	f, ok := r.factories[t]
	if !ok {
		f = r.factories[task.AgentDeveloper]
	}
	return f(gen, project)
}

// Types returns the registered agent types.
func (r *Registry) Types() []task.AgentType {
	types := make([]task.AgentType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}
