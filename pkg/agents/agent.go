// Package agents wraps meeting roles behind one capability: given a phase, a
// facilitator instruction and recent context, produce a single turn.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-go-golems/kickoff/pkg/llm"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
)

// Turn is one agent reply.
type Turn struct {
	Role    string
	Phase   string
	Content string
}

type Agent interface {
	Role() string
	Respond(ctx context.Context, phase, instruction string, contextMessages []llm.Message) (Turn, error)
}

// Registry resolves roles to agents.
type Registry struct {
	agents map[string]Agent
}

func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: map[string]Agent{}}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any agent already bound to its role.
func (r *Registry) Register(a Agent) {
	r.agents[a.Role()] = a
}

func (r *Registry) Get(role string) (Agent, bool) {
	a, ok := r.agents[role]
	return a, ok
}

func (r *Registry) Roles() []string {
	out := make([]string, 0, len(r.agents))
	for role := range r.agents {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// LLMAgent answers through an llm.Client using an embedded role prompt.
type LLMAgent struct {
	role         string
	language     string
	systemPrompt string
	client       llm.Client
}

var _ Agent = (*LLMAgent)(nil)

func NewLLMAgent(role string, client llm.Client, language string) (*LLMAgent, error) {
	if client == nil {
		return nil, errors.New("llm agent: nil client")
	}
	prompt, err := SystemPrompt(role, language)
	if err != nil {
		return nil, err
	}
	return &LLMAgent{
		role:         role,
		language:     phases.NormalizeLanguage(language),
		systemPrompt: prompt,
		client:       client,
	}, nil
}

func (a *LLMAgent) Role() string { return a.role }

func (a *LLMAgent) Respond(ctx context.Context, phase, instruction string, contextMessages []llm.Message) (Turn, error) {
	messages := make([]llm.Message, 0, len(contextMessages)+2)
	messages = append(messages, llm.Message{Role: llm.MessageRoleSystem, Content: a.systemPrompt})
	messages = append(messages, contextMessages...)
	messages = append(messages, llm.Message{
		Role: llm.MessageRoleUser,
		Content: fmt.Sprintf(
			"%s\nFacilitator instruction: %s\nReturn role-scoped response only.",
			phases.ContextPrompt(phase, a.language), instruction,
		),
	})

	text, err := a.client.Complete(ctx, a.role, messages)
	if err != nil {
		return Turn{}, errors.Wrapf(err, "%s respond", a.role)
	}
	return Turn{Role: a.role, Phase: phase, Content: text}, nil
}

// NewDefaultRegistry binds the facilitator and every specialist role to client.
func NewDefaultRegistry(client llm.Client, language string) (*Registry, error) {
	r := NewRegistry()
	roles := append([]string{phases.RoleFacilitator}, phases.SpecialistRoles...)
	for _, role := range roles {
		a, err := NewLLMAgent(role, client, language)
		if err != nil {
			return nil, err
		}
		r.Register(a)
	}
	return r, nil
}
