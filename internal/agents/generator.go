package agents

import (
	"context"

	"github.com/nidhogg/taskweave/internal/provider"
	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

// Agent roles used for provider routing.
const (
	RolePlanner  = "planner"
	RoleCoder    = "coder"
	RoleReviewer = "reviewer"
)

// Generator is the text-generation collaborator boundary. Responses may
// embed a JSON payload in surrounding prose; provider-level errors
// propagate unmodified through every agent.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts workflow.Options) (string, error)
}

// GeneratorFunc adapts a plain function to a Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string, opts workflow.Options) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, systemPrompt, userPrompt string, opts workflow.Options) (string, error) {
	return f(ctx, systemPrompt, userPrompt, opts)
}

// RouterGenerator routes agent prompts through the provider router,
// carrying the role so per-role provider bindings apply.
type RouterGenerator struct {
	router *provider.Router
	role   string
	logger *zap.Logger
}

// NewRouterGenerator creates a Generator for the given agent role.
func NewRouterGenerator(router *provider.Router, role string, logger *zap.Logger) *RouterGenerator {
	return &RouterGenerator{router: router, role: role, logger: logger}
}

// Generate sends one chat request and returns the raw response text.
func (g *RouterGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, opts workflow.Options) (string, error) {
	req := &provider.ChatRequest{
		Model:     opts.Model,
		MaxTokens: opts.MaxTokens,
		Messages: []provider.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	resp, err := g.router.Route(ctx, g.role, req)
	if err != nil {
		return "", err
	}
	g.logger.Debug("collaborator response",
		zap.String("role", g.role),
		zap.String("model", resp.Model),
		zap.Int("tokens", resp.Usage.TotalTokens))
	return resp.Content, nil
}
