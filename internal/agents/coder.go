package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

const coderSystemPrompt = `You are a coding agent. Implement exactly one step of a larger plan.

Return the complete code change as text. Do not explain the change or add commentary.`

// Coder generates the code-change text for a single plan step. It does
// no structural validation of its own output — judging the result is the
// reviewer's job. Collaborator errors propagate unmodified.
type Coder struct {
	gen    Generator
	logger *zap.Logger
}

// NewCoder creates a Coder.
func NewCoder(gen Generator, logger *zap.Logger) *Coder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coder{gen: gen, logger: logger}
}

// ImplementStep performs one collaborator call for the step and returns
// the raw code text.
func (c *Coder) ImplementStep(ctx context.Context, step *workflow.PlanStep, task string, opts workflow.Options) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall task:\n%s\n\nCurrent step:\n%s\n", task, step.Description)
	if len(step.AffectedFiles) > 0 {
		fmt.Fprintf(&b, "\nFiles to change:\n")
		for _, f := range step.AffectedFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	code, err := c.gen.Generate(ctx, coderSystemPrompt, b.String(), opts)
	if err != nil {
		return "", err
	}
	c.logger.Debug("step implemented",
		zap.String("step", step.ID),
		zap.Int("bytes", len(code)))
	return code, nil
}
