package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

const reviewerSystemPrompt = `You are a code review agent. Judge whether the submitted code change satisfies the task.

Respond with JSON only, in this shape:
{"approved":true,"feedback":"..."}

Set approved to false and explain what is wrong in feedback when the change does not satisfy the task.`

// parseFallbackFeedback is returned when the reviewer's response cannot
// be parsed. Review is advisory, so a formatting failure approves the
// change rather than blocking the pipeline.
const parseFallbackFeedback = "review response could not be parsed; approving to keep the pipeline moving"

// Reviewer judges a code blob against the original task. Stateless per
// call. An unparseable response degrades to approval instead of failing
// the run.
type Reviewer struct {
	gen    Generator
	logger *zap.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(gen Generator, logger *zap.Logger) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{gen: gen, logger: logger}
}

// ReviewCode performs one collaborator call and parses the verdict.
// Collaborator errors propagate unmodified; parse failures do not.
func (r *Reviewer) ReviewCode(ctx context.Context, code, task string, opts workflow.Options) (workflow.ReviewResult, error) {
	prompt := fmt.Sprintf("Task:\n%s\n\nSubmitted code change:\n%s", task, code)

	raw, err := r.gen.Generate(ctx, reviewerSystemPrompt, prompt, opts)
	if err != nil {
		return workflow.ReviewResult{}, err
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		r.logger.Warn("reviewer response unparseable, approving", zap.Error(err))
		return workflow.ReviewResult{Approved: true, Feedback: parseFallbackFeedback}, nil
	}

	var result workflow.ReviewResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		r.logger.Warn("reviewer verdict not valid JSON, approving", zap.Error(err))
		return workflow.ReviewResult{Approved: true, Feedback: parseFallbackFeedback}, nil
	}
	return result, nil
}
