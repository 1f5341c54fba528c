package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the implement→review attempts per step.
const DefaultMaxIterations = 3

// Planner decomposes a task into an ordered plan of steps.
type Planner interface {
	CreatePlan(ctx context.Context, task string, knownFiles []string, opts Options) (*Plan, error)
}

// Implementer generates a code-change text blob for one step.
type Implementer interface {
	ImplementStep(ctx context.Context, step *PlanStep, task string, opts Options) (string, error)
}

// Reviewer judges a code blob against the original task.
type Reviewer interface {
	ReviewCode(ctx context.Context, code, task string, opts Options) (ReviewResult, error)
}

// Orchestrator drives the plan → (implement ⇄ review) state machine for
// one task at a time. It is an immutable value object: construct it once
// at startup and share it across runs — each run owns its plan and sink,
// so concurrent runs never contend.
type Orchestrator struct {
	planner       Planner
	coder         Implementer
	reviewer      Reviewer
	maxIterations int
	logger        *zap.Logger
}

// New creates an Orchestrator. maxIterations <= 0 selects the default.
func New(planner Planner, coder Implementer, reviewer Reviewer, maxIterations int, logger *zap.Logger) *Orchestrator {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		planner:       planner,
		coder:         coder,
		reviewer:      reviewer,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run executes the full workflow for a task: plan, then implement and
// review each step strictly in order, fail-fast on the first step that
// exhausts its iteration budget.
//
// Step exhaustion is not an error: the result carries the partial plan
// with the failed step marked, and whatever code accumulated before it.
// Planning failures and collaborator faults propagate as errors, after a
// terminal System/failed event, and no result is produced.
func (o *Orchestrator) Run(ctx context.Context, task string, knownFiles []string, opts Options, sink ProgressSink) (*WorkflowResult, error) {
	if sink == nil {
		sink = nopSink{}
	}

	o.emit(sink, ProgressUpdate{
		Agent:   AgentSystem,
		Message: "workflow starting",
		Status:  ProgressInfo,
	})

	o.emit(sink, ProgressUpdate{
		Agent:   AgentPlanner,
		Message: "decomposing task into steps",
		Status:  ProgressWorking,
	})

	plan, err := o.planner.CreatePlan(ctx, task, knownFiles, opts)
	if err != nil {
		o.logger.Error("planning failed", zap.Error(err))
		o.emit(sink, ProgressUpdate{
			Agent:   AgentSystem,
			Message: fmt.Sprintf("workflow aborted: %v", err),
			Status:  ProgressFailed,
		})
		return nil, err
	}

	o.logger.Info("plan created", zap.Int("steps", len(plan.Steps)))
	o.emit(sink, ProgressUpdate{
		Agent:   AgentPlanner,
		Message: fmt.Sprintf("plan created with %d step(s)", len(plan.Steps)),
		Status:  ProgressCompleted,
	})

	var fragments []string

steps:
	for _, step := range plan.Steps {
		if err := o.setStatus(step, StepRunning); err != nil {
			return nil, err
		}
		o.emit(sink, ProgressUpdate{
			Agent:   AgentSystem,
			StepID:  step.ID,
			Message: fmt.Sprintf("step started: %s", step.Description),
			Status:  ProgressInfo,
		})

		approved := false
		for iter := 1; iter <= o.maxIterations; iter++ {
			if err := o.checkCancel(ctx, sink, step); err != nil {
				return nil, err
			}
			o.emit(sink, ProgressUpdate{
				Agent:   AgentCoder,
				StepID:  step.ID,
				Message: fmt.Sprintf("implementing (attempt %d/%d)", iter, o.maxIterations),
				Status:  ProgressWorking,
			})

			code, err := o.coder.ImplementStep(ctx, step, task, opts)
			if err != nil {
				return nil, o.abort(sink, step, fmt.Errorf("implement step %s: %w", step.ID, err))
			}

			if err := o.checkCancel(ctx, sink, step); err != nil {
				return nil, err
			}
			o.emit(sink, ProgressUpdate{
				Agent:   AgentReviewer,
				StepID:  step.ID,
				Message: "reviewing implementation",
				Status:  ProgressWorking,
			})

			review, err := o.reviewer.ReviewCode(ctx, code, task, opts)
			if err != nil {
				return nil, o.abort(sink, step, fmt.Errorf("review step %s: %w", step.ID, err))
			}

			if review.Approved {
				if err := o.setStatus(step, StepCompleted); err != nil {
					return nil, err
				}
				fragments = append(fragments, code)
				o.emit(sink, ProgressUpdate{
					Agent:   AgentReviewer,
					StepID:  step.ID,
					Message: "implementation approved",
					Status:  ProgressCompleted,
				})
				approved = true
				break
			}

			// Rejected: record feedback on the step and retry from the
			// original description. Feedback is deliberately not threaded
			// into the next implementer prompt.
			step.Feedback = review.Feedback
			o.logger.Debug("step rejected",
				zap.String("step", step.ID),
				zap.Int("iteration", iter),
				zap.String("feedback", review.Feedback))
			o.emit(sink, ProgressUpdate{
				Agent:   AgentReviewer,
				StepID:  step.ID,
				Message: fmt.Sprintf("changes rejected: %s", review.Feedback),
				Status:  ProgressInfo,
			})
		}

		if !approved {
			if err := o.setStatus(step, StepFailed); err != nil {
				return nil, err
			}
			o.logger.Warn("step exhausted iteration budget",
				zap.String("step", step.ID),
				zap.Int("max_iterations", o.maxIterations))
			o.emit(sink, ProgressUpdate{
				Agent:   AgentSystem,
				StepID:  step.ID,
				Message: fmt.Sprintf("step failed after %d attempt(s)", o.maxIterations),
				Status:  ProgressFailed,
			})
			// Fail-fast: remaining steps stay pending.
			break steps
		}
	}

	result := &WorkflowResult{
		Plan:         plan,
		CombinedCode: strings.TrimSpace(strings.Join(fragments, "\n")),
	}

	if result.Completed() {
		o.emit(sink, ProgressUpdate{
			Agent:   AgentSystem,
			Message: "workflow completed",
			Status:  ProgressCompleted,
		})
	}
	return result, nil
}

// abort emits the terminal failure event for an unrecoverable error so
// an observer watching only the progress stream never believes the run
// is still active.
func (o *Orchestrator) abort(sink ProgressSink, step *PlanStep, err error) error {
	o.logger.Error("workflow aborted", zap.String("step", step.ID), zap.Error(err))
	o.emit(sink, ProgressUpdate{
		Agent:   AgentSystem,
		StepID:  step.ID,
		Message: fmt.Sprintf("workflow aborted: %v", err),
		Status:  ProgressFailed,
	})
	return err
}

// checkCancel enforces cancellation at suspension points, between
// collaborator calls.
func (o *Orchestrator) checkCancel(ctx context.Context, sink ProgressSink, step *PlanStep) error {
	if err := ctx.Err(); err != nil {
		return o.abort(sink, step, err)
	}
	return nil
}

func (o *Orchestrator) setStatus(step *PlanStep, to StepStatus) error {
	if err := Transition(step.Status, to); err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}
	step.Status = to
	return nil
}

// emit delivers a progress update, swallowing sink panics. The sink is
// best-effort by contract.
func (o *Orchestrator) emit(sink ProgressSink, u ProgressUpdate) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn("progress sink panicked", zap.Any("panic", r))
		}
	}()
	sink.Notify(u)
}
