package workflow

import "fmt"

// StepStatus tracks the lifecycle of a single plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed
}

// validTransitions defines allowed step state transitions.
var validTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning},
	StepRunning: {StepCompleted, StepFailed},
}

// Transition returns nil if from→to is a legal step transition.
func Transition(from, to StepStatus) error {
	for _, s := range validTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid step transition %q -> %q", from, to)
}

// PlanStep is one unit of work in a plan. Steps are created by the
// planner in pending state and mutated only by the orchestrator.
type PlanStep struct {
	ID            string     `json:"id"`
	Description   string     `json:"description"`
	AffectedFiles []string   `json:"affected_files,omitempty"`
	Status        StepStatus `json:"status"`
	Feedback      string     `json:"feedback,omitempty"` // last reviewer feedback, set on rejection
}

// Plan is the ordered step list for one task. A plan is exclusively
// owned by a single orchestrator run for its lifetime.
type Plan struct {
	Steps []*PlanStep `json:"steps"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *PlanStep {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ReviewResult is the reviewer's judgment of one implementation attempt.
type ReviewResult struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// WorkflowResult is the aggregated outcome of a run: the final plan and
// the trimmed, order-preserving concatenation of every completed step's
// code fragment.
type WorkflowResult struct {
	Plan         *Plan  `json:"plan"`
	CombinedCode string `json:"combined_code"`
}

// Completed reports whether every step in the plan finished successfully.
func (r *WorkflowResult) Completed() bool {
	for _, s := range r.Plan.Steps {
		if s.Status != StepCompleted {
			return false
		}
	}
	return true
}

// FailedStep returns the first failed step, or nil when none failed.
func (r *WorkflowResult) FailedStep() *PlanStep {
	for _, s := range r.Plan.Steps {
		if s.Status == StepFailed {
			return s
		}
	}
	return nil
}

// Options is the opaque execution-context bundle forwarded to every
// collaborator call. The core never inspects it.
type Options struct {
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}
