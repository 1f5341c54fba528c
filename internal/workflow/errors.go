package workflow

import "fmt"

// PlanningError means the planner could not extract a valid step list
// from the collaborator's response. It is fatal to the run and is not
// retried at this layer.
type PlanningError struct {
	Reason string
	Raw    string // excerpt of the raw response, for diagnostics
	Err    error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("planning failed: %s", e.Reason)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// NewPlanningError builds a PlanningError, truncating the raw response
// so log lines stay bounded.
func NewPlanningError(reason, raw string, err error) *PlanningError {
	const maxRaw = 500
	if len(raw) > maxRaw {
		raw = raw[:maxRaw] + "..."
	}
	return &PlanningError{Reason: reason, Raw: raw, Err: err}
}
