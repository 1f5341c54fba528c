package workflow

// AgentName identifies which role emitted a progress update.
type AgentName string

const (
	AgentSystem   AgentName = "System"
	AgentPlanner  AgentName = "Planner"
	AgentCoder    AgentName = "Coder"
	AgentReviewer AgentName = "Reviewer"
)

// ProgressStatus classifies a progress update.
type ProgressStatus string

const (
	ProgressInfo      ProgressStatus = "info"
	ProgressWorking   ProgressStatus = "working"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// ProgressUpdate is a fire-and-forget notification of run activity.
// Updates for one run are delivered in strict causal order.
type ProgressUpdate struct {
	Agent   AgentName      `json:"agent"`
	StepID  string         `json:"step_id,omitempty"`
	Message string         `json:"message"`
	Status  ProgressStatus `json:"status"`
}

// ProgressSink receives progress updates. Implementations must treat
// delivery as best-effort; the orchestrator swallows sink panics so a
// misbehaving observer can never destabilize a run.
type ProgressSink interface {
	Notify(ProgressUpdate)
}

// SinkFunc adapts a plain function to a ProgressSink.
type SinkFunc func(ProgressUpdate)

// Notify implements ProgressSink.
func (f SinkFunc) Notify(u ProgressUpdate) { f(u) }

// nopSink is the default sink when the caller passes nil.
type nopSink struct{}

func (nopSink) Notify(ProgressUpdate) {}
