package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

const plannerSystemPrompt = `You are a software planning agent. Decompose the coding task into an ordered list of implementation steps.

Respond with JSON only, in this shape:
{"steps":[{"id":"1","description":"...","affected_files":["path/to/file"]}]}

Keep steps small and independently implementable. Use the known files where they are relevant.`

// Planner decomposes a task plus its known file list into an ordered
// plan. It is stateless per call; a planning failure is fatal to the
// whole run and is not retried here.
type Planner struct {
	gen    Generator
	logger *zap.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(gen Generator, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gen: gen, logger: logger}
}

// plannerPayload matches the structured step list requested from the
// collaborator. Status is accepted but ignored: steps always start
// pending regardless of what was returned.
type plannerPayload struct {
	Steps []struct {
		ID            string   `json:"id"`
		Description   string   `json:"description"`
		AffectedFiles []string `json:"affected_files"`
	} `json:"steps"`
}

// CreatePlan performs one collaborator call and parses the response into
// a Plan. The response may wrap the JSON payload in prose; only the
// first balanced-bracket substring is parsed.
func (p *Planner) CreatePlan(ctx context.Context, task string, knownFiles []string, opts workflow.Options) (*workflow.Plan, error) {
	prompt := buildPlannerPrompt(task, knownFiles)

	raw, err := p.gen.Generate(ctx, plannerSystemPrompt, prompt, opts)
	if err != nil {
		return nil, err
	}

	blob, err := ExtractJSON(raw)
	if err != nil {
		return nil, workflow.NewPlanningError("response contains no step list", raw, err)
	}

	var payload plannerPayload
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		// Tolerate a bare array of steps without the wrapping object.
		if arrErr := json.Unmarshal([]byte(blob), &payload.Steps); arrErr != nil {
			return nil, workflow.NewPlanningError("step list is not valid JSON", raw, err)
		}
	}
	if len(payload.Steps) == 0 {
		return nil, workflow.NewPlanningError("step list is empty", raw, nil)
	}

	plan := &workflow.Plan{}
	seen := make(map[string]bool)
	for i, s := range payload.Steps {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			id = fmt.Sprintf("%d", i+1)
		}
		if seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		plan.Steps = append(plan.Steps, &workflow.PlanStep{
			ID:            id,
			Description:   s.Description,
			AffectedFiles: s.AffectedFiles,
			Status:        workflow.StepPending,
		})
	}

	p.logger.Info("plan parsed", zap.Int("steps", len(plan.Steps)))
	return plan, nil
}

func buildPlannerPrompt(task string, knownFiles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n", task)
	if len(knownFiles) > 0 {
		b.WriteString("\nKnown files:\n")
		for _, f := range knownFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
