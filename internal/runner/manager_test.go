package runner

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/taskweave/internal/workflow"
)

type fixedPlanner struct{ steps []string }

func (p fixedPlanner) CreatePlan(_ context.Context, _ string, _ []string, _ workflow.Options) (*workflow.Plan, error) {
	plan := &workflow.Plan{}
	for _, id := range p.steps {
		plan.Steps = append(plan.Steps, &workflow.PlanStep{
			ID: id, Description: "step " + id, Status: workflow.StepPending,
		})
	}
	return plan, nil
}

type fixedCoder struct{}

func (fixedCoder) ImplementStep(_ context.Context, step *workflow.PlanStep, _ string, _ workflow.Options) (string, error) {
	return "CODE_" + step.ID, nil
}

type fixedReviewer struct{ approve bool }

func (r fixedReviewer) ReviewCode(_ context.Context, _, _ string, _ workflow.Options) (workflow.ReviewResult, error) {
	if r.approve {
		return workflow.ReviewResult{Approved: true}, nil
	}
	return workflow.ReviewResult{Approved: false, Feedback: "rejected"}, nil
}

func newTestManager(t *testing.T, approve bool) *Manager {
	t.Helper()
	orch := workflow.New(fixedPlanner{steps: []string{"1", "2"}}, fixedCoder{}, fixedReviewer{approve: approve}, 2, nil)
	m := NewManager(orch, nil, nil, 2, nil)
	t.Cleanup(m.Close)
	return m
}

func waitForRun(t *testing.T, m *Manager, id string) *Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := m.Get(id)
		if !ok {
			t.Fatalf("run %s not found", id)
		}
		if run.Status != RunRunning {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return nil
}

func TestManagerRunCompletes(t *testing.T) {
	m := newTestManager(t, true)

	id, err := m.Start("build the thing", []string{"a.go"}, workflow.Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	run := waitForRun(t, m, id)
	if run.Status != RunCompleted {
		t.Fatalf("status = %q, want completed", run.Status)
	}
	if run.Result == nil || run.Result.CombinedCode != "CODE_1\nCODE_2" {
		t.Errorf("result = %+v", run.Result)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	events, ok := m.Events(id)
	if !ok || len(events) == 0 {
		t.Fatal("no buffered events")
	}
	last := events[len(events)-1]
	if last.Agent != workflow.AgentSystem || last.Status != workflow.ProgressCompleted {
		t.Errorf("terminal event = %s/%s", last.Agent, last.Status)
	}
}

func TestManagerRunPartialOnRejection(t *testing.T) {
	m := newTestManager(t, false)

	id, err := m.Start("build the thing", nil, workflow.Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	run := waitForRun(t, m, id)
	if run.Status != RunPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
	if run.Result == nil {
		t.Fatal("partial run must still carry a result")
	}
	if fs := run.Result.FailedStep(); fs == nil || fs.ID != "1" {
		t.Errorf("FailedStep() = %+v, want step 1", fs)
	}
}

func TestManagerRejectsEmptyTask(t *testing.T) {
	m := newTestManager(t, true)
	if _, err := m.Start("", nil, workflow.Options{}); err == nil {
		t.Fatal("empty task must be rejected")
	}
}

func TestManagerUnknownRun(t *testing.T) {
	m := newTestManager(t, true)
	if _, ok := m.Get("nope"); ok {
		t.Error("Get(nope) = ok")
	}
	if _, ok := m.Events("nope"); ok {
		t.Error("Events(nope) = ok")
	}
}

func TestManagerConcurrentRunsAreIsolated(t *testing.T) {
	m := newTestManager(t, true)

	idA, err := m.Start("task A", nil, workflow.Options{})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	idB, err := m.Start("task B", nil, workflow.Options{})
	if err != nil {
		t.Fatalf("start B: %v", err)
	}

	runA := waitForRun(t, m, idA)
	runB := waitForRun(t, m, idB)

	if runA.ID == runB.ID {
		t.Fatal("runs share an id")
	}
	if runA.Result.Plan == runB.Result.Plan {
		t.Error("runs share a plan")
	}
	if len(m.List()) != 2 {
		t.Errorf("List() has %d runs, want 2", len(m.List()))
	}
}
