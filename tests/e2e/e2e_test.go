package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/taskweave/internal/relay"
	"github.com/nidhogg/taskweave/internal/runner"
	"github.com/nidhogg/taskweave/internal/store"
	"github.com/nidhogg/taskweave/internal/workflow"
)

func TestMain(m *testing.M) {
	if os.Getenv("TASKWEAVE_E2E") == "" {
		// Individual tests skip themselves via skipIfNoStack.
		os.Exit(m.Run())
	}

	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	dsn, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		pgCleanup()
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}

	testStore, err = store.New(dsn, testLogger)
	if err != nil {
		redisCleanup()
		pgCleanup()
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}
	if err := testStore.Migrate(ctx, "../../migrations"); err != nil {
		testStore.Close()
		redisCleanup()
		pgCleanup()
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}

	testRelay, err = relay.New(redisURL, testLogger)
	if err != nil {
		testStore.Close()
		redisCleanup()
		pgCleanup()
		fmt.Fprintf(os.Stderr, "e2e setup: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testRelay.Close()
	testStore.Close()
	redisCleanup()
	pgCleanup()
	os.Exit(code)
}

func TestRunRecordRoundTrip(t *testing.T) {
	skipIfNoStack(t)
	ctx := context.Background()

	rec := &store.RunRecord{
		ID:         "11111111-1111-1111-1111-111111111111",
		Task:       "add request logging",
		KnownFiles: []string{"server.go", "middleware.go"},
		Status:     "running",
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := testStore.InsertRun(ctx, rec); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	got, err := testStore.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Task != rec.Task || got.Status != "running" {
		t.Errorf("got %+v", got)
	}
	if len(got.KnownFiles) != 2 || got.KnownFiles[0] != "server.go" {
		t.Errorf("known files = %v", got.KnownFiles)
	}

	finished := time.Now().UTC().Truncate(time.Millisecond)
	rec.Status = "completed"
	rec.CombinedCode = "CODE_1\nCODE_2"
	rec.Plan = &workflow.Plan{Steps: []*workflow.PlanStep{
		{ID: "1", Description: "step 1", Status: workflow.StepCompleted},
		{ID: "2", Description: "step 2", Status: workflow.StepCompleted},
	}}
	rec.FinishedAt = &finished
	if err := testStore.FinishRun(ctx, rec); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err = testStore.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get finished run: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q", got.Status)
	}
	if got.CombinedCode != "CODE_1\nCODE_2" {
		t.Errorf("combined code = %q", got.CombinedCode)
	}
	if got.Plan == nil || len(got.Plan.Steps) != 2 || got.Plan.Steps[1].Status != workflow.StepCompleted {
		t.Errorf("plan = %+v", got.Plan)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not stored")
	}

	runs, err := testStore.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	found := false
	for _, r := range runs {
		if r.ID == rec.ID {
			found = true
		}
	}
	if !found {
		t.Error("run missing from list")
	}
}

func TestGetRunNotFound(t *testing.T) {
	skipIfNoStack(t)

	_, err := testStore.GetRun(context.Background(), "22222222-2222-2222-2222-222222222222")
	if !errors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("err = %v, want ErrRunNotFound", err)
	}
}

func TestRelayPublishSubscribe(t *testing.T) {
	skipIfNoStack(t)

	runID := "relay-roundtrip"
	sink := testRelay.SinkFor(runID)

	published := []workflow.ProgressUpdate{
		{Agent: workflow.AgentSystem, Status: workflow.ProgressInfo, Message: "Starting workflow"},
		{Agent: workflow.AgentPlanner, Status: workflow.ProgressWorking, Message: "Creating plan"},
		{Agent: workflow.AgentSystem, Status: workflow.ProgressCompleted, Message: "Workflow complete"},
	}
	for _, u := range published {
		sink.Notify(u)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := testRelay.Subscribe(ctx, runID)
	var got []workflow.ProgressUpdate
	for len(got) < len(published) {
		select {
		case u := <-ch:
			got = append(got, u)
		case <-ctx.Done():
			t.Fatalf("received %d/%d updates before timeout", len(got), len(published))
		}
	}

	for i, want := range published {
		if got[i].Agent != want.Agent || got[i].Status != want.Status || got[i].Message != want.Message {
			t.Errorf("update %d = %+v, want %+v", i, got[i], want)
		}
	}

	// Cancelling the subscription closes the channel even though the
	// client may wrap the context error.
	cancel()
	select {
	case _, open := <-ch:
		if open {
			// Drain any update raced in before the cancel took effect.
			for range ch {
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
}

// TestManagerPersistsAndRelays drives a full run through the manager with
// both the Postgres store and the Redis relay attached.
func TestManagerPersistsAndRelays(t *testing.T) {
	skipIfNoStack(t)

	orch := workflow.New(
		scriptedPlanner{steps: []string{"1", "2"}},
		scriptedCoder{},
		scriptedReviewer{},
		3,
		testLogger,
	)
	m := runner.NewManager(orch, testStore, testRelay, 2, testLogger)
	defer m.Close()

	id, err := m.Start("wire the progress relay", []string{"relay.go"}, workflow.Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		run, ok := m.Get(id)
		if !ok {
			t.Fatal("run vanished")
		}
		if run.Status != runner.RunRunning {
			if run.Status != runner.RunCompleted {
				t.Fatalf("status = %q, want completed", run.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not finish")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Outcome persisted to Postgres.
	rec, err := testStore.GetRun(context.Background(), id)
	if err != nil {
		t.Fatalf("get persisted run: %v", err)
	}
	if rec.Status != string(runner.RunCompleted) {
		t.Errorf("persisted status = %q", rec.Status)
	}
	if rec.CombinedCode != "CODE_1\nCODE_2" {
		t.Errorf("persisted combined code = %q", rec.CombinedCode)
	}
	if rec.Plan == nil || len(rec.Plan.Steps) != 2 {
		t.Errorf("persisted plan = %+v", rec.Plan)
	}

	// Progress relayed over Redis, ending with the terminal event.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := testRelay.Subscribe(ctx, id)
	var updates []workflow.ProgressUpdate
	terminal := false
	for !terminal {
		select {
		case u := <-ch:
			updates = append(updates, u)
			terminal = u.Agent == workflow.AgentSystem && u.Status == workflow.ProgressCompleted
		case <-ctx.Done():
			t.Fatal("relay stream incomplete")
		}
	}
	if updates[0].Agent != workflow.AgentSystem || updates[0].Status != workflow.ProgressInfo {
		t.Errorf("first relayed update = %+v", updates[0])
	}
}
