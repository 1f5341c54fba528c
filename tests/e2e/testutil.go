package e2e

import (
	"context"
	"fmt"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/taskweave/internal/relay"
	"github.com/nidhogg/taskweave/internal/store"
	"github.com/nidhogg/taskweave/internal/workflow"
)

// Package-level shared state, set by TestMain when TASKWEAVE_E2E is set.
var (
	testLogger *zap.Logger
	testStore  *store.Store
	testRelay  *relay.Relay
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("taskweave_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// skipIfNoStack skips the test when the container stack was not started.
func skipIfNoStack(t *testing.T) {
	t.Helper()
	if testStore == nil || testRelay == nil {
		t.Skip("container stack not configured (set TASKWEAVE_E2E=1)")
	}
}

// Deterministic collaborators for driving the full pipeline without an
// LLM provider.

type scriptedPlanner struct{ steps []string }

func (p scriptedPlanner) CreatePlan(_ context.Context, _ string, _ []string, _ workflow.Options) (*workflow.Plan, error) {
	plan := &workflow.Plan{}
	for _, id := range p.steps {
		plan.Steps = append(plan.Steps, &workflow.PlanStep{
			ID: id, Description: "step " + id, Status: workflow.StepPending,
		})
	}
	return plan, nil
}

type scriptedCoder struct{}

func (scriptedCoder) ImplementStep(_ context.Context, step *workflow.PlanStep, _ string, _ workflow.Options) (string, error) {
	return "CODE_" + step.ID, nil
}

type scriptedReviewer struct{}

func (scriptedReviewer) ReviewCode(_ context.Context, _, _ string, _ workflow.Options) (workflow.ReviewResult, error) {
	return workflow.ReviewResult{Approved: true}, nil
}
