package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/taskweave/internal/relay"
	"github.com/nidhogg/taskweave/internal/store"
	"github.com/nidhogg/taskweave/internal/workflow"
	"go.uber.org/zap"
)

// RunStatus tracks a run's host-level lifecycle.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"   // a step exhausted its budget; prefix result available
	RunFailed    RunStatus = "failed"    // planning failure or collaborator fault, no result
)

// maxBufferedEvents caps the per-run progress buffer. A run's event
// count is bounded by steps × iterations, so this only guards against
// pathological plans.
const maxBufferedEvents = 1024

// Run is the host-side record of one workflow execution.
type Run struct {
	ID         string                   `json:"id"`
	Task       string                   `json:"task"`
	KnownFiles []string                 `json:"known_files,omitempty"`
	Options    workflow.Options         `json:"options,omitempty"`
	Status     RunStatus                `json:"status"`
	Result     *workflow.WorkflowResult `json:"result,omitempty"`
	Error      string                   `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`

	events []workflow.ProgressUpdate
}

// Manager owns concurrent workflow runs. Each run gets its own plan and
// progress sink, so runs never share mutable state; a bounded pool caps
// how many execute at once.
type Manager struct {
	orch   *workflow.Orchestrator
	store  *store.Store // optional run-history persistence
	relay  *relay.Relay // optional external progress relay
	runs   map[string]*Run
	mu     sync.RWMutex
	pool   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewManager creates a run manager with a bounded execution pool.
// Store and relay are optional; nil disables them.
func NewManager(orch *workflow.Orchestrator, st *store.Store, rl *relay.Relay, poolSize int, logger *zap.Logger) *Manager {
	if poolSize <= 0 {
		poolSize = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		orch:   orch,
		store:  st,
		relay:  rl,
		runs:   make(map[string]*Run),
		pool:   make(chan struct{}, poolSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start launches a workflow run asynchronously and returns its id.
func (m *Manager) Start(task string, knownFiles []string, opts workflow.Options) (string, error) {
	if task == "" {
		return "", fmt.Errorf("task must not be empty")
	}

	run := &Run{
		ID:         uuid.New().String(),
		Task:       task,
		KnownFiles: knownFiles,
		Options:    opts,
		Status:     RunRunning,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.InsertRun(context.Background(), &store.RunRecord{
			ID:         run.ID,
			Task:       run.Task,
			KnownFiles: run.KnownFiles,
			Status:     string(RunRunning),
			CreatedAt:  run.CreatedAt,
		}); err != nil {
			m.logger.Warn("persist run start failed", zap.String("run", run.ID), zap.Error(err))
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pool <- struct{}{}
		defer func() { <-m.pool }()
		m.execute(run.ID, task, knownFiles, opts)
	}()

	m.logger.Info("run started", zap.String("run", run.ID))
	return run.ID, nil
}

func (m *Manager) execute(runID, task string, knownFiles []string, opts workflow.Options) {
	sink := workflow.SinkFunc(func(u workflow.ProgressUpdate) {
		m.appendEvent(runID, u)
	})
	var combined workflow.ProgressSink = sink
	if m.relay != nil {
		relaySink := m.relay.SinkFor(runID)
		combined = workflow.SinkFunc(func(u workflow.ProgressUpdate) {
			sink.Notify(u)
			relaySink.Notify(u)
		})
	}

	result, err := m.orch.Run(m.ctx, task, knownFiles, opts, combined)

	now := time.Now()
	m.mu.Lock()
	run := m.runs[runID]
	run.FinishedAt = &now
	switch {
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
	case result.Completed():
		run.Status = RunCompleted
		run.Result = result
	default:
		run.Status = RunPartial
		run.Result = result
	}
	rec := m.record(run)
	m.mu.Unlock()

	m.logger.Info("run finished",
		zap.String("run", runID),
		zap.String("status", string(rec.Status)))

	if m.store != nil {
		if err := m.store.FinishRun(context.Background(), toStoreRecord(rec)); err != nil {
			m.logger.Warn("persist run outcome failed", zap.String("run", runID), zap.Error(err))
		}
	}
}

func (m *Manager) appendEvent(runID string, u workflow.ProgressUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok || len(run.events) >= maxBufferedEvents {
		return
	}
	run.events = append(run.events, u)
}

// record returns a caller-owned copy of a run. Must hold m.mu.
func (m *Manager) record(run *Run) *Run {
	cp := *run
	cp.events = nil
	return &cp
}

// Get returns a snapshot of one run.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	return m.record(run), true
}

// List returns snapshots of all known runs.
func (m *Manager) List() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, m.record(run))
	}
	return out
}

// Events returns the buffered progress updates for a run, in emission order.
func (m *Manager) Events(id string) ([]workflow.ProgressUpdate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, false
	}
	out := make([]workflow.ProgressUpdate, len(run.events))
	copy(out, run.events)
	return out, true
}

// Close cancels outstanding runs and waits for them to drain.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func toStoreRecord(run *Run) *store.RunRecord {
	rec := &store.RunRecord{
		ID:         run.ID,
		Task:       run.Task,
		KnownFiles: run.KnownFiles,
		Status:     string(run.Status),
		Error:      run.Error,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Result != nil {
		rec.Plan = run.Result.Plan
		rec.CombinedCode = run.Result.CombinedCode
	}
	return rec
}
