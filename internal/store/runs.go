package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/taskweave/internal/workflow"
)

// ErrRunNotFound is returned when a run id has no stored record.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the persisted outcome of one workflow run.
type RunRecord struct {
	ID           string         `json:"id"`
	Task         string         `json:"task"`
	KnownFiles   []string       `json:"known_files,omitempty"`
	Status       string         `json:"status"`
	Plan         *workflow.Plan `json:"plan,omitempty"`
	CombinedCode string         `json:"combined_code,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// InsertRun records a newly started run.
func (s *Store) InsertRun(ctx context.Context, rec *RunRecord) error {
	files, err := json.Marshal(rec.KnownFiles)
	if err != nil {
		return fmt.Errorf("marshal known_files: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, task, known_files, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Task, files, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal state of a run, including the final plan
// and combined code when a result was produced.
func (s *Store) FinishRun(ctx context.Context, rec *RunRecord) error {
	var planJSON []byte
	if rec.Plan != nil {
		var err error
		planJSON, err = json.Marshal(rec.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE runs
		SET status = $2, plan = $3, combined_code = $4, error = $5, finished_at = $6
		WHERE id = $1`,
		rec.ID, rec.Status, planJSON, rec.CombinedCode, rec.Error, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun retrieves one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, task, known_files, status, plan, combined_code, error, created_at, finished_at
		FROM runs WHERE id = $1`, id)

	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// ListRuns retrieves recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, task, known_files, status, plan, combined_code, error, created_at, finished_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		rec       RunRecord
		filesJSON []byte
		planJSON  []byte
		errText   *string
		code      *string
	)
	if err := row.Scan(&rec.ID, &rec.Task, &filesJSON, &rec.Status,
		&planJSON, &code, &errText, &rec.CreatedAt, &rec.FinishedAt); err != nil {
		return nil, err
	}
	if len(filesJSON) > 0 {
		json.Unmarshal(filesJSON, &rec.KnownFiles)
	}
	if len(planJSON) > 0 {
		json.Unmarshal(planJSON, &rec.Plan)
	}
	if code != nil {
		rec.CombinedCode = *code
	}
	if errText != nil {
		rec.Error = *errText
	}
	return &rec, nil
}
