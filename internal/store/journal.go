package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/neftyr/raffle-deploy/internal/provision"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is a journaled provisioning run.
type Run struct {
	ID          string
	Network     string
	Environment string
	Status      string
	Error       string
	Seq         int64
	Steps       []StepRow
}

// StepRow is one journaled step outcome. Detail is canonical JSON.
type StepRow struct {
	Index  int
	Step   string
	Action string
	Detail string
}

// BeginRun inserts a run in the running state.
// Uses ON CONFLICT(id) DO NOTHING: beginning the same run twice is a no-op.
func (s *Store) BeginRun(ctx context.Context, run provision.RunInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, network, environment, status, seq)
		VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM runs))
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Network, run.Environment, RunRunning)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// RecordStep appends a step outcome to the run.
func (s *Store) RecordStep(ctx context.Context, runID string, outcome provision.StepOutcome) error {
	detail, err := marshalDetail(outcome.Detail)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, idx, step, action, detail)
		VALUES (?, (SELECT COUNT(*) FROM steps WHERE run_id = ?), ?, ?, ?)
	`, runID, runID, string(outcome.Step), string(outcome.Action), detail)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// FinishRun marks the run succeeded, or failed with runErr's message.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := RunSucceeded, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ? WHERE id = ?
	`, status, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// ReadRun returns a run with its steps in order.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, network, environment, status, error, seq
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.Network, &run.Environment, &run.Status, &run.Error, &run.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %q not found", runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}

	steps, err := s.readSteps(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	run.Steps = steps
	return run, nil
}

// ListRuns returns up to limit runs on network, newest first, with their
// steps. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, network string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, network, environment, status, error, seq
		FROM runs
		WHERE network = ?
		ORDER BY seq DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, network, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Network, &run.Environment, &run.Status, &run.Error, &run.Seq); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	// Steps are read after rows is closed: the pool holds one connection.
	for i := range runs {
		steps, err := s.readSteps(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

func (s *Store) readSteps(ctx context.Context, runID string) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, step, action, detail
		FROM steps
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	steps := []StepRow{}
	for rows.Next() {
		var st StepRow
		if err := rows.Scan(&st.Index, &st.Step, &st.Action, &st.Detail); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}
