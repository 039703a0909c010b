package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// CreateRun inserts a new run
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	docIDs, err := marshalJSON(run.DocumentIDs, "[]")
	if err != nil {
		return err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, case_id, document_ids, status, tier, include_deep_questions,
			input_tokens, output_tokens, cost_usd, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CaseID, docIDs, run.Status, run.Tier, run.IncludeDeepQuestion,
		run.InputTokens, run.OutputTokens, run.CostUSD, run.CreatedAt, run.StartedAt, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, document_ids, status, tier, include_deep_questions,
			input_tokens, output_tokens, cost_usd, created_at, started_at, completed_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRuns retrieves all runs for a case, most recent first
func (s *SQLiteStorage) ListRuns(ctx context.Context, caseID string) ([]*types.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, document_ids, status, tier, include_deep_questions,
			input_tokens, output_tokens, cost_usd, created_at, started_at, completed_at
		FROM runs WHERE case_id = ? ORDER BY created_at DESC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*types.Run, error) {
	var run types.Run
	var docIDs string
	err := row.Scan(&run.ID, &run.CaseID, &docIDs, &run.Status, &run.Tier,
		&run.IncludeDeepQuestion, &run.InputTokens, &run.OutputTokens, &run.CostUSD,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.DocumentIDs, err = unmarshalStrings(docIDs)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRunStatus transitions a run's status and maintains its
// started/completed timestamps.
func (s *SQLiteStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid run status: %s", status)
	}

	now := time.Now()
	var result sql.Result
	var err error
	switch {
	case status == types.RunProcessing:
		result, err = s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?
		`, status, now, runID)
	case status.IsTerminal():
		result, err = s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, completed_at = ? WHERE id = ?
		`, status, now, runID)
	default:
		result, err = s.db.ExecContext(ctx, `
			UPDATE runs SET status = ? WHERE id = ?
		`, status, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateRunOptions overrides the run's model tier and deep-question flag
// before a start. An empty tier keeps the stored one.
func (s *SQLiteStorage) UpdateRunOptions(ctx context.Context, runID string, tier types.ModelTier, includeDeep bool) error {
	if tier != "" && !tier.IsValid() {
		return fmt.Errorf("invalid model tier: %s", tier)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			tier = COALESCE(NULLIF(?, ''), tier),
			include_deep_questions = ?
		WHERE id = ?
	`, tier, includeDeep, runID)
	if err != nil {
		return fmt.Errorf("failed to update run options: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRunUsage accumulates token and cost counters onto a run
func (s *SQLiteStorage) AddRunUsage(ctx context.Context, runID string, inputTokens, outputTokens int64, costUSD float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cost_usd = cost_usd + ?
		WHERE id = ?
	`, inputTokens, outputTokens, costUSD, runID)
	if err != nil {
		return fmt.Errorf("failed to add run usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
