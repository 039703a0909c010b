package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// CreateValidationCheckpoint inserts a pending human-in-the-loop gate
func (s *SQLiteStorage) CreateValidationCheckpoint(ctx context.Context, vc *types.ValidationCheckpoint) error {
	questions, err := marshalJSON(vc.Questions, "[]")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_checkpoints (id, run_id, questions, corrections, answered, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, vc.ID, vc.RunID, questions, vc.Corrections, vc.Answered, vc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create validation checkpoint: %w", err)
	}
	return nil
}

// GetPendingValidation retrieves the unanswered gate for a run, if any
func (s *SQLiteStorage) GetPendingValidation(ctx context.Context, runID string) (*types.ValidationCheckpoint, error) {
	var vc types.ValidationCheckpoint
	var questions string
	var answeredAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, questions, corrections, answered, created_at, answered_at
		FROM validation_checkpoints
		WHERE run_id = ? AND answered = 0
		ORDER BY created_at DESC LIMIT 1
	`, runID).Scan(&vc.ID, &vc.RunID, &questions, &vc.Corrections, &vc.Answered, &vc.CreatedAt, &answeredAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending validation: %w", err)
	}
	if vc.Questions, err = unmarshalStrings(questions); err != nil {
		return nil, err
	}
	if answeredAt.Valid {
		vc.AnsweredAt = &answeredAt.Time
	}
	return &vc, nil
}

// AnswerValidation records corrections against the run's pending gate and
// marks it answered. Returns ErrNotFound when no gate is pending.
func (s *SQLiteStorage) AnswerValidation(ctx context.Context, runID, corrections string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE validation_checkpoints
		SET corrections = ?, answered = 1, answered_at = ?
		WHERE run_id = ? AND answered = 0
	`, corrections, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to answer validation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
