package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// CreateCheckpoint inserts the run's checkpoint. Each run owns at most one
// active checkpoint; a second insert fails with ErrCheckpointExists so a
// concurrent start request cannot create a duplicate row.
func (s *SQLiteStorage) CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	passProgress, err := marshalJSON(cp.PassProgress, "{}")
	if err != nil {
		return err
	}
	batchProgress, err := marshalJSON(cp.BatchProgress, "{}")
	if err != nil {
		return err
	}
	payload := cp.Payload
	if payload == "" {
		payload = "{}"
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, current_pass, stage, pass_progress,
			input_tokens, output_tokens, cost_usd, documents_processed, documents_failed,
			last_error, payload, batch_progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.RunID, cp.CurrentPass, cp.Stage, passProgress,
		cp.InputTokens, cp.OutputTokens, cp.CostUSD, cp.DocumentsProcessed, cp.DocumentsFailed,
		cp.LastError, payload, batchProgress, time.Now())
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCheckpointExists
		}
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoint retrieves the active checkpoint for a run
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, runID string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var passProgress, batchProgress string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, current_pass, stage, pass_progress,
			input_tokens, output_tokens, cost_usd, documents_processed, documents_failed,
			last_error, payload, batch_progress, updated_at
		FROM checkpoints WHERE run_id = ?
	`, runID).Scan(&cp.ID, &cp.RunID, &cp.CurrentPass, &cp.Stage, &passProgress,
		&cp.InputTokens, &cp.OutputTokens, &cp.CostUSD, &cp.DocumentsProcessed, &cp.DocumentsFailed,
		&cp.LastError, &cp.Payload, &batchProgress, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	if passProgress != "" && passProgress != "{}" {
		if err := json.Unmarshal([]byte(passProgress), &cp.PassProgress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pass progress: %w", err)
		}
	}
	if batchProgress != "" && batchProgress != "{}" {
		if err := json.Unmarshal([]byte(batchProgress), &cp.BatchProgress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal batch progress: %w", err)
		}
	}
	return &cp, nil
}

// SaveCheckpoint writes the checkpoint through a single short-lived
// statement. Progress counters only ever grow: the stored processed and
// failed counts are floors for the incoming values so a concurrent or
// replayed writer cannot move progress backwards.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	passProgress, err := marshalJSON(cp.PassProgress, "{}")
	if err != nil {
		return err
	}
	batchProgress, err := marshalJSON(cp.BatchProgress, "{}")
	if err != nil {
		return err
	}
	payload := cp.Payload
	if payload == "" {
		payload = "{}"
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints SET
			current_pass = ?,
			stage = ?,
			pass_progress = ?,
			input_tokens = ?,
			output_tokens = ?,
			cost_usd = ?,
			documents_processed = MAX(documents_processed, ?),
			documents_failed = MAX(documents_failed, ?),
			last_error = ?,
			payload = ?,
			batch_progress = ?,
			updated_at = ?
		WHERE run_id = ?
	`, cp.CurrentPass, cp.Stage, passProgress,
		cp.InputTokens, cp.OutputTokens, cp.CostUSD,
		cp.DocumentsProcessed, cp.DocumentsFailed,
		cp.LastError, payload, batchProgress, time.Now(), cp.RunID)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
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
