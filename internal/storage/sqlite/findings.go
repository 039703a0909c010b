package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// StoreFindings inserts a batch of findings in one transaction
func (s *SQLiteStorage) StoreFindings(ctx context.Context, findings []*types.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, f := range findings {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("invalid finding %s: %w", f.ID, err)
		}
		docIDs, err := marshalJSON(f.DocumentIDs, "[]")
		if err != nil {
			return err
		}
		pages, err := marshalJSON(f.PageNumbers, "[]")
		if err != nil {
			return err
		}
		mergedFrom, err := marshalJSON(f.MergedFromDocs, "[]")
		if err != nil {
			return err
		}

		var expAmount *float64
		var expCurrency, expCalc *string
		if f.Exposure != nil {
			expAmount = &f.Exposure.Amount
			expCurrency = &f.Exposure.Currency
			expCalc = &f.Exposure.Calculation
		}

		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (id, case_id, run_id, risk_question_id, category,
				finding_type, status, title, detail, evidence, document_ids, page_numbers,
				exposure_amount, exposure_currency, exposure_calculation, deal_impact,
				materiality, duplicate_count, merged_from_docs, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.ID, f.CaseID, f.RunID, f.RiskQuestionID, f.Category,
			f.Type, f.Status, f.Title, f.Detail, f.Evidence, docIDs, pages,
			expAmount, expCurrency, expCalc, f.DealImpact,
			f.Materiality, f.DuplicateCount, mergedFrom, createdAt, now)
		if err != nil {
			return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

// GetFindings retrieves all findings for a run, most severe first
func (s *SQLiteStorage) GetFindings(ctx context.Context, runID string) ([]*types.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, run_id, risk_question_id, category, finding_type, status,
			title, detail, evidence, document_ids, page_numbers,
			exposure_amount, exposure_currency, exposure_calculation, deal_impact,
			materiality, duplicate_count, merged_from_docs, created_at, updated_at
		FROM findings WHERE run_id = ?
		ORDER BY CASE status
			WHEN 'Red' THEN 0
			WHEN 'Amber' THEN 1
			WHEN 'Yellow' THEN 2
			WHEN 'Green' THEN 3
			ELSE 4
		END, created_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []*types.Finding
	for rows.Next() {
		var f types.Finding
		var docIDs, pages, mergedFrom string
		var expAmount *float64
		var expCurrency, expCalc *string
		err := rows.Scan(&f.ID, &f.CaseID, &f.RunID, &f.RiskQuestionID, &f.Category,
			&f.Type, &f.Status, &f.Title, &f.Detail, &f.Evidence, &docIDs, &pages,
			&expAmount, &expCurrency, &expCalc, &f.DealImpact,
			&f.Materiality, &f.DuplicateCount, &mergedFrom, &f.CreatedAt, &f.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}

		if f.DocumentIDs, err = unmarshalStrings(docIDs); err != nil {
			return nil, err
		}
		if f.PageNumbers, err = unmarshalInts(pages); err != nil {
			return nil, err
		}
		if f.MergedFromDocs, err = unmarshalStrings(mergedFrom); err != nil {
			return nil, err
		}
		if expAmount != nil {
			f.Exposure = &types.FinancialExposure{Amount: *expAmount}
			if expCurrency != nil {
				f.Exposure.Currency = *expCurrency
			}
			if expCalc != nil {
				f.Exposure.Calculation = *expCalc
			}
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

// UpdateFinding rewrites a finding's merge-mutable fields. Used by the
// deduplication engine when a surviving finding absorbs duplicates.
func (s *SQLiteStorage) UpdateFinding(ctx context.Context, f *types.Finding) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}
	docIDs, err := marshalJSON(f.DocumentIDs, "[]")
	if err != nil {
		return err
	}
	pages, err := marshalJSON(f.PageNumbers, "[]")
	if err != nil {
		return err
	}
	mergedFrom, err := marshalJSON(f.MergedFromDocs, "[]")
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE findings SET
			status = ?, title = ?, detail = ?, evidence = ?,
			document_ids = ?, page_numbers = ?, deal_impact = ?, materiality = ?,
			duplicate_count = ?, merged_from_docs = ?, updated_at = ?
		WHERE id = ?
	`, f.Status, f.Title, f.Detail, f.Evidence,
		docIDs, pages, f.DealImpact, f.Materiality,
		f.DuplicateCount, mergedFrom, time.Now(), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update finding: %w", err)
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

// CountFindingsByStatus returns finding counts per severity for a run
func (s *SQLiteStorage) CountFindingsByStatus(ctx context.Context, runID string) (map[types.FindingStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM findings WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.FindingStatus]int)
	for rows.Next() {
		var status types.FindingStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan finding count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
