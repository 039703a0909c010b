package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// CreateCase inserts a new case
func (s *SQLiteStorage) CreateCase(ctx context.Context, c *types.Case) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid case: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, name, briefing, transaction_type, owner, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.Briefing, c.TransactionType, c.Owner, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

// GetCase retrieves a case by id
func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*types.Case, error) {
	var c types.Case
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, briefing, transaction_type, owner, created_at
		FROM cases WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Briefing, &c.TransactionType, &c.Owner, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// CreateDocument inserts a document row
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, case_id, filename, folder, text, text_key, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.CaseID, doc.Filename, doc.Folder, doc.Text, doc.TextKey, doc.Status)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves one document by id
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	var d types.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, filename, folder, text, text_key, status
		FROM documents WHERE id = ?
	`, id).Scan(&d.ID, &d.CaseID, &d.Filename, &d.Folder, &d.Text, &d.TextKey, &d.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &d, nil
}

// GetDocuments retrieves the selected documents for a case. An empty ids
// slice returns every document in the case.
func (s *SQLiteStorage) GetDocuments(ctx context.Context, caseID string, ids []string) ([]*types.Document, error) {
	query := `
		SELECT id, case_id, filename, folder, text, text_key, status
		FROM documents WHERE case_id = ?
	`
	args := []interface{}{caseID}
	if len(ids) > 0 {
		query += " AND id IN (?" + strings.Repeat(",?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += " ORDER BY filename"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*types.Document
	for rows.Next() {
		var d types.Document
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Filename, &d.Folder, &d.Text, &d.TextKey, &d.Status); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
