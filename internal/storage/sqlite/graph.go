package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/diligentiq/engine/internal/types"
)

// GraphBatch carries the graph rows for one batch of documents. The
// builder commits batches of a fixed document count so no single
// transaction grows unbounded during a long build.
type GraphBatch struct {
	CaseID      string
	Parties     []*types.Party
	Agreements  []*types.Agreement
	Obligations []*types.Obligation
	Triggers    []*types.Trigger
	Amounts     []*types.AmountVertex
	Dates       []*types.DateVertex
	Edges       []*types.Edge
}

// VertexCount returns the number of vertices in the batch
func (b *GraphBatch) VertexCount() int {
	return len(b.Parties) + len(b.Agreements) + len(b.Obligations) +
		len(b.Triggers) + len(b.Amounts) + len(b.Dates)
}

// ClearGraph removes every graph row for a case. Rebuilds call this first
// so repopulation is idempotent.
func (s *SQLiteStorage) ClearGraph(ctx context.Context, caseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		"graph_edges", "graph_parties", "graph_agreements", "graph_obligations",
		"graph_triggers", "graph_amounts", "graph_dates", "graph_build_status",
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE case_id = ?", caseID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// InsertGraphBatch commits one document batch's graph rows in a single
// transaction. Parties are upserted on (case_id, normalized_name): a name
// variant hitting an existing vertex keeps that vertex's id and replaces
// its source-document list with the builder's already-unioned value.
func (s *SQLiteStorage) InsertGraphBatch(ctx context.Context, batch *GraphBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range batch.Parties {
		sourceDocs, err := marshalJSON(p.SourceDocs, "[]")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_parties (id, case_id, name, normalized_name, party_type, role, source_docs)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (case_id, normalized_name) DO UPDATE SET
				source_docs = excluded.source_docs,
				party_type = CASE WHEN graph_parties.party_type = '' THEN excluded.party_type ELSE graph_parties.party_type END
		`, p.ID, p.CaseID, p.Name, p.NormalizedName, p.Type, p.Role, sourceDocs)
		if err != nil {
			return fmt.Errorf("failed to upsert party %s: %w", p.Name, err)
		}
	}

	for _, a := range batch.Agreements {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_agreements (id, case_id, document_id, title,
				change_of_control, assignment_restricted, consent_required)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.CaseID, a.DocumentID, a.Title, a.ChangeOfControl, a.AssignmentRestricted, a.ConsentRequired)
		if err != nil {
			return fmt.Errorf("failed to insert agreement for %s: %w", a.DocumentID, err)
		}
	}

	for _, o := range batch.Obligations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_obligations (id, case_id, document_id, description, obligor_id, obligee_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, o.ID, o.CaseID, o.DocumentID, o.Description, o.ObligorID, o.ObligeeID)
		if err != nil {
			return fmt.Errorf("failed to insert obligation: %w", err)
		}
	}

	for _, tr := range batch.Triggers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_triggers (id, case_id, document_id, trigger_type, description, consequence)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tr.ID, tr.CaseID, tr.DocumentID, tr.Type, tr.Description, tr.Consequence)
		if err != nil {
			return fmt.Errorf("failed to insert trigger: %w", err)
		}
	}

	for _, a := range batch.Amounts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_amounts (id, case_id, document_id, value, currency, context)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a.ID, a.CaseID, a.DocumentID, a.Value, a.Currency, a.Context)
		if err != nil {
			return fmt.Errorf("failed to insert amount: %w", err)
		}
	}

	for _, d := range batch.Dates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_dates (id, case_id, document_id, date, label)
			VALUES (?, ?, ?, ?, ?)
		`, d.ID, d.CaseID, d.DocumentID, d.Date, d.Label)
		if err != nil {
			return fmt.Errorf("failed to insert date: %w", err)
		}
	}

	for _, e := range batch.Edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid edge: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_edges (id, case_id, edge_type, source_id, target_id, detail)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.ID, e.CaseID, e.Type, e.SourceID, e.TargetID, e.Detail)
		if err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	return tx.Commit()
}

// GetParties retrieves all party vertices for a case
func (s *SQLiteStorage) GetParties(ctx context.Context, caseID string) ([]*types.Party, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, name, normalized_name, party_type, role, source_docs
		FROM graph_parties WHERE case_id = ? ORDER BY normalized_name
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parties: %w", err)
	}
	defer rows.Close()

	var parties []*types.Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// GetPartyByNormalizedName resolves a party vertex by its normalized name
func (s *SQLiteStorage) GetPartyByNormalizedName(ctx context.Context, caseID, normalized string) (*types.Party, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, name, normalized_name, party_type, role, source_docs
		FROM graph_parties WHERE case_id = ? AND normalized_name = ?
	`, caseID, normalized)
	p, err := scanParty(row)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	return p, err
}

func scanParty(row rowScanner) (*types.Party, error) {
	var p types.Party
	var sourceDocs string
	err := row.Scan(&p.ID, &p.CaseID, &p.Name, &p.NormalizedName, &p.Type, &p.Role, &sourceDocs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan party: %w", err)
	}
	if p.SourceDocs, err = unmarshalStrings(sourceDocs); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAgreements retrieves all agreement vertices for a case
func (s *SQLiteStorage) GetAgreements(ctx context.Context, caseID string) ([]*types.Agreement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, document_id, title, change_of_control, assignment_restricted, consent_required
		FROM graph_agreements WHERE case_id = ?
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agreements: %w", err)
	}
	defer rows.Close()

	var agreements []*types.Agreement
	for rows.Next() {
		var a types.Agreement
		if err := rows.Scan(&a.ID, &a.CaseID, &a.DocumentID, &a.Title,
			&a.ChangeOfControl, &a.AssignmentRestricted, &a.ConsentRequired); err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		agreements = append(agreements, &a)
	}
	return agreements, rows.Err()
}

// GetAgreementByDocument retrieves the agreement vertex for a document
func (s *SQLiteStorage) GetAgreementByDocument(ctx context.Context, caseID, documentID string) (*types.Agreement, error) {
	var a types.Agreement
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, document_id, title, change_of_control, assignment_restricted, consent_required
		FROM graph_agreements WHERE case_id = ? AND document_id = ?
	`, caseID, documentID).Scan(&a.ID, &a.CaseID, &a.DocumentID, &a.Title,
		&a.ChangeOfControl, &a.AssignmentRestricted, &a.ConsentRequired)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}
	return &a, nil
}

// GetTriggersByType retrieves trigger vertices of the given type. An empty
// type returns all triggers for the case.
func (s *SQLiteStorage) GetTriggersByType(ctx context.Context, caseID, triggerType string) ([]*types.Trigger, error) {
	query := `
		SELECT id, case_id, document_id, trigger_type, description, consequence
		FROM graph_triggers WHERE case_id = ?
	`
	args := []interface{}{caseID}
	if triggerType != "" {
		query += " AND trigger_type = ?"
		args = append(args, triggerType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*types.Trigger
	for rows.Next() {
		var t types.Trigger
		if err := rows.Scan(&t.ID, &t.CaseID, &t.DocumentID, &t.Type, &t.Description, &t.Consequence); err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}
		triggers = append(triggers, &t)
	}
	return triggers, rows.Err()
}

// GetAmountsByDocument retrieves amount vertices attached to a document
func (s *SQLiteStorage) GetAmountsByDocument(ctx context.Context, caseID, documentID string) ([]*types.AmountVertex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, document_id, value, currency, context
		FROM graph_amounts WHERE case_id = ? AND document_id = ?
	`, caseID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()
	return scanAmounts(rows)
}

// GetAmounts retrieves all amount vertices for a case
func (s *SQLiteStorage) GetAmounts(ctx context.Context, caseID string) ([]*types.AmountVertex, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, document_id, value, currency, context
		FROM graph_amounts WHERE case_id = ?
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()
	return scanAmounts(rows)
}

func scanAmounts(rows *sql.Rows) ([]*types.AmountVertex, error) {
	var amounts []*types.AmountVertex
	for rows.Next() {
		var a types.AmountVertex
		if err := rows.Scan(&a.ID, &a.CaseID, &a.DocumentID, &a.Value, &a.Currency, &a.Context); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		amounts = append(amounts, &a)
	}
	return amounts, rows.Err()
}

// GetEdges retrieves edges of the given type. An empty type returns all
// edges for the case.
func (s *SQLiteStorage) GetEdges(ctx context.Context, caseID string, edgeType types.EdgeType) ([]*types.Edge, error) {
	query := `
		SELECT id, case_id, edge_type, source_id, target_id, detail
		FROM graph_edges WHERE case_id = ?
	`
	args := []interface{}{caseID}
	if edgeType != "" {
		query += " AND edge_type = ?"
		args = append(args, edgeType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*types.Edge
	for rows.Next() {
		var e types.Edge
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Type, &e.SourceID, &e.TargetID, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// InsertEdge inserts a single edge outside of batch building (used by the
// cross-reference resolution pass).
func (s *SQLiteStorage) InsertEdge(ctx context.Context, e *types.Edge) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid edge: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_edges (id, case_id, edge_type, source_id, target_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.CaseID, e.Type, e.SourceID, e.TargetID, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// SaveGraphBuildStatus upserts the build-status record for a case
func (s *SQLiteStorage) SaveGraphBuildStatus(ctx context.Context, status *types.GraphBuildStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO graph_build_status (case_id, run_id, state, vertex_count, edge_count,
			documents_done, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE SET
			run_id = excluded.run_id,
			state = excluded.state,
			vertex_count = excluded.vertex_count,
			edge_count = excluded.edge_count,
			documents_done = excluded.documents_done,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, status.CaseID, status.RunID, status.State, status.VertexCount, status.EdgeCount,
		status.DocumentsDone, status.LastError, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save graph build status: %w", err)
	}
	return nil
}

// GetGraphBuildStatus retrieves the build-status record for a case
func (s *SQLiteStorage) GetGraphBuildStatus(ctx context.Context, caseID string) (*types.GraphBuildStatus, error) {
	var st types.GraphBuildStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT case_id, run_id, state, vertex_count, edge_count, documents_done, last_error, updated_at
		FROM graph_build_status WHERE case_id = ?
	`, caseID).Scan(&st.CaseID, &st.RunID, &st.State, &st.VertexCount, &st.EdgeCount,
		&st.DocumentsDone, &st.LastError, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get graph build status: %w", err)
	}
	return &st, nil
}
