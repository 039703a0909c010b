// Package graph converts per-document structured extractions into a
// deduplicated, queryable knowledge graph of parties, agreements,
// obligations, triggers, amounts, and dates. Building the graph issues
// no model calls; only the optional enrichment step does.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

// Config holds graph builder settings
type Config struct {
	// CommitEvery bounds transaction size: the builder commits a graph
	// batch after this many documents.
	CommitEvery int
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		CommitEvery: 10,
	}
}

// Builder constructs a case's knowledge graph from extraction results
type Builder struct {
	store storage.Storage
	cfg   *Config
}

// NewBuilder creates a graph builder backed by the given store
func NewBuilder(store storage.Storage, cfg *Config) *Builder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.CommitEvery <= 0 {
		cfg.CommitEvery = 10
	}
	return &Builder{store: store, cfg: cfg}
}

// buildState is the in-memory working set for one build. The party cache
// gives the builder normalized-name identity across batch commits without
// a store round trip per mention.
type buildState struct {
	caseID  string
	parties map[string]*types.Party // normalized name -> resolved vertex
	dirty   map[string]bool         // parties touched since the last commit
	batch   *storage.GraphBatch

	vertexCount   int
	edgeCount     int
	documentsDone int
}

// Build rebuilds the case graph from scratch. All prior graph rows for
// the case are cleared first, so rebuilding is idempotent. A mid-build
// commit happens every CommitEvery documents.
func (b *Builder) Build(ctx context.Context, caseID, runID string, extractions []types.ExtractionResult, docs []*types.Document) (*types.GraphBuildStatus, error) {
	if err := b.store.ClearGraph(ctx, caseID); err != nil {
		return nil, fmt.Errorf("failed to clear prior graph: %w", err)
	}

	docNames := make(map[string]string, len(docs))
	for _, d := range docs {
		docNames[d.ID] = d.Filename
	}

	st := &buildState{
		caseID:  caseID,
		parties: make(map[string]*types.Party),
		dirty:   make(map[string]bool),
		batch:   &storage.GraphBatch{CaseID: caseID},
	}

	status := &types.GraphBuildStatus{
		CaseID: caseID,
		RunID:  runID,
		State:  types.GraphBuildRunning,
	}
	if err := b.store.SaveGraphBuildStatus(ctx, status); err != nil {
		return nil, err
	}

	for _, ext := range extractions {
		if err := ctx.Err(); err != nil {
			return b.failBuild(status, err)
		}
		title := docNames[ext.DocumentID]
		b.addDocument(st, &ext, title)
		st.documentsDone++

		if st.documentsDone%b.cfg.CommitEvery == 0 {
			if err := b.commit(ctx, st, status); err != nil {
				return b.failBuild(status, err)
			}
		}
	}
	if err := b.commit(ctx, st, status); err != nil {
		return b.failBuild(status, err)
	}

	status.State = types.GraphBuildCompleted
	status.UpdatedAt = time.Now()
	if err := b.store.SaveGraphBuildStatus(ctx, status); err != nil {
		return nil, err
	}
	slog.Info("knowledge graph built",
		"case_id", caseID, "vertices", status.VertexCount, "edges", status.EdgeCount,
		"documents", status.DocumentsDone)
	return status, nil
}

// addDocument converts one extraction into graph rows on the pending batch
func (b *Builder) addDocument(st *buildState, ext *types.ExtractionResult, title string) {
	docID := ext.DocumentID

	// Resolve parties first so obligations and edges can link to them.
	docParties := make([]*types.Party, 0, len(ext.Parties))
	for _, ep := range ext.Parties {
		p := b.resolveParty(st, ep, docID)
		if p != nil {
			docParties = append(docParties, p)
		}
	}

	agreement := &types.Agreement{
		ID:                   uuid.New().String(),
		CaseID:               st.caseID,
		DocumentID:           docID,
		Title:                title,
		ChangeOfControl:      ext.ChangeOfControl,
		AssignmentRestricted: ext.AssignmentRestricted,
		ConsentRequired:      ext.ConsentRequired,
	}
	st.batch.Agreements = append(st.batch.Agreements, agreement)
	st.vertexCount++

	for _, p := range docParties {
		b.addEdge(st, types.EdgePartyToAgreement, p.ID, agreement.ID, "")
		if agreement.ConsentRequired {
			b.addEdge(st, types.EdgeRequiresConsent, agreement.ID, p.ID, "")
		}
	}

	for _, eo := range ext.Obligations {
		o := &types.Obligation{
			ID:          uuid.New().String(),
			CaseID:      st.caseID,
			DocumentID:  docID,
			Description: eo.Description,
		}
		if p, ok := st.parties[NormalizeName(eo.Obligor)]; ok && eo.Obligor != "" {
			o.ObligorID = p.ID
		}
		if p, ok := st.parties[NormalizeName(eo.Obligee)]; ok && eo.Obligee != "" {
			o.ObligeeID = p.ID
		}
		st.batch.Obligations = append(st.batch.Obligations, o)
		st.vertexCount++
	}

	for _, et := range ext.Triggers {
		tr := &types.Trigger{
			ID:          uuid.New().String(),
			CaseID:      st.caseID,
			DocumentID:  docID,
			Type:        et.Type,
			Description: et.Description,
			Consequence: et.Consequence,
		}
		st.batch.Triggers = append(st.batch.Triggers, tr)
		st.vertexCount++
		b.addEdge(st, types.EdgeTriggers, tr.ID, agreement.ID, et.Type)
	}

	for _, ea := range ext.Amounts {
		st.batch.Amounts = append(st.batch.Amounts, &types.AmountVertex{
			ID:         uuid.New().String(),
			CaseID:     st.caseID,
			DocumentID: docID,
			Value:      ea.Value,
			Currency:   ea.Currency,
			Context:    ea.Context,
		})
		st.vertexCount++
	}

	for _, ed := range ext.Dates {
		st.batch.Dates = append(st.batch.Dates, &types.DateVertex{
			ID:         uuid.New().String(),
			CaseID:     st.caseID,
			DocumentID: docID,
			Date:       ed.Date,
			Label:      ed.Label,
		})
		st.vertexCount++
	}
}

// resolveParty finds or creates the party vertex for a name, appending
// the document to its source list. Identity is the normalized name.
func (b *Builder) resolveParty(st *buildState, ep types.ExtractedParty, docID string) *types.Party {
	normalized := NormalizeName(ep.Name)
	if normalized == "" {
		return nil
	}

	p, ok := st.parties[normalized]
	if !ok {
		p = &types.Party{
			ID:             uuid.New().String(),
			CaseID:         st.caseID,
			Name:           ep.Name,
			NormalizedName: normalized,
			Type:           ep.Type,
			Role:           ep.Role,
		}
		st.parties[normalized] = p
		st.vertexCount++
	}
	if p.Type == "" {
		p.Type = ep.Type
	}

	appended := false
	for _, id := range p.SourceDocs {
		if id == docID {
			appended = true
			break
		}
	}
	if !appended {
		p.SourceDocs = append(p.SourceDocs, docID)
	}
	st.dirty[normalized] = true
	return p
}

func (b *Builder) addEdge(st *buildState, edgeType types.EdgeType, sourceID, targetID, detail string) {
	st.batch.Edges = append(st.batch.Edges, &types.Edge{
		ID:       uuid.New().String(),
		CaseID:   st.caseID,
		Type:     edgeType,
		SourceID: sourceID,
		TargetID: targetID,
		Detail:   detail,
	})
	st.edgeCount++
}

// commit flushes the pending batch, including every party touched since
// the last commit so source-document lists stay current in the store.
func (b *Builder) commit(ctx context.Context, st *buildState, status *types.GraphBuildStatus) error {
	for normalized := range st.dirty {
		st.batch.Parties = append(st.batch.Parties, st.parties[normalized])
	}
	st.dirty = make(map[string]bool)

	if st.batch.VertexCount() > 0 || len(st.batch.Edges) > 0 {
		if err := b.store.InsertGraphBatch(ctx, st.batch); err != nil {
			return fmt.Errorf("failed to commit graph batch: %w", err)
		}
	}
	st.batch = &storage.GraphBatch{CaseID: st.caseID}

	status.VertexCount = st.vertexCount
	status.EdgeCount = st.edgeCount
	status.DocumentsDone = st.documentsDone
	status.UpdatedAt = time.Now()
	return b.store.SaveGraphBuildStatus(ctx, status)
}

func (b *Builder) failBuild(status *types.GraphBuildStatus, cause error) (*types.GraphBuildStatus, error) {
	status.State = types.GraphBuildFailed
	status.LastError = cause.Error()
	status.UpdatedAt = time.Now()
	// Best effort: the build already failed, keep the original cause.
	if err := b.store.SaveGraphBuildStatus(context.Background(), status); err != nil {
		slog.Warn("failed to persist graph build failure", "case_id", status.CaseID, "error", err)
	}
	return status, cause
}

// Reference is an enrichment-reported mention of another document
type Reference struct {
	FromDocumentID string `json:"from_document_id"`
	Text           string `json:"text"`    // the referenced document as mentioned
	Kind           string `json:"kind"`    // reference, secures, conflicts_with
	Detail         string `json:"detail"`  // free-form relationship note
}

// ResolveCrossReferences matches enrichment-reported reference texts
// against known document names and creates the corresponding edges
// between agreement vertices. Unmatched references are skipped.
func (b *Builder) ResolveCrossReferences(ctx context.Context, caseID string, refs []Reference, docs []*types.Document) (int, error) {
	agreements, err := b.store.GetAgreements(ctx, caseID)
	if err != nil {
		return 0, err
	}
	byDoc := make(map[string]*types.Agreement, len(agreements))
	for _, a := range agreements {
		byDoc[a.DocumentID] = a
	}

	created := 0
	for _, ref := range refs {
		source, ok := byDoc[ref.FromDocumentID]
		if !ok {
			continue
		}
		targetDoc := matchDocument(ref.Text, docs)
		if targetDoc == "" || targetDoc == ref.FromDocumentID {
			continue
		}
		target, ok := byDoc[targetDoc]
		if !ok {
			continue
		}

		edgeType := types.EdgeReferences
		switch ref.Kind {
		case "secures":
			edgeType = types.EdgeSecures
		case "conflicts_with":
			edgeType = types.EdgeConflictsWith
		}
		err := b.store.InsertEdge(ctx, &types.Edge{
			ID:       uuid.New().String(),
			CaseID:   caseID,
			Type:     edgeType,
			SourceID: source.ID,
			TargetID: target.ID,
			Detail:   ref.Detail,
		})
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// matchDocument finds the document whose filename best matches a
// reference text. Matching is containment on normalized names; ties go
// to the longer filename (the more specific match).
func matchDocument(text string, docs []*types.Document) string {
	needle := normalizeDocName(text)
	if needle == "" {
		return ""
	}

	bestID := ""
	bestLen := 0
	for _, d := range docs {
		name := normalizeDocName(d.Filename)
		if name == "" {
			continue
		}
		if strings.Contains(needle, name) || strings.Contains(name, needle) {
			if len(name) > bestLen {
				bestLen = len(name)
				bestID = d.ID
			}
		}
	}
	return bestID
}

func normalizeDocName(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".pdf", ".docx", ".doc", ".xlsx", ".txt"} {
		lower = strings.TrimSuffix(lower, ext)
	}
	lower = strings.ReplaceAll(lower, "_", " ")
	lower = strings.ReplaceAll(lower, "-", " ")
	return strings.Join(strings.Fields(lower), " ")
}
