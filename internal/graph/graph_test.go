package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme (Pty) Ltd", "acme"},
		{"Acme Proprietary Limited", "acme"},
		{"ACME HOLDINGS LIMITED", "acme holdings"},
		{"Beta GmbH", "beta"},
		{"Gamma Corp.", "gamma"},
		{"Delta Trading Co", "delta trading"},
		{"Company", "company"}, // never strip down to nothing
		{"  ", ""},
		{"Jane Smith", "jane smith"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func extractionFixtures() []types.ExtractionResult {
	return []types.ExtractionResult{
		{
			DocumentID: "doc-1",
			Parties: []types.ExtractedParty{
				{Name: "Acme (Pty) Ltd", Type: "company", Role: "seller"},
				{Name: "Beta GmbH", Type: "company", Role: "buyer"},
			},
			Triggers: []types.ExtractedTrigger{
				{Type: "change_of_control", Consequence: "termination right"},
			},
			Amounts: []types.ExtractedAmount{
				{Value: 1000000, Currency: "EUR", Context: "purchase price"},
			},
			Dates:           []types.ExtractedDate{{Date: "2026-12-31", Label: "long stop"}},
			ChangeOfControl: true,
			ConsentRequired: true,
		},
		{
			DocumentID: "doc-2",
			Parties: []types.ExtractedParty{
				{Name: "Acme Proprietary Limited", Type: "company"},
			},
			Obligations: []types.ExtractedObligation{
				{Description: "supply minimum volumes", Obligor: "Acme Pty Ltd", Obligee: "Beta GmbH"},
			},
			Amounts: []types.ExtractedAmount{
				{Value: 50000, Currency: "EUR"},
				{Value: 20000, Currency: "USD"},
			},
		},
	}
}

func docFixtures() []*types.Document {
	return []*types.Document{
		{ID: "doc-1", CaseID: "case-1", Filename: "share_purchase_agreement.pdf"},
		{ID: "doc-2", CaseID: "case-1", Filename: "supply_agreement.pdf"},
	}
}

func TestBuildMergesPartyVariants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	status, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)
	assert.Equal(t, types.GraphBuildCompleted, status.State)
	assert.Equal(t, 2, status.DocumentsDone)

	parties, err := store.GetParties(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, parties, 2, "acme variants must resolve to one vertex")

	acme, err := store.GetPartyByNormalizedName(ctx, "case-1", "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, acme.SourceDocs)
	assert.Equal(t, "company", acme.Type)
}

func TestBuildLinksObligationsToResolvedParties(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	acme, err := store.GetPartyByNormalizedName(ctx, "case-1", "acme")
	require.NoError(t, err)
	beta, err := store.GetPartyByNormalizedName(ctx, "case-1", "beta")
	require.NoError(t, err)

	// The obligation on doc-2 names "Acme Pty Ltd" and "Beta GmbH",
	// both resolvable through normalization.
	edges, err := store.GetEdges(ctx, "case-1", types.EdgePartyToAgreement)
	require.NoError(t, err)
	assert.NotEmpty(t, edges)

	ag1, err := store.GetAgreementByDocument(ctx, "case-1", "doc-1")
	require.NoError(t, err)
	assert.True(t, ag1.ChangeOfControl)
	assert.True(t, ag1.ConsentRequired)

	sources := make(map[string]bool)
	for _, e := range edges {
		if e.TargetID == ag1.ID {
			sources[e.SourceID] = true
		}
	}
	assert.True(t, sources[acme.ID])
	assert.True(t, sources[beta.ID])
}

func TestBuildMidCommitAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, &Config{CommitEvery: 2})

	var extractions []types.ExtractionResult
	var docs []*types.Document
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("doc-%d", i)
		extractions = append(extractions, types.ExtractionResult{
			DocumentID: id,
			Parties:    []types.ExtractedParty{{Name: fmt.Sprintf("Party %d Ltd", i)}},
		})
		docs = append(docs, &types.Document{ID: id, CaseID: "case-1", Filename: id + ".pdf"})
	}

	status, err := b.Build(ctx, "case-1", "run-1", extractions, docs)
	require.NoError(t, err)
	assert.Equal(t, 5, status.DocumentsDone)
	// 5 parties + 5 agreements.
	assert.Equal(t, 10, status.VertexCount)
	assert.Equal(t, 5, status.EdgeCount)

	persisted, err := store.GetGraphBuildStatus(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, types.GraphBuildCompleted, persisted.State)
	assert.Equal(t, 10, persisted.VertexCount)
}

func TestBuildIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)
	first, err := store.GetParties(ctx, "case-1")
	require.NoError(t, err)

	_, err = b.Build(ctx, "case-1", "run-2", extractionFixtures(), docFixtures())
	require.NoError(t, err)
	second, err := store.GetParties(ctx, "case-1")
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "rebuild must not duplicate vertices")
}

func TestResolveCrossReferences(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	refs := []Reference{
		{FromDocumentID: "doc-2", Text: "the Share Purchase Agreement", Kind: "reference"},
		{FromDocumentID: "doc-2", Text: "schedule 4 of an unknown annex", Kind: "reference"},
		{FromDocumentID: "doc-2", Text: "Supply Agreement", Kind: "reference"}, // self, skipped
	}
	created, err := b.ResolveCrossReferences(ctx, "case-1", refs, docFixtures())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	edges, err := store.GetEdges(ctx, "case-1", types.EdgeReferences)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	ag2, err := store.GetAgreementByDocument(ctx, "case-1", "doc-2")
	require.NoError(t, err)
	assert.Equal(t, ag2.ID, edges[0].SourceID)
}

func TestChangeOfControlCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	refs := []Reference{
		{FromDocumentID: "doc-1", Text: "supply agreement", Kind: "reference"},
	}
	_, err = b.ResolveCrossReferences(ctx, "case-1", refs, docFixtures())
	require.NoError(t, err)

	q := NewQueries(store)
	cascade, err := q.ChangeOfControlCascade(ctx, "case-1")
	require.NoError(t, err)

	require.Len(t, cascade.Triggers, 1)
	require.Len(t, cascade.Agreements, 1)
	assert.Equal(t, "doc-1", cascade.Agreements[0].DocumentID)
	assert.Equal(t, 2, cascade.ConsentsRequired, "one consent edge per party on doc-1")
	assert.InDelta(t, 1000000, cascade.ExposureByCurrency["EUR"], 0.001)
	assert.Equal(t, 1, cascade.CascadeDepth, "doc-1 references doc-2")
	assert.NotEqual(t, types.StatusGreen, cascade.RiskLevel)
}

func TestConsentRequirements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	q := NewQueries(store)
	reqs, err := q.ConsentRequirements(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "doc-1", reqs[0].Agreement.DocumentID)
	assert.Len(t, reqs[0].Parties, 2)
}

func TestExposureAggregation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	q := NewQueries(store)

	byCurrency, err := q.ExposureBy(ctx, "case-1", "currency")
	require.NoError(t, err)
	require.Len(t, byCurrency, 2)
	assert.Equal(t, "EUR", byCurrency[0].Key)
	assert.InDelta(t, 1050000, byCurrency[0].Total, 0.001)

	byDoc, err := q.ExposureBy(ctx, "case-1", "document")
	require.NoError(t, err)
	require.Len(t, byDoc, 2)
	assert.Equal(t, "doc-1", byDoc[0].Key)

	_, err = q.ExposureBy(ctx, "case-1", "folder")
	assert.Error(t, err)
}

func TestRelatedDocuments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	q := NewQueries(store)
	related, err := q.RelatedDocuments(ctx, "case-1", "doc-1")
	require.NoError(t, err)
	// doc-2 shares the acme party with doc-1.
	assert.Equal(t, []string{"doc-2"}, related)
}

func TestPartiesAggregation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	b := NewBuilder(store, nil)

	_, err := b.Build(ctx, "case-1", "run-1", extractionFixtures(), docFixtures())
	require.NoError(t, err)

	q := NewQueries(store)
	parties, err := q.Parties(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, parties, 2)
	assert.Equal(t, "acme", parties[0].Party.NormalizedName, "acme appears on both documents")
	assert.Equal(t, 2, parties[0].DocumentCount)
}

type fakeEnrichClient struct {
	response func(prompt string) (string, error)
}

func (f *fakeEnrichClient) Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error) {
	out, err := f.response(prompt)
	return out, ai.Usage{Calls: 1}, err
}

func TestEnricherCollectsReferences(t *testing.T) {
	client := &fakeEnrichClient{response: func(prompt string) (string, error) {
		return `{"references": [{"document": "Share Purchase Agreement", "kind": "reference", "detail": "clause 12.3"}, {"document": "", "kind": "reference"}]}`, nil
	}}
	e := NewEnricher(client, nil)

	refs, err := e.Enrich(context.Background(), docFixtures())
	require.NoError(t, err)
	// One usable reference per document; blank mentions dropped.
	assert.Len(t, refs, 2)
	for _, r := range refs {
		assert.Equal(t, "Share Purchase Agreement", r.Text)
	}
}

func TestEnricherFailuresAreNonFatal(t *testing.T) {
	client := &fakeEnrichClient{response: func(string) (string, error) {
		return "", fmt.Errorf("overloaded")
	}}
	e := NewEnricher(client, nil)

	refs, err := e.Enrich(context.Background(), docFixtures())
	require.NoError(t, err)
	assert.Empty(t, refs)
}
