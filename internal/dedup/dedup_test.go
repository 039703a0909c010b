package dedup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/types"
)

// fakeEmbedder returns fixed vectors keyed by text so tests control
// which findings cluster together.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
	err     error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

type fakeArbitrator struct {
	calls    int
	response func(prompt string) (string, error)
}

func (f *fakeArbitrator) Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error) {
	f.calls++
	out, err := f.response(prompt)
	return out, ai.Usage{Calls: 1}, err
}

func finding(id string, ftype types.FindingType, status types.FindingStatus, title string, docs ...string) *types.Finding {
	return &types.Finding{
		ID:             id,
		CaseID:         "case-1",
		RunID:          "run-1",
		RiskQuestionID: "rq-1",
		Type:           ftype,
		Status:         status,
		Title:          title,
		DocumentIDs:    docs,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

// embedKey mirrors embeddingText for findings with no detail/evidence
func embedKey(f *types.Finding) string { return f.Title }

func mergeResponse(ids ...string) string {
	docs := ""
	for i, id := range ids {
		if i > 0 {
			docs += ","
		}
		docs += fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"is_duplicate_group": true, "merged": {"title": "Change of control terminates key contracts", "detail": "merged detail", "status": "Yellow", "document_ids": [%s]}}`, docs)
}

func TestSingletonGroupsPassThrough(t *testing.T) {
	emb := &fakeEmbedder{}
	arb := &fakeArbitrator{response: func(string) (string, error) {
		t.Fatal("arbitration must not run for singleton groups")
		return "", nil
	}}
	e := New(emb, arb, nil)

	findings := []*types.Finding{
		finding("f1", types.FindingNegative, types.StatusRed, "CoC termination", "doc-1"),
		finding("f2", types.FindingGap, types.StatusYellow, "Missing lease annex", "doc-2"),
	}
	out, err := e.Deduplicate(context.Background(), findings)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 0, emb.calls, "singleton type groups need no embeddings")
}

func TestMergeUnionsAndForceHydrates(t *testing.T) {
	f1 := finding("f1", types.FindingNegative, types.StatusAmber, "Change of control clause in supply agreement", "doc-1")
	f1.PageNumbers = []int{3}
	f2 := finding("f2", types.FindingNegative, types.StatusRed, "Supply agreement terminates on change of control", "doc-2")
	f2.PageNumbers = []int{7}
	f3 := finding("f3", types.FindingNegative, types.StatusGreen, "Standard force majeure wording", "doc-3")

	emb := &fakeEmbedder{vectors: map[string][]float32{
		embedKey(f1): {1, 0, 0},
		embedKey(f2): {0.99, 0.14, 0}, // ~0.99 similarity to f1
		embedKey(f3): {0, 1, 0},
	}}
	// Arbitration deliberately reports the wrong risk question and only
	// one document id; hydration must fix both.
	arb := &fakeArbitrator{response: func(string) (string, error) {
		return `{"is_duplicate_group": true, "merged": {"title": "Change of control terminates supply agreement", "status": "Yellow", "document_ids": ["doc-99"]}}`, nil
	}}
	e := New(emb, arb, nil)

	out, err := e.Deduplicate(context.Background(), []*types.Finding{f1, f2, f3})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, emb.calls, "one batched embedding call per group")
	assert.Equal(t, 1, arb.calls)

	var merged *types.Finding
	for _, f := range out {
		if f.DuplicateCount > 0 {
			merged = f
		}
	}
	require.NotNil(t, merged)
	assert.Equal(t, "rq-1", merged.RiskQuestionID, "risk question comes from the cluster, never the model")
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, merged.DocumentIDs, "document ids are unioned from originals")
	assert.Equal(t, []int{3, 7}, merged.PageNumbers)
	assert.Equal(t, types.StatusRed, merged.Status, "most severe of the group wins")
	assert.Equal(t, 1, merged.DuplicateCount)
	assert.Equal(t, []string{"doc-2"}, merged.MergedFromDocs)
}

func TestArbitrationDeclinesKeepsOriginals(t *testing.T) {
	f1 := finding("f1", types.FindingNegative, types.StatusAmber, "Consent needed for assignment", "doc-1")
	f2 := finding("f2", types.FindingNegative, types.StatusAmber, "Assignment requires consent", "doc-2")

	emb := &fakeEmbedder{vectors: map[string][]float32{
		embedKey(f1): {1, 0, 0},
		embedKey(f2): {1, 0, 0},
	}}
	arb := &fakeArbitrator{response: func(string) (string, error) {
		return `{"is_duplicate_group": false}`, nil
	}}
	e := New(emb, arb, nil)

	out, err := e.Deduplicate(context.Background(), []*types.Finding{f1, f2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestArbitrationFailureKeepsOriginals(t *testing.T) {
	f1 := finding("f1", types.FindingNegative, types.StatusAmber, "Consent needed", "doc-1")
	f2 := finding("f2", types.FindingNegative, types.StatusAmber, "Consent required", "doc-2")

	emb := &fakeEmbedder{vectors: map[string][]float32{
		embedKey(f1): {1, 0, 0},
		embedKey(f2): {1, 0, 0},
	}}

	for name, response := range map[string]func(string) (string, error){
		"call error":  func(string) (string, error) { return "", fmt.Errorf("overloaded") },
		"unparseable": func(string) (string, error) { return "not json at all", nil },
	} {
		t.Run(name, func(t *testing.T) {
			arb := &fakeArbitrator{response: response}
			e := New(emb, arb, nil)
			out, err := e.Deduplicate(context.Background(), []*types.Finding{f1, f2})
			require.NoError(t, err)
			assert.Len(t, out, 2, "uncertain merges must never drop findings")
		})
	}
}

func TestEmbeddingFailureKeepsOriginals(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("embedder down")}
	arb := &fakeArbitrator{response: func(string) (string, error) {
		t.Fatal("arbitration must not run without embeddings")
		return "", nil
	}}
	e := New(emb, arb, nil)

	findings := []*types.Finding{
		finding("f1", types.FindingNegative, types.StatusAmber, "A", "doc-1"),
		finding("f2", types.FindingNegative, types.StatusAmber, "B", "doc-2"),
	}
	out, err := e.Deduplicate(context.Background(), findings)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDifferentTypesNeverCluster(t *testing.T) {
	f1 := finding("f1", types.FindingNegative, types.StatusAmber, "Consent needed for assignment", "doc-1")
	f2 := finding("f2", types.FindingGap, types.StatusAmber, "Consent needed for assignment", "doc-2")

	emb := &fakeEmbedder{vectors: map[string][]float32{
		embedKey(f1): {1, 0, 0},
		embedKey(f2): {1, 0, 0},
	}}
	arb := &fakeArbitrator{response: func(string) (string, error) {
		t.Fatal("identical text in different type groups must not reach arbitration")
		return "", nil
	}}
	e := New(emb, arb, nil)

	out, err := e.Deduplicate(context.Background(), []*types.Finding{f1, f2})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestDeduplicateIsIdempotent(t *testing.T) {
	f1 := finding("f1", types.FindingNegative, types.StatusAmber, "Change of control clause", "doc-1")
	f2 := finding("f2", types.FindingNegative, types.StatusRed, "Termination on change of control", "doc-2")

	emb := &fakeEmbedder{vectors: map[string][]float32{
		embedKey(f1): {1, 0, 0},
		embedKey(f2): {1, 0, 0},
		"Change of control terminates key contracts. merged detail": {0, 0, 1},
	}}
	arb := &fakeArbitrator{response: func(string) (string, error) {
		return mergeResponse("doc-1", "doc-2"), nil
	}}
	e := New(emb, arb, nil)

	first, err := e.Deduplicate(context.Background(), []*types.Finding{f1, f2})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := e.Deduplicate(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second pass over merged output changes nothing")
}
