package compression

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/types"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	response func(prompt string) (string, error)
}

func (f *fakeClient) Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if tier != types.TierFast {
		return "", ai.Usage{}, fmt.Errorf("unexpected tier %s", tier)
	}
	out, err := f.response(prompt)
	return out, ai.Usage{Calls: 1}, err
}

func prioritized(id, text string, tier types.PriorityTier) *types.PrioritizedDocument {
	return &types.PrioritizedDocument{
		Document:    &types.Document{ID: id, CaseID: "case-1", Filename: id + ".pdf", Text: text},
		Tier:        tier,
		TokenTarget: tier.TokenBudget(),
	}
}

func TestCompressParsesStructuredSummary(t *testing.T) {
	client := &fakeClient{response: func(string) (string, error) {
		return "```json\n" + `{"summary": "Supply agreement with change of control clause.", "parties": ["Acme Holdings Ltd"], "risk_flags": ["change_of_control"]}` + "\n```", nil
	}}
	c := New(client, nil)

	pd := prioritized("doc-1", strings.Repeat("lorem ipsum ", 500), types.PriorityCritical)
	out := c.Compress(context.Background(), pd)

	require.NotNil(t, out)
	assert.False(t, out.Fallback)
	assert.Equal(t, "Supply agreement with change of control clause.", out.Summary)
	assert.Equal(t, []string{"Acme Holdings Ltd"}, out.Parties)
	assert.Equal(t, types.PriorityCritical, out.Tier)
	assert.Greater(t, out.OriginalTokens, out.CompressedTokens)
	assert.Greater(t, out.CompressionRatio(), 0.0)
}

func TestCompressFallsBackOnCallFailure(t *testing.T) {
	client := &fakeClient{response: func(string) (string, error) {
		return "", fmt.Errorf("overloaded")
	}}
	c := New(client, nil)

	text := strings.Repeat("x", 10000)
	pd := prioritized("doc-1", text, types.PriorityRoutine)
	out := c.Compress(context.Background(), pd)

	require.NotNil(t, out)
	assert.True(t, out.Fallback)
	// Excerpt is truncated to the tier budget, 75 tokens * 4 chars.
	assert.Len(t, out.Summary, 300)
	assert.Equal(t, 75, out.CompressedTokens)
}

func TestCompressFallsBackOnUnparseableOutput(t *testing.T) {
	client := &fakeClient{response: func(string) (string, error) {
		return "I could not produce a summary for this document.", nil
	}}
	c := New(client, nil)

	pd := prioritized("doc-1", "short text", types.PriorityMedium)
	out := c.Compress(context.Background(), pd)

	require.NotNil(t, out)
	assert.True(t, out.Fallback)
	assert.Equal(t, "short text", out.Summary)
}

func TestCompressAllPreservesOrderAndNeverDrops(t *testing.T) {
	client := &fakeClient{response: func(prompt string) (string, error) {
		// Fail roughly half the documents; all must still come back.
		if strings.Contains(prompt, "odd") {
			return "", fmt.Errorf("overloaded")
		}
		return `{"summary": "ok"}`, nil
	}}
	c := New(client, &Config{Workers: 4})

	var docs []*types.PrioritizedDocument
	for i := 0; i < 10; i++ {
		label := "even"
		if i%2 == 1 {
			label = "odd"
		}
		docs = append(docs, prioritized(fmt.Sprintf("doc-%d", i), label+" content", types.PriorityLow))
	}

	out, err := c.CompressAll(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, out, 10)

	for i, cd := range out {
		assert.Equal(t, fmt.Sprintf("doc-%d", i), cd.DocumentID)
		assert.Equal(t, i%2 == 1, cd.Fallback)
	}
	assert.Equal(t, 10, client.calls)
}

func TestCompressAllStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{response: func(string) (string, error) {
		return `{"summary": "ok"}`, nil
	}}
	c := New(client, nil)

	_, err := c.CompressAll(ctx, []*types.PrioritizedDocument{
		prioritized("doc-1", "text", types.PriorityLow),
	})
	assert.Error(t, err)
}

func TestAggregateRatio(t *testing.T) {
	docs := []*types.CompressedDocument{
		{OriginalTokens: 1000, CompressedTokens: 100},
		{OriginalTokens: 1000, CompressedTokens: 300},
	}
	assert.InDelta(t, 0.8, AggregateRatio(docs), 0.0001)
	assert.Equal(t, 0.0, AggregateRatio(nil))
}
