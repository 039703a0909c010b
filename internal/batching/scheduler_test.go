package batching

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligentiq/engine/internal/types"
)

func compressed(id, folder string, tokens int, tier types.PriorityTier) *types.CompressedDocument {
	return &types.CompressedDocument{
		DocumentID:       id,
		Filename:         id + ".pdf",
		Folder:           folder,
		Tier:             tier,
		CompressedTokens: tokens,
	}
}

func assertBatchInvariants(t *testing.T, batches []*types.Batch, inputCount, maxTokens int) {
	t.Helper()
	total := 0
	for _, b := range batches {
		require.NoError(t, types.ValidateBatchTokens(b, maxTokens))
		total += len(b.Documents)
	}
	assert.Equal(t, inputCount, total, "every input document must land in exactly one batch")
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.TargetBatchTokens = cfg.MaxBatchTokens + 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Strategy = "round_robin"
	assert.Error(t, cfg.Validate())
}

func TestShouldBatch(t *testing.T) {
	s, err := NewScheduler(DefaultConfig())
	require.NoError(t, err)
	assert.False(t, s.ShouldBatch(8))
	assert.True(t, s.ShouldBatch(9))
}

func TestFolderStrategyKeepsFoldersTogether(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyFolder
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	docs := []*types.CompressedDocument{
		compressed("a", "corporate", 1500, types.PriorityHigh),
		compressed("b", "corporate", 1500, types.PriorityHigh),
		compressed("c", "corporate", 1500, types.PriorityHigh),
		compressed("d", "employment", 500, types.PriorityLow),
	}
	batches, err := s.Schedule(docs)
	require.NoError(t, err)
	assertBatchInvariants(t, batches, 4, cfg.MaxBatchTokens)

	// Three corporate docs at 1500 tokens overflow a 4000-token batch,
	// so the folder splits; employment never mixes in.
	for _, b := range batches {
		require.Len(t, b.Folders, 1)
	}
}

func TestSizeStrategyFirstFitDecreasing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategySize
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	docs := []*types.CompressedDocument{
		compressed("small-1", "", 500, types.PriorityLow),
		compressed("big-1", "", 3500, types.PriorityHigh),
		compressed("small-2", "", 400, types.PriorityLow),
		compressed("big-2", "", 3600, types.PriorityHigh),
	}
	batches, err := s.Schedule(docs)
	require.NoError(t, err)
	assertBatchInvariants(t, batches, 4, cfg.MaxBatchTokens)

	// FFD packs each big doc with a small one: two batches, not four.
	assert.Len(t, batches, 2)
}

func TestMixedStrategyEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBatchTokens = 4000
	cfg.TargetBatchTokens = 3000
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	var docs []*types.CompressedDocument
	for i := 0; i < 3; i++ {
		docs = append(docs, compressed(fmt.Sprintf("critical-%d", i), "corporate", 800, types.PriorityCritical))
	}
	for i := 0; i < 9; i++ {
		docs = append(docs, compressed(fmt.Sprintf("routine-%d", i), "misc", 75, types.PriorityRoutine))
	}

	batches, err := s.Schedule(docs)
	require.NoError(t, err)
	assertBatchInvariants(t, batches, 12, cfg.MaxBatchTokens)

	// All three CRITICAL documents fit the first batch: 3*800 <= 3000.
	require.NotEmpty(t, batches)
	criticalInFirst := batches[0].TierCounts[types.PriorityCritical]
	assert.Equal(t, 3, criticalInFirst)
}

func TestOversizedDocumentGetsOwnBatch(t *testing.T) {
	cfg := DefaultConfig()
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	docs := []*types.CompressedDocument{
		compressed("huge", "corporate", cfg.MaxBatchTokens+1000, types.PriorityCritical),
		compressed("normal", "corporate", 500, types.PriorityLow),
	}
	batches, err := s.Schedule(docs)
	require.NoError(t, err)

	// The oversized doc cannot satisfy the limit; it is isolated rather
	// than dropped, and the normal doc stays within bounds.
	total := 0
	for _, b := range batches {
		total += len(b.Documents)
	}
	assert.Equal(t, 2, total)
	for _, b := range batches {
		if len(b.Documents) == 1 && b.Documents[0].DocumentID == "normal" {
			require.NoError(t, types.ValidateBatchTokens(b, cfg.MaxBatchTokens))
		}
	}
}

func TestScheduleEmptyInput(t *testing.T) {
	s, err := NewScheduler(nil)
	require.NoError(t, err)
	batches, err := s.Schedule(nil)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestContextFindingsFiltersAndCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContextFindingCap = 3
	s, err := NewScheduler(cfg)
	require.NoError(t, err)

	var findings []*types.Finding
	for i := 0; i < 5; i++ {
		findings = append(findings, &types.Finding{ID: fmt.Sprintf("amber-%d", i), Status: types.StatusAmber})
	}
	findings = append(findings,
		&types.Finding{ID: "red-1", Status: types.StatusRed},
		&types.Finding{ID: "green-1", Status: types.StatusGreen},
		&types.Finding{ID: "info-1", Status: types.StatusInfo},
	)

	out := s.ContextFindings(findings)
	require.Len(t, out, 3)
	assert.Equal(t, "red-1", out[0].ID, "most severe first")
	for _, f := range out {
		assert.NotEqual(t, types.StatusGreen, f.Status)
		assert.NotEqual(t, types.StatusInfo, f.Status)
	}
}

func TestClustererAssignsByKeywords(t *testing.T) {
	c := NewClusterer()

	tests := []struct {
		filename string
		folder   string
		want     types.SemanticCluster
	}{
		{"Articles_of_Association.pdf", "", types.ClusterGovernance},
		{"facility-agreement-2023.pdf", "", types.ClusterFinancial},
		{"GDPR_processing_agreement.pdf", "", types.ClusterRegulatory},
		{"master_supply_agreement.pdf", "", types.ClusterCommercial},
		{"pension_scheme_rules.pdf", "", types.ClusterEmployment},
		{"scan_0042.pdf", "", types.ClusterCommercial}, // default
		{"scan_0042.pdf", "03_Employment", types.ClusterEmployment},
	}
	for _, tt := range tests {
		doc := &types.Document{ID: "d", Filename: tt.filename, Folder: tt.folder}
		assert.Equal(t, tt.want, c.ClusterOf(doc), "%s / %s", tt.folder, tt.filename)
	}
}

func TestClustererGovernanceWinsOverlap(t *testing.T) {
	c := NewClusterer()
	// "shareholders loan agreement" matches both governance and financial;
	// governance is checked first.
	doc := &types.Document{ID: "d", Filename: "shareholders_loan_agreement.pdf"}
	assert.Equal(t, types.ClusterGovernance, c.ClusterOf(doc))
}

func TestClusterGroupsAndQuestions(t *testing.T) {
	c := NewClusterer()
	docs := []*types.Document{
		{ID: "a", Filename: "board_minutes.pdf"},
		{ID: "b", Filename: "loan_agreement.pdf"},
		{ID: "c", Filename: "loan_amendment.pdf"},
	}
	groups := c.Cluster(docs)
	assert.Len(t, groups[types.ClusterGovernance], 1)
	assert.Len(t, groups[types.ClusterFinancial], 2)

	for _, cluster := range types.ClusterOrder {
		assert.NotEmpty(t, QuestionsFor(cluster))
	}
}
