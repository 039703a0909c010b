package types

import (
	"testing"
)

func TestMostSevereStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []FindingStatus
		want     FindingStatus
	}{
		{"empty defaults to info", nil, StatusInfo},
		{"single", []FindingStatus{StatusGreen}, StatusGreen},
		{"red wins over amber", []FindingStatus{StatusAmber, StatusRed, StatusGreen}, StatusRed},
		{"amber wins over yellow", []FindingStatus{StatusYellow, StatusAmber}, StatusAmber},
		{"yellow wins over green", []FindingStatus{StatusGreen, StatusYellow, StatusInfo}, StatusYellow},
		{"green wins over info", []FindingStatus{StatusInfo, StatusGreen}, StatusGreen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MostSevereStatus(tt.statuses...); got != tt.want {
				t.Errorf("MostSevereStatus(%v) = %s, want %s", tt.statuses, got, tt.want)
			}
		})
	}
}

func TestStatusPrecedenceOrdering(t *testing.T) {
	// The canonical ordering: Red > Amber > Yellow > Green > Info
	ordered := []FindingStatus{StatusRed, StatusAmber, StatusYellow, StatusGreen, StatusInfo}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Precedence() <= ordered[i].Precedence() {
			t.Errorf("%s should rank above %s", ordered[i-1], ordered[i])
		}
	}
}

func TestStageCanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		want bool
	}{
		{"forward one step", StageExtraction, StageGraphBuilding, true},
		{"skip optional graph building", StageExtraction, StageAnalysis, true},
		{"skip validation gate", StageCalculation, StageCrossDocument, true},
		{"backwards is illegal", StageSynthesis, StageAnalysis, false},
		{"same stage is illegal", StageAnalysis, StageAnalysis, false},
		{"failed reachable from anywhere", StageVerification, StageFailed, true},
		{"paused reachable from anywhere", StageExtraction, StagePaused, true},
		{"cancelled reachable from anywhere", StageQueued, StageCancelled, true},
		{"resume from paused", StagePaused, StageAnalysis, true},
		{"completed is terminal", StageCompleted, StageStoringFindings, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
				t.Errorf("CanAdvanceTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTierForScore(t *testing.T) {
	tests := []struct {
		score int
		want  PriorityTier
	}{
		{100, PriorityCritical},
		{80, PriorityCritical},
		{79, PriorityHigh},
		{60, PriorityHigh},
		{59, PriorityMedium},
		{40, PriorityMedium},
		{39, PriorityLow},
		{20, PriorityLow},
		{19, PriorityRoutine},
		{0, PriorityRoutine},
	}

	for _, tt := range tests {
		if got := TierForScore(tt.score); got != tt.want {
			t.Errorf("TierForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestTierBudgetsDecreaseWithPriority(t *testing.T) {
	tiers := []PriorityTier{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityRoutine}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].TokenBudget() <= tiers[i].TokenBudget() {
			t.Errorf("%s budget (%d) should exceed %s budget (%d)",
				tiers[i-1], tiers[i-1].TokenBudget(), tiers[i], tiers[i].TokenBudget())
		}
	}
}

func TestBatchAccounting(t *testing.T) {
	b := &Batch{Index: 0}
	b.Add(&CompressedDocument{DocumentID: "d1", Folder: "corporate", Tier: PriorityCritical, CompressedTokens: 800})
	b.Add(&CompressedDocument{DocumentID: "d2", Folder: "finance", Tier: PriorityRoutine, CompressedTokens: 75})

	if b.TotalTokens != 875 {
		t.Errorf("TotalTokens = %d, want 875", b.TotalTokens)
	}
	if !b.HasFolder("corporate") || !b.HasFolder("finance") {
		t.Error("expected both folders present")
	}
	if b.HasFolder("") {
		t.Error("empty folder should never match")
	}
	if b.TierCounts[PriorityCritical] != 1 || b.TierCounts[PriorityRoutine] != 1 {
		t.Errorf("unexpected tier counts: %v", b.TierCounts)
	}
}

func TestCompressionRatio(t *testing.T) {
	tests := []struct {
		name     string
		original int
		comp     int
		want     float64
	}{
		{"typical", 1000, 200, 0.8},
		{"no compression", 100, 100, 0.0},
		{"zero original", 0, 50, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &CompressedDocument{OriginalTokens: tt.original, CompressedTokens: tt.comp}
			if got := c.CompressionRatio(); got != tt.want {
				t.Errorf("CompressionRatio() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestPassResultValidate(t *testing.T) {
	tests := []struct {
		name        string
		result      PassResult
		expectError bool
	}{
		{
			name:   "valid extraction",
			result: PassResult{Kind: PassExtraction, Extraction: &ExtractionResult{DocumentID: "d1"}},
		},
		{
			name:        "extraction variant missing",
			result:      PassResult{Kind: PassExtraction},
			expectError: true,
		},
		{
			name:   "valid synthesis",
			result: PassResult{Kind: PassSynthesis, Synthesis: &SynthesisResult{ExecutiveSummary: "ok"}},
		},
		{
			name:        "unknown kind",
			result:      PassResult{Kind: "aggregation"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckpointPayloadRoundtrip(t *testing.T) {
	cp := &Checkpoint{ID: "cp-1", RunID: "run-1", Stage: StageAnalysis}

	payload := &PassPayload{}
	payload.MarkProcessed("doc-a")
	payload.MarkProcessed("doc-b")
	payload.MarkProcessed("doc-a") // idempotent
	payload.Findings = []*Finding{{
		ID:             "f-1",
		RiskQuestionID: "rq-1",
		Title:          "Change of control consent required",
		Type:           FindingNegative,
		Status:         StatusRed,
		DocumentIDs:    []string{"doc-a"},
	}}

	if err := cp.SetPayload(payload); err != nil {
		t.Fatalf("SetPayload failed: %v", err)
	}

	restored, err := cp.GetPayload()
	if err != nil {
		t.Fatalf("GetPayload failed: %v", err)
	}
	if len(restored.ProcessedDocumentIDs) != 2 {
		t.Errorf("expected 2 processed ids, got %d", len(restored.ProcessedDocumentIDs))
	}
	if !restored.HasProcessed("doc-a") || !restored.HasProcessed("doc-b") {
		t.Error("processed set lost in roundtrip")
	}
	if restored.HasProcessed("doc-c") {
		t.Error("doc-c should not be processed")
	}
	if len(restored.Findings) != 1 || restored.Findings[0].Status != StatusRed {
		t.Error("findings lost in roundtrip")
	}
}

func TestEmptyCheckpointPayload(t *testing.T) {
	cp := &Checkpoint{ID: "cp-1", RunID: "run-1", Stage: StageQueued}
	payload, err := cp.GetPayload()
	if err != nil {
		t.Fatalf("GetPayload on empty checkpoint failed: %v", err)
	}
	if payload == nil {
		t.Fatal("expected non-nil empty payload")
	}
	if len(payload.ProcessedDocumentIDs) != 0 {
		t.Error("empty payload should have no processed ids")
	}
}

func TestFindingValidate(t *testing.T) {
	valid := Finding{
		ID:             "f-1",
		RiskQuestionID: "rq-1",
		Title:          "Unlimited liability clause",
		Type:           FindingNegative,
		Status:         StatusAmber,
		DocumentIDs:    []string{"doc-1"},
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid finding rejected: %v", err)
	}

	missing := valid
	missing.DocumentIDs = nil
	if err := missing.Validate(); err == nil {
		t.Error("finding without document refs should be rejected")
	}

	badStatus := valid
	badStatus.Status = "Purple"
	if err := badStatus.Validate(); err == nil {
		t.Error("finding with unknown status should be rejected")
	}
}

func TestRunValidate(t *testing.T) {
	r := Run{ID: "run-1", CaseID: "case-1", DocumentIDs: []string{"d1"}, Status: RunQueued, Tier: TierBalanced}
	if err := r.Validate(); err != nil {
		t.Errorf("valid run rejected: %v", err)
	}

	empty := r
	empty.DocumentIDs = nil
	if err := empty.Validate(); err == nil {
		t.Error("run with no selected documents should be rejected")
	}
}
