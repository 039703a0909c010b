package types

import "fmt"

// PriorityTier is one of five importance classes assigned to a document.
// Each tier carries a fixed target summary-token budget; higher priority
// documents keep more detail through compression.
type PriorityTier string

const (
	PriorityCritical  PriorityTier = "CRITICAL"
	PriorityHigh      PriorityTier = "HIGH"
	PriorityMedium    PriorityTier = "MEDIUM"
	PriorityLow       PriorityTier = "LOW"
	PriorityRoutine   PriorityTier = "ROUTINE"
)

// tierBudgets maps priority tiers to target summary token budgets
var tierBudgets = map[PriorityTier]int{
	PriorityCritical: 800,
	PriorityHigh:     400,
	PriorityMedium:   200,
	PriorityLow:      120,
	PriorityRoutine:  75,
}

// IsValid checks if the priority tier value is valid
func (p PriorityTier) IsValid() bool {
	_, ok := tierBudgets[p]
	return ok
}

// TokenBudget returns the tier's target summary length in tokens
func (p PriorityTier) TokenBudget() int {
	return tierBudgets[p]
}

// TierForScore maps a clamped 0-100 priority score to its tier
func TierForScore(score int) PriorityTier {
	switch {
	case score >= 80:
		return PriorityCritical
	case score >= 60:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	case score >= 20:
		return PriorityLow
	default:
		return PriorityRoutine
	}
}

// PrioritizedDocument is a document annotated with its computed analytical
// importance. Derived once per run, never persisted beyond checkpoint
// snapshots.
type PrioritizedDocument struct {
	Document    *Document    `json:"document"`
	Score       int          `json:"score"` // clamped 0-100
	Tier        PriorityTier `json:"tier"`
	Reasons     []string     `json:"reasons,omitempty"`
	TokenTarget int          `json:"token_target"`
}

// CompressedDocument is a token-bounded legal summary of a document
type CompressedDocument struct {
	DocumentID string       `json:"document_id"`
	Filename   string       `json:"filename"`
	Folder     string       `json:"folder,omitempty"`
	Tier       PriorityTier `json:"tier"`

	Summary    string   `json:"summary"`
	Provisions []string `json:"provisions,omitempty"`
	Parties    []string `json:"parties,omitempty"`
	Dates      []string `json:"dates,omitempty"`
	Amounts    []string `json:"amounts,omitempty"`
	RiskFlags  []string `json:"risk_flags,omitempty"`

	OriginalTokens   int  `json:"original_tokens"`
	CompressedTokens int  `json:"compressed_tokens"`
	Fallback         bool `json:"fallback,omitempty"` // true when compression failed and a truncated excerpt was used
}

// CompressionRatio returns 1 - compressed/original, or 0 for empty input
func (c *CompressedDocument) CompressionRatio() float64 {
	if c.OriginalTokens <= 0 {
		return 0
	}
	return 1 - float64(c.CompressedTokens)/float64(c.OriginalTokens)
}

// Batch is an ordered set of compressed documents packed for one
// cross-document analysis call. TotalTokens never exceeds the scheduler's
// hard limit.
type Batch struct {
	Index       int                   `json:"index"`
	Documents   []*CompressedDocument `json:"documents"`
	TotalTokens int                   `json:"total_tokens"`
	Folders     map[string]bool       `json:"folders,omitempty"`
	TierCounts  map[PriorityTier]int  `json:"tier_counts,omitempty"`
}

// Add appends a compressed document and updates the batch accounting
func (b *Batch) Add(doc *CompressedDocument) {
	if b.Folders == nil {
		b.Folders = make(map[string]bool)
	}
	if b.TierCounts == nil {
		b.TierCounts = make(map[PriorityTier]int)
	}
	b.Documents = append(b.Documents, doc)
	b.TotalTokens += doc.CompressedTokens
	if doc.Folder != "" {
		b.Folders[doc.Folder] = true
	}
	b.TierCounts[doc.Tier]++
}

// HasFolder reports whether the batch already contains a document from
// the given folder
func (b *Batch) HasFolder(folder string) bool {
	return folder != "" && b.Folders[folder]
}

// SemanticCluster is one of the five fixed groupings used for
// cluster-based cross-document reasoning.
type SemanticCluster string

const (
	ClusterGovernance SemanticCluster = "governance"
	ClusterFinancial  SemanticCluster = "financial"
	ClusterRegulatory SemanticCluster = "regulatory"
	ClusterCommercial SemanticCluster = "commercial"
	ClusterEmployment SemanticCluster = "employment"
)

// ClusterOrder is the fixed processing order for semantic clusters.
// Governance goes first because it supplies reference context (corporate
// structure, shareholders) to every later cluster.
var ClusterOrder = []SemanticCluster{
	ClusterGovernance,
	ClusterFinancial,
	ClusterRegulatory,
	ClusterCommercial,
	ClusterEmployment,
}

// IsValid checks if the semantic cluster value is valid
func (c SemanticCluster) IsValid() bool {
	switch c {
	case ClusterGovernance, ClusterFinancial, ClusterRegulatory, ClusterCommercial, ClusterEmployment:
		return true
	}
	return false
}

// EstimateTokens approximates the token count of a text. The 4-chars-per-
// token ratio matches what the scheduler and compressor assume everywhere.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ValidateBatchTokens returns an error if the batch exceeds the limit
func ValidateBatchTokens(b *Batch, maxTokens int) error {
	if b.TotalTokens > maxTokens {
		return fmt.Errorf("batch %d exceeds token limit: %d > %d", b.Index, b.TotalTokens, maxTokens)
	}
	return nil
}
