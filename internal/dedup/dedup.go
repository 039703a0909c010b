// Package dedup collapses near-duplicate findings raised for the same
// risk question across documents, using embedding similarity to cluster
// candidates and a model arbitration call to confirm each merge.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/types"
)

// ModelClient is the slice of the gateway the arbitrator needs
type ModelClient interface {
	Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error)
}

// Config holds deduplication settings
type Config struct {
	// SimilarityThreshold is the cosine similarity above which two
	// findings join the same cluster. Empirically tuned, not a contract.
	SimilarityThreshold float64
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		SimilarityThreshold: 0.82,
	}
}

// Engine deduplicates findings for one risk question at a time
type Engine struct {
	embedder ai.Embedder
	client   ModelClient
	cfg      *Config
}

// New creates a deduplication engine
func New(embedder ai.Embedder, client ModelClient, cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold >= 1 {
		cfg.SimilarityThreshold = 0.82
	}
	return &Engine{embedder: embedder, client: client, cfg: cfg}
}

// Deduplicate collapses near-duplicates among the candidate findings for
// a single risk question. Findings are grouped by type first; singleton
// groups pass through unchanged. The result preserves every finding not
// merged away, and a merge that cannot be confirmed keeps all originals.
// Running the engine on its own output produces no further merges for
// the same inputs, since the surviving finding carries the union of its
// originals' evidence.
func (e *Engine) Deduplicate(ctx context.Context, findings []*types.Finding) ([]*types.Finding, error) {
	if len(findings) <= 1 {
		return findings, nil
	}

	byType := make(map[types.FindingType][]*types.Finding)
	var typeOrder []types.FindingType
	for _, f := range findings {
		if _, seen := byType[f.Type]; !seen {
			typeOrder = append(typeOrder, f.Type)
		}
		byType[f.Type] = append(byType[f.Type], f)
	}

	var out []*types.Finding
	for _, t := range typeOrder {
		group := byType[t]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		merged, err := e.deduplicateGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		out = append(out, merged...)
	}
	return out, nil
}

// deduplicateGroup clusters one same-type group and arbitrates each
// multi-member cluster.
func (e *Engine) deduplicateGroup(ctx context.Context, group []*types.Finding) ([]*types.Finding, error) {
	texts := make([]string, len(group))
	for i, f := range group {
		texts[i] = embeddingText(f)
	}

	// One batched call for the whole group, never per finding.
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		slog.Warn("embedding failed, keeping findings unmerged", "group_size", len(group), "error", err)
		return group, nil
	}
	if len(vectors) != len(group) {
		slog.Warn("embedding count mismatch, keeping findings unmerged",
			"expected", len(group), "got", len(vectors))
		return group, nil
	}

	clusters := e.cluster(group, vectors)

	var out []*types.Finding
	for _, cluster := range clusters {
		if len(cluster) == 1 {
			out = append(out, cluster[0])
			continue
		}
		merged := e.arbitrate(ctx, cluster)
		out = append(out, merged...)
	}
	return out, nil
}

// cluster runs seed-anchored single-link clustering: each unclustered
// finding seeds a cluster and absorbs every later unclustered finding
// whose similarity to the seed clears the threshold. Deterministic for a
// fixed input order; not a full pairwise optimum.
func (e *Engine) cluster(group []*types.Finding, vectors [][]float32) [][]*types.Finding {
	clustered := make([]bool, len(group))
	var clusters [][]*types.Finding

	for i := range group {
		if clustered[i] {
			continue
		}
		cluster := []*types.Finding{group[i]}
		clustered[i] = true
		for j := i + 1; j < len(group); j++ {
			if clustered[j] {
				continue
			}
			if ai.CosineSimilarity(vectors[i], vectors[j]) > e.cfg.SimilarityThreshold {
				cluster = append(cluster, group[j])
				clustered[j] = true
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

// arbitrationPayload is the JSON shape requested from the model
type arbitrationPayload struct {
	IsDuplicateGroup bool `json:"is_duplicate_group"`
	Merged           struct {
		Title       string   `json:"title"`
		Detail      string   `json:"detail"`
		Evidence    string   `json:"evidence"`
		Status      string   `json:"status"`
		DocumentIDs []string `json:"document_ids"`
		PageNumbers []int    `json:"page_numbers"`
	} `json:"merged"`
}

// arbitrate asks the model whether a cluster is one duplicated finding.
// On any failure, or when hydration cannot produce a valid merged
// finding, all originals are kept rather than dropped.
func (e *Engine) arbitrate(ctx context.Context, cluster []*types.Finding) []*types.Finding {
	raw, _, err := e.client.Complete(ctx, types.TierAccurate, arbitrationPrompt(cluster), "arbitrate_duplicates", 1500)
	if err != nil {
		slog.Warn("arbitration call failed, keeping originals", "cluster_size", len(cluster), "error", err)
		return cluster
	}

	parsed := ai.Parse[arbitrationPayload](raw, "arbitrate_duplicates")
	if !parsed.Success {
		slog.Warn("arbitration output unparseable, keeping originals", "parse_error", parsed.Error)
		return cluster
	}
	if !parsed.Data.IsDuplicateGroup {
		return cluster
	}

	merged := e.hydrate(cluster, &parsed.Data)
	if err := merged.Validate(); err != nil {
		slog.Warn("merged finding failed validation, keeping originals", "error", err)
		return cluster
	}
	return []*types.Finding{merged}
}

// hydrate builds the merged finding. The model's narrative fields are
// trusted; identity and lineage fields are not. The risk-question
// reference is overwritten from the cluster, document ids and page
// numbers are unioned from all originals, and status is the most severe
// of the group.
func (e *Engine) hydrate(cluster []*types.Finding, arb *arbitrationPayload) *types.Finding {
	first := cluster[0]
	now := time.Now()

	merged := &types.Finding{
		ID:             first.ID,
		CaseID:         first.CaseID,
		RunID:          first.RunID,
		RiskQuestionID: first.RiskQuestionID,
		Category:       first.Category,
		Type:           first.Type,
		Title:          strings.TrimSpace(arb.Merged.Title),
		Detail:         strings.TrimSpace(arb.Merged.Detail),
		Evidence:       strings.TrimSpace(arb.Merged.Evidence),
		DealImpact:     first.DealImpact,
		Materiality:    first.Materiality,
		Exposure:       largestExposure(cluster),
		CreatedAt:      first.CreatedAt,
		UpdatedAt:      now,
	}
	if merged.Title == "" {
		merged.Title = first.Title
	}

	statuses := make([]types.FindingStatus, 0, len(cluster))
	docSet := make(map[string]bool)
	pageSet := make(map[int]bool)
	mergedFrom := make(map[string]bool)
	duplicates := 0
	for _, f := range cluster {
		statuses = append(statuses, f.Status)
		for _, id := range f.DocumentIDs {
			docSet[id] = true
		}
		for _, p := range f.PageNumbers {
			pageSet[p] = true
		}
		duplicates += 1 + f.DuplicateCount
		for _, id := range f.MergedFromDocs {
			mergedFrom[id] = true
		}
		if f != first {
			for _, id := range f.DocumentIDs {
				mergedFrom[id] = true
			}
		}
	}
	merged.Status = types.MostSevereStatus(statuses...)
	merged.DuplicateCount = duplicates - 1
	merged.DocumentIDs = sortedKeys(docSet)
	merged.MergedFromDocs = sortedKeys(mergedFrom)

	for p := range pageSet {
		merged.PageNumbers = append(merged.PageNumbers, p)
	}
	sort.Ints(merged.PageNumbers)
	return merged
}

func largestExposure(cluster []*types.Finding) *types.FinancialExposure {
	var best *types.FinancialExposure
	for _, f := range cluster {
		if f.Exposure == nil {
			continue
		}
		if best == nil || f.Exposure.Amount > best.Amount {
			best = f.Exposure
		}
	}
	return best
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// embeddingText is the text representation of a finding used for
// similarity comparison
func embeddingText(f *types.Finding) string {
	var b strings.Builder
	b.WriteString(f.Title)
	if f.Detail != "" {
		b.WriteString(". ")
		b.WriteString(f.Detail)
	}
	if f.Evidence != "" {
		b.WriteString(" Evidence: ")
		b.WriteString(f.Evidence)
	}
	return b.String()
}

func arbitrationPrompt(cluster []*types.Finding) string {
	var b strings.Builder
	b.WriteString("These risk findings were raised for the same question across different documents. Decide whether they describe the same underlying issue.\n")
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"is_duplicate_group": true|false, "merged": {"title": "...", "detail": "...", "evidence": "...", "status": "Red|Amber|Yellow|Green|Info", "document_ids": [], "page_numbers": []}}`)
	b.WriteString("\nOnly answer true when the findings are genuinely the same issue, not merely related.\n\n")
	for i, f := range cluster {
		fmt.Fprintf(&b, "Finding %d [%s/%s, documents %s]:\nTitle: %s\nDetail: %s\n",
			i+1, f.Status, f.Type, strings.Join(f.DocumentIDs, ","), f.Title, f.Detail)
		if f.Evidence != "" {
			fmt.Fprintf(&b, "Evidence: %s\n", f.Evidence)
		}
		b.WriteString("\n")
	}
	return b.String()
}
