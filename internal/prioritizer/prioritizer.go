// Package prioritizer scores documents for analytical importance. The
// score drives the compression budget: higher-priority documents keep
// more detail through summarization.
package prioritizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diligentiq/engine/internal/types"
)

// Config holds prioritizer scoring weights
type Config struct {
	// FolderScores maps folder-name fragments to base relevance points.
	FolderScores map[string]int

	// CriticalTypes and HighTypes are filename fragments identifying
	// document types that are always important regardless of folder.
	CriticalTypes []string
	HighTypes     []string

	// TriggerKeywords are counted per document text; each hit adds
	// TriggerPoints up to TriggerCap total.
	TriggerKeywords []string
	TriggerPoints   int
	TriggerCap      int

	// KnownFindingPoints is added when the case already has a Red or
	// Amber finding referencing the document.
	KnownFindingPoints int

	// SizeBonusTokens is the estimated-token threshold above which the
	// size bonus applies.
	SizeBonusTokens int
	SizeBonusPoints int
}

// DefaultConfig returns scoring weights tuned for legal data rooms
func DefaultConfig() *Config {
	return &Config{
		FolderScores: map[string]int{
			"corporate":    30,
			"governance":   30,
			"shareholders": 30,
			"financial":    25,
			"material":     25,
			"contracts":    25,
			"regulatory":   20,
			"litigation":   20,
			"tax":          15,
			"employment":   15,
			"property":     10,
			"insurance":    10,
			"misc":         0,
		},
		CriticalTypes: []string{
			"share purchase", "spa", "shareholders agreement", "articles of association",
			"merger", "acquisition", "loan agreement", "facility agreement",
		},
		HighTypes: []string{
			"supply agreement", "lease", "employment agreement", "license",
			"guarantee", "security", "pledge", "settlement",
		},
		TriggerKeywords: []string{
			"consent", "termination", "assignment", "change of control",
			"indemnif", "penalty", "exclusivity", "non-compete",
		},
		TriggerPoints:      3,
		TriggerCap:         15,
		KnownFindingPoints: 20,
		SizeBonusTokens:    8000,
		SizeBonusPoints:    10,
	}
}

// Prioritizer computes priority scores and tiers for documents
type Prioritizer struct {
	cfg *Config
}

// New creates a prioritizer with the given config
func New(cfg *Config) *Prioritizer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Prioritizer{cfg: cfg}
}

// Prioritize scores every document and returns them sorted by descending
// score. knownFindings lists prior findings for the case; Red and Amber
// findings boost the documents they reference.
func (p *Prioritizer) Prioritize(docs []*types.Document, knownFindings []*types.Finding) []*types.PrioritizedDocument {
	flagged := flaggedDocuments(knownFindings)

	out := make([]*types.PrioritizedDocument, 0, len(docs))
	for _, doc := range docs {
		out = append(out, p.Score(doc, flagged[doc.ID]))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Score computes the priority of a single document. All signals are
// additive; the total is clamped to 0-100 before tier mapping.
func (p *Prioritizer) Score(doc *types.Document, hasKnownFinding bool) *types.PrioritizedDocument {
	score := 0
	var reasons []string

	if pts, label := p.folderScore(doc.Folder); pts > 0 {
		score += pts
		reasons = append(reasons, fmt.Sprintf("folder %q (+%d)", label, pts))
	}

	name := normalizeFilename(doc.Filename)
	if typ := matchAny(name, p.cfg.CriticalTypes); typ != "" {
		score += 35
		reasons = append(reasons, fmt.Sprintf("critical document type %q (+35)", typ))
	} else if typ := matchAny(name, p.cfg.HighTypes); typ != "" {
		score += 20
		reasons = append(reasons, fmt.Sprintf("high-value document type %q (+20)", typ))
	}

	if hasKnownFinding {
		score += p.cfg.KnownFindingPoints
		reasons = append(reasons, fmt.Sprintf("prior high-severity finding (+%d)", p.cfg.KnownFindingPoints))
	}

	if hits := p.triggerHits(doc.Text); hits > 0 {
		pts := hits * p.cfg.TriggerPoints
		if pts > p.cfg.TriggerCap {
			pts = p.cfg.TriggerCap
		}
		score += pts
		reasons = append(reasons, fmt.Sprintf("%d trigger keyword hits (+%d)", hits, pts))
	}

	if types.EstimateTokens(doc.Text) >= p.cfg.SizeBonusTokens {
		score += p.cfg.SizeBonusPoints
		reasons = append(reasons, fmt.Sprintf("large document (+%d)", p.cfg.SizeBonusPoints))
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	tier := types.TierForScore(score)
	return &types.PrioritizedDocument{
		Document:    doc,
		Score:       score,
		Tier:        tier,
		Reasons:     reasons,
		TokenTarget: tier.TokenBudget(),
	}
}

func (p *Prioritizer) folderScore(folder string) (int, string) {
	if folder == "" {
		return 0, ""
	}
	lower := strings.ToLower(folder)
	best := 0
	bestLabel := ""
	for fragment, pts := range p.cfg.FolderScores {
		if strings.Contains(lower, fragment) && pts > best {
			best = pts
			bestLabel = fragment
		}
	}
	return best, bestLabel
}

func (p *Prioritizer) triggerHits(text string) int {
	if text == "" {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range p.cfg.TriggerKeywords {
		hits += strings.Count(lower, kw)
	}
	return hits
}

// normalizeFilename lowercases and flattens separators so type fragments
// like "share purchase" match "Share_Purchase_Agreement.pdf".
func normalizeFilename(filename string) string {
	lower := strings.ToLower(filename)
	lower = strings.ReplaceAll(lower, "_", " ")
	lower = strings.ReplaceAll(lower, "-", " ")
	return lower
}

func matchAny(lower string, fragments []string) string {
	for _, f := range fragments {
		if strings.Contains(lower, f) {
			return f
		}
	}
	return ""
}

// flaggedDocuments returns the set of document ids referenced by Red or
// Amber findings.
func flaggedDocuments(findings []*types.Finding) map[string]bool {
	flagged := make(map[string]bool)
	for _, f := range findings {
		if f.Status != types.StatusRed && f.Status != types.StatusAmber {
			continue
		}
		for _, id := range f.DocumentIDs {
			flagged[id] = true
		}
	}
	return flagged
}
