// Package batching packs compressed documents into context-safe batches
// for cross-document analysis, and groups raw documents into semantic
// clusters as a complementary grouping.
package batching

import (
	"fmt"
	"sort"

	"github.com/diligentiq/engine/internal/types"
)

// Strategy selects the batch packing algorithm
type Strategy string

const (
	// StrategyFolder bins same-folder documents together, splitting on
	// token overflow.
	StrategyFolder Strategy = "folder"
	// StrategySize packs by first-fit-decreasing size, ignoring folders.
	StrategySize Strategy = "size"
	// StrategyMixed packs CRITICAL/HIGH documents with folder affinity
	// first, then fills remaining batches greedily.
	StrategyMixed Strategy = "mixed"
)

// IsValid checks if the strategy value is valid
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFolder, StrategySize, StrategyMixed:
		return true
	}
	return false
}

// Config holds batch scheduler settings
type Config struct {
	// MaxBatchTokens is the hard per-batch limit.
	MaxBatchTokens int
	// TargetBatchTokens is the preferred fill level, below the hard limit.
	TargetBatchTokens int
	// BatchThreshold is the document count above which batching activates.
	// At or below it, callers use simpler unbatched processing.
	BatchThreshold int
	// Strategy selects the packing algorithm.
	Strategy Strategy
	// ContextFindingCap bounds the accumulated cross-batch findings
	// passed forward to later batches.
	ContextFindingCap int
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxBatchTokens:    4000,
		TargetBatchTokens: 3000,
		BatchThreshold:    8,
		Strategy:          StrategyMixed,
		ContextFindingCap: 20,
	}
}

// Validate checks the config for consistency
func (c *Config) Validate() error {
	if c.MaxBatchTokens <= 0 {
		return fmt.Errorf("max_batch_tokens must be positive (got %d)", c.MaxBatchTokens)
	}
	if c.TargetBatchTokens <= 0 || c.TargetBatchTokens > c.MaxBatchTokens {
		return fmt.Errorf("target_batch_tokens must be in (0, %d] (got %d)", c.MaxBatchTokens, c.TargetBatchTokens)
	}
	if !c.Strategy.IsValid() {
		return fmt.Errorf("invalid strategy: %s", c.Strategy)
	}
	return nil
}

// Scheduler bin-packs compressed documents into batches
type Scheduler struct {
	cfg *Config
}

// NewScheduler creates a scheduler with the given config
func NewScheduler(cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg}, nil
}

// ShouldBatch reports whether the document count warrants batching
func (s *Scheduler) ShouldBatch(docCount int) bool {
	return docCount > s.cfg.BatchThreshold
}

// Schedule packs the documents into batches under the configured
// strategy. Every returned batch satisfies the hard token limit; a
// single document larger than the limit gets a batch of its own so no
// document is ever dropped.
func (s *Scheduler) Schedule(docs []*types.CompressedDocument) ([]*types.Batch, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var batches []*types.Batch
	switch s.cfg.Strategy {
	case StrategyFolder:
		batches = s.packByFolder(docs)
	case StrategySize:
		batches = s.packBySize(docs)
	case StrategyMixed:
		batches = s.packMixed(docs)
	default:
		return nil, fmt.Errorf("invalid strategy: %s", s.cfg.Strategy)
	}

	for i, b := range batches {
		b.Index = i
	}
	return batches, nil
}

// packByFolder groups documents by folder category, splitting a folder's
// run into multiple batches on token overflow.
func (s *Scheduler) packByFolder(docs []*types.CompressedDocument) []*types.Batch {
	byFolder := make(map[string][]*types.CompressedDocument)
	var folders []string
	for _, d := range docs {
		if _, seen := byFolder[d.Folder]; !seen {
			folders = append(folders, d.Folder)
		}
		byFolder[d.Folder] = append(byFolder[d.Folder], d)
	}
	sort.Strings(folders)

	var batches []*types.Batch
	for _, folder := range folders {
		current := &types.Batch{}
		for _, d := range byFolder[folder] {
			if len(current.Documents) > 0 && current.TotalTokens+d.CompressedTokens > s.cfg.MaxBatchTokens {
				batches = append(batches, current)
				current = &types.Batch{}
			}
			current.Add(d)
		}
		if len(current.Documents) > 0 {
			batches = append(batches, current)
		}
	}
	return batches
}

// packBySize is first-fit-decreasing bin packing, ignoring folders
func (s *Scheduler) packBySize(docs []*types.CompressedDocument) []*types.Batch {
	sorted := make([]*types.CompressedDocument, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CompressedTokens > sorted[j].CompressedTokens
	})

	var batches []*types.Batch
	for _, d := range sorted {
		placed := false
		for _, b := range batches {
			if b.TotalTokens+d.CompressedTokens <= s.cfg.MaxBatchTokens {
				b.Add(d)
				placed = true
				break
			}
		}
		if !placed {
			b := &types.Batch{}
			b.Add(d)
			batches = append(batches, b)
		}
	}
	return batches
}

// packMixed places CRITICAL and HIGH documents first with folder
// affinity, then greedily packs the remainder into whichever batch
// scores best on folder overlap plus remaining headroom.
func (s *Scheduler) packMixed(docs []*types.CompressedDocument) []*types.Batch {
	important := make([]*types.CompressedDocument, 0, len(docs))
	rest := make([]*types.CompressedDocument, 0, len(docs))
	for _, d := range docs {
		switch d.Tier {
		case types.PriorityCritical, types.PriorityHigh:
			important = append(important, d)
		default:
			rest = append(rest, d)
		}
	}

	var batches []*types.Batch
	for _, d := range append(important, rest...) {
		if b := s.bestBatch(batches, d); b != nil {
			b.Add(d)
			continue
		}
		b := &types.Batch{}
		b.Add(d)
		batches = append(batches, b)
	}
	return batches
}

// bestBatch picks the highest-scoring batch that can still fit the
// document, or nil when none fits. Batches past the soft target only
// accept documents sharing a folder, keeping fills near the target while
// never breaching the hard limit.
func (s *Scheduler) bestBatch(batches []*types.Batch, d *types.CompressedDocument) *types.Batch {
	var best *types.Batch
	bestScore := -1
	for _, b := range batches {
		if b.TotalTokens+d.CompressedTokens > s.cfg.MaxBatchTokens {
			continue
		}
		overTarget := b.TotalTokens+d.CompressedTokens > s.cfg.TargetBatchTokens
		sameFolder := b.HasFolder(d.Folder)
		if overTarget && !sameFolder {
			continue
		}
		score := s.cfg.MaxBatchTokens - b.TotalTokens - d.CompressedTokens
		if sameFolder {
			score += s.cfg.MaxBatchTokens // folder-present bonus dominates headroom
		}
		if score > bestScore {
			bestScore = score
			best = b
		}
	}
	return best
}

// ContextFindings selects the accumulated CRITICAL/HIGH findings passed
// forward to the next batch, capped to bound prompt growth. Findings are
// taken most severe first.
func (s *Scheduler) ContextFindings(accumulated []*types.Finding) []*types.Finding {
	selected := make([]*types.Finding, 0, len(accumulated))
	for _, f := range accumulated {
		if f.Status == types.StatusRed || f.Status == types.StatusAmber {
			selected = append(selected, f)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Status.Precedence() > selected[j].Status.Precedence()
	})
	if len(selected) > s.cfg.ContextFindingCap {
		selected = selected[:s.cfg.ContextFindingCap]
	}
	return selected
}
