// Package compression produces token-bounded structured summaries of
// documents. The summary budget comes from the document's priority tier
// so important documents keep more detail.
package compression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/types"
)

// ModelClient is the slice of the gateway the compressor needs
type ModelClient interface {
	Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error)
}

// Config holds compression engine settings
type Config struct {
	// Workers bounds the concurrent model calls.
	Workers int
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Workers: 8,
	}
}

// Compressor summarizes documents through fast-tier model calls. Retries
// and backoff happen inside the gateway; the compressor only decides
// whether to fall back after the gateway gives up.
type Compressor struct {
	client ModelClient
	cfg    *Config
}

// New creates a compressor backed by the given model client
func New(client ModelClient, cfg *Config) *Compressor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Compressor{client: client, cfg: cfg}
}

// summaryPayload is the JSON shape requested from the model
type summaryPayload struct {
	Summary    string   `json:"summary"`
	Provisions []string `json:"provisions,omitempty"`
	Parties    []string `json:"parties,omitempty"`
	Dates      []string `json:"dates,omitempty"`
	Amounts    []string `json:"amounts,omitempty"`
	RiskFlags  []string `json:"risk_flags,omitempty"`
}

// CompressAll summarizes every document across a bounded worker pool.
// Output order matches input order regardless of completion order. A
// document whose compression fails gets a truncated-excerpt fallback
// instead of being dropped; only context cancellation aborts the pass.
func (c *Compressor) CompressAll(ctx context.Context, docs []*types.PrioritizedDocument) ([]*types.CompressedDocument, error) {
	results := make([]*types.CompressedDocument, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i, pd := range docs {
		i, pd := i, pd
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.Compress(gctx, pd)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compression pass aborted: %w", err)
	}
	return results, nil
}

// Compress summarizes one document at its tier's token budget. Never
// returns nil: on any failure it falls back to a truncated excerpt of
// the raw text flagged as a fallback.
func (c *Compressor) Compress(ctx context.Context, pd *types.PrioritizedDocument) *types.CompressedDocument {
	doc := pd.Document
	originalTokens := types.EstimateTokens(doc.Text)

	prompt := buildPrompt(doc, pd.TokenTarget)
	raw, _, err := c.client.Complete(ctx, types.TierFast, prompt, "compress_document", pd.TokenTarget+200)
	if err != nil {
		slog.Warn("document compression failed, using excerpt fallback",
			"document_id", doc.ID, "filename", doc.Filename, "error", err)
		return c.fallback(pd, originalTokens)
	}

	parsed := ai.Parse[summaryPayload](raw, "compress_document")
	if !parsed.Success || strings.TrimSpace(parsed.Data.Summary) == "" {
		slog.Warn("compression output unparseable, using excerpt fallback",
			"document_id", doc.ID, "parse_error", parsed.Error)
		return c.fallback(pd, originalTokens)
	}

	p := parsed.Data
	return &types.CompressedDocument{
		DocumentID:       doc.ID,
		Filename:         doc.Filename,
		Folder:           doc.Folder,
		Tier:             pd.Tier,
		Summary:          p.Summary,
		Provisions:       p.Provisions,
		Parties:          p.Parties,
		Dates:            p.Dates,
		Amounts:          p.Amounts,
		RiskFlags:        p.RiskFlags,
		OriginalTokens:   originalTokens,
		CompressedTokens: types.EstimateTokens(p.Summary),
	}
}

// fallback returns a deterministic truncated excerpt of the raw text
func (c *Compressor) fallback(pd *types.PrioritizedDocument, originalTokens int) *types.CompressedDocument {
	doc := pd.Document
	excerpt := doc.Text
	maxChars := pd.TokenTarget * 4
	if len(excerpt) > maxChars {
		excerpt = excerpt[:maxChars]
	}
	return &types.CompressedDocument{
		DocumentID:       doc.ID,
		Filename:         doc.Filename,
		Folder:           doc.Folder,
		Tier:             pd.Tier,
		Summary:          excerpt,
		OriginalTokens:   originalTokens,
		CompressedTokens: types.EstimateTokens(excerpt),
		Fallback:         true,
	}
}

func buildPrompt(doc *types.Document, tokenTarget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following legal document in at most %d tokens.\n", tokenTarget)
	b.WriteString("Respond with JSON only, using this shape:\n")
	b.WriteString(`{"summary": "...", "provisions": [], "parties": [], "dates": [], "amounts": [], "risk_flags": []}`)
	b.WriteString("\n\nFocus on provisions affecting a transaction: change of control, consent, assignment, termination, exclusivity, indemnities, and any monetary exposure.\n\n")
	fmt.Fprintf(&b, "Filename: %s\n", doc.Filename)
	if doc.Folder != "" {
		fmt.Fprintf(&b, "Folder: %s\n", doc.Folder)
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(doc.Text)
	return b.String()
}

// AggregateRatio reports the overall compression ratio across documents
func AggregateRatio(docs []*types.CompressedDocument) float64 {
	var original, compressed int
	for _, d := range docs {
		original += d.OriginalTokens
		compressed += d.CompressedTokens
	}
	if original <= 0 {
		return 0
	}
	return 1 - float64(compressed)/float64(original)
}
