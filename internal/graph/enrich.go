package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/types"
)

// ModelClient is the slice of the gateway the enricher needs
type ModelClient interface {
	Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error)
}

// EnrichConfig holds relationship-enrichment settings
type EnrichConfig struct {
	// Workers bounds the concurrent model calls.
	Workers int
	// MaxTextChars truncates document text in the enrichment prompt.
	MaxTextChars int
}

// DefaultEnrichConfig returns a config with sensible defaults
func DefaultEnrichConfig() *EnrichConfig {
	return &EnrichConfig{
		Workers:      5,
		MaxTextChars: 12000,
	}
}

// Enricher finds cross-document references and security relationships
// through narrow fast-tier model calls. Enrichment is strictly optional:
// every failure degrades to a skipped document, never a failed build.
type Enricher struct {
	client ModelClient
	cfg    *EnrichConfig
}

// NewEnricher creates an enricher backed by the given model client
func NewEnricher(client ModelClient, cfg *EnrichConfig) *Enricher {
	if cfg == nil {
		cfg = DefaultEnrichConfig()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	return &Enricher{client: client, cfg: cfg}
}

// referencePayload is the JSON shape requested from the model
type referencePayload struct {
	References []struct {
		Document string `json:"document"`
		Kind     string `json:"kind"`
		Detail   string `json:"detail"`
	} `json:"references"`
}

// Enrich collects cross-document references for the given documents
// across a bounded worker pool. Per-document failures are logged and
// skipped; only context cancellation returns an error.
func (e *Enricher) Enrich(ctx context.Context, docs []*types.Document) ([]Reference, error) {
	var mu sync.Mutex
	var refs []Reference

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			found, err := e.enrichOne(gctx, doc)
			if err != nil {
				slog.Warn("relationship enrichment skipped for document",
					"document_id", doc.ID, "error", err)
				return nil
			}
			mu.Lock()
			refs = append(refs, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrichment aborted: %w", err)
	}
	return refs, nil
}

func (e *Enricher) enrichOne(ctx context.Context, doc *types.Document) ([]Reference, error) {
	text := doc.Text
	if len(text) > e.cfg.MaxTextChars {
		text = text[:e.cfg.MaxTextChars]
	}

	var b strings.Builder
	b.WriteString("List every other document this legal document explicitly refers to, secures, or conflicts with.\n")
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"references": [{"document": "<name as mentioned>", "kind": "reference|secures|conflicts_with", "detail": "..."}]}`)
	b.WriteString("\nReturn an empty references list if there are none.\n\n")
	fmt.Fprintf(&b, "Document: %s\n\n%s", doc.Filename, text)

	raw, _, err := e.client.Complete(ctx, types.TierFast, b.String(), "enrich_relationships", 1000)
	if err != nil {
		return nil, err
	}

	parsed := ai.Parse[referencePayload](raw, "enrich_relationships")
	if !parsed.Success {
		return nil, fmt.Errorf("unparseable enrichment output: %s", parsed.Error)
	}

	refs := make([]Reference, 0, len(parsed.Data.References))
	for _, r := range parsed.Data.References {
		if strings.TrimSpace(r.Document) == "" {
			continue
		}
		refs = append(refs, Reference{
			FromDocumentID: doc.ID,
			Text:           r.Document,
			Kind:           r.Kind,
			Detail:         r.Detail,
		})
	}
	return refs, nil
}
