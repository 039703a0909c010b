package orchestrator

import (
	"fmt"
	"strings"

	"github.com/diligentiq/engine/internal/types"
)

// maxPromptChars bounds the raw text included in a per-document prompt
const maxPromptChars = 48000

func extractionPrompt(doc *types.Document) string {
	var b strings.Builder
	b.WriteString("Extract the structured entities from the following legal document.\n")
	b.WriteString("Respond with JSON only, using this shape:\n")
	b.WriteString(`{"summary": "...", "parties": [{"name": "", "type": "", "role": ""}], "dates": [{"date": "", "label": ""}], "amounts": [{"value": 0, "currency": "", "context": ""}], "triggers": [{"type": "", "description": "", "consequence": ""}], "obligations": [{"description": "", "obligor": "", "obligee": ""}], "change_of_control": false, "assignment_restricted": false, "consent_required": false}`)
	b.WriteString("\n\nUse trigger type \"change_of_control\" for change of control clauses. Set the boolean flags from the document's provisions.\n\n")
	fmt.Fprintf(&b, "Filename: %s\n", doc.Filename)
	if doc.Folder != "" {
		fmt.Fprintf(&b, "Folder: %s\n", doc.Folder)
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(truncate(doc.Text, maxPromptChars))
	return b.String()
}

func analysisPrompt(pd *types.PrioritizedDocument, summary *types.CompressedDocument) string {
	var b strings.Builder
	b.WriteString("Analyze the following document for due-diligence risk findings.\n")
	b.WriteString("Respond with JSON only, using this shape:\n")
	b.WriteString(`{"findings": [{"risk_question_id": "", "category": "", "type": "positive|negative|gap|neutral|informational", "status": "Red|Amber|Yellow|Green|Info", "title": "", "detail": "", "evidence": "", "page_numbers": [], "exposure_amount": 0, "exposure_currency": "", "deal_impact": "blocker|price_chip|condition|warranty|information"}]}`)
	b.WriteString("\n\nReport only findings supported by the text. Quote the supporting clause in evidence.\n\n")
	fmt.Fprintf(&b, "Filename: %s\n", pd.Document.Filename)
	if pd.Document.Folder != "" {
		fmt.Fprintf(&b, "Folder: %s\n", pd.Document.Folder)
	}
	fmt.Fprintf(&b, "Priority tier: %s\n", pd.Tier)
	if summary != nil && summary.Summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(summary.Summary)
		b.WriteString("\n")
	}
	b.WriteString("\nDocument text:\n")
	b.WriteString(truncate(pd.Document.Text, maxPromptChars))
	return b.String()
}

func crossDocPrompt(g crossDocGroup, prior []*types.Finding) string {
	var b strings.Builder
	b.WriteString("Analyze the following document set together for cross-document risks: inconsistencies, cascading obligations, and gaps no single document shows.\n")
	b.WriteString("Respond with JSON only, using this shape:\n")
	b.WriteString(`{"findings": [{"risk_question_id": "", "category": "", "type": "positive|negative|gap|neutral|informational", "status": "Red|Amber|Yellow|Green|Info", "title": "", "detail": "", "evidence": "", "exposure_amount": 0, "exposure_currency": ""}]}`)
	b.WriteString("\n\n")

	if len(g.questions) > 0 {
		b.WriteString("Questions to answer for this set:\n")
		for _, q := range g.questions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
		b.WriteString("\n")
	}

	if len(prior) > 0 {
		b.WriteString("High-severity findings already established:\n")
		for _, f := range prior {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Status, f.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("Documents:\n")
	for _, cd := range g.summaries {
		fmt.Fprintf(&b, "\n--- %s", cd.Filename)
		if cd.Folder != "" {
			fmt.Fprintf(&b, " (%s)", cd.Folder)
		}
		b.WriteString(" ---\n")
		b.WriteString(cd.Summary)
		b.WriteString("\n")
		if len(cd.RiskFlags) > 0 {
			fmt.Fprintf(&b, "Risk flags: %s\n", strings.Join(cd.RiskFlags, "; "))
		}
	}
	return b.String()
}

func synthesisPrompt(findings []*types.Finding) string {
	var b strings.Builder
	b.WriteString("Synthesize the final due-diligence report from the findings below.\n")
	b.WriteString("Respond with JSON only, using this shape:\n")
	b.WriteString(`{"executive_summary": "...", "key_risks": [], "recommendations": []}`)
	b.WriteString("\n\nFindings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s/%s] %s", f.Status, f.Type, f.Title)
		if f.Exposure != nil {
			fmt.Fprintf(&b, " (%.2f %s)", f.Exposure.Amount, f.Exposure.Currency)
		}
		b.WriteString("\n")
		if f.Detail != "" {
			fmt.Fprintf(&b, "  %s\n", truncate(f.Detail, 400))
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
