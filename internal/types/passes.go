package types

import "fmt"

// Structured extraction entities produced by the first pass. These are the
// raw material for the knowledge graph; no additional model calls are made
// to build the graph from them.

// ExtractedParty is a legal party named on a document
type ExtractedParty struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"` // company, individual, trust, government
	Role string `json:"role,omitempty"` // buyer, seller, lender, counterparty
}

// ExtractedDate is a dated event in a document
type ExtractedDate struct {
	Date  string `json:"date"`
	Label string `json:"label,omitempty"` // execution, expiry, renewal
}

// ExtractedAmount is a monetary value found in a document
type ExtractedAmount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
	Context  string  `json:"context,omitempty"`
}

// ExtractedTrigger is an event clause (change of control, default,
// termination) that activates obligations or consents.
type ExtractedTrigger struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Consequence string `json:"consequence,omitempty"`
}

// ExtractedObligation is a duty owed between parties
type ExtractedObligation struct {
	Description string `json:"description"`
	Obligor     string `json:"obligor,omitempty"`
	Obligee     string `json:"obligee,omitempty"`
}

// ExtractionResult is the first-pass structured output for one document
type ExtractionResult struct {
	DocumentID string `json:"document_id"`
	Summary    string `json:"summary,omitempty"`

	Parties     []ExtractedParty      `json:"parties,omitempty"`
	Dates       []ExtractedDate       `json:"dates,omitempty"`
	Amounts     []ExtractedAmount     `json:"amounts,omitempty"`
	Triggers    []ExtractedTrigger    `json:"triggers,omitempty"`
	Obligations []ExtractedObligation `json:"obligations,omitempty"`

	ChangeOfControl      bool `json:"change_of_control,omitempty"`
	AssignmentRestricted bool `json:"assignment_restricted,omitempty"`
	ConsentRequired      bool `json:"consent_required,omitempty"`
}

// AnalysisResult is the per-document analysis output
type AnalysisResult struct {
	DocumentID string     `json:"document_id"`
	Findings   []*Finding `json:"findings,omitempty"`
}

// CrossDocResult is the output for one batch or semantic cluster
type CrossDocResult struct {
	GroupLabel string     `json:"group_label"`
	Findings   []*Finding `json:"findings,omitempty"`
}

// SynthesisResult is the final report synthesis output
type SynthesisResult struct {
	ExecutiveSummary string   `json:"executive_summary"`
	KeyRisks         []string `json:"key_risks,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// PassKind tags which variant a PassResult carries
type PassKind string

const (
	PassExtraction PassKind = "extraction"
	PassAnalysis   PassKind = "analysis"
	PassCrossDoc   PassKind = "cross_document"
	PassSynthesis  PassKind = "synthesis"
)

// PassResult is the tagged union of per-pass outputs. Exactly one of the
// variant fields is set, selected by Kind.
type PassResult struct {
	Kind       PassKind          `json:"kind"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Analysis   *AnalysisResult   `json:"analysis,omitempty"`
	CrossDoc   *CrossDocResult   `json:"cross_document,omitempty"`
	Synthesis  *SynthesisResult  `json:"synthesis,omitempty"`
}

// Validate checks that exactly the variant named by Kind is populated
func (p *PassResult) Validate() error {
	switch p.Kind {
	case PassExtraction:
		if p.Extraction == nil {
			return fmt.Errorf("extraction result missing for kind %s", p.Kind)
		}
	case PassAnalysis:
		if p.Analysis == nil {
			return fmt.Errorf("analysis result missing for kind %s", p.Kind)
		}
	case PassCrossDoc:
		if p.CrossDoc == nil {
			return fmt.Errorf("cross-document result missing for kind %s", p.Kind)
		}
	case PassSynthesis:
		if p.Synthesis == nil {
			return fmt.Errorf("synthesis result missing for kind %s", p.Kind)
		}
	default:
		return fmt.Errorf("unknown pass kind: %s", p.Kind)
	}
	return nil
}

// PassPayload is the resumable intermediate state snapshotted into the
// checkpoint at every suspension point. A resumed run replays nothing that
// appears here.
type PassPayload struct {
	ProcessedDocumentIDs []string           `json:"processed_document_ids,omitempty"`
	Extractions          []ExtractionResult `json:"extractions,omitempty"`
	Findings             []*Finding         `json:"findings,omitempty"`
	CompletedGroups      []string           `json:"completed_groups,omitempty"`
	Synthesis            *SynthesisResult   `json:"synthesis,omitempty"`
}

// HasProcessed reports whether the document already committed its
// per-document work before a pause or failure.
func (p *PassPayload) HasProcessed(documentID string) bool {
	for _, id := range p.ProcessedDocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// MarkProcessed records a document id exactly once
func (p *PassPayload) MarkProcessed(documentID string) {
	if !p.HasProcessed(documentID) {
		p.ProcessedDocumentIDs = append(p.ProcessedDocumentIDs, documentID)
	}
}
