package types

import (
	"fmt"
	"time"
)

// VertexKind identifies the entity type of a graph vertex
type VertexKind string

const (
	VertexParty      VertexKind = "party"
	VertexAgreement  VertexKind = "agreement"
	VertexObligation VertexKind = "obligation"
	VertexTrigger    VertexKind = "trigger"
	VertexAmount     VertexKind = "amount"
	VertexDate       VertexKind = "date"
)

// IsValid checks if the vertex kind value is valid
func (k VertexKind) IsValid() bool {
	switch k {
	case VertexParty, VertexAgreement, VertexObligation, VertexTrigger, VertexAmount, VertexDate:
		return true
	}
	return false
}

// Party is a resolved legal party vertex. Normalized name is unique within
/// a case: re-inserting a name variant appends the document to SourceDocs
// instead of creating a second vertex.
type Party struct {
	ID             string   `json:"id"`
	CaseID         string   `json:"case_id"`
	Name           string   `json:"name"`
	NormalizedName string   `json:"normalized_name"`
	Type           string   `json:"type,omitempty"`
	Role           string   `json:"role,omitempty"`
	SourceDocs     []string `json:"source_docs"`
}

// Agreement is the per-document agreement vertex carrying structural flags
type Agreement struct {
	ID                   string `json:"id"`
	CaseID               string `json:"case_id"`
	DocumentID           string `json:"document_id"`
	Title                string `json:"title"`
	ChangeOfControl      bool   `json:"change_of_control"`
	AssignmentRestricted bool   `json:"assignment_restricted"`
	ConsentRequired      bool   `json:"consent_required"`
}

// Obligation is a duty vertex, linked to resolved party vertices when the
// obligor/obligee names match.
type Obligation struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	DocumentID  string `json:"document_id"`
	Description string `json:"description"`
	ObligorID   string `json:"obligor_id,omitempty"`
	ObligeeID   string `json:"obligee_id,omitempty"`
}

// Trigger is an event-clause vertex
type Trigger struct {
	ID          string `json:"id"`
	CaseID      string `json:"case_id"`
	DocumentID  string `json:"document_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Consequence string `json:"consequence,omitempty"`
}

// AmountVertex is a monetary value vertex
type AmountVertex struct {
	ID         string  `json:"id"`
	CaseID     string  `json:"case_id"`
	DocumentID string  `json:"document_id"`
	Value      float64 `json:"value"`
	Currency   string  `json:"currency,omitempty"`
	Context    string  `json:"context,omitempty"`
}

// DateVertex is a dated-event vertex
type DateVertex struct {
	ID         string `json:"id"`
	CaseID     string `json:"case_id"`
	DocumentID string `json:"document_id"`
	Date       string `json:"date"`
	Label      string `json:"label,omitempty"`
}

// EdgeType categorizes relationships between graph vertices
type EdgeType string

const (
	EdgePartyToAgreement EdgeType = "party_to_agreement"
	EdgeTriggers         EdgeType = "triggers"
	EdgeRequiresConsent  EdgeType = "requires_consent"
	EdgeReferences       EdgeType = "references" // cross-document reference
	EdgeConflictsWith    EdgeType = "conflicts_with"
	EdgeSecures          EdgeType = "secures"
)

// IsValid checks if the edge type value is valid
func (t EdgeType) IsValid() bool {
	switch t {
	case EdgePartyToAgreement, EdgeTriggers, EdgeRequiresConsent,
		EdgeReferences, EdgeConflictsWith, EdgeSecures:
		return true
	}
	return false
}

// Edge links two graph vertices
type Edge struct {
	ID       string   `json:"id"`
	CaseID   string   `json:"case_id"`
	Type     EdgeType `json:"type"`
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Detail   string   `json:"detail,omitempty"`
}

// Validate checks if the edge has valid field values
func (e *Edge) Validate() error {
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("edge requires source and target vertex ids")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid edge type: %s", e.Type)
	}
	return nil
}

// GraphBuildState tracks a case's graph build lifecycle
type GraphBuildState string

const (
	GraphBuildRunning   GraphBuildState = "running"
	GraphBuildCompleted GraphBuildState = "completed"
	GraphBuildFailed    GraphBuildState = "failed"
)

// GraphBuildStatus is the persisted build-progress record for a case's
// knowledge graph. Rebuilds are idempotent: the builder clears all prior
// graph rows for the case before repopulating.
type GraphBuildStatus struct {
	CaseID        string          `json:"case_id"`
	RunID         string          `json:"run_id"`
	State         GraphBuildState `json:"state"`
	VertexCount   int             `json:"vertex_count"`
	EdgeCount     int             `json:"edge_count"`
	DocumentsDone int             `json:"documents_done"`
	LastError     string          `json:"last_error,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
