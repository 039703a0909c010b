package types

import (
	"fmt"
	"time"
)

// FindingStatus is the RAG-style severity of a finding. The precedence
// table below is the single canonical ordering used everywhere status
// comparisons matter (dedup merging, sorting, cascade risk levels).
type FindingStatus string

const (
	StatusRed    FindingStatus = "Red"
	StatusAmber  FindingStatus = "Amber"
	StatusYellow FindingStatus = "Yellow"
	StatusGreen  FindingStatus = "Green"
	StatusInfo   FindingStatus = "Info"
)

// statusPrecedence ranks statuses from most to least severe.
// Red > Amber > Yellow > Green > Info.
var statusPrecedence = map[FindingStatus]int{
	StatusRed:    5,
	StatusAmber:  4,
	StatusYellow: 3,
	StatusGreen:  2,
	StatusInfo:   1,
}

// IsValid checks if the finding status value is valid
func (s FindingStatus) IsValid() bool {
	_, ok := statusPrecedence[s]
	return ok
}

// Precedence returns the severity rank of the status (higher is more
// severe). Unknown statuses rank below Info.
func (s FindingStatus) Precedence() int {
	return statusPrecedence[s]
}

// MostSevereStatus returns the most severe status among the given values.
// An empty input returns Info.
func MostSevereStatus(statuses ...FindingStatus) FindingStatus {
	most := StatusInfo
	for _, s := range statuses {
		if s.Precedence() > most.Precedence() {
			most = s
		}
	}
	return most
}

// FindingType classifies what kind of assertion a finding makes about a
// risk question. Deduplication groups findings by type before clustering.
type FindingType string

const (
	FindingPositive      FindingType = "positive"
	FindingNegative      FindingType = "negative"
	FindingGap           FindingType = "gap"
	FindingNeutral       FindingType = "neutral"
	FindingInformational FindingType = "informational"
)

// IsValid checks if the finding type value is valid
func (t FindingType) IsValid() bool {
	switch t {
	case FindingPositive, FindingNegative, FindingGap, FindingNeutral, FindingInformational:
		return true
	}
	return false
}

// DealImpact classifies how a finding affects the transaction
type DealImpact string

const (
	ImpactBlocker     DealImpact = "blocker"
	ImpactPriceChip   DealImpact = "price_chip"
	ImpactCondition   DealImpact = "condition"
	ImpactWarranty    DealImpact = "warranty"
	ImpactInformation DealImpact = "information"
)

// IsValid checks if the deal impact value is valid
func (d DealImpact) IsValid() bool {
	switch d {
	case ImpactBlocker, ImpactPriceChip, ImpactCondition, ImpactWarranty, ImpactInformation:
		return true
	}
	return false
}

// FinancialExposure captures the monetary dimension of a finding
type FinancialExposure struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Calculation string  `json:"calculation,omitempty"`
}

// Finding is a candidate or final risk assertion produced by analysis.
// Findings are mutated only by the deduplication engine (merge) and are
// never deleted; superseded findings fold into the surviving one.
type Finding struct {
	ID             string        `json:"id"`
	CaseID         string        `json:"case_id"`
	RunID          string        `json:"run_id"`
	RiskQuestionID string        `json:"risk_question_id"`
	Category       string        `json:"category"`
	Type           FindingType   `json:"type"`
	Status         FindingStatus `json:"status"`
	Title          string        `json:"title"`
	Detail         string        `json:"detail,omitempty"`
	Evidence       string        `json:"evidence,omitempty"`

	// DocumentIDs holds the source documents. One entry before merging,
	// the union of all merged originals afterwards.
	DocumentIDs []string `json:"document_ids"`
	PageNumbers []int    `json:"page_numbers,omitempty"`

	Exposure    *FinancialExposure `json:"exposure,omitempty"`
	DealImpact  DealImpact         `json:"deal_impact,omitempty"`
	Materiality string             `json:"materiality,omitempty"`

	// Merge lineage: how many originals this finding absorbed and which
	// documents they came from.
	DuplicateCount int      `json:"duplicate_count,omitempty"`
	MergedFromDocs []string `json:"merged_from_docs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding id is required")
	}
	if f.RiskQuestionID == "" {
		return fmt.Errorf("risk_question_id is required")
	}
	if f.Title == "" {
		return fmt.Errorf("finding title is required")
	}
	if len(f.DocumentIDs) == 0 {
		return fmt.Errorf("finding must reference at least one document")
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid finding status: %s", f.Status)
	}
	if !f.Type.IsValid() {
		return fmt.Errorf("invalid finding type: %s", f.Type)
	}
	if f.DealImpact != "" && !f.DealImpact.IsValid() {
		return fmt.Errorf("invalid deal impact: %s", f.DealImpact)
	}
	if f.DuplicateCount < 0 {
		return fmt.Errorf("duplicate_count cannot be negative (got %d)", f.DuplicateCount)
	}
	return nil
}
