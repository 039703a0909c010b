// Package types defines the core domain model for the due-diligence
// analysis engine: cases, runs, checkpoints, documents, findings, and the
// knowledge-graph entities shared across packages.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Case represents a due-diligence project. A case is created at intake and
// is read-only to the processing core.
type Case struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Briefing        string    `json:"briefing,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	Owner           string    `json:"owner,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks if the case has valid field values
func (c *Case) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("case id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("case name is required")
	}
	return nil
}

// RunStatus represents the lifecycle state of a processing run
type RunStatus string

const (
	RunQueued               RunStatus = "queued"
	RunProcessing           RunStatus = "processing"
	RunWaitingForValidation RunStatus = "waiting_for_validation"
	RunPaused               RunStatus = "paused"
	RunCompleted            RunStatus = "completed"
	RunFailed               RunStatus = "failed"
	RunCancelled            RunStatus = "cancelled"
)

// IsValid checks if the run status value is valid
func (s RunStatus) IsValid() bool {
	switch s {
	case RunQueued, RunProcessing, RunWaitingForValidation, RunPaused,
		RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state. Terminal runs
// release their registry slot and can never be restarted in place.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// ModelTier selects the accuracy/cost tradeoff for model calls in a run
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // cheap model, compression and enrichment
	TierBalanced ModelTier = "balanced" // default analysis model
	TierAccurate ModelTier = "accurate" // high-accuracy model for synthesis/arbitration
)

// IsValid checks if the model tier value is valid
func (t ModelTier) IsValid() bool {
	switch t {
	case TierFast, TierBalanced, TierAccurate:
		return true
	}
	return false
}

// Run represents one processing attempt over a selected document subset of
// a case. A run owns at most one active checkpoint.
type Run struct {
	ID                  string     `json:"id"`
	CaseID              string     `json:"case_id"`
	DocumentIDs         []string   `json:"document_ids"`
	Status              RunStatus  `json:"status"`
	Tier                ModelTier  `json:"tier"`
	IncludeDeepQuestion bool       `json:"include_deep_questions,omitempty"`
	InputTokens         int64      `json:"input_tokens"`
	OutputTokens        int64      `json:"output_tokens"`
	CostUSD             float64    `json:"cost_usd"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Validate checks if the run has valid field values
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.CaseID == "" {
		return fmt.Errorf("case id is required")
	}
	if len(r.DocumentIDs) == 0 {
		return fmt.Errorf("run must select at least one document")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("invalid run status: %s", r.Status)
	}
	if !r.Tier.IsValid() {
		return fmt.Errorf("invalid model tier: %s", r.Tier)
	}
	return nil
}

// Document is the external document identity referenced by the core.
// Extraction from the source file happens upstream; the core only sees
// the extracted text.
type Document struct {
	ID       string `json:"id"`
	CaseID   string `json:"case_id"`
	Filename string `json:"filename"`
	Folder   string `json:"folder,omitempty"`
	Text     string `json:"text,omitempty"`
	TextKey  string `json:"text_key,omitempty"` // object-store key when text is not inline
	Status   string `json:"status,omitempty"`
}

// Validate checks if the document has valid field values
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.Filename == "" {
		return fmt.Errorf("document filename is required")
	}
	return nil
}

// ValidationCheckpoint is a human-in-the-loop gate. While pending it blocks
// pipeline progression into cross-document synthesis.
type ValidationCheckpoint struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Questions   []string   `json:"questions"`
	Corrections string     `json:"corrections,omitempty"` // user-supplied answers, JSON
	Answered    bool       `json:"answered"`
	CreatedAt   time.Time  `json:"created_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
}
