package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage labels one pass of the processing pipeline. Stages advance in the
// order listed; failed, paused, and cancelled are reachable from any stage.
type Stage string

const (
	StageQueued               Stage = "queued"
	StageExtraction           Stage = "extraction"
	StageGraphBuilding        Stage = "graph_building"
	StageAnalysis             Stage = "analysis"
	StageCalculation          Stage = "calculation"
	StageWaitingForValidation Stage = "waiting_for_validation"
	StageCrossDocument        Stage = "cross_document"
	StageAggregateCalculation Stage = "aggregate_calculation"
	StageSynthesis            Stage = "synthesis"
	StageVerification         Stage = "verification"
	StageStoringFindings      Stage = "storing_findings"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
	StagePaused               Stage = "paused"
	StageCancelled            Stage = "cancelled"
)

// stageOrder gives each pipeline stage its position in the normal forward
// progression. Control stages (failed/paused/cancelled) are not ordered.
var stageOrder = map[Stage]int{
	StageQueued:               0,
	StageExtraction:           1,
	StageGraphBuilding:        2,
	StageAnalysis:             3,
	StageCalculation:          4,
	StageWaitingForValidation: 5,
	StageCrossDocument:        6,
	StageAggregateCalculation: 7,
	StageSynthesis:            8,
	StageVerification:         9,
	StageStoringFindings:      10,
	StageCompleted:            11,
}

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	if _, ok := stageOrder[s]; ok {
		return true
	}
	switch s {
	case StageFailed, StagePaused, StageCancelled:
		return true
	}
	return false
}

// Ordinal returns the stage's position in the forward progression, or -1
// for control stages.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// CanAdvanceTo reports whether a transition from s to next is legal.
// Forward transitions may skip optional stages (graph building and the
// validation gate are both skippable), but never move backwards. The
// control stages are reachable from anywhere.
func (s Stage) CanAdvanceTo(next Stage) bool {
	switch next {
	case StageFailed, StagePaused, StageCancelled:
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		// Resuming out of paused lands back on an ordered stage.
		return s == StagePaused || s == StageQueued
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Checkpoint is the mutable progress record for a run. Every update is
// written through its own short-lived transaction so no checkpoint write
// ever depends on a connection held across an external model call.
type Checkpoint struct {
	ID          string `json:"id"`
	RunID       string `json:"run_id"`
	CurrentPass int    `json:"current_pass"`
	Stage       Stage  `json:"stage"`

	// PassProgress maps stage label to percent complete (0-100).
	// Counters are monotonically non-decreasing within a run.
	PassProgress map[string]int `json:"pass_progress,omitempty"`

	// Cumulative usage and cost counters.
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	DocumentsProcessed int    `json:"documents_processed"`
	DocumentsFailed    int    `json:"documents_failed"`
	LastError          string `json:"last_error,omitempty"`

	// Payload carries resumable intermediate results (PassPayload, JSON).
	Payload string `json:"payload,omitempty"`

	// BatchProgress maps batch/cluster label to completion state so a
	// resumed run can skip already-committed groups.
	BatchProgress map[string]bool `json:"batch_progress,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks if the checkpoint has valid field values
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	if c.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if !c.Stage.IsValid() {
		return fmt.Errorf("invalid stage: %s", c.Stage)
	}
	if c.CurrentPass < 0 {
		return fmt.Errorf("current_pass cannot be negative (got %d)", c.CurrentPass)
	}
	for stage, pct := range c.PassProgress {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("progress for %s must be between 0 and 100 (got %d)", stage, pct)
		}
	}
	return nil
}

// SetPayload marshals a pass payload into the checkpoint
func (c *Checkpoint) SetPayload(p *PassPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint payload: %w", err)
	}
	c.Payload = string(data)
	return nil
}

// GetPayload unmarshals the checkpoint's intermediate payload. An empty
// payload yields an empty (not nil) PassPayload so callers can append
// without nil checks.
func (c *Checkpoint) GetPayload() (*PassPayload, error) {
	p := &PassPayload{}
	if c.Payload == "" || c.Payload == "{}" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(c.Payload), p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint payload: %w", err)
	}
	return p, nil
}
