// Package events defines the typed envelope used for event-driven run
// continuation. An external queue delivers envelopes to the engine when
// a run has more work remaining after a bounded execution window, and
// the engine must echo subscription-validation events during channel
// setup.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of envelope delivered to the engine
type EventType string

const (
	// EventRunContinuation re-queues a run with remaining work.
	EventRunContinuation EventType = "RunContinuation"
	// EventRunCompleted notifies subscribers that a run reached a
	// terminal state.
	EventRunCompleted EventType = "RunCompleted"
	// EventValidationAnswered signals that a human answered the
	// validation gate for a waiting run.
	EventValidationAnswered EventType = "ValidationAnswered"
	// EventSubscriptionValidation is the channel-setup handshake; its
	// validation code must be echoed back verbatim.
	EventSubscriptionValidation EventType = "SubscriptionValidationEvent"
)

// IsValid checks if the event type value is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventRunContinuation, EventRunCompleted, EventValidationAnswered, EventSubscriptionValidation:
		return true
	}
	return false
}

// EventData carries the payload fields of an envelope. ValidationCode is
// only present on subscription-validation events.
type EventData struct {
	RunID          string `json:"run_id,omitempty"`
	CaseID         string `json:"case_id,omitempty"`
	Email          string `json:"email,omitempty"`
	ValidationCode string `json:"validationCode,omitempty"`
}

// Envelope is the typed event wrapper
type Envelope struct {
	EventType EventType `json:"event_type"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewContinuation builds a run-continuation envelope
func NewContinuation(runID, email string) *Envelope {
	return &Envelope{
		EventType: EventRunContinuation,
		Data:      EventData{RunID: runID, Email: email},
		Timestamp: time.Now(),
	}
}

// NewRunCompleted builds a run-completed envelope
func NewRunCompleted(runID, caseID string) *Envelope {
	return &Envelope{
		EventType: EventRunCompleted,
		Data:      EventData{RunID: runID, CaseID: caseID},
		Timestamp: time.Now(),
	}
}

// Parse decodes an envelope from a raw delivery
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event envelope: %w", err)
	}
	if !env.EventType.IsValid() {
		return nil, fmt.Errorf("unknown event type: %q", env.EventType)
	}
	if env.EventType != EventSubscriptionValidation && strings.TrimSpace(env.Data.RunID) == "" {
		return nil, fmt.Errorf("event %s missing run_id", env.EventType)
	}
	return &env, nil
}

// ValidationResponse is the body echoed back for a
// subscription-validation event
type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

// Echo returns the handshake response for a subscription-validation
// event, or an error for any other type.
func (e *Envelope) Echo() (*ValidationResponse, error) {
	if e.EventType != EventSubscriptionValidation {
		return nil, fmt.Errorf("cannot echo event type %s", e.EventType)
	}
	return &ValidationResponse{ValidationResponse: e.Data.ValidationCode}, nil
}
