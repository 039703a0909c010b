package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContinuation(t *testing.T) {
	raw := []byte(`{"event_type": "RunContinuation", "data": {"run_id": "run-1", "email": "analyst@example.com"}}`)
	env, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, EventRunContinuation, env.EventType)
	assert.Equal(t, "run-1", env.Data.RunID)
	assert.Equal(t, "analyst@example.com", env.Data.Email)
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"event_type": "SomethingElse", "data": {"run_id": "run-1"}}`))
	assert.Error(t, err)
}

func TestParseRejectsMissingRunID(t *testing.T) {
	_, err := Parse([]byte(`{"event_type": "RunContinuation", "data": {}}`))
	assert.Error(t, err)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"event_type": `))
	assert.Error(t, err)
}

func TestSubscriptionValidationEcho(t *testing.T) {
	raw := []byte(`{"event_type": "SubscriptionValidationEvent", "data": {"validationCode": "abc-123"}}`)
	env, err := Parse(raw)
	require.NoError(t, err)

	resp, err := env.Echo()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.ValidationResponse)
}

func TestEchoRejectsOtherTypes(t *testing.T) {
	env := NewContinuation("run-1", "")
	_, err := env.Echo()
	assert.Error(t, err)
}
