package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testExtraction struct {
	Summary string   `json:"summary"`
	Parties []string `json:"parties"`
}

func TestParseDirect(t *testing.T) {
	result := Parse[testExtraction](`{"summary": "loan agreement", "parties": ["Acme", "BankCo"]}`, "test")
	require.True(t, result.Success, "direct parse should succeed: %s", result.Error)
	assert.Equal(t, "loan agreement", result.Data.Summary)
	assert.Len(t, result.Data.Parties, 2)
}

func TestParseCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"json fence", "```json\n{\"summary\": \"ok\", \"parties\": []}\n```"},
		{"bare fence", "```\n{\"summary\": \"ok\", \"parties\": []}\n```"},
		{"fence without newlines", "```json{\"summary\": \"ok\", \"parties\": []}```"},
		{"fence in prose", "Here is the result:\n```json\n{\"summary\": \"ok\", \"parties\": []}\n```\nDone."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse[testExtraction](tt.input, "test")
			require.True(t, result.Success, "parse failed: %s", result.Error)
			assert.Equal(t, "ok", result.Data.Summary)
		})
	}
}

func TestParseCleanup(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"trailing comma", `{"summary": "ok", "parties": ["a",],}`},
		{"unquoted keys", `{summary: "ok", parties: []}`},
		{"line comment", "{\"summary\": \"ok\", // comment\n\"parties\": []}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse[testExtraction](tt.input, "test")
			require.True(t, result.Success, "parse failed: %s", result.Error)
			assert.Equal(t, "ok", result.Data.Summary)
		})
	}
}

func TestParseMixedContent(t *testing.T) {
	input := `Based on my review, here is the extraction: {"summary": "shareholder agreement", "parties": ["X"]} Let me know if you need more.`
	result := Parse[testExtraction](input, "test")
	require.True(t, result.Success)
	assert.Equal(t, "shareholder agreement", result.Data.Summary)
}

func TestParseArrayNotInnerObject(t *testing.T) {
	input := `[{"summary": "a", "parties": []}, {"summary": "b", "parties": []}]`
	result := Parse[[]testExtraction](input, "test")
	require.True(t, result.Success)
	assert.Len(t, result.Data, 2)
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"no json at all", "I could not produce a structured answer."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Parse[testExtraction](tt.input, "test")
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
		})
	}
}

func TestParseOrDefault(t *testing.T) {
	fallback := testExtraction{Summary: "fallback"}
	got := ParseOrDefault("not json", fallback, "test")
	assert.Equal(t, "fallback", got.Summary)

	got = ParseOrDefault(`{"summary": "real", "parties": []}`, fallback, "test")
	assert.Equal(t, "real", got.Summary)
}
