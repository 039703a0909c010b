package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/config"
	"github.com/diligentiq/engine/internal/orchestrator"
	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubClient returns minimal valid JSON for every operation
type stubClient struct{}

func (stubClient) Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error) {
	usage := ai.Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.0001, Calls: 1}
	switch operation {
	case "synthesize_report":
		return `{"executive_summary": "ok"}`, usage, nil
	default:
		return `{}`, usage, nil
	}
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func newTestServer(t *testing.T, mode string) (*Server, storage.Storage, *orchestrator.Orchestrator) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pipeCfg := config.Default().Pipeline
	pipeCfg.Workers = 2
	pipeCfg.PollInterval = 10 * time.Millisecond
	pipeCfg.EnableGraph = false
	pipeCfg.EnableEnrichment = false

	orch, err := orchestrator.New(orchestrator.Options{
		Store:    store,
		Client:   stubClient{},
		Embedder: stubEmbedder{},
		Pipeline: &pipeCfg,
	})
	require.NoError(t, err)

	srv := New(orch, store, config.ServerConfig{Host: "127.0.0.1", Port: 8080, Mode: mode})
	return srv, store, orch
}

func seedRun(t *testing.T, store storage.Storage, runID string, docCount int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateCase(ctx, &types.Case{ID: "case-1", Name: "Project Lakeside", CreatedAt: time.Now()}))

	var docIDs []string
	for i := 0; i < docCount; i++ {
		id := fmt.Sprintf("doc-%d", i+1)
		docIDs = append(docIDs, id)
		require.NoError(t, store.CreateDocument(ctx, &types.Document{
			ID:       id,
			CaseID:   "case-1",
			Filename: fmt.Sprintf("agreement_%d.pdf", i+1),
			Text:     "Agreement between Acme Holdings Ltd and Beta GmbH.",
		}))
	}
	require.NoError(t, store.CreateRun(ctx, &types.Run{
		ID:          runID,
		CaseID:      "case-1",
		DocumentIDs: docIDs,
		Status:      types.RunQueued,
		Tier:        types.TierBalanced,
		CreatedAt:   time.Now(),
	}))
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartProcessingStatusCodes(t *testing.T) {
	srv, store, orch := newTestServer(t, "full")
	seedRun(t, store, "run-1", 2)
	router := srv.Router()

	w := doRequest(router, http.MethodPost, "/api/runs/missing/process", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/process", map[string]any{"tier": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/process", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp["run_id"])
	assert.Equal(t, float64(2), resp["total_documents"])
	assert.Equal(t, "/api/runs/run-1/progress", resp["poll_url"])
	assert.NotEmpty(t, resp["checkpoint_id"])

	orch.Wait()

	// A completed run rejects a second start with 409.
	w = doRequest(router, http.MethodPost, "/api/runs/run-1/process", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReadOnlyModeRejectsProcessing(t *testing.T) {
	srv, store, _ := newTestServer(t, "read_only")
	seedRun(t, store, "run-1", 1)
	router := srv.Router()

	w := doRequest(router, http.MethodPost, "/api/runs/run-1/process", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/resume", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Queries still work in read_only mode.
	w = doRequest(router, http.MethodGet, "/api/runs/run-1/progress", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProgressReportsCheckpointAndCounts(t *testing.T) {
	srv, store, orch := newTestServer(t, "full")
	seedRun(t, store, "run-1", 1)
	router := srv.Router()

	// Before any processing the run reports its queued stage.
	w := doRequest(router, http.MethodGet, "/api/runs/run-1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp["stage"])

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/process", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	orch.Wait()

	w = doRequest(router, http.MethodGet, "/api/runs/run-1/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	assert.Equal(t, "completed", resp["stage"])
	assert.Equal(t, float64(1), resp["documents_processed"])
	assert.Contains(t, resp, "finding_counts")
	cost := resp["cost"].(map[string]any)
	assert.Greater(t, cost["input_tokens"].(float64), float64(0))

	w = doRequest(router, http.MethodGet, "/api/runs/missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidationGateEndpoints(t *testing.T) {
	srv, store, _ := newTestServer(t, "full")
	seedRun(t, store, "run-1", 1)
	router := srv.Router()
	ctx := context.Background()

	w := doRequest(router, http.MethodGet, "/api/runs/run-1/validation", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, store.CreateValidationCheckpoint(ctx, &types.ValidationCheckpoint{
		ID:        "vc-1",
		RunID:     "run-1",
		Questions: []string{"Confirm the purchase price."},
		CreatedAt: time.Now(),
	}))

	w = doRequest(router, http.MethodGet, "/api/runs/run-1/validation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "vc-1", resp["id"])

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/validation", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/runs/run-1/validation",
		map[string]any{"corrections": `{"price": 1000000}`})
	assert.Equal(t, http.StatusOK, w.Code)

	// Answering twice is a 404: the gate is no longer pending.
	w = doRequest(router, http.MethodPost, "/api/runs/run-1/validation",
		map[string]any{"corrections": `{}`})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventWebhook(t *testing.T) {
	srv, store, orch := newTestServer(t, "full")
	seedRun(t, store, "run-1", 1)
	router := srv.Router()

	// Subscription validation handshake echoes the code.
	w := doRequest(router, http.MethodPost, "/api/events", map[string]any{
		"event_type": "SubscriptionValidationEvent",
		"data":       map[string]any{"validationCode": "abc-123"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var echo map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &echo))
	assert.Equal(t, "abc-123", echo["validationResponse"])

	// Continuation for a queued run is not resumable and is ignored.
	w = doRequest(router, http.MethodPost, "/api/events", map[string]any{
		"event_type": "RunContinuation",
		"data":       map[string]any{"run_id": "run-1"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// Continuation for a paused run re-queues it.
	ctx := context.Background()
	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", types.RunPaused))
	w = doRequest(router, http.MethodPost, "/api/events", map[string]any{
		"event_type": "RunContinuation",
		"data":       map[string]any{"run_id": "run-1"},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)
	orch.Wait()

	// Unknown event types are rejected.
	w = doRequest(router, http.MethodPost, "/api/events", map[string]any{
		"event_type": "SomethingElse",
		"data":       map[string]any{"run_id": "run-1"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Continuation without a run id is rejected.
	w = doRequest(router, http.MethodPost, "/api/events", map[string]any{
		"event_type": "RunContinuation",
		"data":       map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRunsAndHealth(t *testing.T) {
	srv, store, _ := newTestServer(t, "full")
	seedRun(t, store, "run-1", 1)
	router := srv.Router()

	w := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/runs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/api/runs?case_id=case-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
}
