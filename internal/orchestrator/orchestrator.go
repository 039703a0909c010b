// Package orchestrator drives the multi-stage analysis pipeline over a
// run's documents, persisting resumable checkpoints and supporting
// cooperative pause, cancel, and resume.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/batching"
	"github.com/diligentiq/engine/internal/compression"
	"github.com/diligentiq/engine/internal/config"
	"github.com/diligentiq/engine/internal/dedup"
	"github.com/diligentiq/engine/internal/docstore"
	"github.com/diligentiq/engine/internal/graph"
	"github.com/diligentiq/engine/internal/prioritizer"
	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

// Start/validation errors, mapped to HTTP statuses by the server layer
var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunActive    = errors.New("run is already processing")
	ErrRunCompleted = errors.New("run is already completed")
	ErrNoDocuments  = errors.New("run has no selected documents")
	ErrNotResumable = errors.New("run is not in a resumable state")
)

// ModelClient is the slice of the gateway the pipeline needs
type ModelClient interface {
	Complete(ctx context.Context, tier types.ModelTier, prompt, operation string, maxTokens int) (string, ai.Usage, error)
}

// Orchestrator owns the run registry and executes pipelines
type Orchestrator struct {
	store    storage.Storage
	client   ModelClient
	embedder ai.Embedder
	texts    docstore.Store
	cfg      *config.PipelineConfig

	registry *Registry

	prioritizer *prioritizer.Prioritizer
	compressor  *compression.Compressor
	scheduler   *batching.Scheduler
	clusterer   *batching.Clusterer
	builder     *graph.Builder
	enricher    *graph.Enricher
	deduper     *dedup.Engine

	// cancelMu guards per-run cancel funcs for in-process cancellation;
	// cross-process cancel goes through the persisted run status.
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	wg sync.WaitGroup
}

// Options configures a new orchestrator
type Options struct {
	Store       storage.Storage
	Client      ModelClient
	Embedder    ai.Embedder
	Texts       docstore.Store
	Pipeline    *config.PipelineConfig
	Batching    *batching.Config
	Dedup       *dedup.Config
	Prioritizer *prioritizer.Config
}

// New wires the pipeline components together
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	pipeCfg := opts.Pipeline
	if pipeCfg == nil {
		def := config.Default().Pipeline
		pipeCfg = &def
	}
	texts := opts.Texts
	if texts == nil {
		texts = docstore.NoopStore{}
	}

	scheduler, err := batching.NewScheduler(opts.Batching)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		store:       opts.Store,
		client:      opts.Client,
		embedder:    opts.Embedder,
		texts:       texts,
		cfg:         pipeCfg,
		registry:    NewRegistry(),
		prioritizer: prioritizer.New(opts.Prioritizer),
		compressor:  compression.New(opts.Client, &compression.Config{Workers: pipeCfg.Workers}),
		scheduler:   scheduler,
		clusterer:   batching.NewClusterer(),
		builder:     graph.NewBuilder(opts.Store, &graph.Config{CommitEvery: pipeCfg.GraphCommitEvery}),
		enricher:    graph.NewEnricher(opts.Client, &graph.EnrichConfig{Workers: pipeCfg.Workers}),
		deduper:     dedup.New(opts.Embedder, opts.Client, opts.Dedup),
		cancels:     make(map[string]context.CancelFunc),
	}, nil
}

// StartResult is returned by Start for the 202 response
type StartResult struct {
	RunID          string `json:"run_id"`
	CheckpointID   string `json:"checkpoint_id"`
	TotalDocuments int    `json:"total_documents"`
}

// Start validates the run, claims its registry slot, and launches the
// pipeline worker in the background. Rejections leave no state behind.
func (o *Orchestrator) Start(ctx context.Context, runID string) (*StartResult, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if len(run.DocumentIDs) == 0 {
		return nil, ErrNoDocuments
	}
	if run.Status == types.RunCompleted {
		return nil, ErrRunCompleted
	}
	if run.Status == types.RunProcessing || run.Status == types.RunWaitingForValidation {
		return nil, ErrRunActive
	}

	if !o.registry.TryAcquire(runID) {
		return nil, ErrRunActive
	}

	cp, err := o.ensureCheckpoint(ctx, run)
	if err != nil {
		o.registry.Release(runID)
		return nil, err
	}

	if err := o.store.UpdateRunStatus(ctx, runID, types.RunProcessing); err != nil {
		o.registry.Release(runID)
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancelMu.Lock()
	o.cancels[runID] = cancel
	o.cancelMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.finishWorker(runID, cancel)
		o.execute(workerCtx, run, cp)
	}()

	return &StartResult{
		RunID:          runID,
		CheckpointID:   cp.ID,
		TotalDocuments: len(run.DocumentIDs),
	}, nil
}

// ensureCheckpoint returns the run's checkpoint, creating it on first
// start. A resumed run keeps its existing checkpoint and payload.
func (o *Orchestrator) ensureCheckpoint(ctx context.Context, run *types.Run) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{
		ID:    uuid.New().String(),
		RunID: run.ID,
		Stage: types.StageQueued,
	}
	err := o.store.CreateCheckpoint(ctx, cp)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, storage.ErrCheckpointExists) {
		return nil, err
	}
	return o.store.GetCheckpoint(ctx, run.ID)
}

// finishWorker releases all per-run bookkeeping when the worker exits
func (o *Orchestrator) finishWorker(runID string, cancel context.CancelFunc) {
	cancel()
	o.cancelMu.Lock()
	delete(o.cancels, runID)
	o.cancelMu.Unlock()
	o.registry.Release(runID)
}

// Pause requests a cooperative pause. The worker observes it at the next
// document, cluster, or batch boundary.
func (o *Orchestrator) Pause(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRunNotFound
		}
		return err
	}
	if run.Status != types.RunProcessing {
		return fmt.Errorf("cannot pause run in status %s", run.Status)
	}
	return o.store.UpdateRunStatus(ctx, runID, types.RunPaused)
}

// Cancel requests a cooperative cancellation
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRunNotFound
		}
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel run in status %s", run.Status)
	}
	if err := o.store.UpdateRunStatus(ctx, runID, types.RunCancelled); err != nil {
		return err
	}
	// In-process workers also get their context cut so a paused wait
	// loop wakes immediately.
	o.cancelMu.Lock()
	if cancel, ok := o.cancels[runID]; ok {
		cancel()
	}
	o.cancelMu.Unlock()
	return nil
}

// Resume restarts a paused run. The checkpoint payload tells the worker
// which documents and groups are already committed.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*StartResult, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if run.Status != types.RunPaused && run.Status != types.RunFailed {
		return nil, ErrNotResumable
	}

	// A paused worker may still be alive inside its pause wait loop;
	// flipping the status back to processing resumes it in place.
	if run.Status == types.RunPaused && o.registry.IsActive(runID) {
		if err := o.store.UpdateRunStatus(ctx, runID, types.RunProcessing); err != nil {
			return nil, err
		}
		cp, err := o.store.GetCheckpoint(ctx, runID)
		if err != nil {
			return nil, err
		}
		return &StartResult{
			RunID:          runID,
			CheckpointID:   cp.ID,
			TotalDocuments: len(run.DocumentIDs),
		}, nil
	}

	if err := o.store.UpdateRunStatus(ctx, runID, types.RunQueued); err != nil {
		return nil, err
	}
	return o.Start(ctx, runID)
}

// Wait blocks until all in-process workers have exited. Used on
// shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// execute runs the full pipeline for one run. All errors end here: the
// run is marked failed with a truncated message, never left processing.
func (o *Orchestrator) execute(ctx context.Context, run *types.Run, cp *types.Checkpoint) {
	start := time.Now()
	slog.Info("run worker started", "run_id", run.ID, "case_id", run.CaseID,
		"documents", len(run.DocumentIDs), "stage", cp.Stage)

	err := o.pipeline(ctx, run, cp)
	switch {
	case err == nil:
		slog.Info("run completed", "run_id", run.ID, "elapsed", time.Since(start).Round(time.Second))
	case errors.Is(err, errRunPaused):
		slog.Info("run paused, partial results persisted", "run_id", run.ID, "stage", cp.Stage)
	case errors.Is(err, errRunCancelled):
		slog.Info("run cancelled", "run_id", run.ID, "stage", cp.Stage)
	default:
		o.failRun(run.ID, cp, err)
	}
}

// failRun marks both the checkpoint and run failed with a truncated
// error message, releasing the run for a later retry.
func (o *Orchestrator) failRun(runID string, cp *types.Checkpoint, cause error) {
	slog.Error("run failed", "run_id", runID, "stage", cp.Stage, "error", cause)

	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	cp.LastError = msg
	cp.Stage = types.StageFailed

	ctx, cancelSave := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSave()
	if err := o.store.SaveCheckpoint(ctx, cp); err != nil {
		slog.Error("failed to persist failure checkpoint", "run_id", runID, "error", err)
	}
	if err := o.store.UpdateRunStatus(ctx, runID, types.RunFailed); err != nil {
		slog.Error("failed to persist failed run status", "run_id", runID, "error", err)
	}
}
