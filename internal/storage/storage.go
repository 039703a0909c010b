// Package storage defines the persistence boundary for the analysis
// engine. All rows are scoped by case and, where applicable, run
// identifiers so concurrent runs over the same case stay isolated.
package storage

import (
	"context"

	"github.com/diligentiq/engine/internal/storage/sqlite"
	"github.com/diligentiq/engine/internal/types"
)

// Storage defines the interface for the engine's persistence backends.
//
// Implementations must keep every method's transaction short-lived: no
// method may hold a connection open across an external model call, and
// callers rely on that to avoid connection exhaustion during multi-minute
// call sequences.
type Storage interface {
	// Cases
	CreateCase(ctx context.Context, c *types.Case) error
	GetCase(ctx context.Context, id string) (*types.Case, error)

	// Documents
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetDocuments(ctx context.Context, caseID string, ids []string) ([]*types.Document, error)

	// Runs
	CreateRun(ctx context.Context, run *types.Run) error
	GetRun(ctx context.Context, id string) (*types.Run, error)
	ListRuns(ctx context.Context, caseID string) ([]*types.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus) error
	UpdateRunOptions(ctx context.Context, runID string, tier types.ModelTier, includeDeep bool) error
	AddRunUsage(ctx context.Context, runID string, inputTokens, outputTokens int64, costUSD float64) error

	// Checkpoints. CreateCheckpoint fails with ErrCheckpointExists when
	// the run already owns an active checkpoint.
	CreateCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (*types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error

	// Findings
	StoreFindings(ctx context.Context, findings []*types.Finding) error
	GetFindings(ctx context.Context, runID string) ([]*types.Finding, error)
	UpdateFinding(ctx context.Context, f *types.Finding) error
	CountFindingsByStatus(ctx context.Context, runID string) (map[types.FindingStatus]int, error)

	// Knowledge graph. InsertGraphBatch commits one document batch in a
	// single transaction, resolving parties by normalized name as it goes.
	ClearGraph(ctx context.Context, caseID string) error
	InsertGraphBatch(ctx context.Context, batch *GraphBatch) error
	GetParties(ctx context.Context, caseID string) ([]*types.Party, error)
	GetPartyByNormalizedName(ctx context.Context, caseID, normalized string) (*types.Party, error)
	GetAgreements(ctx context.Context, caseID string) ([]*types.Agreement, error)
	GetAgreementByDocument(ctx context.Context, caseID, documentID string) (*types.Agreement, error)
	GetTriggersByType(ctx context.Context, caseID, triggerType string) ([]*types.Trigger, error)
	GetAmountsByDocument(ctx context.Context, caseID, documentID string) ([]*types.AmountVertex, error)
	GetAmounts(ctx context.Context, caseID string) ([]*types.AmountVertex, error)
	GetEdges(ctx context.Context, caseID string, edgeType types.EdgeType) ([]*types.Edge, error)
	InsertEdge(ctx context.Context, edge *types.Edge) error
	SaveGraphBuildStatus(ctx context.Context, status *types.GraphBuildStatus) error
	GetGraphBuildStatus(ctx context.Context, caseID string) (*types.GraphBuildStatus, error)

	// Validation gates
	CreateValidationCheckpoint(ctx context.Context, vc *types.ValidationCheckpoint) error
	GetPendingValidation(ctx context.Context, runID string) (*types.ValidationCheckpoint, error)
	AnswerValidation(ctx context.Context, runID, corrections string) error

	// Lifecycle
	Close() error
}

// GraphBatch carries one document batch's worth of graph rows, committed
// in a single transaction to bound transaction size during long builds.
type GraphBatch = sqlite.GraphBatch

// Sentinel errors shared by all backends
var (
	ErrNotFound         = sqlite.ErrNotFound
	ErrCheckpointExists = sqlite.ErrCheckpointExists
)

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".diligence/engine.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".diligence/engine.db"
	}
	return sqlite.New(cfg.Path)
}
