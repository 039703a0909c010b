// Package server exposes the engine's HTTP API: run processing control,
// progress polling, the validation gate, and the event continuation
// webhook.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diligentiq/engine/internal/config"
	"github.com/diligentiq/engine/internal/events"
	"github.com/diligentiq/engine/internal/orchestrator"
	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

// Server wires the HTTP handlers to the orchestrator and storage
type Server struct {
	orch  *orchestrator.Orchestrator
	store storage.Storage
	cfg   config.ServerConfig
}

// New creates a server
func New(orch *orchestrator.Orchestrator, store storage.Storage, cfg config.ServerConfig) *Server {
	return &Server{orch: orch, store: store, cfg: cfg}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.POST("/runs/:id/process", s.startProcessing)
		api.GET("/runs/:id/progress", s.progress)
		api.GET("/runs/:id/findings", s.findings)
		api.POST("/runs/:id/pause", s.pause)
		api.POST("/runs/:id/cancel", s.cancel)
		api.POST("/runs/:id/resume", s.resume)
		api.GET("/runs/:id/validation", s.pendingValidation)
		api.POST("/runs/:id/validation", s.answerValidation)
		api.GET("/runs", s.listRuns)
		api.GET("/cases/:id/graph", s.graphStatus)
		api.POST("/events", s.handleEvent)
	}
	return r
}

// Run starts the HTTP listener and blocks until the context is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Addr(), "mode", s.cfg.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startRequest carries per-start options. Both fields are optional; the
// run's stored tier applies when none is given.
type startRequest struct {
	Tier                 string `json:"tier"`
	IncludeDeepQuestions bool   `json:"include_deep_questions"`
}

func (s *Server) startProcessing(c *gin.Context) {
	if s.cfg.Mode == "read_only" {
		c.JSON(http.StatusForbidden, gin.H{"error": "server is in read_only mode"})
		return
	}
	runID := c.Param("id")
	if runID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run id is required"})
		return
	}

	var req startRequest
	hasBody := c.Request.ContentLength > 0
	if hasBody {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}
	if req.Tier != "" && !types.ModelTier(req.Tier).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid tier: %q", req.Tier)})
		return
	}
	if hasBody {
		err := s.store.UpdateRunOptions(c.Request.Context(), runID, types.ModelTier(req.Tier), req.IncludeDeepQuestions)
		if err != nil {
			s.notFoundOrInternal(c, err, "run not found")
			return
		}
	}

	res, err := s.orch.Start(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, orchestrator.ErrNoDocuments):
			c.JSON(http.StatusBadRequest, gin.H{"error": "run has no selected documents"})
		case errors.Is(err, orchestrator.ErrRunActive), errors.Is(err, orchestrator.ErrRunCompleted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":          res.RunID,
		"checkpoint_id":   res.CheckpointID,
		"total_documents": res.TotalDocuments,
		"poll_url":        fmt.Sprintf("/api/runs/%s/progress", res.RunID),
	})
}

func (s *Server) progress(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		s.notFoundOrInternal(c, err, "run not found")
		return
	}

	resp := gin.H{
		"run_id": run.ID,
		"status": run.Status,
		"cost": gin.H{
			"input_tokens":  run.InputTokens,
			"output_tokens": run.OutputTokens,
			"cost_usd":      run.CostUSD,
		},
	}

	cp, err := s.store.GetCheckpoint(ctx, runID)
	switch {
	case err == nil:
		resp["stage"] = cp.Stage
		resp["pass_progress"] = cp.PassProgress
		resp["documents_processed"] = cp.DocumentsProcessed
		resp["documents_failed"] = cp.DocumentsFailed
		if cp.LastError != "" {
			resp["last_error"] = cp.LastError
		}
	case errors.Is(err, storage.ErrNotFound):
		resp["stage"] = types.StageQueued
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	counts, err := s.store.CountFindingsByStatus(ctx, runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp["finding_counts"] = counts

	c.JSON(http.StatusOK, resp)
}

func (s *Server) findings(c *gin.Context) {
	findings, err := s.store.GetFindings(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "count": len(findings)})
}

func (s *Server) pause(c *gin.Context) {
	if err := s.orch.Pause(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pause_requested"})
}

func (s *Server) cancel(c *gin.Context) {
	if err := s.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancel_requested"})
}

func (s *Server) resume(c *gin.Context) {
	if s.cfg.Mode == "read_only" {
		c.JSON(http.StatusForbidden, gin.H{"error": "server is in read_only mode"})
		return
	}
	res, err := s.orch.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, orchestrator.ErrNotResumable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"run_id":   res.RunID,
		"poll_url": fmt.Sprintf("/api/runs/%s/progress", res.RunID),
	})
}

func (s *Server) pendingValidation(c *gin.Context) {
	vc, err := s.store.GetPendingValidation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.notFoundOrInternal(c, err, "no pending validation")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         vc.ID,
		"run_id":     vc.RunID,
		"questions":  vc.Questions,
		"created_at": vc.CreatedAt,
	})
}

type validationAnswer struct {
	Corrections string `json:"corrections" binding:"required"`
}

func (s *Server) answerValidation(c *gin.Context) {
	var req validationAnswer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if err := s.store.AnswerValidation(c.Request.Context(), c.Param("id"), req.Corrections); err != nil {
		s.notFoundOrInternal(c, err, "no pending validation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "answered"})
}

func (s *Server) listRuns(c *gin.Context) {
	caseID := c.Query("case_id")
	if caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "case_id is required"})
		return
	}
	runs, err := s.store.ListRuns(c.Request.Context(), caseID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) graphStatus(c *gin.Context) {
	status, err := s.store.GetGraphBuildStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.notFoundOrInternal(c, err, "no graph build for case")
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleEvent processes the event webhook. Subscription-validation
// events are echoed for channel setup; continuation events re-queue the
// named run.
func (s *Server) handleEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	env, err := events.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch env.EventType {
	case events.EventSubscriptionValidation:
		resp, err := env.Echo()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)

	case events.EventRunContinuation:
		if s.cfg.Mode == "read_only" {
			c.JSON(http.StatusForbidden, gin.H{"error": "server is in read_only mode"})
			return
		}
		res, err := s.orch.Resume(c.Request.Context(), env.Data.RunID)
		if err != nil {
			switch {
			case errors.Is(err, orchestrator.ErrRunNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			case errors.Is(err, orchestrator.ErrNotResumable):
				// Already running or finished; the continuation is stale.
				c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"run_id": res.RunID, "status": "requeued"})

	default:
		// Completed / validation-answered notifications are informational.
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
	}
}

func (s *Server) notFoundOrInternal(c *gin.Context, err error, msg string) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
