package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diligentiq/engine/internal/ai"
	"github.com/diligentiq/engine/internal/batching"
	"github.com/diligentiq/engine/internal/graph"
	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

// Worker-internal control signals. Neither marks the run failed.
var (
	errRunPaused    = errors.New("run paused")
	errRunCancelled = errors.New("run cancelled")
)

// validationPassedMarker records in the checkpoint payload that the
// human gate was answered, so a resumed run does not open a second gate.
const validationPassedMarker = "validation:answered"

// runState is the in-memory working set for one worker execution. It is
// rebuilt from the checkpoint payload on resume; derived artifacts
// (prioritization, compression) are recomputed rather than persisted.
type runState struct {
	run     *types.Run
	cp      *types.Checkpoint
	payload *types.PassPayload
	docs    []*types.Document

	compressed []*types.CompressedDocument

	mu sync.Mutex // guards payload and cp counters under worker pools
}

// pipeline executes every remaining stage for the run. A stage whose
// ordinal is below the checkpoint's current stage already completed in a
// previous execution and is skipped.
func (o *Orchestrator) pipeline(ctx context.Context, run *types.Run, cp *types.Checkpoint) error {
	docs, err := o.store.GetDocuments(ctx, run.CaseID, run.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to load run documents: %w", err)
	}
	if err := o.texts.Hydrate(ctx, docs); err != nil {
		return fmt.Errorf("failed to hydrate document text: %w", err)
	}

	payload, err := cp.GetPayload()
	if err != nil {
		return err
	}
	st := &runState{run: run, cp: cp, payload: payload, docs: docs}

	stages := []struct {
		stage types.Stage
		fn    func(context.Context, *runState) error
	}{
		{types.StageExtraction, o.stageExtraction},
		{types.StageGraphBuilding, o.stageGraphBuilding},
		{types.StageAnalysis, o.stageAnalysis},
		{types.StageCalculation, o.stageCalculation},
		{types.StageWaitingForValidation, o.stageValidationGate},
		{types.StageCrossDocument, o.stageCrossDocument},
		{types.StageAggregateCalculation, o.stageAggregateCalculation},
		{types.StageSynthesis, o.stageSynthesis},
		{types.StageVerification, o.stageVerification},
		{types.StageStoringFindings, o.stageStoreFindings},
	}

	for i, s := range stages {
		if cp.Stage.Ordinal() > s.stage.Ordinal() {
			continue // completed in a previous execution
		}
		cp.Stage = s.stage
		cp.CurrentPass = i + 1
		if err := st.save(ctx, o); err != nil {
			return err
		}

		if err := s.fn(ctx, st); err != nil {
			return err
		}
		st.setProgress(s.stage, 100)
	}

	cp.Stage = types.StageCompleted
	if err := st.save(ctx, o); err != nil {
		return err
	}
	return o.store.UpdateRunStatus(ctx, run.ID, types.RunCompleted)
}

// save snapshots the payload into the checkpoint and persists it
func (st *runState) save(ctx context.Context, o *Orchestrator) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.cp.SetPayload(st.payload); err != nil {
		return err
	}
	return o.store.SaveCheckpoint(ctx, st.cp)
}

func (st *runState) setProgress(stage types.Stage, pct int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cp.PassProgress == nil {
		st.cp.PassProgress = make(map[string]int)
	}
	st.cp.PassProgress[string(stage)] = pct
}

// recordUsage folds one model call's usage into the run and checkpoint
// counters. Safe to call from pool goroutines.
func (o *Orchestrator) recordUsage(ctx context.Context, st *runState, usage ai.Usage) {
	if usage.Calls == 0 {
		return
	}
	st.mu.Lock()
	st.cp.InputTokens += usage.InputTokens
	st.cp.OutputTokens += usage.OutputTokens
	st.cp.CostUSD += usage.CostUSD
	st.mu.Unlock()
	if err := o.store.AddRunUsage(ctx, st.run.ID, usage.InputTokens, usage.OutputTokens, usage.CostUSD); err != nil {
		slog.Warn("failed to record run usage", "run_id", st.run.ID, "error", err)
	}
}

// checkBoundary is the cooperative suspension point, called at document,
// cluster, and batch boundaries. It reads the persisted run status so
// pause and cancel work across processes, persists partial results, and
// converts the request into a control signal.
func (o *Orchestrator) checkBoundary(ctx context.Context, st *runState) error {
	run, err := o.store.GetRun(ctx, st.run.ID)
	if err != nil {
		return err
	}
	switch run.Status {
	case types.RunCancelled:
		if err := st.save(ctx, o); err != nil {
			return err
		}
		return errRunCancelled
	case types.RunPaused:
		if err := st.save(ctx, o); err != nil {
			return err
		}
		return o.pauseLoop(ctx, st)
	}
	if err := ctx.Err(); err != nil {
		// In-process cancellation without a persisted status change.
		if saveErr := st.save(context.WithoutCancel(ctx), o); saveErr != nil {
			return saveErr
		}
		return errRunCancelled
	}
	return nil
}

// pauseLoop holds the worker at the suspension point for up to the pause
// wait budget. A resume within the budget continues in place; exceeding
// it exits the worker cleanly, leaving the checkpoint for a later resume.
func (o *Orchestrator) pauseLoop(ctx context.Context, st *runState) error {
	slog.Info("run paused at boundary", "run_id", st.run.ID, "stage", st.cp.Stage)

	deadline := time.Now().Add(o.cfg.PauseWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return errRunCancelled
		case <-time.After(o.cfg.PollInterval):
		}

		run, err := o.store.GetRun(ctx, st.run.ID)
		if err != nil {
			return err
		}
		switch run.Status {
		case types.RunProcessing:
			slog.Info("run resumed in place", "run_id", st.run.ID, "stage", st.cp.Stage)
			return nil
		case types.RunCancelled:
			return errRunCancelled
		}
	}
	return errRunPaused
}

// Processed-document markers are scoped per stage so a run resumed from
// any earlier point never repeats committed work in either stage.
func extractionKey(docID string) string { return "extraction:" + docID }
func analysisKey(docID string) string   { return "analysis:" + docID }

// stageExtraction issues one structured-extraction call per document
// across the worker pool. Documents already in the payload are skipped
// on resume. A document failing more than the retry cap is forced to
// processed so it can never stall the run.
func (o *Orchestrator) stageExtraction(ctx context.Context, st *runState) error {
	pending := make([]*types.Document, 0, len(st.docs))
	for _, doc := range st.docs {
		if !st.payload.HasProcessed(extractionKey(doc.ID)) {
			pending = append(pending, doc)
		}
	}

	done := len(st.docs) - len(pending)
	for chunkStart := 0; chunkStart < len(pending); chunkStart += o.cfg.Workers {
		if err := o.checkBoundary(ctx, st); err != nil {
			return err
		}
		chunk := pending[chunkStart:min(chunkStart+o.cfg.Workers, len(pending))]

		var wg sync.WaitGroup
		for _, doc := range chunk {
			doc := doc
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.extractOne(ctx, st, doc)
			}()
		}
		wg.Wait()

		done += len(chunk)
		st.setProgress(types.StageExtraction, done*100/len(st.docs))
		if err := st.save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) extractOne(ctx context.Context, st *runState, doc *types.Document) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxItemRetries; attempt++ {
		raw, usage, err := o.client.Complete(ctx, types.TierBalanced, extractionPrompt(doc), "extract_document", 2000)
		o.recordUsage(ctx, st, usage)
		if err != nil {
			lastErr = err
			continue
		}
		parsed := ai.Parse[types.ExtractionResult](raw, "extract_document")
		if !parsed.Success {
			lastErr = fmt.Errorf("unparseable extraction: %s", parsed.Error)
			continue
		}
		result := parsed.Data
		result.DocumentID = doc.ID

		st.mu.Lock()
		st.payload.Extractions = append(st.payload.Extractions, result)
		st.payload.MarkProcessed(extractionKey(doc.ID))
		st.cp.DocumentsProcessed++
		st.mu.Unlock()
		return
	}

	// Retry cap exhausted: force the document to processed so the run
	// still reaches a terminal state.
	slog.Warn("document extraction failed, marking processed",
		"run_id", st.run.ID, "document_id", doc.ID, "error", lastErr)
	st.mu.Lock()
	st.payload.MarkProcessed(extractionKey(doc.ID))
	st.cp.DocumentsProcessed++
	st.cp.DocumentsFailed++
	st.mu.Unlock()
}

// stageGraphBuilding rebuilds the case knowledge graph from the
// extraction results, then runs optional relationship enrichment. Both
// are enrichment-only: every error degrades to skipped.
func (o *Orchestrator) stageGraphBuilding(ctx context.Context, st *runState) error {
	if !o.cfg.EnableGraph {
		return nil
	}
	if _, err := o.builder.Build(ctx, st.run.CaseID, st.run.ID, st.payload.Extractions, st.docs); err != nil {
		if errors.Is(err, context.Canceled) {
			return o.checkBoundary(ctx, st)
		}
		slog.Warn("graph building skipped", "run_id", st.run.ID, "error", err)
		return nil
	}

	if o.cfg.EnableEnrichment {
		refs, err := o.enricher.Enrich(ctx, st.docs)
		if err != nil {
			slog.Warn("relationship enrichment skipped", "run_id", st.run.ID, "error", err)
			return nil
		}
		if _, err := o.builder.ResolveCrossReferences(ctx, st.run.CaseID, refs, st.docs); err != nil {
			slog.Warn("cross-reference resolution skipped", "run_id", st.run.ID, "error", err)
		}
	}
	return nil
}

// stageAnalysis prioritizes and compresses the documents, then issues
// one analysis call per document to produce candidate findings.
func (o *Orchestrator) stageAnalysis(ctx context.Context, st *runState) error {
	prioritized := o.prioritizer.Prioritize(st.docs, st.payload.Findings)
	compressed, err := o.compressor.CompressAll(ctx, prioritized)
	if err != nil {
		if berr := o.checkBoundary(ctx, st); berr != nil {
			return berr
		}
		return err
	}
	st.mu.Lock()
	st.compressed = compressed
	st.mu.Unlock()

	summaries := make(map[string]*types.CompressedDocument, len(compressed))
	for _, cd := range compressed {
		summaries[cd.DocumentID] = cd
	}

	pending := make([]*types.PrioritizedDocument, 0, len(prioritized))
	for _, pd := range prioritized {
		if !st.payload.HasProcessed(analysisKey(pd.Document.ID)) {
			pending = append(pending, pd)
		}
	}

	done := len(st.docs) - len(pending)
	for chunkStart := 0; chunkStart < len(pending); chunkStart += o.cfg.Workers {
		if err := o.checkBoundary(ctx, st); err != nil {
			return err
		}
		chunk := pending[chunkStart:min(chunkStart+o.cfg.Workers, len(pending))]

		var wg sync.WaitGroup
		for _, pd := range chunk {
			pd := pd
			wg.Add(1)
			go func() {
				defer wg.Done()
				o.analyzeOne(ctx, st, pd, summaries[pd.Document.ID])
			}()
		}
		wg.Wait()

		done += len(chunk)
		st.setProgress(types.StageAnalysis, done*100/len(st.docs))
		if err := st.save(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// findingPayload is the per-finding JSON shape requested from the model
type findingPayload struct {
	RiskQuestionID string  `json:"risk_question_id"`
	Category       string  `json:"category"`
	Type           string  `json:"type"`
	Status         string  `json:"status"`
	Title          string  `json:"title"`
	Detail         string  `json:"detail"`
	Evidence       string  `json:"evidence"`
	PageNumbers    []int   `json:"page_numbers"`
	ExposureAmount float64 `json:"exposure_amount"`
	ExposureCCY    string  `json:"exposure_currency"`
	DealImpact     string  `json:"deal_impact"`
}

type analysisPayload struct {
	Findings []findingPayload `json:"findings"`
}

func (o *Orchestrator) analyzeOne(ctx context.Context, st *runState, pd *types.PrioritizedDocument, summary *types.CompressedDocument) {
	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxItemRetries; attempt++ {
		raw, usage, err := o.client.Complete(ctx, st.run.Tier, analysisPrompt(pd, summary), "analyze_document", 3000)
		o.recordUsage(ctx, st, usage)
		if err != nil {
			lastErr = err
			continue
		}
		parsed := ai.Parse[analysisPayload](raw, "analyze_document")
		if !parsed.Success {
			lastErr = fmt.Errorf("unparseable analysis: %s", parsed.Error)
			continue
		}

		findings := o.hydrateFindings(st.run, parsed.Data.Findings, []string{pd.Document.ID})
		st.mu.Lock()
		st.payload.Findings = append(st.payload.Findings, findings...)
		st.payload.MarkProcessed(analysisKey(pd.Document.ID))
		st.mu.Unlock()
		return
	}

	slog.Warn("document analysis failed, marking processed",
		"run_id", st.run.ID, "document_id", pd.Document.ID, "error", lastErr)
	st.mu.Lock()
	st.payload.MarkProcessed(analysisKey(pd.Document.ID))
	st.cp.DocumentsFailed++
	st.mu.Unlock()
}

// hydrateFindings converts model finding payloads into validated domain
// findings. Identity fields are never trusted from the model. Invalid
// entries are dropped with a warning.
func (o *Orchestrator) hydrateFindings(run *types.Run, raw []findingPayload, docIDs []string) []*types.Finding {
	now := time.Now()
	out := make([]*types.Finding, 0, len(raw))
	for _, fp := range raw {
		f := &types.Finding{
			ID:             uuid.New().String(),
			CaseID:         run.CaseID,
			RunID:          run.ID,
			RiskQuestionID: fp.RiskQuestionID,
			Category:       fp.Category,
			Type:           types.FindingType(fp.Type),
			Status:         types.FindingStatus(fp.Status),
			Title:          strings.TrimSpace(fp.Title),
			Detail:         fp.Detail,
			Evidence:       fp.Evidence,
			DocumentIDs:    docIDs,
			PageNumbers:    fp.PageNumbers,
			DealImpact:     types.DealImpact(fp.DealImpact),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if fp.ExposureAmount > 0 {
			f.Exposure = &types.FinancialExposure{Amount: fp.ExposureAmount, Currency: fp.ExposureCCY}
		}
		if !f.Status.IsValid() {
			f.Status = types.StatusInfo
		}
		if !f.Type.IsValid() {
			f.Type = types.FindingInformational
		}
		if f.RiskQuestionID == "" {
			f.RiskQuestionID = "rq-" + strings.ToLower(strings.ReplaceAll(f.Category, " ", "-"))
		}
		if !f.DealImpact.IsValid() {
			f.DealImpact = ""
		}
		if err := f.Validate(); err != nil {
			slog.Warn("dropping invalid model finding", "run_id", run.ID, "error", err)
			continue
		}
		out = append(out, f)
	}
	return out
}

// stageCalculation derives materiality classifications for the candidate
// findings from their exposure. Local arithmetic only, no model calls;
// failures here cannot fail the run.
func (o *Orchestrator) stageCalculation(ctx context.Context, st *runState) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, f := range st.payload.Findings {
		if f.Materiality != "" || f.Exposure == nil {
			continue
		}
		switch {
		case f.Exposure.Amount >= 1_000_000:
			f.Materiality = "material"
		case f.Exposure.Amount >= 100_000:
			f.Materiality = "significant"
		default:
			f.Materiality = "minor"
		}
	}
	return nil
}

// stageValidationGate opens the human-in-the-loop gate and polls for an
// answer within the bounded wait window. On timeout it persists partial
// state and exits the worker cleanly via the pause signal.
func (o *Orchestrator) stageValidationGate(ctx context.Context, st *runState) error {
	if !o.cfg.ValidationGate {
		return nil
	}
	for _, marker := range st.payload.CompletedGroups {
		if marker == validationPassedMarker {
			return nil
		}
	}

	if _, err := o.store.GetPendingValidation(ctx, st.run.ID); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		vc := &types.ValidationCheckpoint{
			ID:        uuid.New().String(),
			RunID:     st.run.ID,
			Questions: o.validationQuestions(st),
			CreatedAt: time.Now(),
		}
		if err := o.store.CreateValidationCheckpoint(ctx, vc); err != nil {
			return fmt.Errorf("failed to open validation gate: %w", err)
		}
	}

	if err := o.store.UpdateRunStatus(ctx, st.run.ID, types.RunWaitingForValidation); err != nil {
		return err
	}
	if err := st.save(ctx, o); err != nil {
		return err
	}

	deadline := time.Now().Add(o.cfg.ValidationWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return o.checkBoundary(ctx, st)
		case <-time.After(o.cfg.PollInterval):
		}

		run, err := o.store.GetRun(ctx, st.run.ID)
		if err != nil {
			return err
		}
		if run.Status == types.RunCancelled {
			return errRunCancelled
		}

		_, err = o.store.GetPendingValidation(ctx, st.run.ID)
		if errors.Is(err, storage.ErrNotFound) {
			// Answered. Back to processing.
			st.mu.Lock()
			st.payload.CompletedGroups = append(st.payload.CompletedGroups, validationPassedMarker)
			st.mu.Unlock()
			if err := o.store.UpdateRunStatus(ctx, st.run.ID, types.RunProcessing); err != nil {
				return err
			}
			return st.save(ctx, o)
		}
		if err != nil {
			return err
		}
	}

	slog.Info("validation gate timed out, persisting partial state", "run_id", st.run.ID)
	if err := o.store.UpdateRunStatus(ctx, st.run.ID, types.RunPaused); err != nil {
		return err
	}
	if err := st.save(ctx, o); err != nil {
		return err
	}
	return errRunPaused
}

// validationQuestions derives the gate's questions from what the run has
// seen so far: party identity and the largest financial exposures.
func (o *Orchestrator) validationQuestions(st *runState) []string {
	questions := []string{
		"Confirm the transaction structure and the acquiring entity.",
	}

	partySeen := make(map[string]bool)
	for _, ext := range st.payload.Extractions {
		for _, p := range ext.Parties {
			key := graph.NormalizeName(p.Name)
			if key != "" && !partySeen[key] {
				partySeen[key] = true
			}
		}
	}
	if len(partySeen) > 0 {
		questions = append(questions, fmt.Sprintf("Confirm the %d identified parties are complete and correctly named.", len(partySeen)))
	}

	var largest *types.Finding
	for _, f := range st.payload.Findings {
		if f.Exposure == nil {
			continue
		}
		if largest == nil || f.Exposure.Amount > largest.Exposure.Amount {
			largest = f
		}
	}
	if largest != nil {
		questions = append(questions, fmt.Sprintf("Confirm the financial exposure %q: %.2f %s.",
			largest.Title, largest.Exposure.Amount, largest.Exposure.Currency))
	}
	return questions
}

// stageCrossDocument runs cross-document reasoning over semantic
// clusters in their fixed order, or over scheduler batches when the
// document count warrants it, then deduplicates the accumulated findings
// per risk question.
func (o *Orchestrator) stageCrossDocument(ctx context.Context, st *runState) error {
	groups, err := o.crossDocGroups(ctx, st)
	if err != nil {
		return err
	}

	for i, g := range groups {
		if err := o.checkBoundary(ctx, st); err != nil {
			return err
		}
		if st.hasCompletedGroup(g.label) {
			continue
		}

		prior := o.scheduler.ContextFindings(st.payload.Findings)
		raw, usage, err := o.client.Complete(ctx, st.run.Tier, crossDocPrompt(g, prior), "cross_document", 3000)
		o.recordUsage(ctx, st, usage)
		if err != nil {
			slog.Warn("cross-document group failed, continuing",
				"run_id", st.run.ID, "group", g.label, "error", err)
			st.markGroupCompleted(g.label)
			continue
		}
		parsed := ai.Parse[analysisPayload](raw, "cross_document")
		if !parsed.Success {
			slog.Warn("cross-document output unparseable, continuing",
				"run_id", st.run.ID, "group", g.label, "parse_error", parsed.Error)
			st.markGroupCompleted(g.label)
			continue
		}

		findings := o.hydrateFindings(st.run, parsed.Data.Findings, g.documentIDs)
		st.mu.Lock()
		st.payload.Findings = append(st.payload.Findings, findings...)
		st.mu.Unlock()
		st.markGroupCompleted(g.label)
		st.setProgress(types.StageCrossDocument, (i+1)*100/len(groups))
		if err := st.save(ctx, o); err != nil {
			return err
		}
	}

	return o.deduplicateFindings(ctx, st)
}

// deduplicateFindings collapses near-duplicates per risk question. A
// dedup failure keeps the originals; it never fails the run.
func (o *Orchestrator) deduplicateFindings(ctx context.Context, st *runState) error {
	st.mu.Lock()
	all := st.payload.Findings
	st.mu.Unlock()

	byQuestion := make(map[string][]*types.Finding)
	var order []string
	for _, f := range all {
		if _, seen := byQuestion[f.RiskQuestionID]; !seen {
			order = append(order, f.RiskQuestionID)
		}
		byQuestion[f.RiskQuestionID] = append(byQuestion[f.RiskQuestionID], f)
	}

	var deduped []*types.Finding
	for _, q := range order {
		group := byQuestion[q]
		out, err := o.deduper.Deduplicate(ctx, group)
		if err != nil {
			slog.Warn("deduplication failed for question, keeping originals",
				"run_id", st.run.ID, "risk_question", q, "error", err)
			out = group
		}
		deduped = append(deduped, out...)
	}

	st.mu.Lock()
	st.payload.Findings = deduped
	st.mu.Unlock()
	return st.save(ctx, o)
}

// crossDocGroup is one unit of cross-document reasoning
type crossDocGroup struct {
	label       string
	questions   []string
	documentIDs []string
	summaries   []*types.CompressedDocument
}

// crossDocGroups builds the group sequence: scheduler batches above the
// batching threshold, semantic clusters in fixed order otherwise.
func (o *Orchestrator) crossDocGroups(ctx context.Context, st *runState) ([]crossDocGroup, error) {
	compressed, err := o.compressedDocs(ctx, st)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.CompressedDocument, len(compressed))
	for _, cd := range compressed {
		byID[cd.DocumentID] = cd
	}

	if o.scheduler.ShouldBatch(len(st.docs)) {
		batches, err := o.scheduler.Schedule(compressed)
		if err != nil {
			return nil, err
		}
		groups := make([]crossDocGroup, 0, len(batches))
		for _, b := range batches {
			g := crossDocGroup{
				label:     fmt.Sprintf("batch:%d", b.Index),
				summaries: b.Documents,
			}
			for _, d := range b.Documents {
				g.documentIDs = append(g.documentIDs, d.DocumentID)
			}
			groups = append(groups, g)
		}
		return groups, nil
	}

	clusters := o.clusterer.Cluster(st.docs)
	var groups []crossDocGroup
	for _, cluster := range types.ClusterOrder {
		docs := clusters[cluster]
		if len(docs) == 0 {
			continue
		}
		questions := batching.QuestionsFor(cluster)
		if st.run.IncludeDeepQuestion {
			questions = append(questions, batching.DeepQuestionsFor(cluster)...)
		}
		g := crossDocGroup{
			label:     "cluster:" + string(cluster),
			questions: questions,
		}
		for _, d := range docs {
			g.documentIDs = append(g.documentIDs, d.ID)
			if cd, ok := byID[d.ID]; ok {
				g.summaries = append(g.summaries, cd)
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// compressedDocs returns the analysis stage's compressed summaries,
// recomputing them when this execution resumed past that stage.
func (o *Orchestrator) compressedDocs(ctx context.Context, st *runState) ([]*types.CompressedDocument, error) {
	st.mu.Lock()
	cached := st.compressed
	st.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}

	prioritized := o.prioritizer.Prioritize(st.docs, st.payload.Findings)
	compressed, err := o.compressor.CompressAll(ctx, prioritized)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	st.compressed = compressed
	st.mu.Unlock()
	return compressed, nil
}

func (st *runState) hasCompletedGroup(label string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, g := range st.payload.CompletedGroups {
		if g == label {
			return true
		}
	}
	return false
}

func (st *runState) markGroupCompleted(label string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, g := range st.payload.CompletedGroups {
		if g == label {
			return
		}
	}
	st.payload.CompletedGroups = append(st.payload.CompletedGroups, label)
}

// stageAggregateCalculation folds graph-derived structure back into the
// findings: a change-of-control cascade at elevated risk produces one
// aggregate finding. Enrichment-only; every error degrades to skipped.
func (o *Orchestrator) stageAggregateCalculation(ctx context.Context, st *runState) error {
	if !o.cfg.EnableGraph {
		return nil
	}
	q := graph.NewQueries(o.store)
	cascade, err := q.ChangeOfControlCascade(ctx, st.run.CaseID)
	if err != nil {
		slog.Warn("cascade analysis skipped", "run_id", st.run.ID, "error", err)
		return nil
	}
	if len(cascade.Agreements) == 0 || cascade.RiskLevel == types.StatusGreen {
		return nil
	}

	now := time.Now()
	f := &types.Finding{
		ID:             uuid.New().String(),
		CaseID:         st.run.CaseID,
		RunID:          st.run.ID,
		RiskQuestionID: "rq-change-of-control-cascade",
		Category:       "structural",
		Type:           types.FindingNegative,
		Status:         cascade.RiskLevel,
		Title: fmt.Sprintf("Change of control cascades across %d agreements (%d consents required)",
			len(cascade.Agreements), cascade.ConsentsRequired),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, ag := range cascade.Agreements {
		f.DocumentIDs = append(f.DocumentIDs, ag.DocumentID)
	}
	for ccy, total := range cascade.ExposureByCurrency {
		if f.Exposure == nil || total > f.Exposure.Amount {
			f.Exposure = &types.FinancialExposure{Amount: total, Currency: ccy, Calculation: "sum of amounts on affected documents"}
		}
	}
	if err := f.Validate(); err != nil {
		slog.Warn("cascade finding invalid, skipped", "run_id", st.run.ID, "error", err)
		return nil
	}

	st.mu.Lock()
	st.payload.Findings = append(st.payload.Findings, f)
	st.mu.Unlock()
	return st.save(ctx, o)
}

// stageSynthesis produces the final report synthesis with one
// high-accuracy call over the deduplicated findings.
func (o *Orchestrator) stageSynthesis(ctx context.Context, st *runState) error {
	if st.payload.Synthesis != nil {
		return nil
	}

	raw, usage, err := o.client.Complete(ctx, types.TierAccurate, synthesisPrompt(st.payload.Findings), "synthesize_report", 3000)
	o.recordUsage(ctx, st, usage)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}
	parsed := ai.Parse[types.SynthesisResult](raw, "synthesize_report")
	if !parsed.Success {
		return fmt.Errorf("unparseable synthesis: %s", parsed.Error)
	}

	st.mu.Lock()
	st.payload.Synthesis = &parsed.Data
	st.mu.Unlock()
	return st.save(ctx, o)
}

// stageVerification drops findings that no longer satisfy their
// invariants after merging and ranks the rest by severity.
func (o *Orchestrator) stageVerification(ctx context.Context, st *runState) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	kept := make([]*types.Finding, 0, len(st.payload.Findings))
	for _, f := range st.payload.Findings {
		if err := f.Validate(); err != nil {
			slog.Warn("dropping finding failing verification", "run_id", st.run.ID, "finding_id", f.ID, "error", err)
			continue
		}
		kept = append(kept, f)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Status.Precedence() > kept[j].Status.Precedence()
	})
	st.payload.Findings = kept
	return nil
}

// stageStoreFindings commits the final findings
func (o *Orchestrator) stageStoreFindings(ctx context.Context, st *runState) error {
	st.mu.Lock()
	findings := st.payload.Findings
	st.mu.Unlock()

	if len(findings) == 0 {
		return nil
	}
	if err := o.store.StoreFindings(ctx, findings); err != nil {
		return fmt.Errorf("failed to store findings: %w", err)
	}
	return st.save(ctx, o)
}
