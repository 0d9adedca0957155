// Package orchestrator owns the task state machine: creation, phase
// sequencing, the bounded symbol worker pool, finalization, retries and
// cooperative cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

const (
	// DefaultPoolSize bounds concurrent symbol workers within one task.
	DefaultPoolSize = 3

	// DefaultMaxRunningTasks is the global ceiling on running tasks.
	DefaultMaxRunningTasks = 3

	// DefaultScreenCap is the minimum candidate cap for keyword screening.
	DefaultScreenCap = 20

	// DefaultMarketCap is the candidate cap for market-wide screening.
	DefaultMarketCap = 50

	// DefaultScreenPercent is the progress share of the screen phase.
	DefaultScreenPercent = 50.0

	// DefaultTaskDeadline is the soft deadline before a stalled task is
	// failed with a timeout.
	DefaultTaskDeadline = 30 * time.Minute
)

// taskRun tracks the cancellation state of one executing task.
type taskRun struct {
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// Orchestrator implements interfaces.OrchestratorService over the badger
// stores, the screener and the symbol analysis worker.
type Orchestrator struct {
	config      *common.OrchestratorConfig
	tasks       interfaces.TaskStorage
	results     interfaces.ResultStorage
	progress    interfaces.ProgressStorage
	broadcaster interfaces.ProgressBroadcaster
	screener    interfaces.ScreenerService
	analyzer    interfaces.SymbolAnalyzer
	validate    *validator.Validate
	logger      arbor.ILogger

	// admit enforces the global running-task ceiling, admitting queued
	// tasks highest priority first.
	admit *admitQueue

	// taskLocks serializes state transitions per task id.
	taskLocks sync.Map // taskID -> *sync.Mutex

	// runs holds cancellation state for in-flight tasks.
	runs sync.Map // taskID -> *taskRun

	wg       sync.WaitGroup
	shutdown atomic.Bool
}

var _ interfaces.OrchestratorService = (*Orchestrator)(nil)

// NewOrchestrator wires the task orchestrator.
func NewOrchestrator(
	config *common.OrchestratorConfig,
	tasks interfaces.TaskStorage,
	results interfaces.ResultStorage,
	progress interfaces.ProgressStorage,
	broadcaster interfaces.ProgressBroadcaster,
	screener interfaces.ScreenerService,
	analyzer interfaces.SymbolAnalyzer,
	logger arbor.ILogger,
) *Orchestrator {
	o := &Orchestrator{
		config:      config,
		tasks:       tasks,
		results:     results,
		progress:    progress,
		broadcaster: broadcaster,
		screener:    screener,
		analyzer:    analyzer,
		validate:    validator.New(),
		logger:      logger,
	}
	o.admit = newAdmitQueue(o.maxRunningTasks())
	return o
}

// -----------------------------------------------------------------------
// Public API
// -----------------------------------------------------------------------

// Create validates params for the kind and persists a pending task.
func (o *Orchestrator) Create(ctx context.Context, kind models.TaskKind, params models.TaskParams, priority int) (*models.Task, error) {
	if err := o.validateParams(kind, params); err != nil {
		return nil, err
	}

	task := models.NewTask(kind, params, priority)
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}

	o.logger.Info().
		Str("task_id", task.ID).
		Str("kind", string(kind)).
		Int("priority", task.Priority).
		Msg("Task created")

	return task, nil
}

// Start transitions a pending task to running and executes it in the
// background. When the global ceiling is saturated the task stays pending
// until a slot frees up.
func (o *Orchestrator) Start(ctx context.Context, taskID string) error {
	if o.shutdown.Load() {
		return fmt.Errorf("%w: orchestrator is shutting down", models.ErrInvalidState)
	}

	mu := o.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("%w: task %s is %s, only pending tasks can start", models.ErrInvalidState, taskID, task.Status)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), o.taskDeadline())
	run := &taskRun{cancel: cancel}
	o.runs.Store(taskID, run)
	priority := task.Priority

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.runs.Delete(taskID)

		if err := o.admit.acquire(runCtx, priority); err != nil {
			o.abortQueued(taskID, run)
			return
		}
		defer o.admit.release()

		if run.cancelled.Load() {
			o.abortQueued(taskID, run)
			return
		}
		o.execute(runCtx, taskID, run)
	}()

	return nil
}

// abortQueued finalizes a task whose run ended while it was still waiting
// for a run slot. During shutdown queued tasks are left pending so a
// restart can start them again.
func (o *Orchestrator) abortQueued(taskID string, run *taskRun) {
	if o.shutdown.Load() {
		return
	}

	ctx := context.Background()
	mu := o.lockFor(taskID)

	mu.Lock()
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		mu.Unlock()
		o.logger.Error().Str("task_id", taskID).Err(err).Msg("Failed to load queued task for finalization")
		return
	}
	if task.Status != models.TaskStatusPending {
		mu.Unlock()
		return
	}
	cancelled := run.cancelled.Load()
	message := "task cancelled"
	if cancelled {
		task.MarkCancelled()
	} else {
		message = fmt.Sprintf("%v: task deadline exceeded while queued", models.ErrTimeout)
		task.MarkFailed(message)
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Error().Str("task_id", taskID).Err(err).Msg("Failed to save queued task finalization")
	}
	mu.Unlock()

	o.emit(ctx, taskID, models.EventError, func(e *models.ProgressEvent) {
		e.Message = message
	})

	o.logger.Info().
		Str("task_id", taskID).
		Str("status", string(task.Status)).
		Msg("Queued task finalized before execution")
}

// Cancel requests cooperative cancellation. Running tasks finish their
// current unit of work before transitioning; pending tasks cancel
// immediately.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	mu := o.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return fmt.Errorf("%w: task %s is already %s", models.ErrInvalidState, taskID, task.Status)
	}

	if v, ok := o.runs.Load(taskID); ok {
		run := v.(*taskRun)
		run.cancelled.Store(true)
		run.cancel()
		o.logger.Info().Str("task_id", taskID).Msg("Task cancellation requested")
		return nil
	}

	// Pending with no executor: cancel directly.
	task.MarkCancelled()
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save cancelled task: %w", err)
	}
	o.emit(ctx, taskID, models.EventError, func(e *models.ProgressEvent) {
		e.Message = "task cancelled"
	})
	return nil
}

// Retry re-enters pending on the same id, discarding the previous run's
// results and progress log.
func (o *Orchestrator) Retry(ctx context.Context, taskID string) error {
	mu := o.lockFor(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskStatusFailed && task.Status != models.TaskStatusCancelled {
		return fmt.Errorf("%w: task %s is %s, only failed or cancelled tasks can retry", models.ErrInvalidState, taskID, task.Status)
	}
	if task.RetryCount >= task.MaxRetries {
		return fmt.Errorf("%w: task %s exhausted its %d retries", models.ErrInvalidState, taskID, task.MaxRetries)
	}

	if err := o.results.DeleteResultsByTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to clear previous results: %w", err)
	}
	if err := o.progress.DeleteEventsByTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to clear previous progress events: %w", err)
	}

	task.ResetForRetry()
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save retried task: %w", err)
	}

	o.logger.Info().
		Str("task_id", taskID).
		Int("retry_count", task.RetryCount).
		Msg("Task reset for retry")

	return nil
}

// GetStatus returns the current task row.
func (o *Orchestrator) GetStatus(ctx context.Context, taskID string) (*models.Task, error) {
	return o.tasks.GetTask(ctx, taskID)
}

// ListTasks returns a filtered, paginated page with per-status stats.
func (o *Orchestrator) ListTasks(ctx context.Context, filter interfaces.TaskFilter, page interfaces.Pagination) (*interfaces.TaskListPage, error) {
	tasks, total, err := o.tasks.ListTasks(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	stats, err := o.tasks.GetTaskStats(ctx)
	if err != nil {
		return nil, err
	}
	return &interfaces.TaskListPage{
		Tasks:   tasks,
		Total:   total,
		HasMore: page.Offset+len(tasks) < total,
		Stats:   stats,
	}, nil
}

// GetResults returns a task's results sorted by rank.
func (o *Orchestrator) GetResults(ctx context.Context, taskID string) ([]*models.Result, error) {
	if _, err := o.tasks.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return o.results.GetResultsByTask(ctx, taskID)
}

// Shutdown requests cancellation of all running tasks and waits for them to
// reach a checkpoint, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.shutdown.Store(true)

	o.runs.Range(func(key, value interface{}) bool {
		run := value.(*taskRun)
		run.cancelled.Store(true)
		run.cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}

// -----------------------------------------------------------------------
// Execution
// -----------------------------------------------------------------------

// execute runs the phases of one task. Caller holds a run slot.
func (o *Orchestrator) execute(ctx context.Context, taskID string, run *taskRun) {
	mu := o.lockFor(taskID)

	mu.Lock()
	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		mu.Unlock()
		o.logger.Error().Str("task_id", taskID).Err(err).Msg("Failed to load task for execution")
		return
	}
	if task.Status != models.TaskStatusPending {
		mu.Unlock()
		return
	}
	task.MarkStarted()
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		mu.Unlock()
		o.logger.Error().Str("task_id", taskID).Err(err).Msg("Failed to mark task running")
		return
	}
	mu.Unlock()

	o.emit(ctx, taskID, models.EventTaskStarted, func(e *models.ProgressEvent) {
		e.Percent = 0
		e.Payload = map[string]interface{}{"kind": string(task.Kind)}
	})

	symbols, phaseStart, err := o.resolveSymbols(ctx, task, run)
	if err != nil {
		o.finalizeFailed(ctx, task, err)
		return
	}
	if run.cancelled.Load() {
		o.finalizeCancelled(ctx, task)
		return
	}
	if len(symbols) == 0 {
		o.finalizeFailed(ctx, task, fmt.Errorf("%w: screening produced no candidates", models.ErrDataUnavailable))
		return
	}

	mu.Lock()
	task.TotalSymbols = len(symbols)
	task.CurrentPhase = models.TaskPhaseAnalyze
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		mu.Unlock()
		o.finalizeFailed(ctx, task, fmt.Errorf("failed to save task before analysis: %w", err))
		return
	}
	mu.Unlock()

	o.emit(ctx, taskID, models.EventPhaseChanged, func(e *models.ProgressEvent) {
		e.Phase = string(models.TaskPhaseAnalyze)
		e.Percent = phaseStart
		e.Payload = map[string]interface{}{"total_symbols": len(symbols)}
	})

	o.runPool(ctx, task, run, symbols, phaseStart)

	switch {
	case run.cancelled.Load():
		o.finalizeCancelled(ctx, task)
	case ctx.Err() != nil:
		o.finalizeFailed(ctx, task, fmt.Errorf("%w: task exceeded its deadline", models.ErrTimeout))
	default:
		o.finalize(ctx, task)
	}
}

// resolveSymbols determines the analyze-phase symbol list, running the
// screen phase for keyword and market-wide kinds. Returns the list and the
// percent where the analyze phase starts.
func (o *Orchestrator) resolveSymbols(ctx context.Context, task *models.Task, run *taskRun) ([]string, float64, error) {
	if task.Kind == models.TaskKindExplicitSymbols {
		return task.Params.Symbols, 0, nil
	}

	screenEnd := o.screenPercent()

	mu := o.lockFor(task.ID)
	mu.Lock()
	task.CurrentPhase = models.TaskPhaseScreen
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		mu.Unlock()
		return nil, 0, fmt.Errorf("failed to save task for screen phase: %w", err)
	}
	mu.Unlock()

	o.emit(ctx, task.ID, models.EventPhaseChanged, func(e *models.ProgressEvent) {
		e.Phase = string(models.TaskPhaseScreen)
		e.Percent = 0
	})

	var criteria interfaces.ScreenCriteria
	candidateCap := o.marketCap()
	if task.Kind == models.TaskKindKeywordScreen {
		criteria.Keyword = task.Params.Keyword
		candidateCap = max(task.Params.MaxCandidates*3, o.screenCap())
	}

	symbols, err := o.screener.Screen(ctx, criteria, candidateCap)
	if err != nil {
		return nil, 0, fmt.Errorf("screen phase failed: %w", err)
	}

	mu.Lock()
	if screenEnd > task.ProgressPercent {
		task.ProgressPercent = screenEnd
	}
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		mu.Unlock()
		return nil, 0, fmt.Errorf("failed to save task after screen phase: %w", err)
	}
	mu.Unlock()

	o.emit(ctx, task.ID, models.EventProgress, func(e *models.ProgressEvent) {
		e.Percent = screenEnd
		e.Payload = map[string]interface{}{"candidates": len(symbols)}
	})

	return symbols, screenEnd, nil
}

// runPool fans symbols out to a bounded worker pool. Workers check the
// cancellation flag between symbols; progress percent derives only from the
// completion counters, so it is monotone regardless of completion order.
func (o *Orchestrator) runPool(ctx context.Context, task *models.Task, run *taskRun, symbols []string, phaseStart float64) {
	symbolCh := make(chan string)
	var wg sync.WaitGroup

	for i := 0; i < o.poolSize(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolCh {
				if run.cancelled.Load() || ctx.Err() != nil {
					continue
				}
				o.analyzeOne(ctx, task, run, symbol, phaseStart)
			}
		}()
	}

	for _, symbol := range symbols {
		symbolCh <- symbol
	}
	close(symbolCh)
	wg.Wait()
}

// analyzeOne runs the worker for a single symbol and records its terminal
// outcome on the task.
func (o *Orchestrator) analyzeOne(ctx context.Context, task *models.Task, run *taskRun, symbol string, phaseStart float64) {
	mu := o.lockFor(task.ID)

	mu.Lock()
	task.CurrentSymbol = symbol
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to save current symbol")
	}
	mu.Unlock()

	_, err := o.analyzer.Analyze(ctx, task, symbol)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// Interrupted rather than failed; the run-level outcome covers it.
		return
	}

	mu.Lock()
	defer mu.Unlock()

	task.CompletedSymbols++
	if err != nil {
		task.FailureCount++
	} else {
		task.SuccessCount++
	}
	if task.CurrentSymbol == symbol {
		task.CurrentSymbol = ""
	}
	task.UpdateProgress(phaseStart, 100)

	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Warn().Str("task_id", task.ID).Err(err).Msg("Failed to save task progress")
	}

	o.emit(ctx, task.ID, models.EventProgress, func(e *models.ProgressEvent) {
		e.Percent = task.ProgressPercent
		e.Payload = map[string]interface{}{
			"completed_symbols": task.CompletedSymbols,
			"total_symbols":     task.TotalSymbols,
			"success_count":     task.SuccessCount,
			"failure_count":     task.FailureCount,
		}
	})
}

// -----------------------------------------------------------------------
// Finalization
// -----------------------------------------------------------------------

// finalize ranks the task's results and completes it. Sort order: fusion
// score descending, technical score descending, symbol ascending. The top-K
// (K = max candidates) are marked recommended.
func (o *Orchestrator) finalize(ctx context.Context, task *models.Task) {
	results, err := o.results.GetResultsByTask(ctx, task.ID)
	if err != nil {
		o.finalizeFailed(ctx, task, fmt.Errorf("failed to load results for ranking: %w", err))
		return
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FusionScore != results[j].FusionScore {
			return results[i].FusionScore > results[j].FusionScore
		}
		if results[i].TechnicalScore != results[j].TechnicalScore {
			return results[i].TechnicalScore > results[j].TechnicalScore
		}
		return results[i].Symbol < results[j].Symbol
	})

	topK := task.Params.MaxCandidates
	if topK <= 0 {
		topK = models.DefaultMaxCandidates
	}
	for i, result := range results {
		result.RankInTask = i + 1
		result.IsRecommended = i < topK
	}
	if err := o.results.SaveResults(ctx, results); err != nil {
		o.finalizeFailed(ctx, task, fmt.Errorf("failed to save ranked results: %w", err))
		return
	}

	mu := o.lockFor(task.ID)
	mu.Lock()
	task.MarkCompleted()
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Error().Str("task_id", task.ID).Err(err).Msg("Failed to save completed task")
	}
	mu.Unlock()

	o.emit(ctx, task.ID, models.EventTaskCompleted, func(e *models.ProgressEvent) {
		e.Percent = 100
		e.Payload = map[string]interface{}{
			"success_count": task.SuccessCount,
			"failure_count": task.FailureCount,
			"result_count":  len(results),
			"recommended":   min(topK, len(results)),
		}
	})

	o.logger.Info().
		Str("task_id", task.ID).
		Int("results", len(results)).
		Int("failures", task.FailureCount).
		Msg("Task completed")
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, task *models.Task, cause error) {
	mu := o.lockFor(task.ID)
	mu.Lock()
	task.MarkFailed(cause.Error())
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Error().Str("task_id", task.ID).Err(err).Msg("Failed to save failed task")
	}
	mu.Unlock()

	o.emit(ctx, task.ID, models.EventError, func(e *models.ProgressEvent) {
		e.Message = cause.Error()
	})

	o.logger.Warn().Str("task_id", task.ID).Err(cause).Msg("Task failed")
}

func (o *Orchestrator) finalizeCancelled(ctx context.Context, task *models.Task) {
	mu := o.lockFor(task.ID)
	mu.Lock()
	task.MarkCancelled()
	if err := o.tasks.SaveTask(ctx, task); err != nil {
		o.logger.Error().Str("task_id", task.ID).Err(err).Msg("Failed to save cancelled task")
	}
	mu.Unlock()

	o.emit(ctx, task.ID, models.EventError, func(e *models.ProgressEvent) {
		e.Message = "task cancelled"
	})

	o.logger.Info().Str("task_id", task.ID).Msg("Task cancelled")
}

// -----------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------

// validateParams applies schema and per-kind checks.
func (o *Orchestrator) validateParams(kind models.TaskKind, params models.TaskParams) error {
	switch kind {
	case models.TaskKindExplicitSymbols:
		if len(params.Symbols) == 0 {
			return fmt.Errorf("%w: explicit-symbols task requires a symbol list", models.ErrInvalidParams)
		}
	case models.TaskKindKeywordScreen:
		if params.Keyword == "" {
			return fmt.Errorf("%w: keyword-screen task requires a keyword", models.ErrInvalidParams)
		}
	case models.TaskKindMarketWide:
	default:
		return fmt.Errorf("%w: unknown task kind %q", models.ErrInvalidParams, kind)
	}

	if err := o.validate.Struct(params); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidParams, err)
	}
	return nil
}

func (o *Orchestrator) lockFor(taskID string) *sync.Mutex {
	v, _ := o.taskLocks.LoadOrStore(taskID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *Orchestrator) emit(ctx context.Context, taskID string, eventType models.ProgressEventType, fill func(*models.ProgressEvent)) {
	event := models.NewProgressEvent(taskID, eventType)
	if fill != nil {
		fill(event)
	}
	if err := o.broadcaster.Publish(ctx, event); err != nil {
		o.logger.Warn().
			Str("task_id", taskID).
			Str("type", string(eventType)).
			Err(err).
			Msg("Failed to publish progress event")
	}
}

func (o *Orchestrator) poolSize() int {
	if o.config != nil && o.config.PoolSize > 0 {
		return o.config.PoolSize
	}
	return DefaultPoolSize
}

func (o *Orchestrator) maxRunningTasks() int {
	if o.config != nil && o.config.MaxRunningTasks > 0 {
		return o.config.MaxRunningTasks
	}
	return DefaultMaxRunningTasks
}

func (o *Orchestrator) screenCap() int {
	if o.config != nil && o.config.ScreenCap > 0 {
		return o.config.ScreenCap
	}
	return DefaultScreenCap
}

func (o *Orchestrator) marketCap() int {
	if o.config != nil && o.config.MarketCap > 0 {
		return o.config.MarketCap
	}
	return DefaultMarketCap
}

func (o *Orchestrator) screenPercent() float64 {
	if o.config != nil && o.config.ScreenPercent > 0 {
		return o.config.ScreenPercent
	}
	return DefaultScreenPercent
}

func (o *Orchestrator) taskDeadline() time.Duration {
	if o.config != nil && o.config.TaskDeadline != "" {
		if d, err := time.ParseDuration(o.config.TaskDeadline); err == nil && d > 0 {
			return d
		}
	}
	return DefaultTaskDeadline
}
