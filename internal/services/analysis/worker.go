// Package analysis runs the per-symbol pipeline: fetch history, score it,
// stream an AI read on the symbol, fuse the two into a recommendation.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/ternarybob/auspex/internal/services/scoring"
)

const systemPrompt = "You are an equity analyst. Assess the stock using the supplied technical findings. " +
	"Keep the analysis under 200 words and end with a line stating your confidence as \"信心 X/10\" (confidence X/10)."

// Worker analyzes one symbol for a task, emitting progress events along the
// way. Zero or one Result per invocation.
type Worker struct {
	marketData  interfaces.MarketDataService
	scorer      interfaces.TechnicalScorer
	router      interfaces.CompletionRouter
	results     interfaces.ResultStorage
	broadcaster interfaces.ProgressBroadcaster
	scoring     *common.ScoringConfig
	logger      arbor.ILogger
}

var _ interfaces.SymbolAnalyzer = (*Worker)(nil)

// NewWorker wires a symbol analysis worker.
func NewWorker(
	marketData interfaces.MarketDataService,
	scorer interfaces.TechnicalScorer,
	router interfaces.CompletionRouter,
	results interfaces.ResultStorage,
	broadcaster interfaces.ProgressBroadcaster,
	scoringConfig *common.ScoringConfig,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		marketData:  marketData,
		scorer:      scorer,
		router:      router,
		results:     results,
		broadcaster: broadcaster,
		scoring:     scoringConfig,
		logger:      logger,
	}
}

// Analyze runs the full pipeline for one symbol. A data or scoring failure
// returns an error and no Result; AI unavailability degrades to a
// technical-only Result instead of failing.
func (w *Worker) Analyze(ctx context.Context, task *models.Task, symbol string) (*models.Result, error) {
	w.emit(ctx, task.ID, models.EventCurrentSymbol, func(e *models.ProgressEvent) {
		e.Symbol = symbol
		e.Phase = string(models.TaskPhaseAnalyze)
	})

	series, err := w.marketData.FetchSeries(ctx, symbol, task.Params.Period)
	if err != nil {
		w.emitSymbolFailed(ctx, task.ID, symbol, "DataUnavailable", err)
		return nil, err
	}

	technical, err := w.scorer.Score(ctx, symbol, series)
	if err != nil {
		w.emitSymbolFailed(ctx, task.ID, symbol, "ScoringError", err)
		return nil, err
	}

	analysisText, aiErr := w.streamAnalysis(ctx, task, symbol, series, technical)

	result := models.NewResult(task.ID, symbol)
	result.TechnicalScore = technical
	result.CurrentPrice = series.LastClose()

	if aiErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn().
			Str("task_id", task.ID).
			Str("symbol", symbol).
			Err(aiErr).
			Msg("AI analysis unavailable, producing degraded result")
		result.Degraded = true
	} else {
		result.AIAnalysis = analysisText
		confidence, matched := scoring.ParseConfidence(analysisText)
		result.AIConfidence = confidence
		if matched != "" {
			result.Summary = firstLine(analysisText)
		}
	}

	alpha := task.Params.Alpha
	if alpha == 0 {
		alpha = w.alpha()
	}
	fusion := scoring.Fuse(&result.TechnicalScore, result.AIConfidence, alpha)
	result.FusionScore = *fusion
	result.Action = scoring.ActionFor(result.FusionScore, w.buyThreshold(), w.holdThreshold())

	if err := w.results.SaveResult(ctx, result); err != nil {
		w.emitSymbolFailed(ctx, task.ID, symbol, "StorageError", err)
		return nil, fmt.Errorf("failed to save result for %s: %w", symbol, err)
	}

	w.emit(ctx, task.ID, models.EventSymbolCompleted, func(e *models.ProgressEvent) {
		e.Symbol = symbol
		e.Payload = map[string]interface{}{
			"technical_score": result.TechnicalScore,
			"fusion_score":    result.FusionScore,
			"action":          string(result.Action),
			"degraded":        result.Degraded,
		}
		if result.AIConfidence != nil {
			e.Payload["ai_confidence"] = *result.AIConfidence
		}
	})

	return result, nil
}

// streamAnalysis drives the completion router, emitting one ai_chunk event
// per increment. Cancellation is checked between chunks.
func (w *Worker) streamAnalysis(ctx context.Context, task *models.Task, symbol string, series *models.TimeSeries, technical float64) (string, error) {
	req := interfaces.CompletionRequest{
		Model:  task.Params.Model,
		System: systemPrompt,
		Prompt: buildPrompt(task, symbol, series, technical),
	}

	chunks, errs := w.router.StreamComplete(ctx, req)

	var accumulated string
	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		accumulated = chunk.Accumulated
		w.emit(ctx, task.ID, models.EventAIChunk, func(e *models.ProgressEvent) {
			e.Symbol = symbol
			e.Chunk = chunk.Text
			e.Accumulated = chunk.Accumulated
		})
	}

	if err := <-errs; err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrAIUnavailable, err)
	}
	if strings.TrimSpace(accumulated) == "" {
		return "", fmt.Errorf("%w: provider returned empty analysis", models.ErrAIUnavailable)
	}

	return accumulated, nil
}

// buildPrompt combines symbol, technical findings and keyword context into
// the analysis prompt.
func buildPrompt(task *models.Task, symbol string, series *models.TimeSeries, technical float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze stock %s.\n", symbol)
	fmt.Fprintf(&b, "Latest close: %.2f over %d trading days.\n", series.LastClose(), series.Len())
	fmt.Fprintf(&b, "Technical score: %.1f/10.\n", technical)
	if task.Params.Keyword != "" {
		fmt.Fprintf(&b, "Screening theme: %s.\n", task.Params.Keyword)
	}
	b.WriteString("Give a short outlook (trend, risks, catalysts) and finish with 信心 X/10.")
	return b.String()
}

func (w *Worker) emit(ctx context.Context, taskID string, eventType models.ProgressEventType, fill func(*models.ProgressEvent)) {
	event := models.NewProgressEvent(taskID, eventType)
	if fill != nil {
		fill(event)
	}
	if err := w.broadcaster.Publish(ctx, event); err != nil {
		w.logger.Warn().
			Str("task_id", taskID).
			Str("type", string(eventType)).
			Err(err).
			Msg("Failed to publish progress event")
	}
}

func (w *Worker) emitSymbolFailed(ctx context.Context, taskID, symbol, reason string, cause error) {
	w.emit(ctx, taskID, models.EventSymbolFailed, func(e *models.ProgressEvent) {
		e.Symbol = symbol
		e.Message = cause.Error()
		e.Payload = map[string]interface{}{"reason": reason}
	})
}

func (w *Worker) alpha() float64 {
	if w.scoring != nil && w.scoring.Alpha > 0 {
		return w.scoring.Alpha
	}
	return scoring.DefaultAlpha
}

func (w *Worker) buyThreshold() float64 {
	if w.scoring != nil && w.scoring.BuyThreshold > 0 {
		return w.scoring.BuyThreshold
	}
	return 7.0
}

func (w *Worker) holdThreshold() float64 {
	if w.scoring != nil && w.scoring.HoldThreshold > 0 {
		return w.scoring.HoldThreshold
	}
	return 4.0
}

// firstLine returns the first non-empty line of the analysis for the summary.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
