// -----------------------------------------------------------------------
// Completion Router - provider selection, streaming with batch fallback
// -----------------------------------------------------------------------

package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
)

// Router implements CompletionRouter over the configured providers. The
// configured (or model-detected) provider is tried first: streaming, then a
// single batch call on the same provider if the stream fails. Other
// providers are only tried when a provider priority list is configured;
// without one a provider failure surfaces to the caller so cost and
// latency stay predictable.
type Router struct {
	geminiConfig *common.GeminiConfig
	claudeConfig *common.ClaudeConfig
	llmConfig    *common.LLMConfig
	logger       arbor.ILogger

	mu        sync.Mutex
	providers map[string]interfaces.StreamingService
}

var _ interfaces.CompletionRouter = (*Router)(nil)

// NewRouter creates a completion router. Provider clients are created
// lazily on first use so a missing API key only fails calls routed to that
// provider.
func NewRouter(geminiConfig *common.GeminiConfig, claudeConfig *common.ClaudeConfig, llmConfig *common.LLMConfig, logger arbor.ILogger) *Router {
	return &Router{
		geminiConfig: geminiConfig,
		claudeConfig: claudeConfig,
		llmConfig:    llmConfig,
		logger:       logger,
		providers:    make(map[string]interfaces.StreamingService),
	}
}

// RegisterProvider installs a pre-built provider service, replacing lazy
// construction for that name.
func (r *Router) RegisterProvider(name string, svc interfaces.StreamingService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = svc
}

// DetectProvider determines the provider from a model string. Model strings
// can carry an explicit prefix ("claude/...", "gemini/...") or be detected
// by model-name pattern; empty falls back to the configured default.
func (r *Router) DetectProvider(model string) string {
	if model == "" {
		return string(r.llmConfig.DefaultProvider)
	}

	model = strings.ToLower(model)

	if strings.HasPrefix(model, "claude/") || strings.HasPrefix(model, "anthropic/") {
		return "claude"
	}
	if strings.HasPrefix(model, "gemini/") || strings.HasPrefix(model, "google/") {
		return "gemini"
	}

	if strings.HasPrefix(model, "claude-") {
		return "claude"
	}
	if strings.HasPrefix(model, "gemini-") {
		return "gemini"
	}

	return string(r.llmConfig.DefaultProvider)
}

// NormalizeModel removes the provider prefix from a model name if present.
func (r *Router) NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// providerOrder returns the providers to try, in order. The detected
// provider comes first; the priority list, when configured, supplies the
// fallback chain behind it.
func (r *Router) providerOrder(model string) []string {
	first := r.DetectProvider(model)
	order := []string{first}
	for _, name := range r.llmConfig.ProviderPriority {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && name != first {
			order = append(order, name)
		}
	}
	return order
}

// serviceFor returns the provider service, creating it on first use.
func (r *Router) serviceFor(ctx context.Context, name string) (interfaces.StreamingService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, ok := r.providers[name]; ok {
		return svc, nil
	}

	var (
		svc interfaces.StreamingService
		err error
	)
	switch name {
	case "claude":
		svc, err = NewClaudeService(r.claudeConfig, r.logger)
	case "gemini":
		svc, err = NewGeminiService(ctx, r.geminiConfig, r.logger)
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", name)
	}
	if err != nil {
		return nil, err
	}

	r.providers[name] = svc
	return svc, nil
}

// StreamComplete streams a completion through the provider chain. Chunks
// are forwarded as they arrive; a mid-stream failure triggers one batch
// fallback on the same provider, delivered as a single chunk carrying the
// full text.
func (r *Router) StreamComplete(ctx context.Context, req interfaces.CompletionRequest) (<-chan interfaces.CompletionChunk, <-chan error) {
	out := make(chan interfaces.CompletionChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		req.Model = r.NormalizeModel(req.Model)

		var lastErr error
		for _, name := range r.providerOrder(req.Model) {
			svc, err := r.serviceFor(ctx, name)
			if err != nil {
				r.logger.Warn().Err(err).Str("provider", name).Msg("Provider unavailable")
				lastErr = err
				continue
			}

			err = r.streamWithFallback(ctx, svc, req, out)
			if err == nil {
				return
			}
			lastErr = err

			r.logger.Warn().
				Err(err).
				Str("provider", name).
				Msg("Provider failed after streaming and batch fallback")

			if ctx.Err() != nil {
				break
			}
		}

		errs <- fmt.Errorf("all completion providers exhausted: %w", lastErr)
	}()

	return out, errs
}

// streamWithFallback runs one provider's streaming call, falling back to a
// single batch call on the same provider when the stream fails.
func (r *Router) streamWithFallback(ctx context.Context, svc interfaces.StreamingService, req interfaces.CompletionRequest, out chan<- interfaces.CompletionChunk) error {
	chunks, streamErrs := svc.StreamComplete(ctx, req)

	delivered := false
	for chunk := range chunks {
		select {
		case out <- chunk:
			delivered = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	streamErr := <-streamErrs
	if streamErr == nil {
		return nil
	}

	if ctx.Err() != nil {
		return streamErr
	}

	// Rate-limited providers sometimes suggest a delay; honor it before the
	// single batch attempt.
	if IsRateLimitError(streamErr) {
		if delay := ExtractRetryDelay(streamErr); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	r.logger.Debug().
		Err(streamErr).
		Str("provider", svc.Name()).
		Bool("partial_stream", delivered).
		Msg("Stream failed, attempting batch fallback on same provider")

	text, batchErr := svc.Complete(ctx, req)
	if batchErr != nil {
		return fmt.Errorf("stream failed (%v), batch fallback failed: %w", streamErr, batchErr)
	}

	select {
	case out <- interfaces.CompletionChunk{Text: text, Accumulated: text}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Complete performs a batch completion with the same provider selection
// rules as StreamComplete.
func (r *Router) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	req.Model = r.NormalizeModel(req.Model)

	var lastErr error
	for _, name := range r.providerOrder(req.Model) {
		svc, err := r.serviceFor(ctx, name)
		if err != nil {
			lastErr = err
			continue
		}

		text, err := svc.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return "", fmt.Errorf("all completion providers exhausted: %w", lastErr)
}

// Close releases all provider clients.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, svc := range r.providers {
		if err := svc.Close(); err != nil {
			r.logger.Warn().Err(err).Str("provider", name).Msg("Failed to close provider")
		}
		delete(r.providers, name)
	}
	return nil
}
