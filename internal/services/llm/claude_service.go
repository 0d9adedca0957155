package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"golang.org/x/time/rate"
)

// ClaudeService implements the StreamingService interface using the
// Anthropic Claude API.
type ClaudeService struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	maxTokens int
}

var _ interfaces.StreamingService = (*ClaudeService)(nil)

// NewClaudeService creates a new Claude completion service.
func NewClaudeService(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "claude-haiku-3-5-20241022"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil {
		rateInterval = time.Second
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	service := &ClaudeService{
		config:    config,
		logger:    logger,
		client:    client,
		limiter:   rate.NewLimiter(rate.Every(rateInterval), 1),
		timeout:   timeout,
		maxTokens: maxTokens,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Float32("temperature", config.Temperature).
		Int("max_tokens", maxTokens).
		Msg("Claude completion service initialized")

	return service, nil
}

// Name returns the provider identifier.
func (s *ClaudeService) Name() string {
	return "claude"
}

func (s *ClaudeService) buildParams(req interfaces.CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = s.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = s.config.Temperature
	}
	if temp > 0 {
		params.Temperature = anthropic.Float(float64(temp))
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	return params
}

// Complete performs a blocking completion bounded by the per-call timeout.
func (s *ClaudeService) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()

	resp, err := s.client.Messages.New(timeoutCtx, s.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("Claude completion failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from Claude API")
	}

	s.logger.Debug().
		Int("response_length", text.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Claude completion completed")

	return text.String(), nil
}

// StreamComplete streams the completion as incremental text deltas. The
// chunk channel is closed at stream end; a mid-stream failure arrives on
// the error channel.
func (s *ClaudeService) StreamComplete(ctx context.Context, req interfaces.CompletionRequest) (<-chan interfaces.CompletionChunk, <-chan error) {
	chunks := make(chan interfaces.CompletionChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if req.Prompt == "" {
			errs <- fmt.Errorf("prompt cannot be empty")
			return
		}

		if err := s.limiter.Wait(ctx); err != nil {
			errs <- fmt.Errorf("rate limiter wait failed: %w", err)
			return
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		stream := s.client.Messages.NewStreaming(timeoutCtx, s.buildParams(req))

		var accumulated strings.Builder
		for stream.Next() {
			event := stream.Current()
			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch delta := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text == "" {
						continue
					}
					accumulated.WriteString(delta.Text)
					select {
					case chunks <- interfaces.CompletionChunk{Text: delta.Text, Accumulated: accumulated.String()}:
					case <-timeoutCtx.Done():
						errs <- timeoutCtx.Err()
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("Claude stream failed: %w", err)
			return
		}

		if accumulated.Len() == 0 {
			errs <- fmt.Errorf("empty response from Claude stream")
		}
	}()

	return chunks, errs
}

// HealthCheck exercises the Claude API with a minimal probe.
func (s *ClaudeService) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.Complete(healthCtx, interfaces.CompletionRequest{Prompt: "ping"})
	if err != nil {
		return fmt.Errorf("Claude health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("Claude probe returned empty response")
	}
	return nil
}

// Close releases provider resources.
func (s *ClaudeService) Close() error {
	return nil
}
