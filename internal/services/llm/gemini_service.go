package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiService implements the StreamingService interface using the Google
// Gemini API.
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	limiter *rate.Limiter
	timeout time.Duration
}

var _ interfaces.StreamingService = (*GeminiService)(nil)

// NewGeminiService creates a new Gemini completion service.
func NewGeminiService(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	if config.Model == "" {
		config.Model = "gemini-3-flash-preview"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	rateInterval, err := time.ParseDuration(config.RateLimit)
	if err != nil {
		rateInterval = 4 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	service := &GeminiService{
		config:  config,
		logger:  logger,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(rateInterval), 1),
		timeout: timeout,
	}

	logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini completion service initialized")

	return service, nil
}

// Name returns the provider identifier.
func (s *GeminiService) Name() string {
	return "gemini"
}

func (s *GeminiService) buildRequest(req interfaces.CompletionRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = s.config.Model
	}

	temp := req.Temperature
	if temp <= 0 {
		temp = s.config.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.config.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	return model, contents, config
}

// Complete performs a blocking completion bounded by the per-call timeout.
func (s *GeminiService) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model, contents, config := s.buildRequest(req)

	resp, err := s.client.Models.GenerateContent(timeoutCtx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini completion failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from Gemini API")
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in Gemini response")
	}

	return text, nil
}

// StreamComplete streams the completion as incremental text fragments.
func (s *GeminiService) StreamComplete(ctx context.Context, req interfaces.CompletionRequest) (<-chan interfaces.CompletionChunk, <-chan error) {
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

		model, contents, config := s.buildRequest(req)

		var accumulated strings.Builder
		for resp, err := range s.client.Models.GenerateContentStream(timeoutCtx, model, contents, config) {
			if err != nil {
				errs <- fmt.Errorf("Gemini stream failed: %w", err)
				return
			}

			text := resp.Text()
			if text == "" {
				continue
			}

			accumulated.WriteString(text)
			select {
			case chunks <- interfaces.CompletionChunk{Text: text, Accumulated: accumulated.String()}:
			case <-timeoutCtx.Done():
				errs <- timeoutCtx.Err()
				return
			}
		}

		if accumulated.Len() == 0 {
			errs <- fmt.Errorf("empty response from Gemini stream")
		}
	}()

	return chunks, errs
}

// HealthCheck exercises the Gemini API with a minimal probe.
func (s *GeminiService) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	response, err := s.Complete(healthCtx, interfaces.CompletionRequest{Prompt: "ping"})
	if err != nil {
		return fmt.Errorf("Gemini health check failed: %w", err)
	}
	if len(strings.TrimSpace(response)) == 0 {
		return fmt.Errorf("Gemini probe returned empty response")
	}
	return nil
}

// Close releases provider resources. The genai client does not require an
// explicit close.
func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}
