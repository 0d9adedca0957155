package interfaces

import "context"

// CompletionRequest is a single prompt sent to an AI provider.
type CompletionRequest struct {
	// Model selects the provider model; empty means the configured default.
	Model string

	// System is an optional system instruction prepended to the prompt.
	System string

	// Prompt is the user-facing analysis prompt.
	Prompt string

	// Temperature and MaxTokens override provider defaults when non-zero.
	Temperature float32
	MaxTokens   int
}

// CompletionChunk is one increment of a streaming completion. Accumulated
// carries the full text received so far, including this chunk.
type CompletionChunk struct {
	Text        string
	Accumulated string
}

// CompletionService defines a single AI provider capable of batch
// completion. Providers that can also stream implement StreamingService.
type CompletionService interface {
	// Complete performs a blocking completion and returns the full text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// HealthCheck verifies the provider is reachable and authenticated.
	HealthCheck(ctx context.Context) error

	// Name returns the provider identifier ("claude", "gemini").
	Name() string

	// Close releases provider resources.
	Close() error
}

// StreamingService is implemented by providers that support incremental
// output delivery.
type StreamingService interface {
	CompletionService

	// StreamComplete sends chunks on the returned channel as they arrive.
	// The channel is closed when the stream ends; a mid-stream failure is
	// reported on the error channel and both channels are closed.
	StreamComplete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, <-chan error)
}

// CompletionRouter abstracts provider selection, streaming-with-fallback,
// and per-call timeouts over the configured providers.
type CompletionRouter interface {
	// StreamComplete streams the completion, falling back to a batch call on
	// the same provider if streaming is unsupported or fails mid-stream. The
	// returned error channel yields at most one error after the chunk
	// channel closes.
	StreamComplete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, <-chan error)

	// Complete performs a batch completion with the same provider selection
	// rules.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Close releases all provider clients.
	Close() error
}
