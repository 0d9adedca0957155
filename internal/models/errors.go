package models

import "errors"

// Error taxonomy for task operations. Symbol-level errors (DataUnavailable,
// AIUnavailable, ScoringError) are absorbed into failure counters and never
// abort sibling work; task-level errors mark the whole task failed.
var (
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrAIUnavailable   = errors.New("ai completion unavailable")
	ErrScoringError    = errors.New("technical scoring failed")
	ErrTimeout         = errors.New("operation timed out")
	ErrInvalidState    = errors.New("invalid task state")
	ErrNotFound        = errors.New("task not found")
)
