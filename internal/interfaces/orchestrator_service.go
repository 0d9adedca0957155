package interfaces

import (
	"context"

	"github.com/ternarybob/auspex/internal/models"
)

// SymbolAnalyzer runs the per-symbol analysis pipeline for a task, emitting
// progress events as a side effect. Returns zero or one Result.
type SymbolAnalyzer interface {
	Analyze(ctx context.Context, task *models.Task, symbol string) (*models.Result, error)
}

// TaskListPage is one page of a task listing plus per-status stats.
type TaskListPage struct {
	Tasks   []*models.Task `json:"tasks"`
	Total   int            `json:"total"`
	HasMore bool           `json:"has_more"`
	Stats   *TaskStats     `json:"stats,omitempty"`
}

// OrchestratorService owns the task state machine. All task mutation goes
// through these methods; transitions are serialized per task id.
type OrchestratorService interface {
	// Create validates params for the kind and persists a pending task.
	// Returns models.ErrInvalidParams on schema failure.
	Create(ctx context.Context, kind models.TaskKind, params models.TaskParams, priority int) (*models.Task, error)

	// Start transitions pending to running and begins execution in the
	// background. Returns models.ErrNotFound or models.ErrInvalidState.
	Start(ctx context.Context, taskID string) error

	// Cancel requests cooperative cancellation. In-flight symbol work is
	// allowed to finish its current unit. Returns models.ErrInvalidState on
	// terminal tasks.
	Cancel(ctx context.Context, taskID string) error

	// Retry re-enters pending on the same id. Only valid on failed or
	// cancelled tasks; clears counters, error state, old results and
	// progress events.
	Retry(ctx context.Context, taskID string) error

	// GetStatus returns the current task row.
	GetStatus(ctx context.Context, taskID string) (*models.Task, error)

	// ListTasks returns a filtered, paginated task page with stats.
	ListTasks(ctx context.Context, filter TaskFilter, page Pagination) (*TaskListPage, error)

	// GetResults returns a completed task's results sorted by rank.
	GetResults(ctx context.Context, taskID string) ([]*models.Result, error)

	// Shutdown waits for running tasks to reach a cancellation checkpoint.
	Shutdown(ctx context.Context) error
}
