package interfaces

import (
	"context"

	"github.com/ternarybob/auspex/internal/models"
)

// TaskFilter narrows ListTasks queries. Zero values mean "no filter".
type TaskFilter struct {
	Status models.TaskStatus
	Kind   models.TaskKind
}

// Pagination bounds a list query. Limit <= 0 means the storage default.
type Pagination struct {
	Limit  int
	Offset int
}

// TaskStats summarizes task counts per status.
type TaskStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// TaskStorage - interface for task row persistence
type TaskStorage interface {
	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter, page Pagination) ([]*models.Task, int, error)
	DeleteTask(ctx context.Context, id string) error
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	CountByStatus(ctx context.Context, status models.TaskStatus) (int, error)
}

// ResultStorage - interface for recommendation result persistence
type ResultStorage interface {
	SaveResult(ctx context.Context, result *models.Result) error
	SaveResults(ctx context.Context, results []*models.Result) error
	GetResultsByTask(ctx context.Context, taskID string) ([]*models.Result, error)
	DeleteResultsByTask(ctx context.Context, taskID string) error
}

// ProgressStorage - interface for the durable progress event log
type ProgressStorage interface {
	AppendEvent(ctx context.Context, event *models.ProgressEvent) error
	GetEventsByTask(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error)
	DeleteEventsByTask(ctx context.Context, taskID string) error
	CountEventsByTask(ctx context.Context, taskID string) (int, error)
}

// ScheduleStorage - interface for cron schedule persistence
type ScheduleStorage interface {
	SaveSchedule(ctx context.Context, schedule *models.TaskSchedule) error
	GetSchedule(ctx context.Context, id string) (*models.TaskSchedule, error)
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*models.TaskSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
}
