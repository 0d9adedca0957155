package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const defaultListLimit = 20

// TaskStorage implements the TaskStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskStorage) SaveTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}

	if err := s.db.Store().Upsert(task.ID, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *TaskStorage) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.Store().Get(id, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (s *TaskStorage) ListTasks(ctx context.Context, filter interfaces.TaskFilter, page interfaces.Pagination) ([]*models.Task, int, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if filter.Kind != "" {
		query = query.And("Kind").Eq(filter.Kind)
	}

	// Total count before pagination for has_more computation
	countQuery := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		countQuery = countQuery.And("Status").Eq(filter.Status)
	}
	if filter.Kind != "" {
		countQuery = countQuery.And("Kind").Eq(filter.Kind)
	}
	total, err := s.db.Store().Count(&models.Task{}, countQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query = query.SortBy("CreatedAt").Reverse().Skip(page.Offset).Limit(limit)

	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, int(total), nil
}

func (s *TaskStorage) DeleteTask(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Task{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (s *TaskStorage) CountByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Task{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks by status: %w", err)
	}
	return int(count), nil
}

func (s *TaskStorage) GetTaskStats(ctx context.Context) (*interfaces.TaskStats, error) {
	stats := &interfaces.TaskStats{}

	counts := []struct {
		status models.TaskStatus
		target *int
	}{
		{models.TaskStatusPending, &stats.Pending},
		{models.TaskStatusRunning, &stats.Running},
		{models.TaskStatusCompleted, &stats.Completed},
		{models.TaskStatusFailed, &stats.Failed},
		{models.TaskStatusCancelled, &stats.Cancelled},
	}
	for _, c := range counts {
		n, err := s.CountByStatus(ctx, c.status)
		if err != nil {
			return nil, err
		}
		*c.target = n
		stats.Total += n
	}
	return stats, nil
}
