package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ScheduleStorage implements the ScheduleStorage interface for Badger
type ScheduleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduleStorage creates a new ScheduleStorage instance
func NewScheduleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduleStorage {
	return &ScheduleStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ScheduleStorage) SaveSchedule(ctx context.Context, schedule *models.TaskSchedule) error {
	if schedule.ID == "" {
		return fmt.Errorf("schedule ID is required")
	}

	if err := s.db.Store().Upsert(schedule.ID, schedule); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) GetSchedule(ctx context.Context, id string) (*models.TaskSchedule, error) {
	var schedule models.TaskSchedule
	if err := s.db.Store().Get(id, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (s *ScheduleStorage) ListSchedules(ctx context.Context, enabledOnly bool) ([]*models.TaskSchedule, error) {
	query := badgerhold.Where("ID").Ne("")
	if enabledOnly {
		query = query.And("Enabled").Eq(true)
	}

	var schedules []models.TaskSchedule
	if err := s.db.Store().Find(&schedules, query.SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}

	result := make([]*models.TaskSchedule, len(schedules))
	for i := range schedules {
		result[i] = &schedules[i]
	}
	return result, nil
}

func (s *ScheduleStorage) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.TaskSchedule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("schedule %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}
