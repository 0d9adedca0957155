// Package scheduler runs stored cron schedules that create and start
// recurring recommendation tasks.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

// Service registers persisted TaskSchedules with a cron runner. Each fire
// creates a task through the orchestrator and starts it.
type Service struct {
	schedules    interfaces.ScheduleStorage
	orchestrator interfaces.OrchestratorService
	cron         *cron.Cron
	logger       arbor.ILogger

	mu      sync.Mutex
	entries map[string]cron.EntryID // schedule id -> cron entry
	running bool
}

// NewService creates a scheduler over the given schedule store and
// orchestrator.
func NewService(schedules interfaces.ScheduleStorage, orchestrator interfaces.OrchestratorService, logger arbor.ILogger) *Service {
	return &Service{
		schedules:    schedules,
		orchestrator: orchestrator,
		cron:         cron.New(),
		logger:       logger,
		entries:      make(map[string]cron.EntryID),
	}
}

// ValidateCronExpr checks a cron expression against the runner's parser.
func ValidateCronExpr(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", models.ErrInvalidParams, expr, err)
	}
	return nil
}

// Start loads enabled schedules from storage, registers them and starts the
// cron runner.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	stored, err := s.schedules.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	registered := 0
	for _, schedule := range stored {
		if err := s.registerLocked(schedule); err != nil {
			s.logger.Error().
				Str("schedule_id", schedule.ID).
				Str("name", schedule.Name).
				Err(err).
				Msg("Failed to register schedule, skipping")
			continue
		}
		registered++
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("count", registered).
		Msg("Scheduler started")

	return nil
}

// Stop halts the cron runner and waits for an in-flight fire to return.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.running = false

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the cron runner is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Register persists a schedule and, when the runner is active and the
// schedule enabled, registers it with cron.
func (s *Service) Register(ctx context.Context, schedule *models.TaskSchedule) error {
	if err := ValidateCronExpr(schedule.CronExpr); err != nil {
		return err
	}
	if err := s.schedules.SaveSchedule(ctx, schedule); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[schedule.ID]; ok {
		s.cron.Remove(id)
		delete(s.entries, schedule.ID)
	}
	if s.running && schedule.Enabled {
		if err := s.registerLocked(schedule); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("name", schedule.Name).
		Str("cron", schedule.CronExpr).
		Bool("enabled", schedule.Enabled).
		Msg("Schedule registered")

	return nil
}

// Remove deletes a schedule and unregisters it from cron.
func (s *Service) Remove(ctx context.Context, scheduleID string) error {
	if err := s.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[scheduleID]; ok {
		s.cron.Remove(id)
		delete(s.entries, scheduleID)
	}

	s.logger.Info().Str("schedule_id", scheduleID).Msg("Schedule removed")
	return nil
}

// Trigger fires a schedule immediately, regardless of its cron expression.
func (s *Service) Trigger(ctx context.Context, scheduleID string) error {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	go s.fire(schedule.ID)
	return nil
}

// registerLocked adds a schedule to the cron runner. Caller holds s.mu.
func (s *Service) registerLocked(schedule *models.TaskSchedule) error {
	scheduleID := schedule.ID
	entryID, err := s.cron.AddFunc(schedule.CronExpr, func() {
		s.fire(scheduleID)
	})
	if err != nil {
		return fmt.Errorf("failed to add schedule to cron: %w", err)
	}
	s.entries[scheduleID] = entryID
	return nil
}

// fire creates and starts a task for the schedule, then stamps LastRunAt.
// The schedule row is re-read so edits between fires take effect.
func (s *Service) fire(scheduleID string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("schedule_id", scheduleID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in schedule fire")
		}
	}()

	ctx := context.Background()

	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Warn().Str("schedule_id", scheduleID).Err(err).Msg("Schedule fired but no longer exists")
		return
	}
	if !schedule.Enabled {
		return
	}

	task, err := s.orchestrator.Create(ctx, schedule.Kind, schedule.Params, schedule.Priority)
	if err != nil {
		s.logger.Error().
			Str("schedule_id", scheduleID).
			Str("name", schedule.Name).
			Err(err).
			Msg("Scheduled task creation failed")
		return
	}
	if err := s.orchestrator.Start(ctx, task.ID); err != nil {
		s.logger.Error().
			Str("schedule_id", scheduleID).
			Str("task_id", task.ID).
			Err(err).
			Msg("Scheduled task start failed")
		return
	}

	now := time.Now()
	schedule.LastRunAt = &now
	if err := s.schedules.SaveSchedule(ctx, schedule); err != nil {
		s.logger.Warn().Str("schedule_id", scheduleID).Err(err).Msg("Failed to stamp schedule last run")
	}

	s.logger.Info().
		Str("schedule_id", scheduleID).
		Str("name", schedule.Name).
		Str("task_id", task.ID).
		Msg("Scheduled task started")
}
