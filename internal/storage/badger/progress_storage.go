package badger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ProgressStorage implements the ProgressStorage interface for Badger.
// It maintains a per-task sequence counter so events within one task's log
// are strictly ordered regardless of which goroutine appends them.
type ProgressStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu        sync.Mutex
	sequences map[string]uint64
}

// NewProgressStorage creates a new ProgressStorage instance
func NewProgressStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProgressStorage {
	return &ProgressStorage{
		db:        db,
		logger:    logger,
		sequences: make(map[string]uint64),
	}
}

// nextSequence returns the next per-task sequence number, seeding the
// counter from the stored log on first use after a restart.
func (s *ProgressStorage) nextSequence(taskID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sequences[taskID]; !ok {
		count, err := s.db.Store().Count(&models.ProgressEvent{}, badgerhold.Where("TaskID").Eq(taskID))
		if err != nil {
			return 0, fmt.Errorf("failed to seed sequence counter: %w", err)
		}
		s.sequences[taskID] = uint64(count)
	}
	s.sequences[taskID]++
	return s.sequences[taskID], nil
}

func (s *ProgressStorage) AppendEvent(ctx context.Context, event *models.ProgressEvent) error {
	if event.TaskID == "" {
		return fmt.Errorf("event task ID is required")
	}

	seq, err := s.nextSequence(event.TaskID)
	if err != nil {
		return err
	}
	event.Sequence = seq

	if err := s.db.Store().Insert(badgerhold.NextSequence(), event); err != nil {
		return fmt.Errorf("failed to append progress event: %w", err)
	}
	return nil
}

// GetEventsByTask returns up to limit of the task's most recent events,
// oldest first. limit <= 0 returns the full log.
func (s *ProgressStorage) GetEventsByTask(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error) {
	var events []models.ProgressEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("TaskID").Eq(taskID).SortBy("Sequence")); err != nil {
		return nil, fmt.Errorf("failed to get progress events: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	result := make([]*models.ProgressEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

func (s *ProgressStorage) DeleteEventsByTask(ctx context.Context, taskID string) error {
	if err := s.db.Store().DeleteMatching(&models.ProgressEvent{}, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
		return fmt.Errorf("failed to delete progress events: %w", err)
	}

	s.mu.Lock()
	delete(s.sequences, taskID)
	s.mu.Unlock()
	return nil
}

func (s *ProgressStorage) CountEventsByTask(ctx context.Context, taskID string) (int, error) {
	count, err := s.db.Store().Count(&models.ProgressEvent{}, badgerhold.Where("TaskID").Eq(taskID))
	if err != nil {
		return 0, fmt.Errorf("failed to count progress events: %w", err)
	}
	return int(count), nil
}
