package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ResultStorage implements the ResultStorage interface for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ResultStorage) SaveResult(ctx context.Context, result *models.Result) error {
	if result.ID == "" {
		return fmt.Errorf("result ID is required")
	}

	if err := s.db.Store().Upsert(result.ID, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (s *ResultStorage) SaveResults(ctx context.Context, results []*models.Result) error {
	for _, r := range results {
		if err := s.SaveResult(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// GetResultsByTask returns a task's results sorted by rank, unranked last.
func (s *ResultStorage) GetResultsByTask(ctx context.Context, taskID string) ([]*models.Result, error) {
	var results []models.Result
	if err := s.db.Store().Find(&results, badgerhold.Where("TaskID").Eq(taskID).SortBy("RankInTask")); err != nil {
		return nil, fmt.Errorf("failed to get results for task: %w", err)
	}

	// RankInTask 0 means not yet ranked; push those behind ranked rows
	ranked := make([]*models.Result, 0, len(results))
	unranked := make([]*models.Result, 0)
	for i := range results {
		if results[i].RankInTask > 0 {
			ranked = append(ranked, &results[i])
		} else {
			unranked = append(unranked, &results[i])
		}
	}
	return append(ranked, unranked...), nil
}

func (s *ResultStorage) DeleteResultsByTask(ctx context.Context, taskID string) error {
	if err := s.db.Store().DeleteMatching(&models.Result{}, badgerhold.Where("TaskID").Eq(taskID)); err != nil {
		return fmt.Errorf("failed to delete results for task: %w", err)
	}
	return nil
}
