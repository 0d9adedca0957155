package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

func newTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: t.TempDir() + "/auspex-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTaskStorageRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	task := models.NewTask(models.TaskKindExplicitSymbols, models.TaskParams{
		Symbols: []string{"AAPL", "MSFT"},
	}, 5)
	require.NoError(t, store.SaveTask(ctx, task))

	loaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, models.TaskStatusPending, loaded.Status)
	assert.Equal(t, []string{"AAPL", "MSFT"}, loaded.Params.Symbols)

	loaded.MarkStarted()
	require.NoError(t, store.SaveTask(ctx, loaded))

	reloaded, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, reloaded.Status)
	assert.NotNil(t, reloaded.StartedAt)
}

func TestTaskStorageGetMissingReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStorage(db, arbor.NewLogger())

	_, err := store.GetTask(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestTaskStorageListFiltersAndPaginates(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := models.NewTask(models.TaskKindExplicitSymbols, models.TaskParams{Symbols: []string{"AAPL"}}, 5)
		require.NoError(t, store.SaveTask(ctx, task))
	}
	failed := models.NewTask(models.TaskKindKeywordScreen, models.TaskParams{Keyword: "chips"}, 5)
	failed.MarkStarted()
	failed.MarkFailed("boom")
	require.NoError(t, store.SaveTask(ctx, failed))

	tasks, total, err := store.ListTasks(ctx, interfaces.TaskFilter{}, interfaces.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, tasks, 4)

	tasks, total, err = store.ListTasks(ctx, interfaces.TaskFilter{Status: models.TaskStatusFailed}, interfaces.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, failed.ID, tasks[0].ID)

	tasks, total, err = store.ListTasks(ctx, interfaces.TaskFilter{Kind: models.TaskKindExplicitSymbols}, interfaces.Pagination{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, tasks, 2)
}

func TestTaskStorageStats(t *testing.T) {
	db := newTestDB(t)
	store := NewTaskStorage(db, arbor.NewLogger())
	ctx := context.Background()

	pending := models.NewTask(models.TaskKindMarketWide, models.TaskParams{}, 5)
	require.NoError(t, store.SaveTask(ctx, pending))

	done := models.NewTask(models.TaskKindMarketWide, models.TaskParams{}, 5)
	done.MarkStarted()
	done.MarkCompleted()
	require.NoError(t, store.SaveTask(ctx, done))

	stats, err := store.GetTaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Running)
}

func TestProgressStorageSequencesAreMonotonePerTask(t *testing.T) {
	db := newTestDB(t)
	store := NewProgressStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-a", models.EventProgress)))
	}
	require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-b", models.EventTaskStarted)))

	events, err := store.GetEventsByTask(ctx, "task-a", 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Sequence)
	}

	other, err := store.GetEventsByTask(ctx, "task-b", 0)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, uint64(1), other[0].Sequence)
}

func TestProgressStorageLimitReturnsTail(t *testing.T) {
	db := newTestDB(t)
	store := NewProgressStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-a", models.EventAIChunk)))
	}

	events, err := store.GetEventsByTask(ctx, "task-a", 10)
	require.NoError(t, err)
	require.Len(t, events, 10)
	assert.Equal(t, uint64(11), events[0].Sequence)
	assert.Equal(t, uint64(20), events[9].Sequence)
}

func TestProgressStorageDeleteResetsSequence(t *testing.T) {
	db := newTestDB(t)
	store := NewProgressStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-a", models.EventProgress)))
	require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-a", models.EventProgress)))
	require.NoError(t, store.DeleteEventsByTask(ctx, "task-a"))

	count, err := store.CountEventsByTask(ctx, "task-a")
	require.NoError(t, err)
	assert.Zero(t, count)

	// A retry starts a fresh log from sequence 1
	require.NoError(t, store.AppendEvent(ctx, models.NewProgressEvent("task-a", models.EventTaskStarted)))
	events, err := store.GetEventsByTask(ctx, "task-a", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Sequence)
}

func TestResultStorageRankedOrder(t *testing.T) {
	db := newTestDB(t)
	store := NewResultStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := models.NewResult("task-a", "NVDA")
	first.FusionScore = 8.5
	first.RankInTask = 1
	second := models.NewResult("task-a", "AMD")
	second.FusionScore = 7.1
	second.RankInTask = 2
	unranked := models.NewResult("task-a", "INTC")
	require.NoError(t, store.SaveResults(ctx, []*models.Result{unranked, second, first}))

	results, err := store.GetResultsByTask(ctx, "task-a")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "NVDA", results[0].Symbol)
	assert.Equal(t, "AMD", results[1].Symbol)
	assert.Equal(t, "INTC", results[2].Symbol)
}

func TestResultStorageDeleteByTask(t *testing.T) {
	db := newTestDB(t)
	store := NewResultStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, store.SaveResult(ctx, models.NewResult("task-a", "AAPL")))
	require.NoError(t, store.SaveResult(ctx, models.NewResult("task-b", "MSFT")))

	require.NoError(t, store.DeleteResultsByTask(ctx, "task-a"))

	gone, err := store.GetResultsByTask(ctx, "task-a")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := store.GetResultsByTask(ctx, "task-b")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestScheduleStorageCRUD(t *testing.T) {
	db := newTestDB(t)
	store := NewScheduleStorage(db, arbor.NewLogger())
	ctx := context.Background()

	enabled := models.NewTaskSchedule("daily tech scan", "0 9 * * 1-5", models.TaskKindKeywordScreen, models.TaskParams{Keyword: "technology"})
	disabled := models.NewTaskSchedule("weekly full scan", "0 7 * * 1", models.TaskKindMarketWide, models.TaskParams{})
	disabled.Enabled = false
	require.NoError(t, store.SaveSchedule(ctx, enabled))
	require.NoError(t, store.SaveSchedule(ctx, disabled))

	loaded, err := store.GetSchedule(ctx, enabled.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * 1-5", loaded.CronExpr)
	assert.Equal(t, models.TaskKindKeywordScreen, loaded.Kind)

	all, err := store.ListSchedules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.ListSchedules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, enabled.ID, active[0].ID)

	require.NoError(t, store.DeleteSchedule(ctx, enabled.ID))
	_, err = store.GetSchedule(ctx, enabled.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
