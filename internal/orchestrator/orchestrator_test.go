package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

// ----- in-memory fakes -----

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*models.Task)}
}

func (m *memTaskStore) SaveTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *task
	m.tasks[task.ID] = &clone
	return nil
}

func (m *memTaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", models.ErrNotFound, id)
	}
	clone := *task
	return &clone, nil
}

func (m *memTaskStore) ListTasks(ctx context.Context, filter interfaces.TaskFilter, page interfaces.Pagination) ([]*models.Task, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, task := range m.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		clone := *task
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *memTaskStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTaskStore) GetTaskStats(ctx context.Context) (*interfaces.TaskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &interfaces.TaskStats{}
	for _, task := range m.tasks {
		stats.Total++
		switch task.Status {
		case models.TaskStatusPending:
			stats.Pending++
		case models.TaskStatusRunning:
			stats.Running++
		case models.TaskStatusCompleted:
			stats.Completed++
		case models.TaskStatusFailed:
			stats.Failed++
		case models.TaskStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (m *memTaskStore) CountByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	stats, _ := m.GetTaskStats(ctx)
	switch status {
	case models.TaskStatusRunning:
		return stats.Running, nil
	case models.TaskStatusPending:
		return stats.Pending, nil
	}
	return 0, nil
}

type memResultStore struct {
	mu      sync.Mutex
	results map[string][]*models.Result
}

func newMemResultStore() *memResultStore {
	return &memResultStore{results: make(map[string][]*models.Result)}
}

func (m *memResultStore) SaveResult(ctx context.Context, result *models.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.results[result.TaskID] {
		if existing.ID == result.ID {
			m.results[result.TaskID][i] = result
			return nil
		}
	}
	m.results[result.TaskID] = append(m.results[result.TaskID], result)
	return nil
}

func (m *memResultStore) SaveResults(ctx context.Context, results []*models.Result) error {
	for _, r := range results {
		if err := m.SaveResult(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memResultStore) GetResultsByTask(ctx context.Context, taskID string) ([]*models.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Result, len(m.results[taskID]))
	copy(out, m.results[taskID])
	return out, nil
}

func (m *memResultStore) DeleteResultsByTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, taskID)
	return nil
}

type memProgressStore struct {
	mu     sync.Mutex
	events map[string][]*models.ProgressEvent
	seq    map[string]uint64
}

func newMemProgressStore() *memProgressStore {
	return &memProgressStore{
		events: make(map[string][]*models.ProgressEvent),
		seq:    make(map[string]uint64),
	}
}

func (m *memProgressStore) AppendEvent(ctx context.Context, event *models.ProgressEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[event.TaskID]++
	event.Sequence = m.seq[event.TaskID]
	m.events[event.TaskID] = append(m.events[event.TaskID], event)
	return nil
}

func (m *memProgressStore) GetEventsByTask(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.events[taskID]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*models.ProgressEvent, len(events))
	copy(out, events)
	return out, nil
}

func (m *memProgressStore) DeleteEventsByTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, taskID)
	delete(m.seq, taskID)
	return nil
}

func (m *memProgressStore) CountEventsByTask(ctx context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[taskID]), nil
}

// memBroadcaster persists through the progress store without live fan-out.
type memBroadcaster struct {
	store *memProgressStore
}

func (b *memBroadcaster) Publish(ctx context.Context, event *models.ProgressEvent) error {
	return b.store.AppendEvent(ctx, event)
}
func (b *memBroadcaster) Subscribe(taskID string) (string, <-chan *models.ProgressEvent) {
	return "", nil
}
func (b *memBroadcaster) Unsubscribe(taskID, subID string) {}
func (b *memBroadcaster) Replay(ctx context.Context, taskID string, limit int) ([]*models.ProgressEvent, error) {
	return b.store.GetEventsByTask(ctx, taskID, limit)
}
func (b *memBroadcaster) Close() error { return nil }

type fakeScreener struct {
	symbols []string
	err     error
	gotCap  int
}

func (f *fakeScreener) Screen(ctx context.Context, criteria interfaces.ScreenCriteria, maxCandidates int) ([]string, error) {
	f.gotCap = maxCandidates
	if f.err != nil {
		return nil, f.err
	}
	symbols := f.symbols
	if len(symbols) > maxCandidates {
		symbols = symbols[:maxCandidates]
	}
	return symbols, nil
}

// fakeAnalyzer persists a Result per successful symbol and announces the
// symbol on the event stream, like the real worker.
type fakeAnalyzer struct {
	results     *memResultStore
	broadcaster interfaces.ProgressBroadcaster
	failFor     map[string]error
	scoreFor    map[string]float64
	delay       time.Duration
	gate        chan struct{}
	mu          sync.Mutex
	symbols     []string
	analyzing   chan string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, task *models.Task, symbol string) (*models.Result, error) {
	if f.broadcaster != nil {
		event := models.NewProgressEvent(task.ID, models.EventCurrentSymbol)
		event.Symbol = symbol
		_ = f.broadcaster.Publish(ctx, event)
	}
	if f.analyzing != nil {
		f.analyzing <- symbol
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.symbols = append(f.symbols, symbol)
	f.mu.Unlock()

	if err, ok := f.failFor[symbol]; ok {
		return nil, err
	}

	result := models.NewResult(task.ID, symbol)
	result.TechnicalScore = f.scoreFor[symbol]
	result.FusionScore = f.scoreFor[symbol]
	result.Action = models.ActionHold
	if err := f.results.SaveResult(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ----- harness -----

type harness struct {
	orch     *Orchestrator
	tasks    *memTaskStore
	results  *memResultStore
	progress *memProgressStore
	screener *fakeScreener
	analyzer *fakeAnalyzer
}

func newHarness(t *testing.T, config *common.OrchestratorConfig) *harness {
	t.Helper()
	tasks := newMemTaskStore()
	results := newMemResultStore()
	progress := newMemProgressStore()
	screener := &fakeScreener{}
	broadcaster := &memBroadcaster{store: progress}
	analyzer := &fakeAnalyzer{results: results, broadcaster: broadcaster, scoreFor: map[string]float64{}}
	orch := NewOrchestrator(config, tasks, results, progress,
		broadcaster, screener, analyzer, arbor.NewLogger())
	return &harness{orch: orch, tasks: tasks, results: results, progress: progress, screener: screener, analyzer: analyzer}
}

func (h *harness) waitTerminal(t *testing.T, taskID string) *models.Task {
	t.Helper()
	var task *models.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = h.orch.GetStatus(context.Background(), taskID)
		return err == nil && task.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

// ----- tests -----

func TestCreateValidatesParamsPerKind(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols, models.TaskParams{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidParams))

	_, err = h.orch.Create(ctx, models.TaskKindKeywordScreen, models.TaskParams{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidParams))

	_, err = h.orch.Create(ctx, models.TaskKind("bogus"), models.TaskParams{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidParams))

	task, err := h.orch.Create(ctx, models.TaskKindMarketWide, models.TaskParams{}, 0)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, models.DefaultMaxCandidates, task.Params.MaxCandidates)
}

func TestExplicitTaskPartialFailureCompletes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.analyzer.failFor = map[string]error{"A": models.ErrDataUnavailable}
	h.analyzer.scoreFor = map[string]float64{"B": 6.0}

	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A", "B"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	final := h.waitTerminal(t, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 1, final.FailureCount)
	assert.Equal(t, 1, final.SuccessCount)
	assert.Equal(t, 2, final.CompletedSymbols)
	assert.Equal(t, 100.0, final.ProgressPercent)

	results, err := h.orch.GetResults(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "B", results[0].Symbol)
	assert.Equal(t, 6.0, results[0].FusionScore)
	assert.Equal(t, 1, results[0].RankInTask)
	assert.True(t, results[0].IsRecommended)
}

func TestKeywordTaskProgressIsMonotoneAndReaches100(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{PoolSize: 3})
	ctx := context.Background()

	symbols := make([]string, 20)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%02d", i)
		h.analyzer.scoreFor[symbols[i]] = float64(i % 10)
	}
	h.screener.symbols = symbols

	task, err := h.orch.Create(ctx, models.TaskKindKeywordScreen,
		models.TaskParams{Keyword: "technology", MaxCandidates: 5}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	final := h.waitTerminal(t, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 20, final.TotalSymbols)
	assert.Equal(t, 20, final.CompletedSymbols)
	assert.Equal(t, 100.0, final.ProgressPercent)

	// Screen cap is max(maxCandidates*3, 20)
	assert.Equal(t, 20, h.screener.gotCap)

	// The durable event log must show monotone non-decreasing percent
	events, err := h.progress.GetEventsByTask(ctx, task.ID, 0)
	require.NoError(t, err)
	last := -1.0
	sawCompleted := false
	for _, e := range events {
		if e.Type == models.EventProgress || e.Type == models.EventTaskCompleted {
			assert.GreaterOrEqual(t, e.Percent, last, "percent regressed at seq %d", e.Sequence)
			last = e.Percent
		}
		if e.Type == models.EventTaskCompleted {
			sawCompleted = true
			assert.Equal(t, 100.0, e.Percent)
		}
	}
	assert.True(t, sawCompleted)
	assert.Equal(t, 100.0, last)
}

func TestRankingOrderAndTopK(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.analyzer.scoreFor = map[string]float64{"A": 5.0, "B": 9.0, "C": 7.0, "D": 9.0}

	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A", "B", "C", "D"}, MaxCandidates: 2}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))
	h.waitTerminal(t, task.ID)

	results, err := h.orch.GetResults(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, results, 4)

	sort.Slice(results, func(i, j int) bool { return results[i].RankInTask < results[j].RankInTask })

	// B and D tie on fusion and technical; symbol ascending breaks the tie
	assert.Equal(t, []string{"B", "D", "C", "A"}, []string{
		results[0].Symbol, results[1].Symbol, results[2].Symbol, results[3].Symbol,
	})
	assert.True(t, results[0].IsRecommended)
	assert.True(t, results[1].IsRecommended)
	assert.False(t, results[2].IsRecommended)
	assert.False(t, results[3].IsRecommended)
}

func TestStartRejectsNonPending(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.analyzer.scoreFor = map[string]float64{"A": 5.0}
	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))
	h.waitTerminal(t, task.ID)

	err = h.orch.Start(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	err = h.orch.Start(ctx, "no-such-task")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCancelPendingTask(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)

	require.NoError(t, h.orch.Cancel(ctx, task.ID))

	final, err := h.orch.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, final.Status)

	// Terminal tasks reject further cancellation
	err = h.orch.Cancel(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}

func TestCancelRunningTaskIsCooperative(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{PoolSize: 1})
	ctx := context.Background()

	h.analyzer.delay = 200 * time.Millisecond
	h.analyzer.analyzing = make(chan string, 10)
	for i := 0; i < 10; i++ {
		h.analyzer.scoreFor[fmt.Sprintf("S%d", i)] = 5.0
	}

	symbols := make([]string, 10)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%d", i)
	}
	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: symbols}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	// Wait for the first symbol to start, then cancel
	<-h.analyzer.analyzing
	require.NoError(t, h.orch.Cancel(ctx, task.ID))
	baseline, err := h.progress.CountEventsByTask(ctx, task.ID)
	require.NoError(t, err)

	final := h.waitTerminal(t, task.ID)
	assert.Equal(t, models.TaskStatusCancelled, final.Status)
	assert.Less(t, final.CompletedSymbols, 10)

	// No symbol may be dispatched after Cancel has returned
	events, err := h.progress.GetEventsByTask(ctx, task.ID, 0)
	require.NoError(t, err)
	for _, e := range events[baseline:] {
		assert.NotEqual(t, models.EventCurrentSymbol, e.Type,
			"symbol %s dispatched after cancellation", e.Symbol)
	}
}

func TestCancelQueuedTaskFinalizesCancelled(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{MaxRunningTasks: 1, PoolSize: 1})
	ctx := context.Background()

	h.analyzer.gate = make(chan struct{})
	h.analyzer.analyzing = make(chan string, 10)
	h.analyzer.scoreFor = map[string]float64{"A": 5.0, "B": 5.0}

	blocker, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, blocker.ID))
	<-h.analyzer.analyzing

	queued, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"B"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, queued.ID))
	require.Eventually(t, func() bool { return h.orch.admit.waiting() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.orch.Cancel(ctx, queued.ID))

	final := h.waitTerminal(t, queued.ID)
	assert.Equal(t, models.TaskStatusCancelled, final.Status)

	events, err := h.progress.GetEventsByTask(ctx, queued.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventError, events[len(events)-1].Type)
	assert.Equal(t, "task cancelled", events[len(events)-1].Message)

	close(h.analyzer.gate)
	blockerFinal := h.waitTerminal(t, blocker.ID)
	assert.Equal(t, models.TaskStatusCompleted, blockerFinal.Status)
}

func TestQueuedTaskDeadlineFailsTask(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{
		MaxRunningTasks: 1, PoolSize: 1, TaskDeadline: "100ms",
	})
	ctx := context.Background()

	h.analyzer.gate = make(chan struct{})
	h.analyzer.analyzing = make(chan string, 10)
	h.analyzer.scoreFor = map[string]float64{"A": 5.0, "B": 5.0}

	blocker, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, blocker.ID))
	<-h.analyzer.analyzing

	queued, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"B"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, queued.ID))

	// The queued task's deadline expires while it waits for a slot
	final := h.waitTerminal(t, queued.ID)
	assert.Equal(t, models.TaskStatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "deadline exceeded while queued")

	close(h.analyzer.gate)
	h.waitTerminal(t, blocker.ID)
}

func TestQueuedTasksAdmitInPriorityOrder(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{MaxRunningTasks: 1, PoolSize: 1})
	ctx := context.Background()

	h.analyzer.gate = make(chan struct{})
	h.analyzer.analyzing = make(chan string, 10)
	h.analyzer.scoreFor = map[string]float64{"A": 5.0, "B": 5.0, "C": 5.0}

	blocker, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, blocker.ID))
	require.Equal(t, "A", <-h.analyzer.analyzing)

	low, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"B"}}, 1)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, low.ID))
	require.Eventually(t, func() bool { return h.orch.admit.waiting() == 1 },
		2*time.Second, 10*time.Millisecond)

	high, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"C"}}, 9)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, high.ID))
	require.Eventually(t, func() bool { return h.orch.admit.waiting() == 2 },
		2*time.Second, 10*time.Millisecond)

	// Free the slot; the high-priority task must run before the earlier
	// low-priority one.
	close(h.analyzer.gate)
	assert.Equal(t, "C", <-h.analyzer.analyzing)
	assert.Equal(t, "B", <-h.analyzer.analyzing)

	for _, id := range []string{blocker.ID, low.ID, high.ID} {
		final := h.waitTerminal(t, id)
		assert.Equal(t, models.TaskStatusCompleted, final.Status)
	}
}

func TestRetryOnlyFromFailedOrCancelled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)

	// Pending task cannot retry
	err = h.orch.Retry(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))

	require.NoError(t, h.orch.Cancel(ctx, task.ID))
	require.NoError(t, h.orch.Retry(ctx, task.ID))

	after, err := h.orch.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, after.Status)
	assert.Equal(t, 1, after.RetryCount)
	assert.Zero(t, after.CompletedSymbols)
	assert.Empty(t, after.ErrorMessage)
}

func TestRetryAfterFailureResetsState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.screener.err = errors.New("universe service down")

	task, err := h.orch.Create(ctx, models.TaskKindMarketWide, models.TaskParams{}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	final := h.waitTerminal(t, task.ID)
	require.Equal(t, models.TaskStatusFailed, final.Status)
	assert.NotEmpty(t, final.ErrorMessage)

	require.NoError(t, h.orch.Retry(ctx, task.ID))

	after, err := h.orch.GetStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, after.Status)
	assert.Empty(t, after.ErrorMessage)

	count, err := h.progress.CountEventsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count, "retry must clear the previous progress log")

	results, err := h.results.GetResultsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMarketWideUsesMarketCap(t *testing.T) {
	h := newHarness(t, &common.OrchestratorConfig{MarketCap: 7})
	ctx := context.Background()

	symbols := make([]string, 30)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("M%02d", i)
		h.analyzer.scoreFor[symbols[i]] = 5.0
	}
	h.screener.symbols = symbols

	task, err := h.orch.Create(ctx, models.TaskKindMarketWide, models.TaskParams{}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	final := h.waitTerminal(t, task.ID)
	assert.Equal(t, models.TaskStatusCompleted, final.Status)
	assert.Equal(t, 7, h.screener.gotCap)
	assert.Equal(t, 7, final.TotalSymbols)
}

func TestListTasksIncludesStats(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
			models.TaskParams{Symbols: []string{"A"}}, 0)
		require.NoError(t, err)
	}

	page, err := h.orch.ListTasks(ctx, interfaces.TaskFilter{}, interfaces.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Tasks, 3)
	require.NotNil(t, page.Stats)
	assert.Equal(t, 3, page.Stats.Pending)
}

func TestShutdownWaitsForRunningTasks(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.analyzer.delay = 20 * time.Millisecond
	h.analyzer.scoreFor = map[string]float64{"A": 5.0}

	task, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"A"}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.orch.Start(ctx, task.ID))

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(shutdownCtx))

	// After shutdown, new starts are rejected
	task2, err := h.orch.Create(ctx, models.TaskKindExplicitSymbols,
		models.TaskParams{Symbols: []string{"B"}}, 0)
	require.NoError(t, err)
	err = h.orch.Start(ctx, task2.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidState))
}
