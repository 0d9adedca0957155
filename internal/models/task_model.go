// -----------------------------------------------------------------------
// Recommendation Task - lifecycle and progress state for one analysis run
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind identifies how a task's symbol set is determined.
type TaskKind string

const (
	TaskKindExplicitSymbols TaskKind = "explicit-symbols" // Caller supplies the exact symbol list
	TaskKindKeywordScreen   TaskKind = "keyword-screen"   // Screening phase narrows a keyword to candidates
	TaskKindMarketWide      TaskKind = "market-wide"      // Screening phase scans the whole universe
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskPhase is the named stage a running task is in.
type TaskPhase string

const (
	TaskPhaseScreen  TaskPhase = "screen"
	TaskPhaseAnalyze TaskPhase = "analyze"
)

// TaskParams is the validated request payload for a task. Which fields are
// required depends on the task kind: explicit-symbols requires Symbols,
// keyword-screen requires Keyword, market-wide requires neither.
type TaskParams struct {
	Symbols       []string `json:"symbols,omitempty" validate:"omitempty,min=1,dive,required"`
	Keyword       string   `json:"keyword,omitempty"`
	MaxCandidates int      `json:"max_candidates" validate:"omitempty,gte=1,lte=100"`
	Alpha         float64  `json:"alpha" validate:"omitempty,gte=0,lte=1"`
	Provider      string   `json:"provider,omitempty" validate:"omitempty,oneof=claude gemini"`
	Model         string   `json:"model,omitempty"`
	Period        string   `json:"period,omitempty"`
}

// Task represents one user-initiated recommendation run. Mutation goes
// through the orchestrator's transition methods only.
type Task struct {
	ID       string     `json:"id" badgerhold:"key"`
	Kind     TaskKind   `json:"kind" badgerhold:"index"`
	Status   TaskStatus `json:"status" badgerhold:"index"`
	Priority int        `json:"priority"`
	Params   TaskParams `json:"params"`

	// Progress counters, owned by the orchestrator
	TotalSymbols     int       `json:"total_symbols"`
	CompletedSymbols int       `json:"completed_symbols"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	CurrentSymbol    string    `json:"current_symbol,omitempty"`
	CurrentPhase     TaskPhase `json:"current_phase,omitempty"`
	ProgressPercent  float64   `json:"progress_percent"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`

	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	CreatedAt   time.Time  `json:"created_at" badgerhold:"index"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a task in pending state with defaults applied.
func NewTask(kind TaskKind, params TaskParams, priority int) *Task {
	if params.MaxCandidates == 0 {
		params.MaxCandidates = DefaultMaxCandidates
	}
	if params.Alpha == 0 {
		params.Alpha = DefaultFusionAlpha
	}
	if priority == 0 {
		priority = DefaultTaskPriority
	}
	return &Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		Status:     TaskStatusPending,
		Priority:   priority,
		Params:     params,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now(),
	}
}

const (
	DefaultMaxCandidates = 5
	DefaultFusionAlpha   = 0.4
	DefaultTaskPriority  = 5
	DefaultMaxRetries    = 3
)

// IsTerminal returns true when the task can no longer progress.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// MarkStarted transitions the task to running.
func (t *Task) MarkStarted() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
	t.CompletedAt = nil
	t.ErrorMessage = ""
}

// MarkCompleted transitions the task to completed and records execution time.
func (t *Task) MarkCompleted() {
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.CompletedAt = &now
	t.ProgressPercent = 100
	t.CurrentSymbol = ""
	if t.StartedAt != nil {
		t.ExecutionSeconds = now.Sub(*t.StartedAt).Seconds()
	}
}

// MarkFailed transitions the task to failed with an error message.
func (t *Task) MarkFailed(errMsg string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = errMsg
	if t.StartedAt != nil {
		t.ExecutionSeconds = now.Sub(*t.StartedAt).Seconds()
	}
}

// MarkCancelled transitions the task to cancelled.
func (t *Task) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.CompletedAt = &now
	t.CurrentSymbol = ""
	if t.StartedAt != nil {
		t.ExecutionSeconds = now.Sub(*t.StartedAt).Seconds()
	}
}

// ResetForRetry re-enters pending on the same id, clearing counters and
// error state. Only valid from failed or cancelled, enforced by the
// orchestrator.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusPending
	t.TotalSymbols = 0
	t.CompletedSymbols = 0
	t.SuccessCount = 0
	t.FailureCount = 0
	t.CurrentSymbol = ""
	t.CurrentPhase = ""
	t.ProgressPercent = 0
	t.ErrorMessage = ""
	t.ExecutionSeconds = 0
	t.StartedAt = nil
	t.CompletedAt = nil
	t.RetryCount++
}

// UpdateProgress recomputes the analyze-phase percent from completion
// counters, mapped into the phase's sub-range. Progress never moves
// backward.
func (t *Task) UpdateProgress(phaseStart, phaseEnd float64) {
	if t.TotalSymbols == 0 {
		return
	}
	pct := phaseStart + (phaseEnd-phaseStart)*float64(t.CompletedSymbols)/float64(t.TotalSymbols)
	if pct > t.ProgressPercent {
		t.ProgressPercent = pct
	}
}
