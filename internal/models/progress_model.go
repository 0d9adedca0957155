// -----------------------------------------------------------------------
// Progress Event - append-only stream record for task observers
// -----------------------------------------------------------------------

package models

import "time"

// ProgressEventType enumerates the event kinds published on a task's stream.
type ProgressEventType string

const (
	EventTaskStarted     ProgressEventType = "started"
	EventProgress        ProgressEventType = "progress"
	EventPhaseChanged    ProgressEventType = "phase_changed"
	EventCurrentSymbol   ProgressEventType = "current_symbol"
	EventAIChunk         ProgressEventType = "ai_chunk"
	EventSymbolCompleted ProgressEventType = "symbol_completed"
	EventSymbolFailed    ProgressEventType = "symbol_failed"
	EventTaskCompleted   ProgressEventType = "completed"
	EventError           ProgressEventType = "error"
	EventHeartbeat       ProgressEventType = "heartbeat"
)

// ProgressEvent is one immutable record in a task's ordered event log.
// Sequence is assigned per task at persistence time and increases
// monotonically within that task's log.
type ProgressEvent struct {
	ID        uint64            `json:"-" badgerhold:"key"`
	TaskID    string            `json:"task_id" badgerhold:"index"`
	Sequence  uint64            `json:"sequence"`
	Timestamp time.Time         `json:"timestamp"`
	Type      ProgressEventType `json:"type"`

	Symbol  string  `json:"symbol,omitempty"`
	Phase   string  `json:"phase,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Message string  `json:"message,omitempty"`

	// AI streaming fields: Chunk is the incremental fragment, Accumulated
	// the full text so far.
	Chunk       string `json:"chunk,omitempty"`
	Accumulated string `json:"accumulated,omitempty"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// NewProgressEvent creates an event for a task with the timestamp set.
func NewProgressEvent(taskID string, eventType ProgressEventType) *ProgressEvent {
	return &ProgressEvent{
		TaskID:    taskID,
		Timestamp: time.Now(),
		Type:      eventType,
	}
}
