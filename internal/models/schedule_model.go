package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskSchedule is a stored cron schedule that creates and starts a recurring
// recommendation task when it fires.
type TaskSchedule struct {
	ID       string     `json:"id" badgerhold:"key"`
	Name     string     `json:"name"`
	CronExpr string     `json:"cron_expr"`
	Kind     TaskKind   `json:"kind"`
	Params   TaskParams `json:"params"`
	Priority int        `json:"priority"`
	Enabled  bool       `json:"enabled" badgerhold:"index"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewTaskSchedule creates an enabled schedule.
func NewTaskSchedule(name, cronExpr string, kind TaskKind, params TaskParams) *TaskSchedule {
	return &TaskSchedule{
		ID:        uuid.New().String(),
		Name:      name,
		CronExpr:  cronExpr,
		Kind:      kind,
		Params:    params,
		Priority:  DefaultTaskPriority,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
}
