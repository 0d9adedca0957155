// -----------------------------------------------------------------------
// Recommendation Result - one analyzed symbol's scores and ranking
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// Action is the trade recommendation derived from the fusion score.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionHold Action = "hold"
	ActionSell Action = "sell"
)

// Result is the outcome of analyzing one symbol within a task. Created once
// per successfully analyzed symbol; rank and recommendation flags are
// assigned at task finalization.
type Result struct {
	ID     string `json:"id" badgerhold:"key"`
	TaskID string `json:"task_id" badgerhold:"index"`

	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`

	TechnicalScore float64  `json:"technical_score"`
	AIConfidence   *float64 `json:"ai_confidence,omitempty"`
	FusionScore    float64  `json:"fusion_score"`
	Action         Action   `json:"action"`

	AIAnalysis string   `json:"ai_analysis,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	KeyFactors []string `json:"key_factors,omitempty"`

	RankInTask    int  `json:"rank_in_task"`
	IsRecommended bool `json:"is_recommended"`

	// Degraded marks a result produced from the technical score alone after
	// AI unavailability.
	Degraded bool `json:"degraded,omitempty"`

	CurrentPrice float64   `json:"current_price,omitempty"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// NewResult creates a result row for a symbol within a task.
func NewResult(taskID, symbol string) *Result {
	return &Result{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		Symbol:     symbol,
		AnalyzedAt: time.Now(),
	}
}
