// -----------------------------------------------------------------------
// Fusion Scorer - combines technical score and AI confidence into one
// ranking score on the 0-10 scale
// -----------------------------------------------------------------------

package scoring

import (
	"math"

	"github.com/ternarybob/auspex/internal/models"
)

// DefaultAlpha is the technical weight used when no override is configured.
const DefaultAlpha = 0.4

// Fuse combines a technical score and an optional AI confidence value.
// Both inputs are on the 0-10 scale. Rules:
//   - technical absent: result absent, nothing to rank on
//   - ai absent: result is the technical score alone, rounded to 2 places
//   - both present: alpha*technical + (1-alpha)*ai, clamped to [0,10],
//     rounded to 2 places
func Fuse(technical, ai *float64, alpha float64) *float64 {
	if technical == nil {
		return nil
	}

	if ai == nil {
		v := round2(clamp(*technical))
		return &v
	}

	v := round2(clamp(alpha**technical + (1-alpha)**ai))
	return &v
}

// ActionFor maps a fusion score to a trade action using the configured
// thresholds (defaults: buy 7.0, hold 4.0).
func ActionFor(fusion, buyThreshold, holdThreshold float64) models.Action {
	switch {
	case fusion >= buyThreshold:
		return models.ActionBuy
	case fusion >= holdThreshold:
		return models.ActionHold
	default:
		return models.ActionSell
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
