// Package technical computes a 0-10 score for a symbol from its price
// history, combining trend, momentum, volatility and volume components.
package technical

import (
	"context"
	"fmt"
	"math"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

const (
	// MinBars is the shortest series the scorer accepts.
	MinBars = 20

	shortWindow = 20
	longWindow  = 50

	trendWeight      = 0.35
	momentumWeight   = 0.30
	volatilityWeight = 0.20
	volumeWeight     = 0.15
)

// Scorer scores price series on a 0-10 scale.
type Scorer struct {
	logger arbor.ILogger
}

var _ interfaces.TechnicalScorer = (*Scorer)(nil)

// NewScorer creates a technical scorer.
func NewScorer(logger arbor.ILogger) *Scorer {
	return &Scorer{logger: logger}
}

// Score computes the weighted technical score for a series. Failures are
// wrapped in models.ErrScoringError.
func (s *Scorer) Score(ctx context.Context, symbol string, series *models.TimeSeries) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrScoringError, err)
	}
	if series == nil || series.Len() < MinBars {
		n := 0
		if series != nil {
			n = series.Len()
		}
		return 0, fmt.Errorf("%w: %s has %d bars, need %d", models.ErrScoringError, symbol, n, MinBars)
	}

	closes := series.Closes()

	trend := trendScore(closes)
	momentum := momentumScore(closes)
	volatility := volatilityScore(closes)
	volume := volumeScore(series.Points)

	score := trend*trendWeight +
		momentum*momentumWeight +
		volatility*volatilityWeight +
		volume*volumeWeight
	score = clamp(score)

	if s.logger != nil {
		s.logger.Debug().
			Str("symbol", symbol).
			Float64("trend", trend).
			Float64("momentum", momentum).
			Float64("volatility", volatility).
			Float64("volume", volume).
			Float64("score", score).
			Msg("Technical score computed")
	}

	return score, nil
}

// trendScore compares the last close against short and long moving averages.
// Price above both averages scores high, below both scores low.
func trendScore(closes []float64) float64 {
	last := closes[len(closes)-1]
	short := sma(closes, shortWindow)
	long := sma(closes, longWindow)

	score := 5.0
	if short > 0 {
		score += scaled((last-short)/short, 0.10) * 2.5
	}
	if long > 0 {
		score += scaled((last-long)/long, 0.20) * 2.5
	}
	return clamp(score)
}

// momentumScore measures the return over the last short window.
func momentumScore(closes []float64) float64 {
	window := shortWindow
	if window >= len(closes) {
		window = len(closes) - 1
	}
	base := closes[len(closes)-1-window]
	if base <= 0 {
		return 5.0
	}
	ret := (closes[len(closes)-1] - base) / base
	return clamp(5.0 + scaled(ret, 0.15)*5.0)
}

// volatilityScore rewards low daily-return deviation. Annualized-equivalent
// daily stdev of 1% maps near the middle of the scale.
func volatilityScore(closes []float64) float64 {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	if len(returns) == 0 {
		return 5.0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdev := math.Sqrt(variance / float64(len(returns)))

	return clamp(10.0 - stdev/0.04*10.0)
}

// volumeScore compares recent volume against the series average. Rising
// volume supports the trend reading.
func volumeScore(points []models.Candle) float64 {
	total := 0.0
	for _, p := range points {
		total += float64(p.Volume)
	}
	avg := total / float64(len(points))
	if avg <= 0 {
		return 5.0
	}

	recentWindow := 5
	if recentWindow > len(points) {
		recentWindow = len(points)
	}
	recent := 0.0
	for _, p := range points[len(points)-recentWindow:] {
		recent += float64(p.Volume)
	}
	recent /= float64(recentWindow)

	return clamp(5.0 + scaled(recent/avg-1.0, 1.0)*5.0)
}

// sma averages the last window closes, shrinking the window for short series.
func sma(closes []float64, window int) float64 {
	if window > len(closes) {
		window = len(closes)
	}
	sum := 0.0
	for _, c := range closes[len(closes)-window:] {
		sum += c
	}
	return sum / float64(window)
}

// scaled maps v into [-1, 1] where full indicates a magnitude of at least limit.
func scaled(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, v/limit))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}
