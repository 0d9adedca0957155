package technical

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/models"
)

func seriesFromCloses(symbol string, closes []float64) *models.TimeSeries {
	series := &models.TimeSeries{Symbol: symbol}
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, c := range closes {
		series.Points = append(series.Points, models.Candle{
			Date:   date,
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1_000_000,
		})
		date = date.AddDate(0, 0, 1)
	}
	return series
}

func TestScoreRejectsShortSeries(t *testing.T) {
	scorer := NewScorer(arbor.NewLogger())

	_, err := scorer.Score(context.Background(), "AAPL", seriesFromCloses("AAPL", []float64{100, 101, 102}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrScoringError))

	_, err = scorer.Score(context.Background(), "AAPL", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrScoringError))
}

func TestScoreUptrendBeatsDowntrend(t *testing.T) {
	scorer := NewScorer(arbor.NewLogger())

	up := make([]float64, 60)
	down := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
		down[i] = 160 - float64(i)
	}

	upScore, err := scorer.Score(context.Background(), "UP", seriesFromCloses("UP", up))
	require.NoError(t, err)
	downScore, err := scorer.Score(context.Background(), "DOWN", seriesFromCloses("DOWN", down))
	require.NoError(t, err)

	assert.Greater(t, upScore, downScore)
	assert.GreaterOrEqual(t, upScore, 0.0)
	assert.LessOrEqual(t, upScore, 10.0)
	assert.GreaterOrEqual(t, downScore, 0.0)
	assert.LessOrEqual(t, downScore, 10.0)
}

func TestScoreFlatSeriesIsMidRange(t *testing.T) {
	scorer := NewScorer(arbor.NewLogger())

	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 100
	}

	score, err := scorer.Score(context.Background(), "FLAT", seriesFromCloses("FLAT", flat))
	require.NoError(t, err)
	assert.InDelta(t, 6.0, score, 2.0)
}

func TestScoreHonorsContextCancellation(t *testing.T) {
	scorer := NewScorer(arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}

	_, err := scorer.Score(ctx, "AAPL", seriesFromCloses("AAPL", closes))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrScoringError))
}
