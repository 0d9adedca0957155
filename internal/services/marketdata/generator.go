package marketdata

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/auspex/internal/models"
)

// Generator produces deterministic price series seeded by symbol, so runs
// without an API key are repeatable across restarts and in tests.
type Generator struct{}

// NewGenerator creates a price series generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Series builds a daily random-walk series of roughly days/7*5 trading bars.
// The same symbol always yields the same series for a given length.
func (g *Generator) Series(symbol string, days int) *models.TimeSeries {
	if days < minBars {
		days = minBars
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	// Base price and drift derive from the seed so symbols differ in
	// both level and trend.
	price := 20.0 + rng.Float64()*180.0
	drift := (rng.Float64() - 0.45) * 0.004
	volatility := 0.008 + rng.Float64()*0.02

	bars := days * 5 / 7
	if bars < minBars {
		bars = minBars
	}

	series := &models.TimeSeries{
		Symbol: symbol,
		Points: make([]models.Candle, 0, bars),
	}

	date := time.Now().AddDate(0, 0, -days)
	for i := 0; i < bars; i++ {
		date = nextTradingDay(date)

		change := drift + rng.NormFloat64()*volatility
		open := price
		price = price * (1 + change)
		if price < 1 {
			price = 1
		}

		high := math.Max(open, price) * (1 + rng.Float64()*0.01)
		low := math.Min(open, price) * (1 - rng.Float64()*0.01)
		volume := int64(500_000 + rng.Intn(5_000_000))

		series.Points = append(series.Points, models.Candle{
			Date:   date,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(price),
			Volume: volume,
		})
	}

	return series
}

func nextTradingDay(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
