package interfaces

import (
	"context"

	"github.com/ternarybob/auspex/internal/models"
)

// MarketDataService fetches price history for a symbol. A fetch failure is
// reported as models.ErrDataUnavailable (possibly wrapped).
type MarketDataService interface {
	FetchSeries(ctx context.Context, symbol, period string) (*models.TimeSeries, error)
}

// TechnicalScorer computes a 0-10 technical score from a price series.
// Failures are reported as models.ErrScoringError (possibly wrapped).
type TechnicalScorer interface {
	Score(ctx context.Context, symbol string, series *models.TimeSeries) (float64, error)
}

// ScreenCriteria drives candidate selection for screening phases.
type ScreenCriteria struct {
	// Keyword narrows the universe by sector/theme keyword. Empty means
	// market-wide.
	Keyword string
}

// ScreenerService narrows the symbol universe to a bounded candidate list.
type ScreenerService interface {
	Screen(ctx context.Context, criteria ScreenCriteria, maxCandidates int) ([]string, error)
}
