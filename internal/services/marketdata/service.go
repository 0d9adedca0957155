package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
)

const (
	// DefaultExchange is the exchange suffix appended to bare symbols.
	DefaultExchange = "US"

	// DefaultPeriod is the history window used when the caller omits one.
	DefaultPeriod = "6m"

	// minBars is the shortest series worth scoring.
	minBars = 20
)

// Service fetches price history. With an API key it queries EODHD; without
// one it serves deterministic generated series so the pipeline runs offline.
type Service struct {
	config    *common.MarketDataConfig
	client    *Client
	generator *Generator
	logger    arbor.ILogger
}

var _ interfaces.MarketDataService = (*Service)(nil)

// NewService creates a market data service from configuration.
func NewService(config *common.MarketDataConfig, logger arbor.ILogger) *Service {
	s := &Service{
		config: config,
		logger: logger,
	}

	if config.APIKey != "" {
		opts := []ClientOption{WithLogger(logger)}
		if config.BaseURL != "" {
			opts = append(opts, WithBaseURL(config.BaseURL))
		}
		if config.RateLimit > 0 {
			opts = append(opts, WithRateLimit(config.RateLimit))
		}
		if timeout, err := time.ParseDuration(config.Timeout); err == nil && timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: timeout}))
		}
		s.client = NewClient(config.APIKey, opts...)
	} else {
		s.generator = NewGenerator()
		logger.Info().Msg("No market data API key configured, using generated price series")
	}

	return s
}

// FetchSeries retrieves the price history for a symbol over the given period
// (e.g. "1m", "3m", "6m", "1y"). Failures are wrapped in
// models.ErrDataUnavailable.
func (s *Service) FetchSeries(ctx context.Context, symbol, period string) (*models.TimeSeries, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", models.ErrDataUnavailable)
	}
	if period == "" {
		period = s.defaultPeriod()
	}

	days, err := periodDays(period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDataUnavailable, err)
	}

	if s.client == nil {
		return s.generator.Series(symbol, days), nil
	}

	from := time.Now().AddDate(0, 0, -days)
	eod, err := s.client.GetEOD(ctx, s.qualify(symbol), from, time.Time{})
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Err(err).
			Msg("Price history fetch failed")
		return nil, fmt.Errorf("%w: fetch %s: %v", models.ErrDataUnavailable, symbol, err)
	}

	if len(eod) < minBars {
		return nil, fmt.Errorf("%w: %s returned %d bars, need %d", models.ErrDataUnavailable, symbol, len(eod), minBars)
	}

	series := &models.TimeSeries{
		Symbol: symbol,
		Points: make([]models.Candle, 0, len(eod)),
	}
	for _, bar := range eod {
		series.Points = append(series.Points, models.Candle{
			Date:   bar.Date,
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: bar.Volume,
		})
	}

	return series, nil
}

func (s *Service) defaultPeriod() string {
	if s.config != nil && s.config.DefaultPeriod != "" {
		return s.config.DefaultPeriod
	}
	return DefaultPeriod
}

// qualify appends the configured exchange suffix to bare symbols.
func (s *Service) qualify(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	exchange := DefaultExchange
	if s.config != nil && s.config.Exchange != "" {
		exchange = s.config.Exchange
	}
	return symbol + "." + exchange
}

// periodDays converts a period string like "3m" or "1y" to calendar days.
func periodDays(period string) (int, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if len(period) < 2 {
		return 0, fmt.Errorf("invalid period %q", period)
	}

	var value int
	if _, err := fmt.Sscanf(period[:len(period)-1], "%d", &value); err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid period %q", period)
	}

	switch period[len(period)-1] {
	case 'd':
		return value, nil
	case 'w':
		return value * 7, nil
	case 'm':
		return value * 30, nil
	case 'y':
		return value * 365, nil
	default:
		return 0, fmt.Errorf("invalid period %q", period)
	}
}
