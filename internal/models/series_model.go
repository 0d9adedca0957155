package models

import "time"

// Candle is one OHLCV bar in a symbol's time series.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// TimeSeries is the price history fetched for one symbol, oldest first.
type TimeSeries struct {
	Symbol string   `json:"symbol"`
	Points []Candle `json:"points"`
}

// Len returns the number of bars in the series.
func (s *TimeSeries) Len() int {
	return len(s.Points)
}

// LastClose returns the most recent closing price, or 0 for an empty series.
func (s *TimeSeries) LastClose() float64 {
	if len(s.Points) == 0 {
		return 0
	}
	return s.Points[len(s.Points)-1].Close
}

// Closes returns all closing prices oldest first.
func (s *TimeSeries) Closes() []float64 {
	closes := make([]float64, len(s.Points))
	for i, p := range s.Points {
		closes[i] = p.Close
	}
	return closes
}
