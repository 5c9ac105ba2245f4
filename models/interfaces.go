package models

import (
	"context"
	"time"
)

// CandleClient fetches candles of one instrument over a time range
type CandleClient interface {
	GetCandles(ctx context.Context, code string, from, to time.Time) ([]Candle, error)
}

// Notifier delivers one consolidated alert message
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
