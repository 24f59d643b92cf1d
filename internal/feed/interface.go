// Package feed provides clients for the candle object store that holds the
// per-day option and spot price blobs consumed by the backtest engine.
package feed

import (
	"context"

	"github.com/chokli/nifty-backtest/internal/models"
)

// Provider supplies one trading day's candle data.
//
// Implementations must be safe for concurrent use - the batch runner fetches
// several days at once from worker goroutines. The engine itself never talks
// to a Provider; data is fetched up front and handed over as plain slices.
type Provider interface {
	// OptionChain returns every option candle recorded for the date,
	// flattened to one row per strike+right+minute.
	OptionChain(ctx context.Context, date string) ([]models.OptionRecord, error)

	// SpotSeries returns the underlying index's per-minute OHLC series
	// for the date.
	SpotSeries(ctx context.Context, date string) ([]models.Candle, error)
}
