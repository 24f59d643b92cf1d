// Package batch drives multi-day backtests: it iterates a date range, fetches
// each day's candles, runs the single-day simulation, and concatenates the
// results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/engine"
	"github.com/chokli/nifty-backtest/internal/feed"
	"github.com/chokli/nifty-backtest/internal/models"
)

const dateLayout = "2006-01-02"

// Runner fans a date range out over independent single-day simulations.
// Days share only the immutable strategy config, so they run in parallel
// on a bounded worker pool.
type Runner struct {
	provider feed.Provider
	cfg      *config.Config
	logger   *logrus.Logger
	workers  int
}

// NewRunner creates a batch runner. workers <= 0 sizes the pool to the
// available cores.
func NewRunner(provider feed.Provider, cfg *config.Config, logger *logrus.Logger, workers int) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		workers:  workers,
	}
}

// Run executes the named strategy for every weekday in [start, end] and
// returns the concatenated trade records sorted by date and entry time.
//
// Per-day data failures (missing blobs, malformed records, store errors) are
// logged and skipped; an unknown strategy aborts the whole batch. On
// cancellation, in-flight days complete, unscheduled days are discarded, and
// the records collected so far are returned alongside the context error.
func (r *Runner) Run(ctx context.Context, strategyName string, start, end time.Time) ([]models.TradeRecord, error) {
	strategy, err := r.cfg.Strategy(strategyName)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s before start date %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}

	dates := tradingDates(start, end)
	r.logger.WithFields(logrus.Fields{
		"strategy": strategyName,
		"days":     len(dates),
		"workers":  r.workers,
	}).Info("starting batch run")

	results := make([][]models.TradeRecord, len(dates))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, date := range dates {
		i, date := i, date
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			trades, err := r.runDate(groupCtx, date, strategy)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				r.logger.WithField("date", date).Warnf("skipping date: %v", err)
				return nil
			}
			results[i] = trades
			return nil
		})
	}
	waitErr := g.Wait()

	var out []models.TradeRecord
	for _, day := range results {
		out = append(out, day...)
	}
	sortTrades(out)

	if waitErr != nil {
		return out, waitErr
	}
	r.logger.WithField("trades", len(out)).Info("batch run complete")
	return out, nil
}

// runDate fetches one day's data and simulates it.
func (r *Runner) runDate(ctx context.Context, date string, strategy *config.StrategyConfig) ([]models.TradeRecord, error) {
	options, err := r.provider.OptionChain(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("option chain: %w", err)
	}
	spot, err := r.provider.SpotSeries(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("spot series: %w", err)
	}

	trades, err := engine.RunDay(date, options, spot, strategy)
	if err != nil {
		return nil, fmt.Errorf("simulating day: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"date":   date,
		"trades": len(trades),
	}).Debug("day simulated")
	return trades, nil
}

// tradingDates lists the weekdays in [start, end] as feed date keys.
// Exchange holidays are not filtered here: a holiday simply has no blob and
// is skipped as unavailable data.
func tradingDates(start, end time.Time) []string {
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		dates = append(dates, d.Format(dateLayout))
	}
	return dates
}

// sortTrades orders records by date, entry time, strike, then right so batch
// output is deterministic regardless of worker completion order.
func sortTrades(trades []models.TradeRecord) {
	sort.SliceStable(trades, func(i, j int) bool {
		if trades[i].Date != trades[j].Date {
			return trades[i].Date < trades[j].Date
		}
		if !trades[i].EntryTime.Equal(trades[j].EntryTime) {
			return trades[i].EntryTime.Before(trades[j].EntryTime)
		}
		if trades[i].Strike != trades[j].Strike {
			return trades[i].Strike < trades[j].Strike
		}
		return trades[i].Right < trades[j].Right
	})
}
