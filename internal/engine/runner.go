package engine

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/models"
)

// RunDay simulates one trading day of a strategy against already-fetched
// candle data and returns the day's closed-leg records.
//
// The simulation is a strict sequential scan over the distinct timestamps in
// the option feed. Each minute every active leg is checked for a target exit,
// then a stop-loss exit (with optional reentry), and finally the aggregate
// max-loss circuit breaker is applied across legs. A max-loss trigger ends
// the day immediately; otherwise legs still open after the last timestamp are
// closed at their own last observed close.
//
// Missing data is not an error here: a leg with no candles at or after the
// entry time is omitted, and a day with no usable spot row yields no trades.
func RunDay(
	date string,
	options []models.OptionRecord,
	spot []models.Candle,
	cfg *config.StrategyConfig,
) ([]models.TradeRecord, error) {
	if cfg == nil {
		return nil, errors.New("nil strategy config")
	}

	atm, ok := atmStrike(spot, cfg)
	if !ok {
		return nil, nil
	}

	strikes, err := ResolveStrikes(atm, cfg.Legs)
	if err != nil {
		return nil, err
	}

	legs := buildLegs(strikes, options, cfg)
	if len(legs) == 0 {
		return nil, nil
	}

	tradeLog := NewTradeLog()

	// Realized P&L from target and stop-loss exits persists for the rest of
	// the day and feeds the aggregate max-loss check, including across
	// reentries.
	var realizedTarget, realizedStop float64

	for _, ts := range distinctTimestamps(options) {
		var openPnL float64

		for _, leg := range legs {
			if leg.Status != LegActive {
				continue
			}
			candle, ok := leg.candleAt(ts)
			if !ok {
				continue
			}
			leg.observe(candle)

			if reason, price, closed := leg.evaluate(candle); closed {
				leg.close(reason, price)
				tradeLog.Append(leg.record(date, ts))

				if reason == models.ExitTarget {
					realizedTarget += leg.EntryPrice - price
					continue
				}

				realizedStop += leg.EntryPrice - price
				if cfg.ReentryOnSL && leg.Reentries < cfg.MaxReentries {
					leg.reenter(ts, cfg)
				}
			}

			// A leg re-armed this minute contributes its new entry against
			// the current close, same as any other active leg.
			if leg.Status == LegActive {
				openPnL += leg.EntryPrice - candle.Close
			}
		}

		total := openPnL + realizedTarget + realizedStop
		if cfg.MaxLoss != nil && total <= -math.Abs(*cfg.MaxLoss) {
			forceCloseAll(legs, ts, date, tradeLog)
			return tradeLog.Records(), nil
		}
	}

	closeAtDayEnd(legs, date, tradeLog)
	return tradeLog.Records(), nil
}

// buildLegs groups the option feed by strike+right and instantiates one leg
// per resolved strike pair. Pairs with no eligible candles are dropped.
func buildLegs(strikes []StrikeRight, options []models.OptionRecord, cfg *config.StrategyConfig) []*Leg {
	series := make(map[StrikeRight][]models.Candle)
	for _, rec := range options {
		key := StrikeRight{Strike: rec.Strike, Right: rec.Right}
		series[key] = append(series[key], rec.Candle)
	}

	legs := make([]*Leg, 0, len(strikes))
	for _, sr := range strikes {
		if leg := newLeg(sr, series[sr], cfg); leg != nil {
			legs = append(legs, leg)
		}
	}
	return legs
}

// distinctTimestamps returns the ascending set of minute timestamps present
// anywhere in the day's option feed.
func distinctTimestamps(options []models.OptionRecord) []time.Time {
	seen := make(map[time.Time]struct{}, len(options))
	for _, rec := range options {
		seen[rec.Candle.Time] = struct{}{}
	}
	out := make([]time.Time, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// forceCloseAll closes every still-active leg at the max-loss trigger minute.
// A leg with no candle at the trigger timestamp exits at its own last
// observed close; a leg that never traded a candle produces no record.
func forceCloseAll(legs []*Leg, ts time.Time, date string, tradeLog *TradeLog) {
	for _, leg := range legs {
		if leg.Status != LegActive {
			continue
		}
		exit, ok := leg.candleAt(ts)
		if !ok {
			if leg.lastSeen == nil {
				continue
			}
			exit = *leg.lastSeen
		}
		leg.close(models.ExitMaxLoss, exit.Close)
		tradeLog.Append(leg.record(date, ts))
	}
}

// closeAtDayEnd closes any leg still active after the minute loop at its own
// last observed close, stamped with that candle's timestamp.
func closeAtDayEnd(legs []*Leg, date string, tradeLog *TradeLog) {
	for _, leg := range legs {
		if leg.Status != LegActive || leg.lastSeen == nil {
			continue
		}
		leg.close(models.ExitDayEnd, leg.lastSeen.Close)
		tradeLog.Append(leg.record(date, leg.lastSeen.Time))
	}
}
