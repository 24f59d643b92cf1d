package engine

import (
	"sort"
	"time"

	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/models"
)

// LegStatus represents the current state of a leg.
type LegStatus string

const (
	// LegActive means the leg holds an open short position.
	LegActive LegStatus = "active"
	// LegClosed means the current occupancy has been exited. Closed is not
	// terminal: a stop-loss reentry transitions the leg back to active.
	LegClosed LegStatus = "closed"
)

// Leg is one short option position tracked through a single day. It owns a
// read-only view of the day's candle series for its strike+right and the
// mutable entry/exit state of the current occupancy.
type Leg struct {
	Strike int
	Right  models.OptionRight

	Status     LegStatus
	EntryTime  time.Time
	EntryPrice float64
	SLPrice    float64
	TgtPrice   *float64 // nil disables the target exit
	ExitPrice  float64
	ExitReason models.ExitReason
	Reentries  int

	candles []models.Candle
	byTime  map[time.Time]int

	// lastSeen carries the most recent candle observed during the minute
	// loop so forced and day-end exits never depend on another leg's data.
	lastSeen *models.Candle
}

// newLeg builds a leg from the day's candles for one strike+right, keeping
// only candles at or after the entry time. Returns nil when no candle
// qualifies: such a leg is silently omitted from the day, per the feed's
// sparse-chain behavior.
func newLeg(sr StrikeRight, series []models.Candle, cfg *config.StrategyConfig) *Leg {
	eligible := make([]models.Candle, 0, len(series))
	for _, c := range series {
		if cfg.AtOrAfterEntry(c.Time) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Time.Before(eligible[j].Time) })

	byTime := make(map[time.Time]int, len(eligible))
	for i, c := range eligible {
		byTime[c.Time] = i
	}

	leg := &Leg{
		Strike:  sr.Strike,
		Right:   sr.Right,
		candles: eligible,
		byTime:  byTime,
	}
	leg.arm(eligible[0], cfg)
	return leg
}

// arm opens (or reopens) the position at the given candle's open and derives
// the stop and target prices from the strategy config.
func (l *Leg) arm(c models.Candle, cfg *config.StrategyConfig) {
	l.EntryTime = c.Time
	l.EntryPrice = c.Open
	l.SLPrice = c.Open * (1 + cfg.StopLoss)
	l.TgtPrice = nil
	if cfg.Target != nil {
		tgt := c.Open * (1 - *cfg.Target)
		l.TgtPrice = &tgt
	}
	l.Status = LegActive
	l.ExitPrice = 0
	l.ExitReason = ""
}

// candleAt returns this leg's candle for the timestamp, if one exists.
func (l *Leg) candleAt(ts time.Time) (models.Candle, bool) {
	i, ok := l.byTime[ts]
	if !ok {
		return models.Candle{}, false
	}
	return l.candles[i], true
}

// observe records the candle as the leg's most recent market data.
func (l *Leg) observe(c models.Candle) {
	candle := c
	l.lastSeen = &candle
}

// evaluate applies the intrabar exit checks to one candle. The target check
// runs before the stop-loss check: when both trigger in the same minute the
// leg exits at the target. Fill assumptions follow the short-premium
// convention - targets fill at the candle low (optimistic), stops at the
// candle high (pessimistic).
func (l *Leg) evaluate(c models.Candle) (models.ExitReason, float64, bool) {
	if l.TgtPrice != nil && c.Low <= *l.TgtPrice {
		return models.ExitTarget, c.Low, true
	}
	if c.High >= l.SLPrice {
		return models.ExitStopLoss, c.High, true
	}
	return "", 0, false
}

// close transitions the leg to closed and records the exit fill.
func (l *Leg) close(reason models.ExitReason, price float64) {
	l.Status = LegClosed
	l.ExitReason = reason
	l.ExitPrice = price
}

// reenter reopens the leg from the first candle strictly after ts. Returns
// false when the day has no later candle, in which case the leg stays closed.
// The caller enforces the reentry cap.
func (l *Leg) reenter(ts time.Time, cfg *config.StrategyConfig) bool {
	i := sort.Search(len(l.candles), func(i int) bool {
		return l.candles[i].Time.After(ts)
	})
	if i == len(l.candles) {
		return false
	}
	l.arm(l.candles[i], cfg)
	l.Reentries++
	return true
}

// record builds the TradeRecord for the leg's current occupancy. Valid only
// while the leg is closed, before any subsequent reentry re-arms it.
func (l *Leg) record(date string, exitTime time.Time) models.TradeRecord {
	return models.TradeRecord{
		Date:       date,
		Strike:     l.Strike,
		Right:      l.Right,
		ExitReason: l.ExitReason,
		EntryTime:  l.EntryTime,
		ExitTime:   exitTime,
		EntryPrice: l.EntryPrice,
		ExitPrice:  l.ExitPrice,
		PnL:        l.EntryPrice - l.ExitPrice,
		ReentryID:  l.Reentries,
	}
}
