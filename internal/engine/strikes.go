// Package engine implements the minute-by-minute intraday simulation: strike
// selection, per-leg exit lifecycle, and the single-day runner.
package engine

import (
	"fmt"

	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/models"
	"github.com/chokli/nifty-backtest/internal/util"
)

// StrikeRight pairs a strike with the option right traded at it.
type StrikeRight struct {
	Strike int
	Right  models.OptionRight
}

// ResolveStrikes maps leg specs onto concrete strikes around the ATM
// reference. Call offsets move up the chain, put offsets move down.
// Repeated strikes are kept as-is: a strategy may legitimately sell the
// same strike on more than one leg.
func ResolveStrikes(atm int, legs []config.LegSpec) ([]StrikeRight, error) {
	out := make([]StrikeRight, 0, len(legs))
	for i, leg := range legs {
		right, err := models.ParseRight(leg.Right)
		if err != nil {
			return nil, fmt.Errorf("leg %d: %w", i, err)
		}
		offset := leg.OTMSteps * config.StrikeStep
		strike := atm + offset
		if right == models.RightPut {
			strike = atm - offset
		}
		out = append(out, StrikeRight{Strike: strike, Right: right})
	}
	return out, nil
}

// atmStrike derives the at-the-money strike from the spot series: the close
// of the first candle at or after the entry time, rounded to the nearest
// strike on the 50-point grid (halfway values round away from zero, see
// util.NearestStrike). Returns false when no spot candle qualifies.
func atmStrike(spot []models.Candle, cfg *config.StrategyConfig) (int, bool) {
	var best *models.Candle
	for i := range spot {
		if !cfg.AtOrAfterEntry(spot[i].Time) {
			continue
		}
		if best == nil || spot[i].Time.Before(best.Time) {
			best = &spot[i]
		}
	}
	if best == nil {
		return 0, false
	}
	return util.NearestStrike(best.Close, config.StrikeStep), true
}
