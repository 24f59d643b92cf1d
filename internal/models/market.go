// Package models provides the market data and trade output shapes shared
// across the backtester.
package models

import (
	"fmt"
	"strings"
	"time"
)

// OptionRight identifies the side of an option contract.
type OptionRight string

const (
	// RightCall represents a call option contract
	RightCall OptionRight = "call"
	// RightPut represents a put option contract
	RightPut OptionRight = "put"
)

// ParseRight normalizes a feed-supplied right string. Feeds are inconsistent
// about casing ("Call", "PUT"), so matching is case-insensitive.
func ParseRight(s string) (OptionRight, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call":
		return RightCall, nil
	case "put":
		return RightPut, nil
	default:
		return "", fmt.Errorf("unknown option right %q", s)
	}
}

// Candle is one minute of OHLC data for a single instrument.
// Immutable once ingested.
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}

// OptionRecord is one flattened option candle: the identity fields of a feed
// blob entry merged with its nested per-minute OHLC object.
type OptionRecord struct {
	Date   string
	Strike int
	ATM    float64 // feed's own ATM reference, kept for inspection only
	Right  OptionRight
	Expiry string
	Candle Candle
}

// ExitReason records why a leg was closed.
type ExitReason string

const (
	// ExitTarget means the candle low crossed the leg's target price.
	ExitTarget ExitReason = "target"
	// ExitStopLoss means the candle high crossed the leg's stop-loss price.
	ExitStopLoss ExitReason = "stop_loss"
	// ExitMaxLoss means the aggregate max-loss circuit breaker forced the close.
	ExitMaxLoss ExitReason = "max_loss_hit"
	// ExitDayEnd means the leg was still open when the day's data ran out.
	ExitDayEnd ExitReason = "day_end"
)

// TradeRecord is one closed leg occupancy. A leg that stops out and reenters
// produces multiple records for the same strike/right, distinguished by
// ReentryID. PnL follows the short-premium convention: entry minus exit.
type TradeRecord struct {
	Date       string      `json:"date"`
	Strike     int         `json:"strike"`
	Right      OptionRight `json:"right"`
	ExitReason ExitReason  `json:"exit_reason"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time"`
	EntryPrice float64     `json:"entry_price"`
	ExitPrice  float64     `json:"exit_price"`
	PnL        float64     `json:"pnl"`
	ReentryID  int         `json:"reentry_id"`
}
