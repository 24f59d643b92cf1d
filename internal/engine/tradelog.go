package engine

import "github.com/chokli/nifty-backtest/internal/models"

// TradeLog is the append-only accumulator of closed-leg records for one run.
// No deduplication: a reentering leg legitimately appears more than once.
type TradeLog struct {
	records []models.TradeRecord
}

// NewTradeLog creates an empty trade log.
func NewTradeLog() *TradeLog {
	return &TradeLog{}
}

// Append adds one closed-leg record.
func (t *TradeLog) Append(rec models.TradeRecord) {
	t.records = append(t.records, rec)
}

// Records returns the accumulated records in append order.
func (t *TradeLog) Records() []models.TradeRecord {
	return t.records
}

// Len returns the number of accumulated records.
func (t *TradeLog) Len() int {
	return len(t.records)
}
