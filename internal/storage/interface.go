// Package storage persists backtest results and derived statistics.
package storage

import "github.com/chokli/nifty-backtest/internal/models"

// Interface defines the contract for backtest result persistence.
//
// Implementations must be safe for concurrent use - the batch runner appends
// day results from multiple worker goroutines.
type Interface interface {
	// Run metadata
	SetRun(runID, strategy string)

	// Trade accumulation
	AppendTrades(trades []models.TradeRecord) error
	GetTrades() []models.TradeRecord

	// Derived analytics
	GetStatistics() *Statistics
	GetDailyPnL(date string) float64

	// Persistence
	Save() error
	Load() error
	ExportCSV(path string) error
}

// NewStorage creates a new storage implementation (currently JSON-based)
func NewStorage(filepath string) (Interface, error) {
	return NewJSONStorage(filepath)
}

// Ensure JSONStorage implements Interface
var _ Interface = (*JSONStorage)(nil)
