package storage

import (
	"sync"

	"github.com/chokli/nifty-backtest/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
type MockStorage struct {
	mu       sync.RWMutex
	runID    string
	strategy string
	trades   []models.TradeRecord
	dailyPnL map[string]float64
	stats    Statistics

	SaveCalls   int
	ExportCalls int
}

// Ensure MockStorage implements Interface
var _ Interface = (*MockStorage)(nil)

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{dailyPnL: make(map[string]float64)}
}

// SetRun records the batch run's identity.
func (m *MockStorage) SetRun(runID, strategy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runID = runID
	m.strategy = strategy
}

// AppendTrades adds trade records and refreshes statistics.
func (m *MockStorage) AppendTrades(trades []models.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tr := range trades {
		m.trades = append(m.trades, tr)
		m.dailyPnL[tr.Date] += tr.PnL

		m.stats.TotalTrades++
		m.stats.TotalPnL += tr.PnL
		if tr.PnL > 0 {
			m.stats.WinningTrades++
		} else {
			m.stats.LosingTrades++
		}
		if m.stats.TotalTrades > 0 {
			m.stats.WinRate = float64(m.stats.WinningTrades) / float64(m.stats.TotalTrades)
		}
		if tr.PnL < m.stats.WorstTrade {
			m.stats.WorstTrade = tr.PnL
		}
	}
	return nil
}

// GetTrades returns a copy of the accumulated trades.
func (m *MockStorage) GetTrades() []models.TradeRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TradeRecord, len(m.trades))
	copy(out, m.trades)
	return out
}

// GetStatistics returns the current statistics snapshot.
func (m *MockStorage) GetStatistics() *Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statsCopy := m.stats
	return &statsCopy
}

// GetDailyPnL returns the summed P&L for a date.
func (m *MockStorage) GetDailyPnL(date string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL[date]
}

// Save counts the call and succeeds.
func (m *MockStorage) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	return nil
}

// Load is a no-op for the in-memory store.
func (m *MockStorage) Load() error { return nil }

// ExportCSV counts the call and succeeds.
func (m *MockStorage) ExportCSV(string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportCalls++
	return nil
}
