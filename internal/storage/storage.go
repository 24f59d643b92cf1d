package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/chokli/nifty-backtest/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// JSONStorage accumulates trade records in memory and persists them to a
// JSON results file with atomic writes.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *ResultsData
}

// ResultsData is the persisted shape of one backtest run's output.
type ResultsData struct {
	RunID       string               `json:"run_id"`
	Strategy    string               `json:"strategy"`
	Trades      []models.TradeRecord `json:"trades"`
	DailyPnL    map[string]float64   `json:"daily_pnl"`
	Statistics  *Statistics          `json:"statistics"`
	LastUpdated time.Time            `json:"last_updated"`
}

// Statistics summarizes the accumulated trades.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	WorstTrade    float64 `json:"worst_trade"`
}

// NewJSONStorage creates a results store backed by the given file, loading
// any existing results first.
func NewJSONStorage(filepath string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: filepath,
		data: &ResultsData{
			DailyPnL:   make(map[string]float64),
			Statistics: &Statistics{},
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// SetRun records the batch run's identity.
func (s *JSONStorage) SetRun(runID, strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.RunID = runID
	s.data.Strategy = strategy
}

// AppendTrades adds a batch of trade records and refreshes statistics.
func (s *JSONStorage) AppendTrades(trades []models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tr := range trades {
		s.data.Trades = append(s.data.Trades, tr)
		s.data.DailyPnL[tr.Date] += tr.PnL
		s.updateStatistics(tr.PnL)
	}
	return nil
}

func (s *JSONStorage) updateStatistics(pnl float64) {
	stats := s.data.Statistics
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}

	if pnl < stats.WorstTrade {
		stats.WorstTrade = pnl
	}
}

// GetTrades returns a copy of the accumulated trades.
func (s *JSONStorage) GetTrades() []models.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TradeRecord, len(s.data.Trades))
	copy(out, s.data.Trades)
	return out
}

// GetStatistics returns the current statistics snapshot.
func (s *JSONStorage) GetStatistics() *Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statsCopy := *s.data.Statistics
	return &statsCopy
}

// GetDailyPnL returns the summed P&L for a date.
func (s *JSONStorage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// Load reads the results file into memory.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	if s.data.DailyPnL == nil {
		s.data.DailyPnL = make(map[string]float64)
	}
	if s.data.Statistics == nil {
		s.data.Statistics = &Statistics{}
	}

	return nil
}

// Save writes the results file atomically (temp file + rename).
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, s.filepath)
}

// ExportCSV writes the accumulated trades to a CSV file, one row per closed
// leg occupancy.
func (s *JSONStorage) ExportCSV(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(path) // #nosec G304 -- path is a user-provided output location
	if err != nil {
		return fmt.Errorf("creating csv: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)
	header := []string{
		"date", "strike", "right", "exit_reason",
		"entry_time", "exit_time", "entry_price", "exit_price", "pnl", "reentry_id",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, tr := range s.data.Trades {
		row := []string{
			tr.Date,
			strconv.Itoa(tr.Strike),
			string(tr.Right),
			string(tr.ExitReason),
			tr.EntryTime.Format(timeLayout),
			tr.ExitTime.Format(timeLayout),
			strconv.FormatFloat(tr.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(tr.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(tr.PnL, 'f', -1, 64),
			strconv.Itoa(tr.ReentryID),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
