package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chokli/nifty-backtest/internal/models"
)

func sampleTrades(t *testing.T) []models.TradeRecord {
	t.Helper()
	entry, err := time.Parse("2006-01-02 15:04:05", "2024-07-05 09:20:00")
	require.NoError(t, err)

	return []models.TradeRecord{
		{
			Date:       "2024-07-05",
			Strike:     22500,
			Right:      models.RightCall,
			ExitReason: models.ExitTarget,
			EntryTime:  entry,
			ExitTime:   entry.Add(12 * time.Minute),
			EntryPrice: 100,
			ExitPrice:  75,
			PnL:        25,
		},
		{
			Date:       "2024-07-05",
			Strike:     22500,
			Right:      models.RightPut,
			ExitReason: models.ExitStopLoss,
			EntryTime:  entry,
			ExitTime:   entry.Add(30 * time.Minute),
			EntryPrice: 95,
			ExitPrice:  130,
			PnL:        -35,
		},
		{
			Date:       "2024-07-08",
			Strike:     22600,
			Right:      models.RightCall,
			ExitReason: models.ExitDayEnd,
			EntryTime:  entry.AddDate(0, 0, 3),
			ExitTime:   entry.AddDate(0, 0, 3).Add(5 * time.Hour),
			EntryPrice: 60,
			ExitPrice:  50,
			PnL:        10,
			ReentryID:  1,
		},
	}
}

func TestStatisticsAccumulate(t *testing.T) {
	stores := map[string]Interface{
		"json": func() Interface {
			s, err := NewStorage(filepath.Join(t.TempDir(), "results.json"))
			require.NoError(t, err)
			return s
		}(),
		"mock": NewMockStorage(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.AppendTrades(sampleTrades(t)))

			stats := store.GetStatistics()
			assert.Equal(t, 3, stats.TotalTrades)
			assert.Equal(t, 2, stats.WinningTrades)
			assert.Equal(t, 1, stats.LosingTrades)
			assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)
			assert.InDelta(t, 0.0, stats.TotalPnL, 1e-9)
			assert.Equal(t, -35.0, stats.WorstTrade)

			assert.InDelta(t, -10.0, store.GetDailyPnL("2024-07-05"), 1e-9)
			assert.InDelta(t, 10.0, store.GetDailyPnL("2024-07-08"), 1e-9)
			assert.Zero(t, store.GetDailyPnL("2024-07-09"))
		})
	}
}

func TestJSONStorageAverages(t *testing.T) {
	s, err := NewJSONStorage(filepath.Join(t.TempDir(), "results.json"))
	require.NoError(t, err)
	require.NoError(t, s.AppendTrades(sampleTrades(t)))

	stats := s.GetStatistics()
	assert.InDelta(t, 17.5, stats.AverageWin, 1e-9)
	assert.InDelta(t, -35.0, stats.AverageLoss, 1e-9)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	s, err := NewJSONStorage(path)
	require.NoError(t, err)
	s.SetRun("run-123", "straddle")
	require.NoError(t, s.AppendTrades(sampleTrades(t)))
	require.NoError(t, s.Save())

	// No stray temp file after the atomic rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be gone after Save")

	reloaded, err := NewJSONStorage(path)
	require.NoError(t, err)

	trades := reloaded.GetTrades()
	require.Len(t, trades, 3)
	assert.Equal(t, "run-123", reloaded.data.RunID)
	assert.Equal(t, "straddle", reloaded.data.Strategy)
	assert.Equal(t, models.ExitStopLoss, trades[1].ExitReason)
	assert.Equal(t, 3, reloaded.GetStatistics().TotalTrades)
	assert.InDelta(t, -10.0, reloaded.GetDailyPnL("2024-07-05"), 1e-9)
}

func TestExportCSV(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(filepath.Join(dir, "results.json"))
	require.NoError(t, err)
	require.NoError(t, s.AppendTrades(sampleTrades(t)))

	csvPath := filepath.Join(dir, "results.csv")
	require.NoError(t, s.ExportCSV(csvPath))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer func() {
		_ = f.Close()
	}()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4) // header + 3 trades

	assert.Equal(t, []string{
		"date", "strike", "right", "exit_reason",
		"entry_time", "exit_time", "entry_price", "exit_price", "pnl", "reentry_id",
	}, rows[0])

	assert.Equal(t, []string{
		"2024-07-05", "22500", "call", "target",
		"2024-07-05 09:20:00", "2024-07-05 09:32:00",
		"100", "75", "25", "0",
	}, rows[1])

	assert.Equal(t, "stop_loss", rows[2][3])
	assert.Equal(t, "-35", rows[2][8])
	assert.Equal(t, "1", rows[3][9])
}

func TestMockStorageCountsCalls(t *testing.T) {
	m := NewMockStorage()
	require.NoError(t, m.Save())
	require.NoError(t, m.ExportCSV("ignored.csv"))
	require.NoError(t, m.ExportCSV("ignored.csv"))

	assert.Equal(t, 1, m.SaveCalls)
	assert.Equal(t, 2, m.ExportCalls)
}
