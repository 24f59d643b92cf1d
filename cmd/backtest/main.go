// Command backtest runs a named intraday options strategy over a date range
// and writes the resulting trade log.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chokli/nifty-backtest/internal/batch"
	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/dashboard"
	"github.com/chokli/nifty-backtest/internal/feed"
	"github.com/chokli/nifty-backtest/internal/retry"
	"github.com/chokli/nifty-backtest/internal/storage"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configPath    string
		strategyName  string
		startStr      string
		endStr        string
		csvPath       string
		workers       int
		serve         bool
		dashboardPort int
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&strategyName, "strategy", "straddle", "Strategy name from the strategies section")
	flag.StringVar(&startStr, "start", "", "First date to simulate (YYYY-MM-DD)")
	flag.StringVar(&endStr, "end", "", "Last date to simulate (YYYY-MM-DD), defaults to start")
	flag.StringVar(&csvPath, "csv", "", "CSV output path (overrides output.csv_path)")
	flag.IntVar(&workers, "workers", 0, "Day worker pool size (0 = number of CPUs)")
	flag.BoolVar(&serve, "serve", false, "Serve the results dashboard after the run")
	flag.IntVar(&dashboardPort, "port", 8080, "Dashboard port")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Feed credentials come from the environment; a .env file is a
	// convenience, not a requirement.
	if err := godotenv.Load(); err != nil {
		logger.Debug(".env file not found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Environment.LogLevel != "" {
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			logger.SetLevel(level)
		}
	}

	if startStr == "" {
		logger.Fatal("-start is required")
	}
	if endStr == "" {
		endStr = startStr
	}
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		logger.Fatalf("Invalid -start date: %v", err)
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		logger.Fatalf("Invalid -end date: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := feed.NewObjectStoreClient(feed.ClientOptions{
		BaseURL:       cfg.Feed.BaseURL,
		APIKey:        cfg.Feed.APIKey,
		OptionsPrefix: cfg.Feed.OptionsPrefix,
		SpotPrefix:    cfg.Feed.SpotPrefix,
		Timeout:       cfg.GetFeedTimeout(),
	}, logger)
	provider := feed.NewCircuitBreakerProvider(retry.NewClient(client, logger))

	runID := uuid.NewString()
	logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"strategy": strategyName,
		"start":    startStr,
		"end":      endStr,
	}).Info("Starting backtest")

	runner := batch.NewRunner(provider, cfg, logger, workers)
	trades, runErr := runner.Run(ctx, strategyName, start, end)

	resultsPath := cfg.Output.ResultsPath
	if resultsPath == "" {
		resultsPath = "backtest_results.json"
	}
	// Each run produces a fresh results file.
	_ = os.Remove(resultsPath)

	store, err := storage.NewStorage(resultsPath)
	if err != nil {
		logger.Fatalf("Failed to open results store: %v", err)
	}
	store.SetRun(runID, strategyName)
	if err := store.AppendTrades(trades); err != nil {
		logger.Fatalf("Failed to record trades: %v", err)
	}
	if err := store.Save(); err != nil {
		logger.Fatalf("Failed to save results: %v", err)
	}

	if csvPath == "" {
		csvPath = cfg.Output.CSVPath
	}
	if csvPath == "" {
		csvPath = "backtest_results.csv"
	}
	if err := store.ExportCSV(csvPath); err != nil {
		logger.Fatalf("Failed to export CSV: %v", err)
	}

	stats := store.GetStatistics()
	logger.WithFields(logrus.Fields{
		"trades":    stats.TotalTrades,
		"win_rate":  stats.WinRate,
		"total_pnl": stats.TotalPnL,
		"csv":       csvPath,
	}).Info("Backtest complete")

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("Run canceled; partial results saved")
			return
		}
		logger.Fatalf("Batch run failed: %v", runErr)
	}

	if serve {
		srv := dashboard.NewServer(dashboard.Config{Port: dashboardPort}, store, logger)
		if err := srv.Start(ctx); err != nil {
			logger.Fatalf("Dashboard error: %v", err)
		}
	}
}
