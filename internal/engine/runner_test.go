package engine

import (
	"reflect"
	"testing"
	"time"

	"github.com/chokli/nifty-backtest/internal/config"
	"github.com/chokli/nifty-backtest/internal/models"
)

const testDate = "2024-07-05"

// minute builds a timestamp on the test date at the given wall-clock minute.
func minute(t *testing.T, hhmm string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", testDate+" "+hhmm)
	if err != nil {
		t.Fatalf("bad test time %q: %v", hhmm, err)
	}
	return ts
}

func optRow(strike int, right models.OptionRight, c models.Candle) models.OptionRecord {
	return models.OptionRecord{
		Date:   testDate,
		Strike: strike,
		Right:  right,
		Expiry: "2024-07-11T15:30:00Z",
		Candle: c,
	}
}

func candle(ts time.Time, o, h, l, c float64) models.Candle {
	return models.Candle{Time: ts, Open: o, High: h, Low: l, Close: c}
}

// flatSpot returns a one-candle spot series that resolves ATM to the given
// strike exactly.
func flatSpot(t *testing.T, atm int) []models.Candle {
	t.Helper()
	return []models.Candle{candle(minute(t, "09:20"), float64(atm), float64(atm), float64(atm), float64(atm))}
}

func baseStrategy() *config.StrategyConfig {
	return &config.StrategyConfig{
		Legs:      []config.LegSpec{{Right: "call"}},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		StopLoss:  0.30,
	}
}

func TestRunDayStopLossUsesCandleHigh(t *testing.T) {
	cfg := baseStrategy()
	tgt := 0.20
	cfg.Target = &tgt

	// Entry at 100 -> SL 130, target 80. The second candle crosses the
	// stop but not the target.
	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 104, 135, 95, 120)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.ExitReason != models.ExitStopLoss {
		t.Errorf("exit reason = %s, want %s", tr.ExitReason, models.ExitStopLoss)
	}
	if tr.ExitPrice != 135 {
		t.Errorf("exit price = %.2f, want 135", tr.ExitPrice)
	}
	if tr.PnL != 100-135 {
		t.Errorf("pnl = %.2f, want %.2f", tr.PnL, 100.0-135.0)
	}
	if !tr.ExitTime.Equal(minute(t, "09:21")) {
		t.Errorf("exit time = %v, want 09:21", tr.ExitTime)
	}
}

func TestRunDayTargetBeatsStopLossInSameMinute(t *testing.T) {
	cfg := baseStrategy()
	tgt := 0.20
	cfg.Target = &tgt

	// Both thresholds cross in the same candle; the target wins and fills
	// at the low.
	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 104, 135, 75, 110)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	tr := trades[0]
	if tr.ExitReason != models.ExitTarget {
		t.Errorf("exit reason = %s, want %s", tr.ExitReason, models.ExitTarget)
	}
	if tr.ExitPrice != 75 {
		t.Errorf("exit price = %.2f, want 75", tr.ExitPrice)
	}
	if tr.PnL != 25 {
		t.Errorf("pnl = %.2f, want 25", tr.PnL)
	}
}

func TestRunDayNoTargetConfiguredNeverTargetExits(t *testing.T) {
	cfg := baseStrategy() // no target

	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		// A deep low that would have hit any reasonable target.
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 100, 104, 10, 50)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].ExitReason != models.ExitDayEnd {
		t.Errorf("exit reason = %s, want %s", trades[0].ExitReason, models.ExitDayEnd)
	}
}

func TestRunDayReentryAfterStopLoss(t *testing.T) {
	cfg := baseStrategy()
	cfg.ReentryOnSL = true
	cfg.MaxReentries = 2

	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 104, 140, 100, 120)), // SL at 130
		optRow(22500, models.RightCall, candle(minute(t, "09:22"), 90, 95, 85, 92)),     // reentry candle
		optRow(22500, models.RightCall, candle(minute(t, "09:23"), 92, 96, 88, 94)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	first, second := trades[0], trades[1]
	if first.ExitReason != models.ExitStopLoss || first.ReentryID != 0 {
		t.Errorf("first trade = %s/reentry %d, want stop_loss/0", first.ExitReason, first.ReentryID)
	}
	if second.ReentryID != 1 {
		t.Errorf("second trade reentry id = %d, want 1", second.ReentryID)
	}
	if second.EntryPrice != 90 {
		t.Errorf("reentry price = %.2f, want open of next candle (90)", second.EntryPrice)
	}
	if !second.EntryTime.Equal(minute(t, "09:22")) {
		t.Errorf("reentry time = %v, want 09:22", second.EntryTime)
	}
	if second.ExitReason != models.ExitDayEnd {
		t.Errorf("second exit reason = %s, want %s", second.ExitReason, models.ExitDayEnd)
	}
}

func TestRunDayReentryCapRespected(t *testing.T) {
	cfg := baseStrategy()
	cfg.ReentryOnSL = true
	cfg.MaxReentries = 1

	// Every candle after entry stops out immediately, so without the cap
	// the leg would keep cycling.
	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 104, 140, 100, 120)),
		optRow(22500, models.RightCall, candle(minute(t, "09:22"), 100, 140, 95, 120)),
		optRow(22500, models.RightCall, candle(minute(t, "09:23"), 100, 140, 95, 120)),
		optRow(22500, models.RightCall, candle(minute(t, "09:24"), 100, 140, 95, 120)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	// One original occupancy plus exactly one reentry.
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	for i, tr := range trades {
		if tr.ExitReason != models.ExitStopLoss {
			t.Errorf("trade %d exit reason = %s, want stop_loss", i, tr.ExitReason)
		}
		if tr.ReentryID != i {
			t.Errorf("trade %d reentry id = %d, want %d", i, tr.ReentryID, i)
		}
	}
}

func TestRunDayAggregateMaxLossHaltsDay(t *testing.T) {
	maxLoss := 4000.0
	cfg := &config.StrategyConfig{
		Legs:      []config.LegSpec{{Right: "call"}, {Right: "put"}},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		StopLoss:  50, // wide stop so the circuit breaker fires first
		MaxLoss:   &maxLoss,
	}

	mk := func(right models.OptionRight) []models.OptionRecord {
		return []models.OptionRecord{
			optRow(22500, right, candle(minute(t, "09:20"), 100, 105, 98, 102)),
			// Close 2600 puts each leg 2500 underwater: aggregate -5000.
			optRow(22500, right, candle(minute(t, "09:21"), 110, 2600, 105, 2600)),
			optRow(22500, right, candle(minute(t, "09:22"), 2600, 2700, 2500, 2650)),
		}
	}
	options := append(mk(models.RightCall), mk(models.RightPut)...)

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 forced exits, got %d", len(trades))
	}

	trigger := minute(t, "09:21")
	for _, tr := range trades {
		if tr.ExitReason != models.ExitMaxLoss {
			t.Errorf("exit reason = %s, want %s", tr.ExitReason, models.ExitMaxLoss)
		}
		if tr.ExitPrice != 2600 {
			t.Errorf("exit price = %.2f, want that minute's close (2600)", tr.ExitPrice)
		}
		if tr.ExitTime.After(trigger) {
			t.Errorf("trade exit time %v is after the trigger minute %v", tr.ExitTime, trigger)
		}
	}
}

func TestRunDayMissingLegIsOmitted(t *testing.T) {
	cfg := &config.StrategyConfig{
		Legs:      []config.LegSpec{{Right: "call"}, {Right: "put"}},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		StopLoss:  0.30,
	}

	// Only the call strike trades; the put side has no candles at all.
	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 102, 106, 99, 101)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Right != models.RightCall {
		t.Errorf("trade right = %s, want call", trades[0].Right)
	}
}

func TestRunDayNoUsableSpotYieldsNoTrades(t *testing.T) {
	cfg := baseStrategy()

	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
	}
	// Spot data ends before the entry time.
	spot := []models.Candle{candle(minute(t, "09:15"), 22500, 22510, 22490, 22500)}

	trades, err := RunDay(testDate, options, spot, cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(trades))
	}
}

func TestRunDayDayEndClosesAtOwnLastCandle(t *testing.T) {
	cfg := &config.StrategyConfig{
		Legs:      []config.LegSpec{{Right: "call"}, {Right: "put"}},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		StopLoss:  5.0,
	}

	// The put series ends a minute before the call series; each leg must
	// close on its own final candle, not a neighbor's.
	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100, 105, 98, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 102, 106, 99, 104)),
		optRow(22500, models.RightPut, candle(minute(t, "09:20"), 80, 84, 78, 82)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	byRight := map[models.OptionRight]models.TradeRecord{}
	for _, tr := range trades {
		byRight[tr.Right] = tr
	}

	call := byRight[models.RightCall]
	if call.ExitPrice != 104 || !call.ExitTime.Equal(minute(t, "09:21")) {
		t.Errorf("call closed at %.2f/%v, want 104/09:21", call.ExitPrice, call.ExitTime)
	}
	put := byRight[models.RightPut]
	if put.ExitPrice != 82 || !put.ExitTime.Equal(minute(t, "09:20")) {
		t.Errorf("put closed at %.2f/%v, want 82/09:20", put.ExitPrice, put.ExitTime)
	}
	for _, tr := range trades {
		if tr.ExitReason != models.ExitDayEnd {
			t.Errorf("%s exit reason = %s, want %s", tr.Right, tr.ExitReason, models.ExitDayEnd)
		}
	}
}

func TestRunDayPnLIdentity(t *testing.T) {
	cfg := baseStrategy()
	cfg.ReentryOnSL = true
	cfg.MaxReentries = 3
	tgt := 0.10
	cfg.Target = &tgt

	options := []models.OptionRecord{
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 100.25, 105.5, 98.75, 102)),
		optRow(22500, models.RightCall, candle(minute(t, "09:21"), 104, 140.5, 100, 120)),
		optRow(22500, models.RightCall, candle(minute(t, "09:22"), 90.5, 95, 79.25, 92)),
		optRow(22500, models.RightCall, candle(minute(t, "09:23"), 92, 96, 88, 94)),
	}

	trades, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) == 0 {
		t.Fatal("expected trades")
	}
	for i, tr := range trades {
		if tr.PnL != tr.EntryPrice-tr.ExitPrice {
			t.Errorf("trade %d: pnl %.6f != entry %.6f - exit %.6f", i, tr.PnL, tr.EntryPrice, tr.ExitPrice)
		}
	}
}

func TestRunDayDeterministic(t *testing.T) {
	cfg := baseStrategy()
	cfg.Legs = []config.LegSpec{{Right: "call"}, {Right: "put"}}
	cfg.ReentryOnSL = true
	cfg.MaxReentries = 2
	tgt := 0.15
	cfg.Target = &tgt

	var options []models.OptionRecord
	for i := 0; i < 60; i++ {
		ts := minute(t, "09:20").Add(time.Duration(i) * time.Minute)
		base := 100 + float64(i%7)
		options = append(options,
			optRow(22500, models.RightCall, candle(ts, base, base+32*float64(i%3), base-18, base+2)),
			optRow(22500, models.RightPut, candle(ts, base, base+28, base-16*float64(i%2), base-1)),
		)
	}

	first, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	second, err := RunDay(testDate, options, flatSpot(t, 22500), cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different trade sequences")
	}
}

func TestRunDayResolvesOffsetStrikes(t *testing.T) {
	cfg := &config.StrategyConfig{
		Legs: []config.LegSpec{
			{Right: "call", OTMSteps: 2},
			{Right: "put", OTMSteps: 2},
		},
		EntryTime: "09:20",
		ExitTime:  "15:15",
		StopLoss:  5.0,
	}

	// Spot 22513 rounds to ATM 22500; the legs sit 100 points out.
	spot := []models.Candle{candle(minute(t, "09:20"), 22510, 22520, 22505, 22513)}
	options := []models.OptionRecord{
		optRow(22600, models.RightCall, candle(minute(t, "09:20"), 60, 62, 58, 61)),
		optRow(22400, models.RightPut, candle(minute(t, "09:20"), 55, 57, 53, 54)),
		// Noise at the ATM strike that no leg should touch.
		optRow(22500, models.RightCall, candle(minute(t, "09:20"), 110, 112, 108, 111)),
	}

	trades, err := RunDay(testDate, options, spot, cfg)
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}

	strikes := map[int]bool{}
	for _, tr := range trades {
		strikes[tr.Strike] = true
	}
	if !strikes[22600] || !strikes[22400] {
		t.Errorf("traded strikes = %v, want 22600 and 22400", strikes)
	}
}
