package trades

import (
	"context"
	"testing"
	"time"

	"trading-analytics/internal/database"
	"trading-analytics/internal/exchange"
)

// addOpenTrade seeds a trade directly into the mock store
func addOpenTrade(store *mockStore, t *database.Trade) *database.Trade {
	store.nextID++
	t.ID = store.nextID
	if t.Status == "" {
		t.Status = database.TradeStatusWaiting
	}
	if t.Timeframe == "" {
		t.Timeframe = database.Timeframe1h
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = store.tick()
	}
	t.UpdatedAt = t.CreatedAt
	store.trades[t.ID] = t
	return t
}

// ==================== Entry Triggers ====================

func TestEntryTriggerTable(t *testing.T) {
	candle := func(h, l float64) *exchange.Candle {
		c := testCandle(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), (h+l)/2, h, l, (h+l)/2)
		return &c
	}

	cases := []struct {
		name      string
		action    string
		strategy  string
		entry     float64
		high, low float64
		wantHit   bool
		wantPrice float64
	}{
		{"pullback buy fills at entry", "buy", strategyPullback, 100, 105, 99.5, true, 100},
		{"pullback buy waits above entry", "buy", strategyPullback, 100, 105, 100.5, false, 0},
		{"breakout buy fills at candle high", "buy", strategyBreakout, 100, 100.5, 99, true, 100.5},
		{"breakout buy waits below entry", "buy", strategyBreakout, 100, 99.9, 98, false, 0},
		{"pullback sell fills at entry", "sell", strategyPullback, 100, 100.5, 98, true, 100},
		{"pullback sell waits below entry", "sell", strategyPullback, 100, 99.5, 98, false, 0},
		{"breakout sell fills at candle low", "sell", strategyBreakout, 100, 101, 99.5, true, 99.5},
		{"breakout sell waits above entry", "sell", strategyBreakout, 100, 102, 100.1, false, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trade := &database.Trade{Action: tc.action, EntryStrategy: tc.strategy, EntryPrice: tc.entry}
			hit, price := entryTriggered(trade, candle(tc.high, tc.low))
			if hit != tc.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tc.wantHit)
			}
			if hit && price != tc.wantPrice {
				t.Errorf("fill price = %f, want %f", price, tc.wantPrice)
			}
		})
	}
}

func TestBreakoutEntryRecordsCandleExtreme(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	trade := addOpenTrade(store, &database.Trade{
		Ticker: "SOLUSD", Action: "buy", EntryStrategy: strategyBreakout,
		EntryPrice: 100.0, TargetPrice: 110.0, StopLoss: 95.0,
		// Created well before this pass so the grace window is over
		CreatedAt: store.clock.Add(-2 * time.Hour),
	})

	candles := &mockCandles{byCoin: map[string][]exchange.Candle{
		"SOLUSD": {
			testCandle(store.clock.Add(-30*time.Minute), 99.5, 100.5, 99.0, 100.2),
			testCandle(store.clock.Add(-1*time.Minute), 100.2, 100.4, 99.8, 100.0),
		},
	}}
	e.candles = candles

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusActive {
		t.Fatalf("status = %q, want active", after.Status)
	}
	if after.TriggerHitPrice == nil || *after.TriggerHitPrice != 100.5 {
		t.Errorf("trigger_hit_price = %v, want the candle high 100.5", after.TriggerHitPrice)
	}
	if after.TriggerHitTime == nil {
		t.Error("trigger_hit_time not recorded")
	}
	if rows := store.updatesOfType(database.UpdateTriggerHit); len(rows) != 1 {
		t.Errorf("trigger audit rows = %d, want 1", len(rows))
	}
}

func TestPullbackEntryFillsAtEntryPrice(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2900, StopLoss: 2600,
		CreatedAt: store.clock.Add(-2 * time.Hour),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(store.clock.Add(-time.Minute), 2760, 2770, 2748, 2755)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusActive {
		t.Fatalf("status = %q, want active", after.Status)
	}
	if after.TriggerHitPrice == nil || *after.TriggerHitPrice != 2750 {
		t.Errorf("trigger_hit_price = %v, want the entry price 2750", after.TriggerHitPrice)
	}
}

func TestCandlesBeforeCreationIgnored(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2900, StopLoss: 2600,
		CreatedAt: store.clock.Add(-time.Hour),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {
			// Touched the entry before the trade existed
			testCandle(trade.CreatedAt.Add(-30*time.Minute), 2755, 2760, 2745, 2752),
			// Stayed above it afterwards
			testCandle(trade.CreatedAt.Add(30*time.Minute), 2780, 2800, 2770, 2790),
		},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusWaiting {
		t.Errorf("status = %q, want still waiting", after.Status)
	}
}

// ==================== Exit Triggers ====================

func TestExitTargetHit(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	hitTime := store.clock.Add(-3 * time.Hour)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2820, StopLoss: 2620,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-4 * time.Hour),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(store.clock.Add(-time.Minute), 2800, 2825, 2795, 2818)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusProfitHit {
		t.Fatalf("status = %q, want profit_hit", after.Status)
	}
	if after.ClosePrice == nil || *after.ClosePrice != 2820 {
		t.Errorf("close price = %v, want the target 2820", after.ClosePrice)
	}
	if after.RealizedPnL == nil || *after.RealizedPnL != 70 {
		t.Errorf("realized pnl = %v, want 70", after.RealizedPnL)
	}
}

func TestAmbiguousCandleResolvesToStop(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	hitTime := store.clock.Add(-3 * time.Hour)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "SOLUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 144.5, TargetPrice: 152.0, StopLoss: 140.0,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-4 * time.Hour),
	})

	// Open 145: stop is 5 away, target 7 away, so the stop wins
	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"SOLUSD": {testCandle(store.clock.Add(-time.Minute), 145.0, 152.5, 139.5, 150.0)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusStopHit {
		t.Fatalf("status = %q, want stop_hit", after.Status)
	}
	if after.ClosePrice == nil || *after.ClosePrice != 140.0 {
		t.Errorf("close price = %v, want the stop 140.0", after.ClosePrice)
	}
	if after.RealizedPnL == nil || *after.RealizedPnL != -4.5 {
		t.Errorf("realized pnl = %v, want -4.5", after.RealizedPnL)
	}
}

func TestAmbiguousCandleExactTieGoesToStop(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	hitTime := store.clock.Add(-3 * time.Hour)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "SOLUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 144.5, TargetPrice: 152.0, StopLoss: 140.0,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-4 * time.Hour),
	})

	// Open 146 is exactly 6 from both levels
	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"SOLUSD": {testCandle(store.clock.Add(-time.Minute), 146.0, 152.5, 139.5, 145.0)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusStopHit {
		t.Errorf("status = %q, want stop_hit on an exact tie", after.Status)
	}
}

func TestSellExitTable(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	hitTime := store.clock.Add(-3 * time.Hour)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "BTCUSD", Action: "sell", EntryStrategy: strategyPullback,
		EntryPrice: 100000, TargetPrice: 95000, StopLoss: 103000,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-4 * time.Hour),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"BTCUSD": {testCandle(store.clock.Add(-time.Minute), 96000, 96500, 94800, 95200)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusProfitHit {
		t.Fatalf("status = %q, want profit_hit", after.Status)
	}
	if after.RealizedPnL == nil || *after.RealizedPnL != 5000 {
		t.Errorf("realized pnl = %v, want 5000 for a short", after.RealizedPnL)
	}
}

// ==================== Grace Period ====================

func TestGracePeriodSuppressesExitAfterEntry(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	// Created one minute ago, well inside the 5 minute grace window
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2900, StopLoss: 2700,
		CreatedAt: store.clock.Add(-time.Minute),
	})

	// One candle both fills the entry and pierces the stop
	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(store.clock, 2760, 2770, 2690, 2710)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusActive {
		t.Errorf("status = %q, want active: exits must wait out the grace window", after.Status)
	}
}

func TestGracePeriodDoesNotShieldAlreadyActiveTrades(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	// Active before this pass, even though creation is still in grace
	hitTime := store.clock.Add(-2 * time.Minute)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2900, StopLoss: 2700,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-3 * time.Minute),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(store.clock, 2740, 2745, 2690, 2700)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusStopHit {
		t.Errorf("status = %q, want stop_hit: grace never shields active trades", after.Status)
	}
}

// ==================== Price Ticks ====================

func TestPriceTickUpdatesUnrealizedPnL(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	hitTime := store.clock.Add(-3 * time.Hour)
	trade := addOpenTrade(store, &database.Trade{
		Ticker: "ETHUSD", Action: "buy", EntryStrategy: strategyPullback,
		EntryPrice: 2750, TargetPrice: 2900, StopLoss: 2600,
		Status: database.TradeStatusActive, TriggerHitTime: &hitTime,
		CreatedAt: store.clock.Add(-4 * time.Hour),
	})

	e.candles = &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(store.clock.Add(-time.Minute), 2760, 2790, 2755, 2780)},
	}}

	if err := e.CheckTriggers(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := store.GetTrade(ctx, trade.ID)
	if after.CurrentPrice == nil || *after.CurrentPrice != 2780 {
		t.Errorf("current price = %v, want 2780", after.CurrentPrice)
	}
	if after.UnrealizedPnL == nil || *after.UnrealizedPnL != 30 {
		t.Errorf("unrealized pnl = %v, want 30", after.UnrealizedPnL)
	}
}
