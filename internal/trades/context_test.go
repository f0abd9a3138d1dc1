package trades

import (
	"context"
	"testing"
	"time"

	"trading-analytics/internal/database"
)

// ==================== Prompt Context ====================

func TestBuildContextOpenPositionShortCircuits(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	// Prior analysis exists but must not be consulted
	buyAnalysis(store, "ETHUSD", 2700, 2800, 2600)
	trade, _ := e.CreateTradeFromAnalysis(ctx, buyAnalysis(store, "ETHUSD", 2750, 2820, 2620), nil)

	input, err := e.BuildContext(ctx, "ethusd", database.Timeframe1h, 2760, "ALT_SEASON", "SELECTIVE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Position == nil {
		t.Fatal("expected open-position context")
	}
	if input.PriorAnalysis != nil {
		t.Error("open position must suppress the history lookup")
	}
	if input.Position.EntryPrice != trade.EntryPrice {
		t.Errorf("entry = %f, want %f", input.Position.EntryPrice, trade.EntryPrice)
	}
	if input.Ticker != "ETHUSD" {
		t.Errorf("ticker = %q, want normalized ETHUSD", input.Ticker)
	}
}

func TestBuildContextUrgencyBands(t *testing.T) {
	// 1h timeframe has a 12h lookback: recent up to 3h, active up to 12h
	cases := []struct {
		name string
		age  time.Duration
		want string
	}{
		{"recent", 2 * time.Hour, urgencyRecent},
		{"active", 8 * time.Hour, urgencyActive},
		{"stale", 20 * time.Hour, urgencyStale},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMockStore()
			e := newTestEngine(store, nil, nil)

			a := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
			a.AnalysisTimestamp = store.clock.Add(-tc.age)

			input, err := e.BuildContext(context.Background(), "ETHUSD", database.Timeframe1h, 2760, "", "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if input.PriorAnalysis == nil {
				t.Fatal("expected prior analysis context")
			}
			if input.PriorAnalysis.Urgency != tc.want {
				t.Errorf("urgency = %q, want %q", input.PriorAnalysis.Urgency, tc.want)
			}
		})
	}
}

func TestBuildContextDropsExpiredAnalysis(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	a := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	a.AnalysisTimestamp = store.clock.Add(-72 * time.Hour) // Past the 48h max age

	input, err := e.BuildContext(context.Background(), "ETHUSD", database.Timeframe1h, 2760, "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.PriorAnalysis != nil {
		t.Error("analyses past the max age must be dropped from context")
	}
}

func TestBuildContextNoHistory(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	input, err := e.BuildContext(context.Background(), "BTCUSD", database.Timeframe4h, 100000, "BEAR", "NO_TRADE")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if input.Position != nil || input.PriorAnalysis != nil {
		t.Errorf("expected bare context, got %+v", input)
	}
	if input.MarketRegime != "BEAR" || input.Permission != "NO_TRADE" {
		t.Errorf("macro fields not carried: %+v", input)
	}
}
