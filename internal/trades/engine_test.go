package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
	"trading-analytics/internal/events"
	"trading-analytics/internal/exchange"
)

// ==================== Mocks ====================

type mockStore struct {
	analyses map[int64]*database.Analysis
	trades   map[int64]*database.Trade
	updates  []database.TradeUpdate
	nextID   int64
	clock    time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		analyses: make(map[int64]*database.Analysis),
		trades:   make(map[int64]*database.Trade),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *mockStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *mockStore) addAnalysis(a *database.Analysis) *database.Analysis {
	m.nextID++
	a.ID = m.nextID
	if a.AnalysisTimestamp.IsZero() {
		a.AnalysisTimestamp = m.clock
	}
	m.analyses[a.ID] = a
	return a
}

func (m *mockStore) LatestAnalysis(_ context.Context, ticker string, timeframe database.Timeframe) (*database.Analysis, error) {
	var latest *database.Analysis
	for _, a := range m.analyses {
		if a.Ticker != ticker || a.Timeframe != timeframe {
			continue
		}
		if latest == nil || a.AnalysisTimestamp.After(latest.AnalysisTimestamp) {
			latest = a
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no analysis for %s/%s: %w", ticker, timeframe, database.ErrNotFound)
	}
	return latest, nil
}

func (m *mockStore) ListAnalyses(_ context.Context, ticker string, _ time.Time, _ int) ([]database.Analysis, error) {
	var out []database.Analysis
	for _, a := range m.analyses {
		if a.Ticker == ticker {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) InsertTrade(_ context.Context, t *database.Trade) error {
	for _, existing := range m.trades {
		if existing.Ticker == t.Ticker && existing.Timeframe == t.Timeframe && !existing.IsClosed() {
			return fmt.Errorf("%s/%s: %w", t.Ticker, t.Timeframe, database.ErrDuplicateActiveTrade)
		}
	}
	m.nextID++
	t.ID = m.nextID
	if t.Status == "" {
		t.Status = database.TradeStatusWaiting
	}
	now := m.tick()
	t.CreatedAt = now
	t.UpdatedAt = now
	copied := *t
	m.trades[t.ID] = &copied
	m.updates = append(m.updates, database.TradeUpdate{
		TradeID: t.ID, Timestamp: now, UpdateType: database.UpdateTradeCreated,
	})
	return nil
}

func (m *mockStore) GetTrade(_ context.Context, id int64) (*database.Trade, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %d: %w", id, database.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (m *mockStore) GetOpenTrade(_ context.Context, ticker string, timeframe database.Timeframe) (*database.Trade, error) {
	for _, t := range m.trades {
		if t.Ticker == ticker && t.Timeframe == timeframe && !t.IsClosed() {
			copied := *t
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("no open trade for %s/%s: %w", ticker, timeframe, database.ErrNotFound)
}

func (m *mockStore) ListOpenTrades(_ context.Context) ([]database.Trade, error) {
	var out []database.Trade
	for _, t := range m.trades {
		if !t.IsClosed() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) ListOrphanedTrades(_ context.Context) ([]database.Trade, error) {
	var out []database.Trade
	for _, t := range m.trades {
		if t.IsClosed() {
			continue
		}
		if _, ok := m.analyses[t.AnalysisID]; !ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateTradeFields(_ context.Context, id int64, patch database.TradePatch) error {
	t, ok := m.trades[id]
	if !ok {
		return fmt.Errorf("trade %d: %w", id, database.ErrNotFound)
	}
	if !t.UpdatedAt.Equal(patch.ExpectedUpdatedAt) {
		return fmt.Errorf("trade %d: %w", id, database.ErrStaleUpdate)
	}
	if patch.TargetPrice != nil {
		t.TargetPrice = *patch.TargetPrice
	}
	if patch.StopLoss != nil {
		t.StopLoss = *patch.StopLoss
	}
	if patch.CurrentPrice != nil {
		t.CurrentPrice = patch.CurrentPrice
	}
	if patch.UnrealizedPnL != nil {
		t.UnrealizedPnL = patch.UnrealizedPnL
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	if patch.TriggerHitTime != nil {
		t.TriggerHitTime = patch.TriggerHitTime
	}
	if patch.TriggerHitPrice != nil {
		t.TriggerHitPrice = patch.TriggerHitPrice
	}
	t.UpdatedAt = m.tick()
	return nil
}

func (m *mockStore) CloseTrade(_ context.Context, id int64, closePrice float64, status database.TradeStatus, reason string, details json.RawMessage) error {
	if !status.IsClosed() {
		return fmt.Errorf("%w: %q is not terminal", database.ErrValidation, status)
	}
	t, ok := m.trades[id]
	if !ok {
		return fmt.Errorf("trade %d: %w", id, database.ErrNotFound)
	}
	if t.IsClosed() {
		return fmt.Errorf("trade %d already closed: %w", id, database.ErrValidation)
	}

	realized := closePrice - t.EntryPrice
	if t.Action == "sell" {
		realized = t.EntryPrice - closePrice
	}
	now := m.tick()
	t.Status = status
	t.ClosePrice = &closePrice
	t.CurrentPrice = &closePrice
	t.CloseTime = &now
	t.CloseReason = &reason
	t.CloseDetails = details
	t.RealizedPnL = &realized
	t.UpdatedAt = now
	m.updates = append(m.updates, database.TradeUpdate{
		TradeID: id, Timestamp: now, UpdateType: database.UpdateStatusChange, Notes: reason,
	})
	return nil
}

func (m *mockStore) InsertTradeUpdate(_ context.Context, u *database.TradeUpdate) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = m.tick()
	}
	m.updates = append(m.updates, *u)
	return nil
}

func (m *mockStore) updatesOfType(kind database.UpdateType) []database.TradeUpdate {
	var out []database.TradeUpdate
	for _, u := range m.updates {
		if u.UpdateType == kind {
			out = append(out, u)
		}
	}
	return out
}

type mockCandles struct {
	byCoin map[string][]exchange.Candle
	err    error
}

func (m *mockCandles) Candles(_ context.Context, coin, _ string, _ int64) ([]exchange.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byCoin[coin], nil
}

type mockPermission struct {
	permission database.TradePermission
	known      bool
}

func (m *mockPermission) TradePermission(context.Context) (database.TradePermission, bool) {
	return m.permission, m.known
}

func newTestEngine(store *mockStore, candles *mockCandles, perm *mockPermission) *Engine {
	if candles == nil {
		candles = &mockCandles{byCoin: map[string][]exchange.Candle{}}
	}
	if perm == nil {
		perm = &mockPermission{permission: database.PermissionSelective, known: true}
	}
	cfg := config.TradesConfig{
		GracePeriod:    5 * time.Minute,
		AnalysisMaxAge: 48 * time.Hour,
		OrphanMode:     "close",
		CheckInterval:  time.Minute,
	}
	e := NewEngine(cfg, store, candles, perm, events.NewBus(), zerolog.Nop())
	e.now = func() time.Time { return store.clock }
	return e
}

func fptr(v float64) *float64 { return &v }

func testCandle(closeTime time.Time, o, h, l, c float64) exchange.Candle {
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return exchange.Candle{
		OpenTime:  closeTime.Add(-time.Hour).UnixMilli(),
		CloseTime: closeTime.UnixMilli(),
		OpenStr:   format(o),
		HighStr:   format(h),
		LowStr:    format(l),
		CloseStr:  format(c),
	}
}

func buyAnalysis(store *mockStore, ticker string, entry, target, stop float64) *database.Analysis {
	return store.addAnalysis(&database.Analysis{
		Ticker:      ticker,
		Timeframe:   database.Timeframe1h,
		Action:      "buy",
		Confidence:  0.8,
		EntryPrice:  fptr(entry),
		TargetPrice: fptr(target),
		StopLoss:    fptr(stop),
		Reasoning:   "pullback to support",
	})
}

// ==================== Trade Creation ====================

func TestCreateTradeFromAnalysis(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	analysis := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	trade, err := e.CreateTradeFromAnalysis(context.Background(), analysis, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade.Status != database.TradeStatusWaiting {
		t.Errorf("status = %q, want waiting", trade.Status)
	}
	if trade.EntryStrategy != strategyPullback {
		t.Errorf("strategy = %q, want pullback", trade.EntryStrategy)
	}
	if trade.AnalysisID != analysis.ID {
		t.Errorf("analysis_id = %d, want %d", trade.AnalysisID, analysis.ID)
	}
}

func TestMaintainBlocksDuplicateCreation(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	first := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	existing, err := e.CreateTradeFromAnalysis(ctx, first, nil)
	if err != nil {
		t.Fatalf("setup trade: %v", err)
	}

	second := buyAnalysis(store, "ETHUSD", 2755, 2830, 2630)
	rec := &llm.Recommendation{
		Action:            "buy",
		EntryPrice:        fptr(2755),
		ContextAssessment: json.RawMessage(`{"previous_position_status": "MAINTAIN"}`),
	}

	_, err = e.CreateTradeFromAnalysis(ctx, second, rec)
	if !errors.Is(err, ErrMaintainBlocked) {
		t.Fatalf("error = %v, want ErrMaintainBlocked", err)
	}

	// Existing trade unchanged except for the audit row
	after, _ := store.GetTrade(ctx, existing.ID)
	if after.EntryPrice != 2750 || after.Status != database.TradeStatusWaiting {
		t.Errorf("existing trade mutated: %+v", after)
	}
	notes := store.updatesOfType(database.UpdateMaintainNote)
	if len(notes) != 1 || notes[0].TradeID != existing.ID {
		t.Errorf("maintain audit rows = %+v, want one for trade %d", notes, existing.ID)
	}
	if count := len(openTrades(store)); count != 1 {
		t.Errorf("open trades = %d, want 1", count)
	}
}

func TestMaintainWithoutOpenTradeDoesNotCreate(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	analysis := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	rec := &llm.Recommendation{
		Action:            "buy",
		EntryPrice:        fptr(2750),
		ContextAssessment: json.RawMessage(`{"previous_position_status": "MAINTAIN"}`),
	}

	trade, err := e.CreateTradeFromAnalysis(context.Background(), analysis, rec)
	if !errors.Is(err, ErrMaintainBlocked) {
		t.Fatalf("error = %v, want ErrMaintainBlocked", err)
	}
	if trade != nil {
		t.Fatalf("got trade %+v, want none", trade)
	}
	if count := len(openTrades(store)); count != 0 {
		t.Errorf("open trades = %d, want 0", count)
	}
	if notes := store.updatesOfType(database.UpdateMaintainNote); len(notes) != 0 {
		t.Errorf("maintain audit rows = %+v, want none", notes)
	}
}

func openTrades(store *mockStore) []database.Trade {
	out, _ := store.ListOpenTrades(context.Background())
	return out
}

func TestDuplicateOpenTradeRefused(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	if _, err := e.CreateTradeFromAnalysis(ctx, buyAnalysis(store, "BTCUSD", 100, 110, 95), nil); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, err := e.CreateTradeFromAnalysis(ctx, buyAnalysis(store, "BTCUSD", 101, 111, 96), nil)
	if !errors.Is(err, database.ErrDuplicateActiveTrade) {
		t.Fatalf("error = %v, want ErrDuplicateActiveTrade", err)
	}
}

func TestNoTradePermissionBlocksCreation(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, &mockPermission{permission: database.PermissionNoTrade, known: true})

	_, err := e.CreateTradeFromAnalysis(context.Background(), buyAnalysis(store, "SOLUSD", 140, 150, 135), nil)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("error = %v, want ErrPermissionDenied", err)
	}
}

func TestMissingVerdictAllowsCreation(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, &mockPermission{known: false})

	trade, err := e.CreateTradeFromAnalysis(context.Background(), buyAnalysis(store, "SOLUSD", 140, 150, 135), nil)
	if err != nil {
		t.Fatalf("missing verdict must not block creation: %v", err)
	}
	if trade == nil {
		t.Fatal("expected a trade")
	}
}

func TestHoldIsNotActionable(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	analysis := store.addAnalysis(&database.Analysis{
		Ticker: "ETHUSD", Timeframe: database.Timeframe1h, Action: "hold",
	})
	_, err := e.CreateTradeFromAnalysis(context.Background(), analysis, nil)
	if !errors.Is(err, ErrNotActionable) {
		t.Fatalf("error = %v, want ErrNotActionable", err)
	}
}

// ==================== Strategy Classification ====================

func TestClassifyStrategy(t *testing.T) {
	cases := []struct {
		reasoning string
		want      string
	}{
		{"expecting a breakout above resistance", strategyBreakout},
		{"wait for a break above 2800", strategyBreakout},
		{"price breaks through the trendline", strategyBreakout},
		{"short on a break below support", strategyBreakout},
		{"pullback to the 50 EMA then continuation", strategyPullback},
		{"buy the dip at support", strategyPullback},
	}
	for _, tc := range cases {
		a := &database.Analysis{Reasoning: tc.reasoning}
		if got := classifyStrategy(a, nil); got != tc.want {
			t.Errorf("classifyStrategy(%q) = %q, want %q", tc.reasoning, got, tc.want)
		}
	}
}

// ==================== AI Decisions on Open Positions ====================

func TestApplyAIDecisionModify(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	analysis := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	trade, _ := e.CreateTradeFromAnalysis(ctx, analysis, nil)

	rec := &llm.Recommendation{
		Action:            "buy",
		TargetPrice:       fptr(2900),
		StopLoss:          fptr(2650),
		ContextAssessment: json.RawMessage(`{"previous_position_status": "MODIFY"}`),
	}
	followUp := buyAnalysis(store, "ETHUSD", 2750, 2900, 2650)

	if _, err := e.ApplyAIDecision(ctx, followUp, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := store.GetTrade(ctx, trade.ID)
	if after.TargetPrice != 2900 || after.StopLoss != 2650 {
		t.Errorf("levels = %f/%f, want 2900/2650", after.TargetPrice, after.StopLoss)
	}
	if after.EntryPrice != 2750 || after.Status != database.TradeStatusWaiting {
		t.Errorf("entry or status changed: %+v", after)
	}
}

func TestApplyAIDecisionClose(t *testing.T) {
	store := newMockStore()
	candles := &mockCandles{byCoin: map[string][]exchange.Candle{
		"ETHUSD": {testCandle(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), 2760, 2770, 2740, 2765)},
	}}
	e := newTestEngine(store, candles, nil)
	ctx := context.Background()

	analysis := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	trade, _ := e.CreateTradeFromAnalysis(ctx, analysis, nil)

	rec := &llm.Recommendation{
		ContextAssessment: json.RawMessage(`{"previous_position_status": "CLOSE"}`),
	}
	out, err := e.ApplyAIDecision(ctx, buyAnalysis(store, "ETHUSD", 2760, 2830, 2630), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != nil {
		t.Errorf("expected no surviving trade, got %+v", out)
	}

	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusAIClosed {
		t.Errorf("status = %q, want ai_closed", after.Status)
	}
	if after.ClosePrice == nil || *after.ClosePrice != 2765 {
		t.Errorf("close price = %v, want latest candle close 2765", after.ClosePrice)
	}
	if after.CurrentPrice == nil || *after.CurrentPrice != *after.ClosePrice {
		t.Errorf("current_price = %v, want equal to close_price", after.CurrentPrice)
	}
}

func TestApplyAIDecisionReplace(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	first := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	old, _ := e.CreateTradeFromAnalysis(ctx, first, nil)

	rec := &llm.Recommendation{
		Action:            "buy",
		ContextAssessment: json.RawMessage(`{"previous_position_status": "REPLACE"}`),
	}
	replacement := buyAnalysis(store, "ETHUSD", 2800, 2900, 2700)
	created, err := e.ApplyAIDecision(ctx, replacement, rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closed, _ := store.GetTrade(ctx, old.ID)
	if closed.Status != database.TradeStatusAIClosed {
		t.Errorf("old status = %q, want ai_closed", closed.Status)
	}
	if created == nil || created.EntryPrice != 2800 || created.Status != database.TradeStatusWaiting {
		t.Errorf("replacement = %+v, want waiting trade at 2800", created)
	}
}

func TestApplyAIDecisionNoOpenTradeCreates(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	analysis := buyAnalysis(store, "BTCUSD", 100, 110, 95)
	trade, err := e.ApplyAIDecision(context.Background(), analysis, &llm.Recommendation{Action: "buy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trade == nil || trade.Status != database.TradeStatusWaiting {
		t.Errorf("trade = %+v, want a waiting trade", trade)
	}
}

// ==================== User Close & Orphans ====================

func TestCloseByTicker(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	trade, _ := e.CreateTradeFromAnalysis(ctx, buyAnalysis(store, "SOLUSD", 144.5, 152, 140), nil)

	closed, err := e.CloseByTicker(ctx, "solusd", 146, "taking profit early")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(closed) != 1 || closed[0] != trade.ID {
		t.Fatalf("closed = %v, want [%d]", closed, trade.ID)
	}

	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusUserClosed {
		t.Errorf("status = %q, want user_closed", after.Status)
	}
	if after.RealizedPnL == nil || *after.RealizedPnL != 1.5 {
		t.Errorf("realized pnl = %v, want 1.5", after.RealizedPnL)
	}
}

func TestCloseByTickerNotFound(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)

	_, err := e.CloseByTicker(context.Background(), "BTCUSD", 0, "")
	if !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestReconcileOrphans(t *testing.T) {
	store := newMockStore()
	e := newTestEngine(store, nil, nil)
	ctx := context.Background()

	analysis := buyAnalysis(store, "ETHUSD", 2750, 2820, 2620)
	trade, _ := e.CreateTradeFromAnalysis(ctx, analysis, nil)

	// Simulate a deleted parent analysis
	delete(store.analyses, analysis.ID)

	handled, err := e.ReconcileOrphans(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled != 1 {
		t.Fatalf("handled = %d, want 1", handled)
	}

	after, _ := store.GetTrade(ctx, trade.ID)
	if after.Status != database.TradeStatusAIClosed {
		t.Errorf("orphan status = %q, want ai_closed", after.Status)
	}
	if rows := store.updatesOfType(database.UpdateOrphanCleanup); len(rows) != 1 {
		t.Errorf("orphan audit rows = %d, want 1", len(rows))
	}
}
