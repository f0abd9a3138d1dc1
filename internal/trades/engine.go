// Package trades runs the active-trade lifecycle engine: creating
// trades from analyses, applying AI decisions to open positions,
// monitoring triggers against exchange candles, and reconciling
// orphaned trades.
package trades

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
	"trading-analytics/internal/events"
	"trading-analytics/internal/exchange"
)

// ErrMaintainBlocked is returned when the analysis explicitly says to
// keep the existing open position unchanged
var ErrMaintainBlocked = errors.New("analysis maintains the open position")

// ErrPermissionDenied is returned when the macro permission gate
// forbids new trades
var ErrPermissionDenied = errors.New("trade creation blocked by trade permission")

// ErrNotActionable is returned when the analysis carries no tradeable
// recommendation
var ErrNotActionable = errors.New("analysis is not actionable")

// breakoutPattern classifies an entry as a breakout rather than a
// traditional pullback entry
var breakoutPattern = regexp.MustCompile(`(?i)breakout|break above|break below|breaks? through`)

const (
	strategyPullback = "pullback"
	strategyBreakout = "breakout"
)

// Store is the persistence surface the engine needs
type Store interface {
	LatestAnalysis(ctx context.Context, ticker string, timeframe database.Timeframe) (*database.Analysis, error)
	ListAnalyses(ctx context.Context, ticker string, since time.Time, limit int) ([]database.Analysis, error)
	InsertTrade(ctx context.Context, t *database.Trade) error
	GetTrade(ctx context.Context, id int64) (*database.Trade, error)
	GetOpenTrade(ctx context.Context, ticker string, timeframe database.Timeframe) (*database.Trade, error)
	ListOpenTrades(ctx context.Context) ([]database.Trade, error)
	ListOrphanedTrades(ctx context.Context) ([]database.Trade, error)
	UpdateTradeFields(ctx context.Context, id int64, patch database.TradePatch) error
	CloseTrade(ctx context.Context, id int64, closePrice float64, status database.TradeStatus, reason string, details json.RawMessage) error
	InsertTradeUpdate(ctx context.Context, u *database.TradeUpdate) error
}

// CandleSource provides exchange OHLC data for trigger checks
type CandleSource interface {
	Candles(ctx context.Context, coin, interval string, startMs int64) ([]exchange.Candle, error)
}

// PermissionSource is the macro sentiment gate
type PermissionSource interface {
	TradePermission(ctx context.Context) (database.TradePermission, bool)
}

// Engine is the trade lifecycle engine
type Engine struct {
	cfg        config.TradesConfig
	store      Store
	candles    CandleSource
	permission PermissionSource
	bus        *events.Bus
	locks      *keyedLocks
	log        zerolog.Logger

	now func() time.Time
}

// NewEngine wires the trade lifecycle engine
func NewEngine(cfg config.TradesConfig, store Store, candles CandleSource,
	permission PermissionSource, bus *events.Bus, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		candles:    candles,
		permission: permission,
		bus:        bus,
		locks:      newKeyedLocks(),
		log:        logger.With().Str("component", "trades").Logger(),
		now:        time.Now,
	}
}

func tradeKey(ticker string, timeframe database.Timeframe) string {
	return ticker + "/" + string(timeframe)
}

// CreateTradeFromAnalysis derives a waiting trade from an actionable
// analysis. The checks run in a fixed order: the MAINTAIN guard comes
// first so a maintain verdict never reaches the duplicate check, then
// actionability, then the open-trade guard, then the macro permission
// gate.
func (e *Engine) CreateTradeFromAnalysis(ctx context.Context, analysis *database.Analysis, rec *llm.Recommendation) (*database.Trade, error) {
	unlock := e.locks.Lock(tradeKey(analysis.Ticker, analysis.Timeframe))
	defer unlock()
	return e.createLocked(ctx, analysis, rec)
}

func (e *Engine) createLocked(ctx context.Context, analysis *database.Analysis, rec *llm.Recommendation) (*database.Trade, error) {
	// A MAINTAIN verdict never creates a trade, even when the
	// position it refers to is already gone. When one is still open
	// the refusal is recorded against it.
	if rec != nil && rec.PositionStatus() == "MAINTAIN" {
		if open, err := e.store.GetOpenTrade(ctx, analysis.Ticker, analysis.Timeframe); err == nil {
			e.auditNote(ctx, open.ID, database.UpdateMaintainNote,
				fmt.Sprintf("analysis %d maintains position", analysis.ID))
		}
		return nil, fmt.Errorf("%s/%s: %w", analysis.Ticker, analysis.Timeframe, ErrMaintainBlocked)
	}

	action := strings.ToLower(strings.TrimSpace(analysis.Action))
	if action != "buy" && action != "sell" {
		return nil, fmt.Errorf("action %q: %w", analysis.Action, ErrNotActionable)
	}
	if analysis.EntryPrice == nil || analysis.TargetPrice == nil || analysis.StopLoss == nil {
		return nil, fmt.Errorf("missing entry, target or stop: %w", ErrNotActionable)
	}

	if _, err := e.store.GetOpenTrade(ctx, analysis.Ticker, analysis.Timeframe); err == nil {
		return nil, fmt.Errorf("%s/%s: %w", analysis.Ticker, analysis.Timeframe, database.ErrDuplicateActiveTrade)
	}

	permission, known := e.permission.TradePermission(ctx)
	if known && permission == database.PermissionNoTrade {
		return nil, fmt.Errorf("%s/%s: %w", analysis.Ticker, analysis.Timeframe, ErrPermissionDenied)
	}
	if !known {
		e.log.Warn().Str("ticker", analysis.Ticker).Msg("no sentiment verdict available, allowing trade creation")
	}

	trade := &database.Trade{
		AnalysisID:    analysis.ID,
		Ticker:        analysis.Ticker,
		Timeframe:     analysis.Timeframe,
		Action:        action,
		EntryPrice:    *analysis.EntryPrice,
		TargetPrice:   *analysis.TargetPrice,
		StopLoss:      *analysis.StopLoss,
		EntryStrategy: classifyStrategy(analysis, rec),
		Status:        database.TradeStatusWaiting,
	}
	trade.EntryCondition = fmt.Sprintf("%s entry at %.6g (%s)", action, trade.EntryPrice, trade.EntryStrategy)

	if snap, err := json.Marshal(analysis); err == nil {
		trade.OriginalAnalysisSnapshot = snap
	}
	if rec != nil && len(rec.ContextAssessment) > 0 {
		trade.OriginalContextSnapshot = rec.ContextAssessment
	}

	if err := e.store.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("ticker", trade.Ticker).
		Str("timeframe", string(trade.Timeframe)).
		Str("action", trade.Action).
		Str("strategy", trade.EntryStrategy).
		Float64("entry", trade.EntryPrice).
		Msg("trade created")
	e.bus.PublishTradeCreated(trade.Ticker, string(trade.Timeframe), trade.Action, trade.EntryPrice)
	return trade, nil
}

// classifyStrategy decides between a pullback and a breakout entry
// from the analysis language
func classifyStrategy(analysis *database.Analysis, rec *llm.Recommendation) string {
	var parts []string
	parts = append(parts, analysis.Reasoning)
	if len(analysis.DetailedAnalysis) > 0 {
		parts = append(parts, string(analysis.DetailedAnalysis))
	}
	if rec != nil {
		parts = append(parts, rec.Reasoning)
		if len(rec.DetailedAnalysis) > 0 {
			parts = append(parts, string(rec.DetailedAnalysis))
		}
	}
	if breakoutPattern.MatchString(strings.Join(parts, " ")) {
		return strategyBreakout
	}
	return strategyPullback
}

// ApplyAIDecision applies the position directive of a fresh analysis
// to an existing open trade, or creates a new trade when none exists.
func (e *Engine) ApplyAIDecision(ctx context.Context, analysis *database.Analysis, rec *llm.Recommendation) (*database.Trade, error) {
	unlock := e.locks.Lock(tradeKey(analysis.Ticker, analysis.Timeframe))
	defer unlock()

	open, err := e.store.GetOpenTrade(ctx, analysis.Ticker, analysis.Timeframe)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return e.createLocked(ctx, analysis, rec)
		}
		return nil, err
	}

	status := ""
	if rec != nil {
		status = rec.PositionStatus()
	}

	switch status {
	case "MODIFY":
		return open, e.modifyFromRecommendation(ctx, open, analysis, rec)
	case "CLOSE":
		price := e.referencePrice(ctx, open)
		details, _ := json.Marshal(map[string]interface{}{
			"analysis_id": analysis.ID,
			"directive":   "CLOSE",
		})
		if err := e.store.CloseTrade(ctx, open.ID, price, database.TradeStatusAIClosed, "ai directive", details); err != nil {
			return nil, err
		}
		e.publishClosed(open, "ai directive", price)
		return nil, nil
	case "REPLACE":
		price := e.referencePrice(ctx, open)
		details, _ := json.Marshal(map[string]interface{}{
			"analysis_id": analysis.ID,
			"directive":   "REPLACE",
		})
		if err := e.store.CloseTrade(ctx, open.ID, price, database.TradeStatusAIClosed, "replaced by new analysis", details); err != nil {
			return nil, err
		}
		e.publishClosed(open, "replaced by new analysis", price)
		return e.createLocked(ctx, analysis, rec)
	default:
		// MAINTAIN, missing or unrecognized: leave the position alone
		e.auditNote(ctx, open.ID, database.UpdateMaintainNote,
			fmt.Sprintf("analysis %d: position unchanged (directive %q)", analysis.ID, status))
		return open, nil
	}
}

func (e *Engine) modifyFromRecommendation(ctx context.Context, open *database.Trade, analysis *database.Analysis, rec *llm.Recommendation) error {
	patch := database.TradePatch{ExpectedUpdatedAt: open.UpdatedAt}
	changed := false
	if rec.TargetPrice != nil && *rec.TargetPrice != open.TargetPrice {
		patch.TargetPrice = rec.TargetPrice
		changed = true
	}
	if rec.StopLoss != nil && *rec.StopLoss != open.StopLoss {
		patch.StopLoss = rec.StopLoss
		changed = true
	}
	if !changed {
		e.auditNote(ctx, open.ID, database.UpdateMaintainNote,
			fmt.Sprintf("analysis %d: MODIFY with no level changes", analysis.ID))
		return nil
	}

	if err := e.store.UpdateTradeFields(ctx, open.ID, patch); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"analysis_id": analysis.ID,
		"target":      rec.TargetPrice,
		"stop":        rec.StopLoss,
	})
	e.audit(ctx, &database.TradeUpdate{
		TradeID:    open.ID,
		UpdateType: database.UpdateModify,
		Payload:    payload,
		Notes:      fmt.Sprintf("levels modified by analysis %d", analysis.ID),
	})
	e.bus.Publish(events.Event{
		Type: events.EventTradeModified,
		Data: map[string]interface{}{
			"ticker":    open.Ticker,
			"timeframe": string(open.Timeframe),
		},
	})
	return nil
}

// CloseByTicker closes every open trade for a ticker as user_closed.
// Returns the ids closed, or ErrNotFound when no open trade exists.
func (e *Engine) CloseByTicker(ctx context.Context, ticker string, closePrice float64, note string) ([]int64, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	open, err := e.store.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}

	var matched []database.Trade
	for _, t := range open {
		if t.Ticker == ticker {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no open trade for %s: %w", ticker, database.ErrNotFound)
	}

	reason := note
	if reason == "" {
		reason = "closed by user"
	}

	keys := make([]string, 0, len(matched))
	for i := range matched {
		keys = append(keys, tradeKey(matched[i].Ticker, matched[i].Timeframe))
	}
	unlock := e.locks.LockAll(keys)
	defer unlock()

	var closed []int64
	for i := range matched {
		t := &matched[i]
		price := closePrice
		if price <= 0 {
			price = e.referencePrice(ctx, t)
		}
		if err := e.store.CloseTrade(ctx, t.ID, price, database.TradeStatusUserClosed, reason, nil); err != nil {
			return closed, err
		}
		e.publishClosed(t, reason, price)
		closed = append(closed, t.ID)
	}
	return closed, nil
}

// ReconcileOrphans handles open trades whose parent analysis was
// deleted. In close mode orphans are closed at the reference price; in
// recreate mode a minimal replacement analysis is written first by the
// caller, so the engine only closes here.
func (e *Engine) ReconcileOrphans(ctx context.Context) (int, error) {
	orphans, err := e.store.ListOrphanedTrades(ctx)
	if err != nil {
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	handled := 0
	for i := range orphans {
		t := &orphans[i]
		unlock := e.locks.Lock(tradeKey(t.Ticker, t.Timeframe))
		price := e.referencePrice(ctx, t)
		details, _ := json.Marshal(map[string]interface{}{
			"analysis_id": t.AnalysisID,
			"mode":        e.cfg.OrphanMode,
		})
		err := e.store.CloseTrade(ctx, t.ID, price, database.TradeStatusAIClosed, "orphaned: analysis deleted", details)
		if err == nil {
			e.auditNote(ctx, t.ID, database.UpdateOrphanCleanup,
				fmt.Sprintf("closed orphaned trade, analysis %d missing", t.AnalysisID))
			e.publishClosed(t, "orphaned", price)
			handled++
		} else {
			e.log.Error().Err(err).Int64("trade_id", t.ID).Msg("failed to close orphaned trade")
		}
		unlock()
	}
	return handled, nil
}

// referencePrice returns the best known current price for a trade:
// latest candle close, then last recorded price, then entry.
func (e *Engine) referencePrice(ctx context.Context, t *database.Trade) float64 {
	start := e.now().Add(-2 * timeframeDuration(t.Timeframe)).UnixMilli()
	if candles, err := e.candles.Candles(ctx, t.Ticker, exchangeInterval(t.Timeframe), start); err == nil && len(candles) > 0 {
		if px := candles[len(candles)-1].Close(); px > 0 {
			return px
		}
	}
	if t.CurrentPrice != nil && *t.CurrentPrice > 0 {
		return *t.CurrentPrice
	}
	return t.EntryPrice
}

func (e *Engine) publishClosed(t *database.Trade, reason string, closePrice float64) {
	realized := closePrice - t.EntryPrice
	if t.Action == "sell" {
		realized = t.EntryPrice - closePrice
	}
	e.bus.PublishTradeClosed(t.Ticker, string(t.Timeframe), reason, closePrice, realized)
}

func (e *Engine) audit(ctx context.Context, u *database.TradeUpdate) {
	if err := e.store.InsertTradeUpdate(ctx, u); err != nil {
		e.log.Error().Err(err).Int64("trade_id", u.TradeID).Msg("failed to write audit entry")
	}
}

func (e *Engine) auditNote(ctx context.Context, tradeID int64, kind database.UpdateType, note string) {
	e.audit(ctx, &database.TradeUpdate{TradeID: tradeID, UpdateType: kind, Notes: note})
}
