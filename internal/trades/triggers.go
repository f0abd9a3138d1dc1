package trades

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trading-analytics/internal/database"
	"trading-analytics/internal/exchange"
)

// exchangeInterval maps a timeframe to the exchange candle interval
func exchangeInterval(tf database.Timeframe) string {
	switch tf {
	case database.Timeframe1D:
		return "1d"
	case database.Timeframe1W:
		return "1w"
	default:
		return string(tf)
	}
}

// timeframeDuration returns one candle's duration for a timeframe
func timeframeDuration(tf database.Timeframe) time.Duration {
	switch tf {
	case database.Timeframe1m:
		return time.Minute
	case database.Timeframe5m:
		return 5 * time.Minute
	case database.Timeframe15m:
		return 15 * time.Minute
	case database.Timeframe30m:
		return 30 * time.Minute
	case database.Timeframe1h:
		return time.Hour
	case database.Timeframe4h:
		return 4 * time.Hour
	case database.Timeframe1D:
		return 24 * time.Hour
	case database.Timeframe1W:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// CheckTriggers runs one monitoring pass over all open trades
func (e *Engine) CheckTriggers(ctx context.Context) error {
	open, err := e.store.ListOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("check triggers: %w", err)
	}

	var firstErr error
	for i := range open {
		if err := e.checkTrade(ctx, &open[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) checkTrade(ctx context.Context, t *database.Trade) error {
	unlock := e.locks.Lock(tradeKey(t.Ticker, t.Timeframe))
	defer unlock()

	// Re-read under the lock; another path may have closed it
	current, err := e.store.GetTrade(ctx, t.ID)
	if err != nil {
		return err
	}
	if current.IsClosed() {
		return nil
	}
	t = current

	since := t.CreatedAt
	if t.Status == database.TradeStatusActive && t.TriggerHitTime != nil {
		since = *t.TriggerHitTime
	}
	startMs := since.Add(-timeframeDuration(t.Timeframe)).UnixMilli()

	candles, err := e.candles.Candles(ctx, t.Ticker, exchangeInterval(t.Timeframe), startMs)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", t.Ticker).Msg("candle fetch failed, skipping trade")
		return err
	}
	if len(candles) == 0 {
		return nil
	}

	wasActive := t.Status == database.TradeStatusActive
	inGrace := e.now().Sub(t.CreatedAt) < e.cfg.GracePeriod

	for i := range candles {
		candle := &candles[i]
		// Candles from before the trade existed never count
		if candle.CloseTime < t.CreatedAt.UnixMilli() {
			continue
		}

		if t.Status == database.TradeStatusWaiting {
			if hit, price := entryTriggered(t, candle); hit {
				if err := e.activate(ctx, t, candle, price); err != nil {
					return err
				}
			}
			continue
		}

		// Exit checks are suppressed during the post-creation grace
		// window, except for trades that were already active before
		// this pass.
		if inGrace && !wasActive {
			continue
		}
		closed, err := e.checkExit(ctx, t, candle)
		if err != nil {
			return err
		}
		if closed {
			return nil
		}
	}

	return e.recordPriceTick(ctx, t, &candles[len(candles)-1])
}

// entryTriggered applies the entry trigger table. Pullback entries
// wait for price to come back to the level and fill at the entry;
// breakout entries fill at the candle extreme that pushed through.
// The returned price is what gets recorded as the trigger hit price,
// so a pullback's recorded hit is the entry level itself, not the
// candle extreme that reached it.
func entryTriggered(t *database.Trade, c *exchange.Candle) (bool, float64) {
	if t.Action == "buy" {
		if t.EntryStrategy == strategyBreakout {
			return c.High() >= t.EntryPrice, c.High()
		}
		return c.Low() <= t.EntryPrice, t.EntryPrice
	}
	if t.EntryStrategy == strategyBreakout {
		return c.Low() <= t.EntryPrice, c.Low()
	}
	return c.High() >= t.EntryPrice, t.EntryPrice
}

func (e *Engine) activate(ctx context.Context, t *database.Trade, c *exchange.Candle, hitPrice float64) error {
	hitTime := c.Timestamp()
	status := database.TradeStatusActive
	patch := database.TradePatch{
		Status:            &status,
		TriggerHitTime:    &hitTime,
		TriggerHitPrice:   &hitPrice,
		CurrentPrice:      &hitPrice,
		ExpectedUpdatedAt: t.UpdatedAt,
	}
	if err := e.store.UpdateTradeFields(ctx, t.ID, patch); err != nil {
		return err
	}

	t.Status = status
	t.TriggerHitTime = &hitTime
	t.TriggerHitPrice = &hitPrice
	// Reload for the fresh updated_at so later patches in this pass
	// pass the CAS check
	if fresh, err := e.store.GetTrade(ctx, t.ID); err == nil {
		*t = *fresh
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"candle_time": c.OpenTime,
		"high":        c.High(),
		"low":         c.Low(),
	})
	e.audit(ctx, &database.TradeUpdate{
		TradeID:    t.ID,
		Price:      &hitPrice,
		UpdateType: database.UpdateTriggerHit,
		Payload:    payload,
		Notes:      fmt.Sprintf("entry triggered at %.6g (%s)", hitPrice, t.EntryStrategy),
	})

	e.log.Info().
		Str("ticker", t.Ticker).
		Str("timeframe", string(t.Timeframe)).
		Float64("entry", hitPrice).
		Msg("trade triggered")
	e.bus.PublishTradeTriggered(t.Ticker, string(t.Timeframe), hitPrice)
	return nil
}

// checkExit applies the exit table to one candle. When both levels
// fall inside the candle range the exit closer to the candle open
// wins, and an exact tie resolves to the stop.
func (e *Engine) checkExit(ctx context.Context, t *database.Trade, c *exchange.Candle) (bool, error) {
	var hitTarget, hitStop bool
	if t.Action == "buy" {
		hitTarget = c.High() >= t.TargetPrice
		hitStop = c.Low() <= t.StopLoss
	} else {
		hitTarget = c.Low() <= t.TargetPrice
		hitStop = c.High() >= t.StopLoss
	}
	if !hitTarget && !hitStop {
		return false, nil
	}

	status := database.TradeStatusProfitHit
	closePrice := t.TargetPrice
	reason := "target reached"
	if hitStop && !hitTarget {
		status = database.TradeStatusStopHit
		closePrice = t.StopLoss
		reason = "stop loss hit"
	} else if hitTarget && hitStop {
		distTarget := abs(c.Open() - t.TargetPrice)
		distStop := abs(c.Open() - t.StopLoss)
		if distStop <= distTarget {
			status = database.TradeStatusStopHit
			closePrice = t.StopLoss
			reason = "stop loss hit (ambiguous candle)"
		} else {
			reason = "target reached (ambiguous candle)"
		}
	}

	details, _ := json.Marshal(map[string]interface{}{
		"candle_time": c.OpenTime,
		"open":        c.Open(),
		"high":        c.High(),
		"low":         c.Low(),
		"hit_target":  hitTarget,
		"hit_stop":    hitStop,
	})
	if err := e.store.CloseTrade(ctx, t.ID, closePrice, status, reason, details); err != nil {
		return false, err
	}

	e.log.Info().
		Str("ticker", t.Ticker).
		Str("timeframe", string(t.Timeframe)).
		Str("status", string(status)).
		Float64("close_price", closePrice).
		Msg("trade closed by trigger")
	e.publishClosed(t, reason, closePrice)
	return true, nil
}

// recordPriceTick refreshes current price and unrealized pnl for a
// still-open trade
func (e *Engine) recordPriceTick(ctx context.Context, t *database.Trade, c *exchange.Candle) error {
	price := c.Close()
	if price <= 0 {
		return nil
	}
	patch := database.TradePatch{
		CurrentPrice:      &price,
		ExpectedUpdatedAt: t.UpdatedAt,
	}
	if t.Status == database.TradeStatusActive {
		unrealized := price - t.EntryPrice
		if t.Action == "sell" {
			unrealized = t.EntryPrice - price
		}
		patch.UnrealizedPnL = &unrealized
	}
	if err := e.store.UpdateTradeFields(ctx, t.ID, patch); err != nil {
		// A concurrent writer won the race; the next pass catches up
		e.log.Debug().Err(err).Int64("trade_id", t.ID).Msg("price tick skipped")
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
