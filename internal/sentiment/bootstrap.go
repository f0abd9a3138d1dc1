package sentiment

import (
	"context"
	"fmt"
	"time"

	"trading-analytics/internal/database"
)

// Bootstrap backfills the snapshot history from the provider's
// historical endpoints. It runs once; a completed bootstrap is
// recorded in system state and never repeated. Partial backfills
// below the target leave bootstrap_completed false so the next start
// retries.
func (e *Engine) Bootstrap(ctx context.Context) error {
	state, err := e.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if state.BootstrapCompleted {
		e.log.Info().Int("points", state.BootstrapDataPoints).Msg("bootstrap already completed, skipping")
		return nil
	}

	days := e.cfg.BootstrapDays
	if days <= 0 {
		days = 90
	}
	target := e.cfg.BootstrapTarget
	if target <= 0 {
		target = 80
	}

	to := e.now().UTC()
	from := to.AddDate(0, 0, -days)
	e.log.Info().Time("from", from).Time("to", to).Int("target", target).Msg("starting historical bootstrap")

	inserted, err := e.backfill(ctx, from, to)
	if err != nil {
		reason := err.Error()
		_ = e.store.UpdateSystemState(ctx, database.SystemStatePatch{
			BootstrapFailureReason: &reason,
			BootstrapDataPoints:    &inserted,
		})
		return fmt.Errorf("bootstrap backfill: %w", err)
	}

	completed := inserted >= target
	patch := database.SystemStatePatch{
		BootstrapCompleted:  &completed,
		BootstrapDataPoints: &inserted,
	}
	if !completed {
		reason := fmt.Sprintf("only %d of %d required points backfilled", inserted, target)
		patch.BootstrapFailureReason = &reason
	} else {
		empty := ""
		patch.BootstrapFailureReason = &empty
	}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if !completed {
		e.log.Warn().Int("inserted", inserted).Int("target", target).Msg("bootstrap incomplete, will retry on next start")
		return fmt.Errorf("bootstrap incomplete: %d of %d points", inserted, target)
	}

	e.log.Info().Int("inserted", inserted).Msg("bootstrap completed")
	return nil
}

// backfill fetches the three historical series, joins them by day and
// persists the resulting snapshots. Days missing from any series are
// skipped, not fabricated.
func (e *Engine) backfill(ctx context.Context, from, to time.Time) (int, error) {
	const interval = "1d"

	btcSeries, err := e.market.HistoricalQuotes(ctx, "BTC", from, to, interval)
	if err != nil {
		return 0, fmt.Errorf("btc history: %w", err)
	}
	ethSeries, err := e.market.HistoricalQuotes(ctx, "ETH", from, to, interval)
	if err != nil {
		return 0, fmt.Errorf("eth history: %w", err)
	}
	globalSeries, err := e.market.HistoricalGlobalMetrics(ctx, from, to, interval)
	if err != nil {
		return 0, fmt.Errorf("global history: %w", err)
	}

	ethByDay := make(map[string]int, len(ethSeries))
	for i, p := range ethSeries {
		ethByDay[dayKey(p.Timestamp)] = i
	}
	globalByDay := make(map[string]int, len(globalSeries))
	for i, p := range globalSeries {
		globalByDay[dayKey(p.Timestamp)] = i
	}

	inserted := 0
	for _, btc := range btcSeries {
		key := dayKey(btc.Timestamp)
		ethIdx, ok := ethByDay[key]
		if !ok {
			continue
		}
		globalIdx, ok := globalByDay[key]
		if !ok {
			continue
		}
		eth := ethSeries[ethIdx]
		global := globalSeries[globalIdx]

		snapshot := &database.MarketSnapshot{
			Timestamp:        btc.Timestamp.UTC(),
			BTCPrice:         btc.Price,
			ETHPrice:         eth.Price,
			BTCMarketCap:     btc.MarketCap,
			ETHMarketCap:     eth.MarketCap,
			TotalMarketCap:   global.TotalMarketCap,
			BTCDominance:     global.BTCDominance,
			DataSource:       "bootstrap_historical",
			DataQualityScore: 0.8,
		}
		snapshot.AltStrengthRatio = snapshot.ComputeAltStrength()

		if err := e.store.InsertSnapshot(ctx, snapshot); err != nil {
			e.log.Warn().Err(err).Time("day", btc.Timestamp).Msg("skipping invalid bootstrap point")
			continue
		}
		inserted++
	}
	return inserted, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
