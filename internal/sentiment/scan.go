package sentiment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"trading-analytics/internal/database"
)

// Scan performs one snapshot ingest: latest quotes plus global
// metrics, one shared timestamp, validated before persist. A scan
// that keeps producing invalid data after the configured retries
// fails without writing anything.
func (e *Engine) Scan(ctx context.Context) error {
	scanID := uuid.NewString()
	log := e.log.With().Str("scan_id", scanID).Logger()

	state, err := e.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if state.SystemStatus == database.SystemStatusHalted {
		log.Warn().Msg("engine halted, skipping scan")
		return nil
	}

	retries := e.cfg.SnapshotRetries
	if retries <= 0 {
		retries = 3
	}

	var snapshot *database.MarketSnapshot
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		snapshot, lastErr = e.fetchSnapshot(ctx)
		if lastErr == nil {
			break
		}
		log.Warn().Err(lastErr).Int("attempt", attempt).Msg("snapshot fetch failed")
	}

	if lastErr != nil {
		e.recordScanFailure(ctx, state, scanID, lastErr)
		return fmt.Errorf("scan %s: %w", scanID, lastErr)
	}

	if err := e.store.InsertSnapshot(ctx, snapshot); err != nil {
		e.recordScanFailure(ctx, state, scanID, err)
		return fmt.Errorf("scan %s: %w", scanID, err)
	}
	_ = e.cache.SetLatestSnapshot(ctx, snapshot)

	now := e.now().UTC()
	zero := 0
	patch := database.SystemStatePatch{
		LastSuccessfulScan:  &now,
		ConsecutiveFailures: &zero,
		IncrementScans:      true,
	}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		log.Error().Err(err).Msg("failed to record scan success")
	}
	state.ConsecutiveFailures = 0

	if state.SystemStatus == database.SystemStatusDegraded ||
		(state.SystemStatus == database.SystemStatusInitializing && state.BootstrapCompleted) {
		e.transitionStatus(ctx, state, database.SystemStatusActive)
	}

	log.Info().
		Float64("btc_price", snapshot.BTCPrice).
		Float64("btc_dominance", snapshot.BTCDominance).
		Msg("scan completed")

	analyzed := false
	if e.analysisDue(state) {
		if err := e.Analyze(ctx, false); err != nil {
			log.Warn().Err(err).Msg("post-scan analysis failed")
		} else {
			analyzed = true
		}
	}
	e.bus.PublishScanCompleted(scanID, analyzed)
	return nil
}

// fetchSnapshot builds one snapshot from the latest endpoints only.
// Both calls happen back to back and the snapshot carries a single
// timestamp; historical data never mixes into a current snapshot.
func (e *Engine) fetchSnapshot(ctx context.Context) (*database.MarketSnapshot, error) {
	latest, err := e.market.LatestQuotes(ctx, []string{"BTC", "ETH"})
	if err != nil {
		return nil, fmt.Errorf("latest quotes: %w", err)
	}
	global, err := e.market.GlobalMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("global metrics: %w", err)
	}

	btc := latest["BTC"]
	eth := latest["ETH"]
	snapshot := &database.MarketSnapshot{
		Timestamp:        e.now().UTC(),
		BTCPrice:         btc.Price,
		ETHPrice:         eth.Price,
		BTCMarketCap:     btc.MarketCap,
		ETHMarketCap:     eth.MarketCap,
		TotalMarketCap:   global.TotalMarketCap,
		BTCDominance:     global.BTCDominance,
		DataSource:       "live_scan",
		DataQualityScore: 1.0,
	}
	snapshot.AltStrengthRatio = snapshot.ComputeAltStrength()

	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (e *Engine) recordScanFailure(ctx context.Context, state *database.SystemState, scanID string, cause error) {
	now := e.now().UTC()
	failures := state.ConsecutiveFailures + 1
	patch := database.SystemStatePatch{
		LastFailedScan:      &now,
		ConsecutiveFailures: &failures,
	}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		e.log.Error().Err(err).Msg("failed to record scan failure")
	}
	state.ConsecutiveFailures = failures

	if failures >= degradeThreshold {
		e.transitionStatus(ctx, state, database.SystemStatusDegraded)
	}
	e.bus.PublishScanFailed(scanID, cause)
}

// analysisDue reports whether enough time has passed since the last
// AI analysis
func (e *Engine) analysisDue(state *database.SystemState) bool {
	hours := e.cfg.AnalysisIntervalHours
	if hours <= 0 {
		hours = 4
	}
	if state.LastAnalysisTimestamp == nil {
		return true
	}
	elapsed := e.now().UTC().Sub(state.LastAnalysisTimestamp.UTC()).Hours()
	return elapsed >= hours
}
