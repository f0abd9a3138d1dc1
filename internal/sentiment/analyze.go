package sentiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-analytics/internal/ai/llm"
	"trading-analytics/internal/database"
)

// ErrAnalysisSkipped is returned when an analysis request was
// debounced or another analysis is already in flight
var ErrAnalysisSkipped = errors.New("analysis skipped")

// AnalyzeOptions tunes a single analysis cycle. The zero value runs a
// scheduled cycle with the configured model and the default chart
// window.
type AnalyzeOptions struct {
	Force bool
	Model string
	Days  int
}

// Analyze runs a scheduled analysis cycle; force bypasses the
// interval gate but not the debounce.
func (e *Engine) Analyze(ctx context.Context, force bool) error {
	return e.AnalyzeWith(ctx, AnalyzeOptions{Force: force})
}

// AnalyzeWith renders the snapshot window into charts, sends them to
// the AI and persists the parsed verdict. Requests are debounced and
// single-flight.
func (e *Engine) AnalyzeWith(ctx context.Context, opts AnalyzeOptions) error {
	if !e.debounce.Allow(debounceKey) {
		e.log.Debug().Msg("analysis debounced")
		return ErrAnalysisSkipped
	}
	if !e.analyzeMu.TryLock() {
		e.log.Debug().Msg("analysis already in flight")
		return ErrAnalysisSkipped
	}
	defer e.analyzeMu.Unlock()

	state, err := e.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	if state.SystemStatus == database.SystemStatusHalted {
		return ErrAnalysisSkipped
	}
	if !opts.Force && !e.analysisDue(state) {
		return ErrAnalysisSkipped
	}

	started := e.now()
	verdict, err := e.runAnalysis(ctx, opts)
	if err != nil {
		e.recordAnalysisFailure(ctx, state, err)
		return fmt.Errorf("analyze: %w", err)
	}
	verdict.ProcessingTimeMs = e.now().Sub(started).Milliseconds()

	if err := e.store.InsertVerdict(ctx, verdict); err != nil {
		e.recordAnalysisFailure(ctx, state, err)
		return fmt.Errorf("analyze: persist verdict: %w", err)
	}
	_ = e.cache.SetLatestVerdict(ctx, verdict)

	now := e.now().UTC()
	zero := 0
	patch := database.SystemStatePatch{
		LastAnalysisTimestamp:       &now,
		ConsecutiveAnalysisFailures: &zero,
		IncrementAnalyses:           true,
	}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		e.log.Error().Err(err).Msg("failed to record analysis success")
	}
	state.ConsecutiveAnalysisFailures = 0
	if state.SystemStatus == database.SystemStatusDegraded {
		e.transitionStatus(ctx, state, database.SystemStatusActive)
	}

	e.log.Info().
		Str("regime", string(verdict.MarketRegime)).
		Str("permission", string(verdict.TradePermission)).
		Float64("confidence", verdict.OverallConfidence).
		Int64("processing_ms", verdict.ProcessingTimeMs).
		Msg("verdict updated")

	e.bus.PublishVerdictUpdated(string(verdict.MarketRegime), string(verdict.TradePermission), verdict.OverallConfidence)
	return nil
}

func (e *Engine) runAnalysis(ctx context.Context, opts AnalyzeOptions) (*database.SentimentVerdict, error) {
	window := analysisWindow
	if opts.Days > 0 {
		window = time.Duration(opts.Days) * 24 * time.Hour
	}
	to := e.now().UTC()
	from := to.Add(-window)
	snapshots, err := e.store.RangeSnapshots(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot window: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("no snapshots in window %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	chartSet, err := e.renderer.RenderAll(ctx, snapshots)
	if err != nil {
		return nil, fmt.Errorf("render charts: %w", err)
	}

	newest := snapshots[len(snapshots)-1]
	prompt := llm.BuildSentimentPrompt(llm.SentimentPromptInput{
		BTCPrice:         newest.BTCPrice,
		ETHPrice:         newest.ETHPrice,
		BTCDominance:     newest.BTCDominance,
		TotalMarketCap:   newest.TotalMarketCap,
		AltStrengthRatio: newest.AltStrengthRatio,
		SnapshotCount:    len(snapshots),
		WindowHours:      int(window.Hours()),
	})

	raw, err := e.analyzer.AnalyzeWithImages(ctx, prompt, chartSet.Available(), opts.Model)
	if err != nil {
		return nil, fmt.Errorf("ai call: %w", err)
	}

	parsed, err := llm.ParseVerdict(raw)
	if err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = e.analyzer.Model()
	}

	return &database.SentimentVerdict{
		AnalysisTimestamp: e.now().UTC(),
		OverallConfidence: parsed.OverallConfidence,
		MarketRegime:      database.MarketRegime(parsed.MarketRegime),
		TradePermission:   database.TradePermission(parsed.TradePermission),
		BTCTrend: database.TrendReading{
			Direction: database.TrendDirection(parsed.BTCTrend.Direction),
			Strength:  parsed.BTCTrend.Strength,
		},
		ETHTrend: database.TrendReading{
			Direction: database.TrendDirection(parsed.ETHTrend.Direction),
			Strength:  parsed.ETHTrend.Strength,
		},
		AltTrend: database.TrendReading{
			Direction: database.TrendDirection(parsed.AltTrend.Direction),
			Strength:  parsed.AltTrend.Strength,
		},
		ChartBTC:         chartSet.BTCPrice,
		ChartETH:         chartSet.ETHPrice,
		ChartDominance:   chartSet.Dominance,
		ChartAltStrength: chartSet.AltStrength,
		ChartCombined:    chartSet.Combined,
		ModelUsed:        model,
	}, nil
}

func (e *Engine) recordAnalysisFailure(ctx context.Context, state *database.SystemState, cause error) {
	failures := state.ConsecutiveAnalysisFailures + 1
	patch := database.SystemStatePatch{
		ConsecutiveAnalysisFailures: &failures,
	}
	if err := e.store.UpdateSystemState(ctx, patch); err != nil {
		e.log.Error().Err(err).Msg("failed to record analysis failure")
	}
	state.ConsecutiveAnalysisFailures = failures

	if failures >= degradeThreshold {
		e.transitionStatus(ctx, state, database.SystemStatusDegraded)
	}
	e.log.Error().Err(cause).Int("consecutive_failures", failures).Msg("analysis failed")
	e.bus.PublishError("sentiment", "analysis failed", cause)
}
