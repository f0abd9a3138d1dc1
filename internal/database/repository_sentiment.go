package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertVerdict persists a sentiment verdict (append-only)
func (db *DB) InsertVerdict(ctx context.Context, v *SentimentVerdict) error {
	if v.OverallConfidence < 0 || v.OverallConfidence > 100 {
		return fmt.Errorf("%w: overall_confidence must be in [0,100], got %f", ErrValidation, v.OverallConfidence)
	}
	if !v.MarketRegime.Valid() {
		return fmt.Errorf("%w: invalid market_regime %q", ErrValidation, v.MarketRegime)
	}
	if !v.TradePermission.Valid() {
		return fmt.Errorf("%w: invalid trade_permission %q", ErrValidation, v.TradePermission)
	}

	now := time.Now().UTC()
	if v.AnalysisTimestamp.IsZero() {
		v.AnalysisTimestamp = now
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO sentiment_verdicts (
			analysis_timestamp, overall_confidence, market_regime, trade_permission,
			btc_trend_direction, btc_trend_strength,
			eth_trend_direction, eth_trend_strength,
			alt_trend_direction, alt_trend_strength,
			chart_btc, chart_eth, chart_dominance, chart_alt_strength, chart_combined,
			model_used, processing_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		v.AnalysisTimestamp, v.OverallConfidence, v.MarketRegime, v.TradePermission,
		v.BTCTrend.Direction, v.BTCTrend.Strength,
		v.ETHTrend.Direction, v.ETHTrend.Strength,
		v.AltTrend.Direction, v.AltTrend.Strength,
		v.ChartBTC, v.ChartETH, v.ChartDominance, v.ChartAltStrength, v.ChartCombined,
		v.ModelUsed, v.ProcessingTimeMs, now,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}

	v.CreatedAt = now
	return nil
}

// LatestVerdict returns the most recent verdict without chart bytes
func (db *DB) LatestVerdict(ctx context.Context) (*SentimentVerdict, error) {
	var v SentimentVerdict
	var modelUsed *string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, analysis_timestamp, overall_confidence, market_regime, trade_permission,
			btc_trend_direction, btc_trend_strength,
			eth_trend_direction, eth_trend_strength,
			alt_trend_direction, alt_trend_strength,
			model_used, processing_time_ms, created_at
		FROM sentiment_verdicts
		ORDER BY analysis_timestamp DESC
		LIMIT 1`).Scan(
		&v.ID, &v.AnalysisTimestamp, &v.OverallConfidence, &v.MarketRegime, &v.TradePermission,
		&v.BTCTrend.Direction, &v.BTCTrend.Strength,
		&v.ETHTrend.Direction, &v.ETHTrend.Strength,
		&v.AltTrend.Direction, &v.AltTrend.Strength,
		&modelUsed, &v.ProcessingTimeMs, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no verdicts: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest verdict: %w", err)
	}
	if modelUsed != nil {
		v.ModelUsed = *modelUsed
	}
	return &v, nil
}

// ConfidencePoint is one sample in the confidence history series
type ConfidencePoint struct {
	Timestamp       time.Time       `json:"timestamp"`
	Confidence      float64         `json:"confidence"`
	MarketRegime    MarketRegime    `json:"market_regime"`
	TradePermission TradePermission `json:"trade_permission"`
}

// ConfidenceHistory returns verdict confidence samples since the cutoff
func (db *DB) ConfidenceHistory(ctx context.Context, since time.Time) ([]ConfidencePoint, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT analysis_timestamp, overall_confidence, market_regime, trade_permission
		FROM sentiment_verdicts
		WHERE analysis_timestamp >= $1
		ORDER BY analysis_timestamp ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query confidence history: %w", err)
	}
	defer rows.Close()

	var points []ConfidencePoint
	for rows.Next() {
		var p ConfidencePoint
		if err := rows.Scan(&p.Timestamp, &p.Confidence, &p.MarketRegime, &p.TradePermission); err != nil {
			return nil, fmt.Errorf("failed to scan confidence point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetSystemState reads the singleton system state row
func (db *DB) GetSystemState(ctx context.Context) (*SystemState, error) {
	var s SystemState
	err := db.Pool.QueryRow(ctx, `
		SELECT bootstrap_completed, bootstrap_data_points, bootstrap_failure_reason,
			scanner_running, scan_interval_hours,
			last_successful_scan, last_failed_scan, last_analysis_timestamp,
			consecutive_failures, consecutive_analysis_failures, system_status,
			total_scans_completed, total_analyses_completed, updated_at
		FROM system_state WHERE id = 1`).Scan(
		&s.BootstrapCompleted, &s.BootstrapDataPoints, &s.BootstrapFailureReason,
		&s.ScannerRunning, &s.ScanIntervalHours,
		&s.LastSuccessfulScan, &s.LastFailedScan, &s.LastAnalysisTimestamp,
		&s.ConsecutiveFailures, &s.ConsecutiveAnalysisFailures, &s.SystemStatus,
		&s.TotalScansCompleted, &s.TotalAnalysesCompleted, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("system state row missing: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get system state: %w", err)
	}
	return &s, nil
}

// UpdateSystemState applies a partial update to the singleton row.
// The sentiment scanner is the only writer; callers must hold its
// serialization before invoking this.
func (db *DB) UpdateSystemState(ctx context.Context, patch SystemStatePatch) error {
	query := `
		UPDATE system_state SET
			bootstrap_completed = COALESCE($1, bootstrap_completed),
			bootstrap_data_points = COALESCE($2, bootstrap_data_points),
			bootstrap_failure_reason = COALESCE($3, bootstrap_failure_reason),
			scanner_running = COALESCE($4, scanner_running),
			scan_interval_hours = COALESCE($5, scan_interval_hours),
			last_successful_scan = COALESCE($6, last_successful_scan),
			last_failed_scan = COALESCE($7, last_failed_scan),
			last_analysis_timestamp = COALESCE($8, last_analysis_timestamp),
			consecutive_failures = COALESCE($9, consecutive_failures),
			consecutive_analysis_failures = COALESCE($10, consecutive_analysis_failures),
			system_status = COALESCE($11, system_status),
			total_scans_completed = total_scans_completed + $12,
			total_analyses_completed = total_analyses_completed + $13,
			updated_at = NOW()
		WHERE id = 1`

	scanInc := 0
	if patch.IncrementScans {
		scanInc = 1
	}
	analysisInc := 0
	if patch.IncrementAnalyses {
		analysisInc = 1
	}

	_, err := db.Pool.Exec(ctx, query,
		patch.BootstrapCompleted,
		patch.BootstrapDataPoints,
		patch.BootstrapFailureReason,
		patch.ScannerRunning,
		patch.ScanIntervalHours,
		patch.LastSuccessfulScan,
		patch.LastFailedScan,
		patch.LastAnalysisTimestamp,
		patch.ConsecutiveFailures,
		patch.ConsecutiveAnalysisFailures,
		patch.SystemStatus,
		scanInc,
		analysisInc,
	)
	if err != nil {
		return fmt.Errorf("failed to update system state: %w", err)
	}
	return nil
}
