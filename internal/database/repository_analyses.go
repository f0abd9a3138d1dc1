package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertAnalysis persists a new analysis and assigns its id
func (db *DB) InsertAnalysis(ctx context.Context, a *Analysis) error {
	if a.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrValidation)
	}
	if !a.Timeframe.Valid() {
		return fmt.Errorf("%w: invalid timeframe %q", ErrValidation, a.Timeframe)
	}

	query := `
		INSERT INTO analyses (
			ticker, timeframe, analysis_timestamp, confidence, action,
			entry_price, target_price, stop_loss, reasoning,
			detailed_analysis, context_assessment, image_hash, model_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	now := time.Now().UTC()
	if a.AnalysisTimestamp.IsZero() {
		a.AnalysisTimestamp = now
	}

	err := db.Pool.QueryRow(ctx, query,
		a.Ticker,
		a.Timeframe,
		a.AnalysisTimestamp,
		a.Confidence,
		a.Action,
		a.EntryPrice,
		a.TargetPrice,
		a.StopLoss,
		a.Reasoning,
		a.DetailedAnalysis,
		a.ContextAssessment,
		a.ImageHash,
		a.ModelUsed,
		now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	a.CreatedAt = now
	return nil
}

// GetAnalysis retrieves an analysis by id
func (db *DB) GetAnalysis(ctx context.Context, id int64) (*Analysis, error) {
	query := `
		SELECT id, ticker, timeframe, analysis_timestamp, confidence, action,
			entry_price, target_price, stop_loss, reasoning,
			detailed_analysis, context_assessment, image_hash, model_used, created_at
		FROM analyses
		WHERE id = $1`

	a, err := scanAnalysis(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("analysis %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return a, nil
}

// ListAnalyses returns analyses for a ticker, newest first
func (db *DB) ListAnalyses(ctx context.Context, ticker string, since time.Time, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, ticker, timeframe, analysis_timestamp, confidence, action,
			entry_price, target_price, stop_loss, reasoning,
			detailed_analysis, context_assessment, image_hash, model_used, created_at
		FROM analyses
		WHERE ticker = $1 AND analysis_timestamp >= $2
		ORDER BY analysis_timestamp DESC
		LIMIT $3`

	rows, err := db.Pool.Query(ctx, query, ticker, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// LatestAnalysis returns the most recent analysis for a (ticker, timeframe)
func (db *DB) LatestAnalysis(ctx context.Context, ticker string, timeframe Timeframe) (*Analysis, error) {
	query := `
		SELECT id, ticker, timeframe, analysis_timestamp, confidence, action,
			entry_price, target_price, stop_loss, reasoning,
			detailed_analysis, context_assessment, image_hash, model_used, created_at
		FROM analyses
		WHERE ticker = $1 AND timeframe = $2
		ORDER BY analysis_timestamp DESC
		LIMIT 1`

	a, err := scanAnalysis(db.Pool.QueryRow(ctx, query, ticker, timeframe))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no analysis for %s/%s: %w", ticker, timeframe, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest analysis: %w", err)
	}
	return a, nil
}

// DeleteAnalysis removes an analysis unless a trade references it.
// The default path refuses whenever any referencing trade exists,
// regardless of status. force only lifts the refusal for closed trades
// when the caller explicitly accepts orphaning their history.
func (db *DB) DeleteAnalysis(ctx context.Context, id int64, force bool) error {
	return db.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM analyses WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check analysis: %w", err)
		}
		if !exists {
			return fmt.Errorf("analysis %d: %w", id, ErrNotFound)
		}

		var openRefs, closedRefs int
		err := tx.QueryRow(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE status IN ('waiting', 'active')),
				COUNT(*) FILTER (WHERE status NOT IN ('waiting', 'active'))
			FROM trades WHERE analysis_id = $1`, id).Scan(&openRefs, &closedRefs)
		if err != nil {
			return fmt.Errorf("failed to count referencing trades: %w", err)
		}

		if openRefs > 0 {
			return fmt.Errorf("analysis %d has %d open trades: %w", id, openRefs, ErrReferenced)
		}
		if closedRefs > 0 && !force {
			return fmt.Errorf("analysis %d has %d closed trades: %w", id, closedRefs, ErrReferenced)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete analysis: %w", err)
		}
		return nil
	})
}

// BulkDeleteResult reports the outcome of a bulk analysis delete
type BulkDeleteResult struct {
	Deleted  int     `json:"deleted"`
	Refused  int     `json:"refused"`
	NotFound int     `json:"not_found"`
	Failed   int     `json:"failed"`
	Refusals []int64 `json:"refusals,omitempty"`
}

// DeleteAnalysesBulk applies the delete guard per id; partial success
// is permitted.
func (db *DB) DeleteAnalysesBulk(ctx context.Context, ids []int64, force bool) (*BulkDeleteResult, error) {
	result := &BulkDeleteResult{}
	for _, id := range ids {
		err := db.DeleteAnalysis(ctx, id, force)
		switch {
		case err == nil:
			result.Deleted++
		case errors.Is(err, ErrReferenced):
			result.Refused++
			result.Refusals = append(result.Refusals, id)
		case errors.Is(err, ErrNotFound):
			result.NotFound++
		default:
			result.Failed++
		}
	}
	return result, nil
}

// CleanupOldAnalyses deletes analyses older than the cutoff that are
// not referenced by any trade. Returns the number of rows removed.
func (db *DB) CleanupOldAnalyses(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM analyses
		WHERE analysis_timestamp < $1
		AND NOT EXISTS (SELECT 1 FROM trades WHERE trades.analysis_id = analyses.id)`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	var reasoning *string
	err := row.Scan(
		&a.ID,
		&a.Ticker,
		&a.Timeframe,
		&a.AnalysisTimestamp,
		&a.Confidence,
		&a.Action,
		&a.EntryPrice,
		&a.TargetPrice,
		&a.StopLoss,
		&reasoning,
		&a.DetailedAnalysis,
		&a.ContextAssessment,
		&a.ImageHash,
		&a.ModelUsed,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reasoning != nil {
		a.Reasoning = *reasoning
	}
	return &a, nil
}
