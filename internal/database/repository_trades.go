package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, analysis_id, ticker, timeframe, action, entry_price, target_price,
	stop_loss, entry_condition, entry_strategy, status, trigger_hit_time, trigger_hit_price,
	current_price, unrealized_pnl, realized_pnl, close_time, close_price, close_reason,
	close_details, original_analysis_snapshot, original_context_snapshot, created_at, updated_at`

// InsertTrade persists a new trade in waiting state. Fails with
// ErrDuplicateActiveTrade when a non-closed trade already exists for
// the (ticker, timeframe).
func (db *DB) InsertTrade(ctx context.Context, t *Trade) error {
	if t.Action != "buy" && t.Action != "sell" {
		return fmt.Errorf("%w: action must be buy or sell, got %q", ErrValidation, t.Action)
	}
	if !t.Timeframe.Valid() {
		return fmt.Errorf("%w: invalid timeframe %q", ErrValidation, t.Timeframe)
	}

	return db.withTx(ctx, func(tx pgx.Tx) error {
		var open int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM trades
			WHERE ticker = $1 AND timeframe = $2 AND status IN ('waiting', 'active')`,
			t.Ticker, t.Timeframe).Scan(&open)
		if err != nil {
			return fmt.Errorf("failed to check open trades: %w", err)
		}
		if open > 0 {
			return fmt.Errorf("%s/%s: %w", t.Ticker, t.Timeframe, ErrDuplicateActiveTrade)
		}

		now := time.Now().UTC()
		if t.Status == "" {
			t.Status = TradeStatusWaiting
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO trades (
				analysis_id, ticker, timeframe, action, entry_price, target_price,
				stop_loss, entry_condition, entry_strategy, status,
				original_analysis_snapshot, original_context_snapshot, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
			RETURNING id`,
			t.AnalysisID, t.Ticker, t.Timeframe, t.Action, t.EntryPrice, t.TargetPrice,
			t.StopLoss, t.EntryCondition, t.EntryStrategy, t.Status,
			t.OriginalAnalysisSnapshot, t.OriginalContextSnapshot, now,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}

		t.CreatedAt = now
		t.UpdatedAt = now

		// Creation audit row in the same transaction
		_, err = tx.Exec(ctx, `
			INSERT INTO trade_updates (trade_id, timestamp, price, update_type, notes)
			VALUES ($1, $2, $3, $4, $5)`,
			t.ID, now, t.EntryPrice, UpdateTradeCreated,
			fmt.Sprintf("trade created from analysis %d", t.AnalysisID))
		if err != nil {
			return fmt.Errorf("failed to insert creation audit: %w", err)
		}
		return nil
	})
}

// GetTrade retrieves a trade by id
func (db *DB) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	t, err := scanTrade(db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("trade %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// GetOpenTrade returns the non-closed trade for a (ticker, timeframe),
// or ErrNotFound when none exists
func (db *DB) GetOpenTrade(ctx context.Context, ticker string, timeframe Timeframe) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE ticker = $1 AND timeframe = $2 AND status IN ('waiting', 'active')
		LIMIT 1`
	t, err := scanTrade(db.Pool.QueryRow(ctx, query, ticker, timeframe))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no open trade for %s/%s: %w", ticker, timeframe, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get open trade: %w", err)
	}
	return t, nil
}

// ListOpenTrades returns all trades with status waiting or active
func (db *DB) ListOpenTrades(ctx context.Context) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE status IN ('waiting', 'active')
		ORDER BY created_at DESC`
	return db.queryTrades(ctx, query)
}

// ListAllTrades returns every trade regardless of status
func (db *DB) ListAllTrades(ctx context.Context) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC`
	return db.queryTrades(ctx, query)
}

// ListOrphanedTrades returns non-closed trades whose parent analysis
// no longer exists
func (db *DB) ListOrphanedTrades(ctx context.Context) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades t
		WHERE t.status IN ('waiting', 'active')
		AND NOT EXISTS (SELECT 1 FROM analyses a WHERE a.id = t.analysis_id)
		ORDER BY t.created_at`
	return db.queryTrades(ctx, query)
}

func (db *DB) queryTrades(ctx context.Context, query string, args ...interface{}) ([]Trade, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

// UpdateTradeFields applies a partial update with compare-and-swap on
// updated_at. Returns ErrStaleUpdate when the row changed underneath
// the caller.
func (db *DB) UpdateTradeFields(ctx context.Context, id int64, patch TradePatch) error {
	query := `
		UPDATE trades SET
			target_price = COALESCE($1, target_price),
			stop_loss = COALESCE($2, stop_loss),
			current_price = COALESCE($3, current_price),
			unrealized_pnl = COALESCE($4, unrealized_pnl),
			status = COALESCE($5, status),
			trigger_hit_time = COALESCE($6, trigger_hit_time),
			trigger_hit_price = COALESCE($7, trigger_hit_price),
			updated_at = NOW()
		WHERE id = $8 AND updated_at = $9`

	tag, err := db.Pool.Exec(ctx, query,
		patch.TargetPrice,
		patch.StopLoss,
		patch.CurrentPrice,
		patch.UnrealizedPnL,
		patch.Status,
		patch.TriggerHitTime,
		patch.TriggerHitPrice,
		id,
		patch.ExpectedUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, id).Scan(&exists); err == nil && !exists {
			return fmt.Errorf("trade %d: %w", id, ErrNotFound)
		}
		return fmt.Errorf("trade %d: %w", id, ErrStaleUpdate)
	}
	return nil
}

// CloseTrade atomically transitions a trade to a terminal state. It is
// the only closing path: current_price is always set to close_price,
// realized_pnl is computed from the action, and an audit row is
// appended in the same transaction.
func (db *DB) CloseTrade(ctx context.Context, id int64, closePrice float64, status TradeStatus, reason string, details json.RawMessage) error {
	if !status.IsClosed() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrValidation, status)
	}

	return db.withTx(ctx, func(tx pgx.Tx) error {
		var entryPrice float64
		var action string
		var current TradeStatus
		err := tx.QueryRow(ctx,
			`SELECT entry_price, action, status FROM trades WHERE id = $1 FOR UPDATE`, id).
			Scan(&entryPrice, &action, &current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("trade %d: %w", id, ErrNotFound)
			}
			return fmt.Errorf("failed to load trade for close: %w", err)
		}
		if current.IsClosed() {
			return fmt.Errorf("trade %d already closed as %s: %w", id, current, ErrValidation)
		}

		realizedPnL := closePrice - entryPrice
		if action == "sell" {
			realizedPnL = entryPrice - closePrice
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			UPDATE trades SET
				status = $1,
				close_price = $2,
				current_price = $2,
				close_time = $3,
				close_reason = $4,
				close_details = $5,
				realized_pnl = $6,
				updated_at = $3
			WHERE id = $7`,
			status, closePrice, now, reason, details, realizedPnL, id)
		if err != nil {
			return fmt.Errorf("failed to close trade: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO trade_updates (trade_id, timestamp, price, update_type, payload, notes)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, now, closePrice, UpdateStatusChange, details,
			fmt.Sprintf("closed as %s: %s", status, reason))
		if err != nil {
			return fmt.Errorf("failed to insert close audit: %w", err)
		}
		return nil
	})
}

// ReassignTradeAnalysis points a trade at a replacement analysis.
// Used only by orphan repair; the normal lifecycle never changes a
// trade's parent.
func (db *DB) ReassignTradeAnalysis(ctx context.Context, tradeID, analysisID int64) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE trades SET analysis_id = $1, updated_at = NOW() WHERE id = $2`,
		analysisID, tradeID)
	if err != nil {
		return fmt.Errorf("failed to reassign trade analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %d: %w", tradeID, ErrNotFound)
	}
	return nil
}

// InsertTradeUpdate appends an audit entry to a trade
func (db *DB) InsertTradeUpdate(ctx context.Context, u *TradeUpdate) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO trade_updates (trade_id, timestamp, price, update_type, payload, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		u.TradeID, u.Timestamp, u.Price, u.UpdateType, u.Payload, u.Notes,
	).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("failed to insert trade update: %w", err)
	}
	return nil
}

// ListTradeUpdates returns the audit trail for a trade, oldest first
func (db *DB) ListTradeUpdates(ctx context.Context, tradeID int64) ([]TradeUpdate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, trade_id, timestamp, price, update_type, payload, notes
		FROM trade_updates
		WHERE trade_id = $1
		ORDER BY timestamp ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trade updates: %w", err)
	}
	defer rows.Close()

	var updates []TradeUpdate
	for rows.Next() {
		var u TradeUpdate
		var notes *string
		if err := rows.Scan(&u.ID, &u.TradeID, &u.Timestamp, &u.Price, &u.UpdateType, &u.Payload, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan trade update: %w", err)
		}
		if notes != nil {
			u.Notes = *notes
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	var entryCondition *string
	err := row.Scan(
		&t.ID,
		&t.AnalysisID,
		&t.Ticker,
		&t.Timeframe,
		&t.Action,
		&t.EntryPrice,
		&t.TargetPrice,
		&t.StopLoss,
		&entryCondition,
		&t.EntryStrategy,
		&t.Status,
		&t.TriggerHitTime,
		&t.TriggerHitPrice,
		&t.CurrentPrice,
		&t.UnrealizedPnL,
		&t.RealizedPnL,
		&t.CloseTime,
		&t.ClosePrice,
		&t.CloseReason,
		&t.CloseDetails,
		&t.OriginalAnalysisSnapshot,
		&t.OriginalContextSnapshot,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entryCondition != nil {
		t.EntryCondition = *entryCondition
	}
	return &t, nil
}
