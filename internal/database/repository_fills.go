package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSyncStatus reads the sync record for an account, or ErrNotFound
// when the account has never synced
func (db *DB) GetSyncStatus(ctx context.Context, accountType, wallet string) (*SyncStatus, error) {
	var s SyncStatus
	err := db.Pool.QueryRow(ctx, `
		SELECT account_type, wallet_address, status, last_success_time, metadata, updated_at
		FROM sync_status
		WHERE account_type = $1 AND wallet_address = $2`,
		accountType, wallet).Scan(
		&s.AccountType, &s.WalletAddress, &s.Status, &s.LastSuccessTime, &s.Metadata, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sync status for %s/%s: %w", accountType, wallet, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return &s, nil
}

// SetSyncStatus upserts the sync record, applying only non-nil patch fields
func (db *DB) SetSyncStatus(ctx context.Context, accountType, wallet string, patch SyncStatusPatch) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sync_status (account_type, wallet_address, status, last_success_time, metadata, updated_at)
		VALUES ($1, $2, COALESCE($3, 'IDLE'), $4, $5, NOW())
		ON CONFLICT (account_type, wallet_address) DO UPDATE SET
			status = COALESCE($3, sync_status.status),
			last_success_time = COALESCE($4, sync_status.last_success_time),
			metadata = COALESCE($5, sync_status.metadata),
			updated_at = NOW()`,
		accountType, wallet, patch.Status, patch.LastSuccessTime, patch.Metadata)
	if err != nil {
		return fmt.Errorf("failed to set sync status: %w", err)
	}
	return nil
}

// InsertFill persists a fill, idempotent on hash. Existing rows are
// never mutated; duplicates are skipped silently. Returns true when a
// new row was written.
func (db *DB) InsertFill(ctx context.Context, f *Fill) (bool, error) {
	if f.Hash == "" {
		return false, fmt.Errorf("%w: fill hash is required", ErrValidation)
	}

	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO fills (hash, tid, time_ms, coin, side, size, price, account_type, wallet_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (hash) DO NOTHING`,
		f.Hash, f.TID, f.TimeMs, f.Coin, f.Side, f.Size, f.Price, f.AccountType, f.WalletAddress)
	if err != nil {
		return false, fmt.Errorf("failed to insert fill: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListFills returns fills for an account, newest first
func (db *DB) ListFills(ctx context.Context, accountType, wallet string, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, hash, tid, time_ms, coin, side, size, price, account_type, wallet_address
		FROM fills
		WHERE account_type = $1 AND wallet_address = $2
		ORDER BY time_ms DESC
		LIMIT $3`, accountType, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list fills: %w", err)
	}
	defer rows.Close()

	var fills []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.Hash, &f.TID, &f.TimeMs, &f.Coin, &f.Side,
			&f.Size, &f.Price, &f.AccountType, &f.WalletAddress); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
