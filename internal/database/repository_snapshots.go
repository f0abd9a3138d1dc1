package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertSnapshot validates and persists a market snapshot. Rows that
// fail validation are never written.
func (db *DB) InsertSnapshot(ctx context.Context, s *MarketSnapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.AltStrengthRatio == 0 {
		s.AltStrengthRatio = s.ComputeAltStrength()
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO market_snapshots (
			timestamp, btc_price, eth_price, btc_market_cap, eth_market_cap,
			total_market_cap, btc_dominance, alt_strength_ratio,
			data_source, data_quality_score
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		s.Timestamp, s.BTCPrice, s.ETHPrice, s.BTCMarketCap, s.ETHMarketCap,
		s.TotalMarketCap, s.BTCDominance, s.AltStrengthRatio,
		s.DataSource, s.DataQualityScore,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// RangeSnapshots returns snapshots within [from, to], oldest first
func (db *DB) RangeSnapshots(ctx context.Context, from, to time.Time) ([]MarketSnapshot, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, timestamp, btc_price, eth_price, btc_market_cap, eth_market_cap,
			total_market_cap, btc_dominance, alt_strength_ratio, data_source, data_quality_score
		FROM market_snapshots
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to range snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []MarketSnapshot
	for rows.Next() {
		var s MarketSnapshot
		if err := rows.Scan(
			&s.ID, &s.Timestamp, &s.BTCPrice, &s.ETHPrice, &s.BTCMarketCap,
			&s.ETHMarketCap, &s.TotalMarketCap, &s.BTCDominance,
			&s.AltStrengthRatio, &s.DataSource, &s.DataQualityScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// LatestSnapshot returns the newest persisted snapshot
func (db *DB) LatestSnapshot(ctx context.Context) (*MarketSnapshot, error) {
	var s MarketSnapshot
	err := db.Pool.QueryRow(ctx, `
		SELECT id, timestamp, btc_price, eth_price, btc_market_cap, eth_market_cap,
			total_market_cap, btc_dominance, alt_strength_ratio, data_source, data_quality_score
		FROM market_snapshots
		ORDER BY timestamp DESC
		LIMIT 1`).Scan(
		&s.ID, &s.Timestamp, &s.BTCPrice, &s.ETHPrice, &s.BTCMarketCap,
		&s.ETHMarketCap, &s.TotalMarketCap, &s.BTCDominance,
		&s.AltStrengthRatio, &s.DataSource, &s.DataQualityScore,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no snapshots: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &s, nil
}

// CountSnapshots returns the number of snapshots since the cutoff
func (db *DB) CountSnapshots(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM market_snapshots WHERE timestamp >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}
