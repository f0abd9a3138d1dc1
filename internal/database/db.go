package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	if db.Pool == nil {
		return fmt.Errorf("database not configured")
	}
	return db.Pool.Ping(ctx)
}

// withTx runs fn inside a transaction, rolling back on any error
func (db *DB) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RunMigrations executes database migrations. Migrations are additive
// and idempotent; they run on every startup.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// Analyses: one LLM verdict per (ticker, timeframe) snapshot
		`CREATE TABLE IF NOT EXISTS analyses (
			id BIGSERIAL PRIMARY KEY,
			ticker VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			analysis_timestamp TIMESTAMPTZ NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL DEFAULT 0,
			action VARCHAR(10) NOT NULL DEFAULT 'hold',
			entry_price DECIMAL(20, 8),
			target_price DECIMAL(20, 8),
			stop_loss DECIMAL(20, 8),
			reasoning TEXT,
			detailed_analysis JSONB,
			context_assessment JSONB,
			image_hash VARCHAR(64),
			model_used VARCHAR(100),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_ticker_ts ON analyses(ticker, analysis_timestamp DESC)`,

		// Trades: positions derived from analyses
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			analysis_id BIGINT NOT NULL,
			ticker VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL,
			action VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			target_price DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8) NOT NULL,
			entry_condition TEXT,
			entry_strategy VARCHAR(20) NOT NULL DEFAULT 'pullback',
			status VARCHAR(20) NOT NULL DEFAULT 'waiting',
			trigger_hit_time TIMESTAMPTZ,
			trigger_hit_price DECIMAL(20, 8),
			current_price DECIMAL(20, 8),
			unrealized_pnl DECIMAL(20, 8),
			realized_pnl DECIMAL(20, 8),
			close_time TIMESTAMPTZ,
			close_price DECIMAL(20, 8),
			close_reason VARCHAR(50),
			close_details JSONB,
			original_analysis_snapshot JSONB,
			original_context_snapshot JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_ticker_tf_status ON trades(ticker, timeframe, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_analysis_id ON trades(analysis_id)`,
		// At most one non-closed trade per (ticker, timeframe)
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_one_open
			ON trades(ticker, timeframe) WHERE status IN ('waiting', 'active')`,

		// Trade updates: immutable audit entries
		`CREATE TABLE IF NOT EXISTS trade_updates (
			id BIGSERIAL PRIMARY KEY,
			trade_id BIGINT NOT NULL REFERENCES trades(id) ON DELETE CASCADE,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			price DECIMAL(20, 8),
			update_type VARCHAR(30) NOT NULL,
			payload JSONB,
			notes TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_updates_trade_id ON trade_updates(trade_id)`,

		// Market snapshots
		`CREATE TABLE IF NOT EXISTS market_snapshots (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			btc_price DECIMAL(20, 8) NOT NULL,
			eth_price DECIMAL(20, 8) NOT NULL,
			btc_market_cap DECIMAL(24, 2) NOT NULL,
			eth_market_cap DECIMAL(24, 2) NOT NULL,
			total_market_cap DECIMAL(24, 2) NOT NULL,
			btc_dominance DECIMAL(8, 4) NOT NULL,
			alt_strength_ratio DECIMAL(20, 8) NOT NULL DEFAULT 0,
			data_source VARCHAR(50) NOT NULL DEFAULT '',
			data_quality_score DECIMAL(5, 4) NOT NULL DEFAULT 1.0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON market_snapshots(timestamp DESC)`,

		// Sentiment verdicts, append-only; charts stored inline
		`CREATE TABLE IF NOT EXISTS sentiment_verdicts (
			id BIGSERIAL PRIMARY KEY,
			analysis_timestamp TIMESTAMPTZ NOT NULL,
			overall_confidence DECIMAL(6, 2) NOT NULL,
			market_regime VARCHAR(20) NOT NULL,
			trade_permission VARCHAR(20) NOT NULL,
			btc_trend_direction VARCHAR(10) NOT NULL,
			btc_trend_strength DECIMAL(6, 2) NOT NULL,
			eth_trend_direction VARCHAR(10) NOT NULL,
			eth_trend_strength DECIMAL(6, 2) NOT NULL,
			alt_trend_direction VARCHAR(10) NOT NULL,
			alt_trend_strength DECIMAL(6, 2) NOT NULL,
			chart_btc BYTEA,
			chart_eth BYTEA,
			chart_dominance BYTEA,
			chart_alt_strength BYTEA,
			chart_combined BYTEA,
			model_used VARCHAR(100),
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_ts ON sentiment_verdicts(analysis_timestamp DESC)`,

		// System state singleton (id is always 1)
		`CREATE TABLE IF NOT EXISTS system_state (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			bootstrap_completed BOOLEAN NOT NULL DEFAULT FALSE,
			bootstrap_data_points INTEGER NOT NULL DEFAULT 0,
			bootstrap_failure_reason TEXT NOT NULL DEFAULT '',
			scanner_running BOOLEAN NOT NULL DEFAULT FALSE,
			scan_interval_hours DECIMAL(6, 2) NOT NULL DEFAULT 4,
			last_successful_scan TIMESTAMPTZ,
			last_failed_scan TIMESTAMPTZ,
			last_analysis_timestamp TIMESTAMPTZ,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			consecutive_analysis_failures INTEGER NOT NULL DEFAULT 0,
			system_status VARCHAR(20) NOT NULL DEFAULT 'INITIALIZING',
			total_scans_completed BIGINT NOT NULL DEFAULT 0,
			total_analyses_completed BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`INSERT INTO system_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,

		// Fill-sync bookkeeping per account
		`CREATE TABLE IF NOT EXISTS sync_status (
			account_type VARCHAR(20) NOT NULL,
			wallet_address VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'IDLE',
			last_success_time TIMESTAMPTZ,
			metadata JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (account_type, wallet_address)
		)`,

		// Exchange fills, unique by hash
		`CREATE TABLE IF NOT EXISTS fills (
			id BIGSERIAL PRIMARY KEY,
			hash VARCHAR(80) NOT NULL,
			tid BIGINT NOT NULL DEFAULT 0,
			time_ms BIGINT NOT NULL,
			coin VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			size DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			account_type VARCHAR(20) NOT NULL,
			wallet_address VARCHAR(64) NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_fills_hash ON fills(hash)`,
		`CREATE INDEX IF NOT EXISTS idx_fills_account ON fills(account_type, wallet_address, time_ms DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
