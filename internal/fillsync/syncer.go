// Package fillsync keeps the local fill history in step with the
// exchange. Each configured account syncs independently: the window
// starts a little before the last success so boundary fills are never
// missed, and the hash-keyed insert makes re-fetching them harmless.
package fillsync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trading-analytics/config"
	"trading-analytics/internal/database"
	"trading-analytics/internal/events"
	"trading-analytics/internal/exchange"
)

// Store is the persistence surface the syncer needs
type Store interface {
	GetSyncStatus(ctx context.Context, accountType, wallet string) (*database.SyncStatus, error)
	SetSyncStatus(ctx context.Context, accountType, wallet string, patch database.SyncStatusPatch) error
	InsertFill(ctx context.Context, f *database.Fill) (bool, error)
}

// FillSource is the exchange surface
type FillSource interface {
	UserFills(ctx context.Context, wallet string, startTimeMs int64) ([]exchange.Fill, error)
}

// syncMetadata is the JSON blob stored on the sync record
type syncMetadata struct {
	InitialSyncCompleted bool  `json:"initial_sync_completed"`
	LastBatchSize        int   `json:"last_batch_size"`
	LastInserted         int   `json:"last_inserted"`
	TotalInserted        int64 `json:"total_inserted"`
}

// Syncer pulls fills for the configured accounts
type Syncer struct {
	cfg      config.FillSyncConfig
	accounts []config.Account
	store    Store
	source   FillSource
	bus      *events.Bus
	log      zerolog.Logger

	now func() time.Time
}

// NewSyncer wires the fill syncer
func NewSyncer(cfg config.FillSyncConfig, accounts []config.Account, store Store,
	source FillSource, bus *events.Bus, logger zerolog.Logger) *Syncer {
	return &Syncer{
		cfg:      cfg,
		accounts: accounts,
		store:    store,
		source:   source,
		bus:      bus,
		log:      logger.With().Str("component", "fillsync").Logger(),
		now:      time.Now,
	}
}

// SyncAll runs one sync pass over every configured account. Accounts
// fail independently; the pass reports the first error after trying
// them all.
func (s *Syncer) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, account := range s.accounts {
		if err := s.SyncAccount(ctx, account.Type, account.Wallet); err != nil {
			s.log.Error().Err(err).
				Str("account_type", account.Type).
				Str("wallet", account.Wallet).
				Msg("account sync failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncAccount syncs one account: RUNNING while fetching, COMPLETED
// with the newest fill time on success, FAILED on error. Pagination
// continues from max(time)+1 whenever a page comes back at the
// provider cap.
func (s *Syncer) SyncAccount(ctx context.Context, accountType, wallet string) error {
	log := s.log.With().Str("account_type", accountType).Str("wallet", wallet).Logger()

	status, err := s.store.GetSyncStatus(ctx, accountType, wallet)
	if err != nil && status == nil {
		status = &database.SyncStatus{AccountType: accountType, WalletAddress: wallet}
	}
	meta := s.decodeMetadata(status)

	startMs := s.windowStart(status, meta)
	running := database.SyncRunning
	if err := s.store.SetSyncStatus(ctx, accountType, wallet, database.SyncStatusPatch{Status: &running}); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	inserted, newestMs, batches, err := s.fetchAll(ctx, accountType, wallet, startMs)
	if err != nil {
		failed := database.SyncFailed
		_ = s.store.SetSyncStatus(ctx, accountType, wallet, database.SyncStatusPatch{Status: &failed})
		return fmt.Errorf("sync %s/%s: %w", accountType, wallet, err)
	}

	completed := database.SyncCompleted
	patch := database.SyncStatusPatch{Status: &completed}
	if newestMs > 0 {
		t := time.UnixMilli(newestMs).UTC()
		patch.LastSuccessTime = &t
	} else if status.LastSuccessTime == nil {
		// Empty first sync still completes; next run starts from the
		// same lookback window.
		now := s.now().UTC()
		patch.LastSuccessTime = &now
	}

	meta.InitialSyncCompleted = true
	meta.LastBatchSize = batches
	meta.LastInserted = inserted
	meta.TotalInserted += int64(inserted)
	if raw, err := json.Marshal(meta); err == nil {
		patch.Metadata = raw
	}
	if err := s.store.SetSyncStatus(ctx, accountType, wallet, patch); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	log.Info().Int("inserted", inserted).Int("pages", batches).Msg("fill sync completed")
	s.bus.PublishFillsSynced(accountType, wallet, inserted)
	return nil
}

// windowStart computes where this sync begins: last success minus the
// overlap margin, or the initial lookback for a first sync
func (s *Syncer) windowStart(status *database.SyncStatus, meta syncMetadata) int64 {
	overlap := s.cfg.Overlap
	if overlap <= 0 {
		overlap = 5 * time.Minute
	}
	if meta.InitialSyncCompleted && status.LastSuccessTime != nil {
		return status.LastSuccessTime.Add(-overlap).UnixMilli()
	}
	lookback := s.cfg.InitialLookback
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	return s.now().Add(-lookback).UnixMilli()
}

// fetchAll pages through the fills endpoint until a short page
func (s *Syncer) fetchAll(ctx context.Context, accountType, wallet string, startMs int64) (inserted int, newestMs int64, pages int, err error) {
	cursor := startMs
	for {
		fills, err := s.source.UserFills(ctx, wallet, cursor)
		if err != nil {
			return inserted, newestMs, pages, err
		}
		pages++

		var pageMax int64
		for i := range fills {
			f := &fills[i]
			wrote, err := s.store.InsertFill(ctx, &database.Fill{
				Hash:          f.Hash,
				TID:           f.TID,
				TimeMs:        f.Time,
				Coin:          f.Coin,
				Side:          f.Side,
				Size:          f.Size(),
				Price:         f.Price(),
				AccountType:   accountType,
				WalletAddress: wallet,
			})
			if err != nil {
				return inserted, newestMs, pages, err
			}
			if wrote {
				inserted++
			}
			if f.Time > pageMax {
				pageMax = f.Time
			}
		}
		if pageMax > newestMs {
			newestMs = pageMax
		}

		// A page below the cap is the final page
		if len(fills) < exchange.FillCap {
			return inserted, newestMs, pages, nil
		}
		cursor = pageMax + 1
	}
}

func (s *Syncer) decodeMetadata(status *database.SyncStatus) syncMetadata {
	var meta syncMetadata
	if status != nil && len(status.Metadata) > 0 {
		_ = json.Unmarshal(status.Metadata, &meta)
	}
	return meta
}
