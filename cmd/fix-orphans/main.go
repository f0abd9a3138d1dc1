// fix-orphans repairs open trades whose parent analysis was deleted.
// close mode closes them at their last known price; recreate mode
// rebuilds a replacement analysis from the trade's stored snapshot and
// points the trade at it.
//
// Exit codes: 0 success, 1 failure, 2 validation failure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"trading-analytics/config"
	"trading-analytics/internal/database"
	"trading-analytics/internal/logging"
)

func main() {
	mode := flag.String("mode", "close", "orphan handling: close or recreate")
	flag.Parse()

	log := logging.WithComponent("FIX-ORPHANS")

	if *mode != "close" && *mode != "recreate" {
		fmt.Fprintf(os.Stderr, "invalid -mode %q: must be close or recreate\n", *mode)
		os.Exit(2)
	}
	log = log.WithField("mode", *mode)

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	orphans, err := db.ListOrphanedTrades(ctx)
	if err != nil {
		log.Error("failed to list orphaned trades", "error", err)
		os.Exit(1)
	}
	if len(orphans) == 0 {
		log.Info("no orphaned trades found")
		os.Exit(0)
	}
	log.Info("found orphaned trades", "count", len(orphans))

	failures := 0
	for i := range orphans {
		t := &orphans[i]
		var err error
		if *mode == "close" {
			err = closeOrphan(ctx, db, t)
		} else {
			err = recreateAnalysis(ctx, db, t)
		}
		if err != nil {
			log.Error("repair failed", "trade_id", t.ID, "error", err)
			failures++
			continue
		}
		log.Info("repaired", "trade_id", t.ID, "ticker", t.Ticker, "timeframe", string(t.Timeframe))
	}

	if failures > 0 {
		os.Exit(1)
	}
	os.Exit(0)
}

func closeOrphan(ctx context.Context, db *database.DB, t *database.Trade) error {
	price := t.EntryPrice
	if t.CurrentPrice != nil && *t.CurrentPrice > 0 {
		price = *t.CurrentPrice
	}
	details, _ := json.Marshal(map[string]interface{}{
		"analysis_id": t.AnalysisID,
		"tool":        "fix-orphans",
	})
	if err := db.CloseTrade(ctx, t.ID, price, database.TradeStatusAIClosed, "orphaned: analysis deleted", details); err != nil {
		return err
	}
	return db.InsertTradeUpdate(ctx, &database.TradeUpdate{
		TradeID:    t.ID,
		UpdateType: database.UpdateOrphanCleanup,
		Notes:      fmt.Sprintf("closed orphaned trade, analysis %d missing", t.AnalysisID),
	})
}

// recreateAnalysis rebuilds a minimal parent from the trade's stored
// analysis snapshot, or from the trade's own levels when no snapshot
// survives
func recreateAnalysis(ctx context.Context, db *database.DB, t *database.Trade) error {
	replacement := &database.Analysis{
		Ticker:            t.Ticker,
		Timeframe:         t.Timeframe,
		AnalysisTimestamp: t.CreatedAt,
		Action:            t.Action,
		EntryPrice:        &t.EntryPrice,
		TargetPrice:       &t.TargetPrice,
		StopLoss:          &t.StopLoss,
		Reasoning:         fmt.Sprintf("reconstructed for trade %d (original analysis %d deleted)", t.ID, t.AnalysisID),
	}

	if len(t.OriginalAnalysisSnapshot) > 0 {
		var original database.Analysis
		if err := json.Unmarshal(t.OriginalAnalysisSnapshot, &original); err == nil {
			replacement.Confidence = original.Confidence
			replacement.DetailedAnalysis = original.DetailedAnalysis
			replacement.ContextAssessment = original.ContextAssessment
			if original.Reasoning != "" {
				replacement.Reasoning = original.Reasoning
			}
		}
	}

	if err := db.InsertAnalysis(ctx, replacement); err != nil {
		return err
	}
	if err := db.ReassignTradeAnalysis(ctx, t.ID, replacement.ID); err != nil {
		return err
	}
	return db.InsertTradeUpdate(ctx, &database.TradeUpdate{
		TradeID:    t.ID,
		UpdateType: database.UpdateOrphanCleanup,
		Notes:      fmt.Sprintf("recreated analysis %d to replace deleted %d", replacement.ID, t.AnalysisID),
	})
}
