// cleanup-analyses removes stale chart analyses. Analyses referenced
// by any trade are never deleted on the age path; explicit ids can
// force past closed-trade references with -force.
//
// Exit codes: 0 success, 1 failure, 2 at least one delete refused.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"trading-analytics/config"
	"trading-analytics/internal/database"
	"trading-analytics/internal/logging"
)

func main() {
	olderThan := flag.Duration("older-than", 0, "delete unreferenced analyses older than this (e.g. 720h)")
	idsFlag := flag.String("ids", "", "comma-separated analysis ids to delete")
	force := flag.Bool("force", false, "allow deleting analyses referenced only by closed trades")
	flag.Parse()

	log := logging.WithComponent("CLEANUP")

	if *olderThan <= 0 && *idsFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: cleanup-analyses -older-than <duration> | -ids <id,id,...> [-force]")
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load config")
		os.Exit(1)
	}
	logging.SetDefault(logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	}))
	log = logging.WithComponent("CLEANUP")

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

	if *idsFlag != "" {
		os.Exit(deleteByIDs(ctx, db, log, *idsFlag, *force))
	}
	os.Exit(deleteByAge(ctx, db, log, *olderThan))
}

func deleteByIDs(ctx context.Context, db *database.DB, log *logging.Logger, idsFlag string, force bool) int {
	var ids []int64
	for _, part := range strings.Split(idsFlag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Error("invalid id", "value", part)
			return 1
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		log.Error("no valid ids supplied")
		return 1
	}

	result, err := db.DeleteAnalysesBulk(ctx, ids, force)
	if err != nil {
		log.Error("bulk delete failed", "error", err)
		return 1
	}

	log.Info("bulk delete finished",
		"deleted", result.Deleted,
		"refused", result.Refused,
		"not_found", result.NotFound,
		"failed", result.Failed)
	for _, id := range result.Refusals {
		log.Warn("refused: analysis is referenced by trades", "id", id)
	}

	if result.Failed > 0 {
		return 1
	}
	if result.Refused > 0 {
		return 2
	}
	return 0
}

func deleteByAge(ctx context.Context, db *database.DB, log *logging.Logger, olderThan time.Duration) int {
	start := time.Now()
	cutoff := start.UTC().Add(-olderThan)
	deleted, err := db.CleanupOldAnalyses(ctx, cutoff)
	if err != nil {
		log.WithError(err).Error("cleanup failed")
		return 1
	}
	log.WithDuration(time.Since(start)).Info("cleanup finished",
		"deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	return 0
}
