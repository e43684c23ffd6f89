package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolPricer/internal/book"
	"poolPricer/internal/config"
	"poolPricer/internal/storage"
	"poolPricer/internal/storage/postgres"
)

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.EventsIn == "" {
		return fmt.Errorf("events input path is required")
	}
	if cfg.SnapshotsOut == "" && cfg.PGDSN == "" {
		return fmt.Errorf("snapshots output path or pg dsn is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, err := storage.ReadEvents(cfg.EventsIn)
	if err != nil {
		return err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})

	logger.Info("replay start",
		zap.String("events_in", cfg.EventsIn),
		zap.Int("events", len(records)),
	)

	registry := book.NewRegistry(logger)

	var applied, failed, skipped int
	for _, record := range records {
		if record.ChainID != 0 && record.ChainID != cfg.ChainID {
			skipped++
			continue
		}
		ev, err := record.Event()
		if err != nil {
			failed++
			logger.Warn("event record rejected",
				zap.String("pool", record.Address),
				zap.Uint64("block", record.BlockNumber),
				zap.Uint64("log_index", record.LogIndex),
				zap.Error(err))
			registry.MarkStale(record.Address)
			continue
		}
		if err := registry.Apply(record.Address, ev); err != nil {
			failed++
			logger.Warn("event apply failed",
				zap.String("pool", record.Address),
				zap.String("event", ev.Name()),
				zap.Uint64("block", record.BlockNumber),
				zap.Error(err))
			continue
		}
		applied++
	}

	snapshots := registry.Snapshots(cfg.ChainID)

	var sinks []storage.SnapshotSink
	if cfg.SnapshotsOut != "" {
		sinks = append(sinks, storage.NewJsonlSnapshotStorage(cfg.SnapshotsOut))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	for _, sink := range sinks {
		if err := sink.PutSnapshots(snapshots); err != nil {
			return fmt.Errorf("store snapshots: %w", err)
		}
	}

	stalePools := stale(registry)

	logger.Info("replay complete",
		zap.Int("applied", applied),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Int("pools", len(registry.Addresses())),
		zap.Int("snapshots", len(snapshots)),
		zap.Strings("stale_pools", stalePools),
	)

	return nil
}

func stale(registry *book.Registry) []string {
	var out []string
	for _, address := range registry.Addresses() {
		if registry.Stale(address) {
			out = append(out, address)
		}
	}
	return out
}
