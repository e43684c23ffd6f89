package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolPricer/internal/book"
	"poolPricer/internal/chain"
	"poolPricer/internal/config"
	"poolPricer/internal/dex"
	"poolPricer/internal/indexer"
	"poolPricer/internal/storage"
	"poolPricer/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "pricer",
		Short:        "Concentrated liquidity pool pricer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync pool events from chain and project books",
		RunE:  runSync,
	}

	syncCmd.Flags().String("rpc", "", "chain RPC URL")
	syncCmd.Flags().Uint64("chain-id", 1, "expected chain id")
	syncCmd.Flags().StringSlice("pool", nil, "pool addresses (comma-separated)")
	syncCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	syncCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	syncCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	syncCmd.Flags().String("events-out", "./data/events.jsonl", "decoded events JSONL path")
	syncCmd.Flags().String("errors-out", "./data/decode_errors.jsonl", "decode failures JSONL path")
	syncCmd.Flags().String("snapshots-out", "./data/snapshots.jsonl", "book snapshots JSONL path")
	syncCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	syncCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	syncCmd.Flags().String("pg-dsn", "", "Postgres DSN for snapshot persistence and recovery")
	syncCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	syncCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	syncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	syncCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(syncCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a decoded event log into book snapshots",
		RunE:  runReplay,
	}

	replayCmd.Flags().Uint64("chain-id", 1, "chain id of the event log")
	replayCmd.Flags().String("events-in", "./data/events.jsonl", "decoded events JSONL path")
	replayCmd.Flags().String("snapshots-out", "./data/snapshots.jsonl", "book snapshots JSONL path")
	replayCmd.Flags().String("pg-dsn", "", "Postgres DSN for snapshot persistence")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote swap amounts against a book snapshot",
		RunE:  runQuote,
	}

	quoteCmd.Flags().Uint64("chain-id", 1, "chain id of the snapshots")
	quoteCmd.Flags().String("snapshots-in", "./data/snapshots.jsonl", "book snapshots JSONL path")
	quoteCmd.Flags().String("pg-dsn", "", "Postgres DSN to load snapshots from instead of JSONL")
	quoteCmd.Flags().String("pool", "", "pool address")
	quoteCmd.Flags().String("token", "", "token address (input token for sell, output token for buy)")
	quoteCmd.Flags().String("side", "sell", "quote side (sell or buy)")
	quoteCmd.Flags().StringSlice("amount", nil, "amounts in base units (comma-separated)")
	quoteCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(quoteCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	pools, err := indexer.ParseAddresses(cfg.Pools)
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		return fmt.Errorf("pool list is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := dex.NewPoolDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	registry := book.NewRegistry(logger)
	eventSink := storage.NewJsonlEventStorage(cfg.EventsOut)
	errorSink := storage.NewJsonlDecodeErrorStorage(cfg.ErrorsOut)
	snapshotSinks := []storage.SnapshotSink{storage.NewJsonlSnapshotStorage(cfg.SnapshotsOut)}

	var recoverer indexer.Recoverer
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		snapshotSinks = append(snapshotSinks, store)
		recoverer = indexer.NewSnapshotRecoverer(store)
	}

	runner := indexer.NewRunner(indexer.RunConfig{
		ChainID:           cfg.ChainID,
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		Pools:             pools,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
	}, chainClient, decoder, registry, eventSink, snapshotSinks, errorSink, recoverer, logger)

	logger.Info("sync start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("pools", len(pools)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("events_out", cfg.EventsOut),
		zap.String("snapshots_out", cfg.SnapshotsOut),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	return runner.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
