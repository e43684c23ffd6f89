package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolPricer/internal/book"
	"poolPricer/internal/config"
	"poolPricer/internal/model"
	"poolPricer/internal/storage"
	"poolPricer/internal/storage/postgres"
)

type quoteLine struct {
	Pool   string `json:"pool"`
	Side   string `json:"side"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runQuote(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuote(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Pool == "" {
		return fmt.Errorf("pool address is required")
	}
	if cfg.Token == "" {
		return fmt.Errorf("token address is required")
	}
	side := strings.ToLower(cfg.Side)
	if side != "sell" && side != "buy" {
		return fmt.Errorf("side must be sell or buy, got %q", cfg.Side)
	}
	if len(cfg.Amounts) == 0 {
		return fmt.Errorf("at least one amount is required")
	}

	amounts, err := parseAmounts(cfg.Amounts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
	}

	snapshot, err := loadSnapshot(ctx, cfg, store)
	if err != nil {
		return err
	}

	b, err := book.NewBookFromSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("rebuild book: %w", err)
	}

	logger.Info("quote",
		zap.String("pool", cfg.Pool),
		zap.String("side", side),
		zap.String("token", cfg.Token),
		zap.Int("amounts", len(amounts)),
		zap.Uint64("block", b.Block()),
	)

	var results []book.QuoteResult
	if side == "sell" {
		results, err = book.PriceSell(b, cfg.Token, amounts)
	} else {
		results, err = book.PriceBuy(b, cfg.Token, amounts)
	}
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	audits := make([]postgres.QuoteAudit, 0, len(results))
	for i, result := range results {
		line := quoteLine{
			Pool:   cfg.Pool,
			Side:   side,
			Token:  cfg.Token,
			Amount: amounts[i].String(),
		}
		if result.Err != nil {
			line.Error = result.Err.Error()
		} else {
			line.Result = result.Amount.String()
		}
		if err := encoder.Encode(line); err != nil {
			return fmt.Errorf("write quote: %w", err)
		}
		audits = append(audits, postgres.QuoteAudit{
			ChainID: cfg.ChainID,
			Pool:    cfg.Pool,
			Side:    side,
			Token:   cfg.Token,
			Amount:  line.Amount,
			Result:  line.Result,
			Error:   line.Error,
		})
	}

	if store != nil {
		if err := store.InsertQuotes(ctx, audits); err != nil {
			logger.Warn("quote audit write failed", zap.Error(err))
		}
	}

	return nil
}

func loadSnapshot(ctx context.Context, cfg config.QuoteConfig, store *postgres.Store) (model.Snapshot, error) {
	if store != nil {
		snapshot, ok, err := store.LoadSnapshot(ctx, cfg.ChainID, cfg.Pool)
		if err != nil {
			return model.Snapshot{}, err
		}
		if !ok {
			return model.Snapshot{}, fmt.Errorf("no snapshot for pool %s", cfg.Pool)
		}
		return snapshot, nil
	}

	snapshots, err := storage.ReadSnapshots(cfg.SnapshotsIn)
	if err != nil {
		return model.Snapshot{}, err
	}

	var found *model.Snapshot
	for i := range snapshots {
		if strings.EqualFold(snapshots[i].PoolAddress, cfg.Pool) && snapshots[i].ChainID == cfg.ChainID {
			found = &snapshots[i]
		}
	}
	if found == nil {
		return model.Snapshot{}, fmt.Errorf("no snapshot for pool %s in %s", cfg.Pool, cfg.SnapshotsIn)
	}
	return *found, nil
}

func parseAmounts(inputs []string) ([]*big.Int, error) {
	amounts := make([]*big.Int, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		value, ok := new(big.Int).SetString(input, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount: %s", input)
		}
		amounts = append(amounts, value)
	}
	if len(amounts) == 0 {
		return nil, fmt.Errorf("at least one amount is required")
	}
	return amounts, nil
}
