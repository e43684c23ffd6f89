package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolPricer/internal/model"
)

// Store provides Postgres persistence for book snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutSnapshots upserts snapshots with their tick rows. Each snapshot is
// written in its own transaction so that a pool's tick set always matches
// its header row.
func (s *Store) PutSnapshots(snapshots []model.Snapshot) error {
	return s.UpsertSnapshots(context.Background(), snapshots)
}

// UpsertSnapshots inserts or updates pool snapshots and replaces their
// tick rows.
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []model.Snapshot) error {
	for _, snapshot := range snapshots {
		if err := s.upsertSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", snapshot.PoolAddress, err)
		}
	}
	return nil
}

func (s *Store) upsertSnapshot(ctx context.Context, snapshot model.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO pool_snapshots (
			chain_id, pool_address, token0, token1, fee, current_tick,
			liquidity, sqrt_price_x96, block, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (chain_id, pool_address)
		DO UPDATE SET
			token0 = EXCLUDED.token0,
			token1 = EXCLUDED.token1,
			fee = EXCLUDED.fee,
			current_tick = EXCLUDED.current_tick,
			liquidity = EXCLUDED.liquidity,
			sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
			block = EXCLUDED.block,
			updated_at = now()
	`,
		int64(snapshot.ChainID),
		snapshot.PoolAddress,
		snapshot.Token0,
		snapshot.Token1,
		int64(snapshot.FeePips),
		snapshot.CurrentTick,
		snapshot.Liquidity,
		snapshot.SqrtPriceX96,
		int64(snapshot.Block),
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM snapshot_ticks WHERE chain_id = $1 AND pool_address = $2
	`, int64(snapshot.ChainID), snapshot.PoolAddress)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, tick := range snapshot.Ticks {
		batch.Queue(`
			INSERT INTO snapshot_ticks (
				chain_id, pool_address, tick_index, liquidity_net, upper_boundary
			) VALUES ($1, $2, $3, $4, $5)
		`,
			int64(snapshot.ChainID),
			snapshot.PoolAddress,
			tick.TickIndex,
			tick.LiquidityNet,
			tick.Upper,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range snapshot.Ticks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// LoadSnapshot reads the latest snapshot for a pool. The second return is
// false when no snapshot exists.
func (s *Store) LoadSnapshot(ctx context.Context, chainID uint64, poolAddress string) (model.Snapshot, bool, error) {
	snapshot := model.Snapshot{ChainID: chainID, PoolAddress: poolAddress}

	row := s.pool.QueryRow(ctx, `
		SELECT token0, token1, fee, current_tick, liquidity, sqrt_price_x96, block
		FROM pool_snapshots
		WHERE chain_id = $1 AND pool_address = $2
	`, int64(chainID), poolAddress)

	var fee int64
	var block int64
	if err := row.Scan(
		&snapshot.Token0,
		&snapshot.Token1,
		&fee,
		&snapshot.CurrentTick,
		&snapshot.Liquidity,
		&snapshot.SqrtPriceX96,
		&block,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, false, nil
		}
		return model.Snapshot{}, false, err
	}
	snapshot.FeePips = uint32(fee)
	snapshot.Block = uint64(block)

	rows, err := s.pool.Query(ctx, `
		SELECT tick_index, liquidity_net, upper_boundary
		FROM snapshot_ticks
		WHERE chain_id = $1 AND pool_address = $2
		ORDER BY tick_index
	`, int64(chainID), poolAddress)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	defer rows.Close()

	for rows.Next() {
		var tick model.SnapshotTick
		if err := rows.Scan(&tick.TickIndex, &tick.LiquidityNet, &tick.Upper); err != nil {
			return model.Snapshot{}, false, err
		}
		snapshot.Ticks = append(snapshot.Ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, false, err
	}

	return snapshot, true, nil
}

// QuoteAudit is one priced (or failed) quote entry for the audit table.
type QuoteAudit struct {
	ChainID uint64
	Pool    string
	Side    string
	Token   string
	Amount  string
	Result  string
	Error   string
}

// InsertQuotes appends quote results to the audit table.
func (s *Store) InsertQuotes(ctx context.Context, quotes []QuoteAudit) error {
	if len(quotes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range quotes {
		batch.Queue(`
			INSERT INTO quote_audit (
				chain_id, pool_address, side, token, amount, result, error, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		`, int64(q.ChainID), q.Pool, q.Side, q.Token, q.Amount, q.Result, q.Error)
	}
	br := s.pool.SendBatch(ctx, batch)
	for range quotes {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert quote audit: %w", err)
		}
	}
	return br.Close()
}

// LoadState returns the last processed block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts the last processed block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}
