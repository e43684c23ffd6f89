package indexer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"poolPricer/internal/book"
	"poolPricer/internal/chain"
	"poolPricer/internal/dex"
	"poolPricer/internal/model"
	"poolPricer/internal/storage"
)

// RunConfig holds runtime settings for the sync loop.
type RunConfig struct {
	ChainID           uint64
	FromBlock         uint64
	ToBlock           uint64
	Pools             []common.Address
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
}

// Recoverer rebuilds a pool book from a durable snapshot when live
// projection goes stale.
type Recoverer interface {
	RecoverBook(ctx context.Context, chainID uint64, poolAddress string) (*book.Book, bool, error)
}

// Runner streams pool logs from the chain, projects them into books, and
// emits event records and snapshots.
type Runner struct {
	cfg        RunConfig
	chain      *chain.Client
	decoder    dex.Decoder
	registry   *book.Registry
	events     storage.EventSink
	snapshots  []storage.SnapshotSink
	decodeErrs storage.DecodeErrorSink
	recoverer  Recoverer
	metaCache  *dex.PoolMetaCache
	tokenCache *dex.TokenMetaCache
	logger     *zap.Logger
	seen       map[string]struct{}
	checkpoint *CheckpointStore
}

// NewRunner builds a Runner with its dependencies. events, snapshot sinks,
// the decode-error sink, and the recoverer are optional.
func NewRunner(cfg RunConfig, chainClient *chain.Client, decoder dex.Decoder, registry *book.Registry, events storage.EventSink, snapshots []storage.SnapshotSink, decodeErrs storage.DecodeErrorSink, recoverer Recoverer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		decoder:    decoder,
		registry:   registry,
		events:     events,
		snapshots:  snapshots,
		decodeErrs: decodeErrs,
		recoverer:  recoverer,
		metaCache:  dex.NewPoolMetaCache(),
		tokenCache: dex.NewTokenMetaCache(),
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Run executes the sync loop.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if r.registry == nil {
		return fmt.Errorf("registry is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Pools) == 0 {
		return fmt.Errorf("at least one pool is required")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	if r.cfg.ChainID != 0 && chainID.Uint64() != r.cfg.ChainID {
		return fmt.Errorf("chain id mismatch: configured %d, node reports %s", r.cfg.ChainID, chainID)
	}
	chainIDValue := chainID.Uint64()

	if err := r.bootstrapPools(ctx); err != nil {
		return err
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	if r.checkpoint != nil {
		cp, ok, err := r.checkpoint.Load(chainIDValue)
		if err != nil {
			return err
		}
		if ok && cp.LastProcessedBlock >= from {
			from = cp.LastProcessedBlock + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
		}
	}
	for _, progress := range r.progressStores() {
		last, ok, err := progress.LoadState(ctx, progressName(chainIDValue))
		if err != nil {
			return fmt.Errorf("load stored progress: %w", err)
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from stored progress", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	topicFilter := r.topicFilter()

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To, topicFilter)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		count, err := r.processBatch(ctx, chainIDValue, logs)
		if err != nil {
			return err
		}

		r.recoverStale(ctx, chainIDValue)

		if err := r.emitSnapshots(chainIDValue); err != nil {
			return err
		}

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(chainIDValue, blockRange.To); err != nil {
				return err
			}
		}
		for _, progress := range r.progressStores() {
			if err := progress.SaveState(ctx, progressName(chainIDValue), blockRange.To); err != nil {
				r.logger.Warn("save stored progress", zap.Error(err))
			}
		}

		r.logger.Info("batch complete", zap.Int("events", count), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return nil
}

// bootstrapPools fetches pool metadata up front so the registry can index
// pools by pair before the first event arrives.
func (r *Runner) bootstrapPools(ctx context.Context) error {
	for _, pool := range r.cfg.Pools {
		meta, ok := r.metaCache.Get(pool)
		if !ok {
			fetched, err := dex.FetchPoolMeta(ctx, r.chain, pool, r.tokenCache, r.logger)
			if err != nil {
				return fmt.Errorf("pool metadata %s: %w", pool.Hex(), err)
			}
			r.metaCache.Set(pool, fetched)
			meta = fetched
		}
		r.registry.SetTokens(pool.Hex(), meta.Token0, meta.Token1)

		fields := []zap.Field{
			zap.String("pool", pool.Hex()),
			zap.Uint32("fee", meta.Fee),
		}
		if tokenMeta, ok := r.tokenCache.Get(common.HexToAddress(meta.Token0)); ok && tokenMeta.Symbol != "" {
			fields = append(fields, zap.String("token0", tokenMeta.Symbol))
		} else {
			fields = append(fields, zap.String("token0", meta.Token0))
		}
		if tokenMeta, ok := r.tokenCache.Get(common.HexToAddress(meta.Token1)); ok && tokenMeta.Symbol != "" {
			fields = append(fields, zap.String("token1", tokenMeta.Symbol))
		} else {
			fields = append(fields, zap.String("token1", meta.Token1))
		}
		r.logger.Info("tracking pool", fields...)
	}
	return nil
}

// processBatch decodes a batch of logs in chain order and applies them to
// the registry. Decode failures flag the pool stale instead of aborting the
// run.
func (r *Runner) processBatch(ctx context.Context, chainID uint64, logs []types.Log) (int, error) {
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	decodeCtx := dex.DecodeContext{
		Context:        ctx,
		Chain:          r.chain,
		PoolMetaCache:  r.metaCache,
		TokenMetaCache: r.tokenCache,
		Logger:         r.logger,
	}

	var records []model.EventRecord
	var decodeErrs []model.DecodeError
	count := 0
	for _, log := range logs {
		if log.Removed || r.isDuplicate(log) {
			continue
		}
		if len(log.Topics) == 0 || !r.decoder.CanDecode(log.Topics[0].Hex()) {
			continue
		}

		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return count, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}

		record := buildLogRecord(chainID, log, ts)
		address := record.Address

		ev, err := r.decoder.Decode(record, decodeCtx)
		if err != nil {
			r.logger.Warn("decode failed",
				zap.String("pool", address),
				zap.Uint64("block", record.BlockNumber),
				zap.Uint64("log_index", record.LogIndex),
				zap.Error(err))
			r.registry.MarkStale(address)
			if r.decodeErrs != nil {
				decodeErrs = append(decodeErrs, model.DecodeErrorFromLog(record, err))
			}
			continue
		}

		if err := r.registry.Apply(address, ev); err != nil {
			r.logger.Warn("apply failed",
				zap.String("pool", address),
				zap.String("event", ev.Name()),
				zap.Uint64("block", record.BlockNumber),
				zap.Error(err))
			continue
		}
		count++

		if r.events != nil {
			eventRecord, err := model.RecordFromEvent(chainID, address, ev)
			if err != nil {
				return count, fmt.Errorf("encode event record: %w", err)
			}
			records = append(records, eventRecord)
		}
	}

	if r.events != nil && len(records) > 0 {
		if err := r.events.PutEventBatch(records); err != nil {
			return count, fmt.Errorf("store events: %w", err)
		}
	}
	if r.decodeErrs != nil && len(decodeErrs) > 0 {
		if err := r.decodeErrs.PutDecodeErrors(decodeErrs); err != nil {
			return count, fmt.Errorf("store decode errors: %w", err)
		}
	}

	return count, nil
}

// recoverStale attempts snapshot recovery for every stale pool. Recovery
// failures are logged and retried on the next batch.
func (r *Runner) recoverStale(ctx context.Context, chainID uint64) {
	if r.recoverer == nil {
		return
	}
	for _, address := range r.registry.Addresses() {
		if !r.registry.Stale(address) {
			continue
		}
		r.registry.BeginRecovery(address)

		recovered, ok, err := r.recoverer.RecoverBook(ctx, chainID, address)
		if err != nil {
			r.logger.Warn("recovery failed", zap.String("pool", address), zap.Error(err))
			r.registry.AbortRecovery(address)
			continue
		}
		if !ok {
			r.logger.Warn("no snapshot for stale pool", zap.String("pool", address))
			r.registry.AbortRecovery(address)
			continue
		}

		if err := r.registry.CompleteRecovery(address, recovered); err != nil {
			r.logger.Warn("recovery replay failed", zap.String("pool", address), zap.Error(err))
			continue
		}
		r.logger.Info("pool recovered", zap.String("pool", address), zap.Uint64("block", recovered.Block()))
	}
}

func (r *Runner) emitSnapshots(chainID uint64) error {
	if len(r.snapshots) == 0 {
		return nil
	}
	snapshots := r.registry.Snapshots(chainID)
	if len(snapshots) == 0 {
		return nil
	}
	for _, sink := range r.snapshots {
		if err := sink.PutSnapshots(snapshots); err != nil {
			return fmt.Errorf("store snapshots: %w", err)
		}
	}
	return nil
}

// progressStores returns the snapshot sinks that also mirror sync progress,
// keyed per chain. The file checkpoint stays authoritative; the stored block
// lets a fresh host resume without the checkpoint file.
func (r *Runner) progressStores() []progressStore {
	var out []progressStore
	for _, sink := range r.snapshots {
		if store, ok := sink.(progressStore); ok {
			out = append(out, store)
		}
	}
	return out
}

type progressStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

func progressName(chainID uint64) string {
	return fmt.Sprintf("sync:%d", chainID)
}

func (r *Runner) topicFilter() []common.Hash {
	type topicSource interface {
		TopicFilter() []common.Hash
	}
	if src, ok := r.decoder.(topicSource); ok {
		return src.TopicFilter()
	}
	return nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64, topics []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Pools, topics)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
