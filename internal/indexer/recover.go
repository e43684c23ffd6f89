package indexer

import (
	"context"
	"fmt"

	"poolPricer/internal/book"
	"poolPricer/internal/model"
)

// SnapshotLoader reads the latest durable snapshot for a pool.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, chainID uint64, poolAddress string) (model.Snapshot, bool, error)
}

// SnapshotRecoverer rebuilds books from a snapshot store.
type SnapshotRecoverer struct {
	loader SnapshotLoader
}

func NewSnapshotRecoverer(loader SnapshotLoader) *SnapshotRecoverer {
	return &SnapshotRecoverer{loader: loader}
}

// RecoverBook loads the pool's snapshot and rebuilds a book from it. The
// second return is false when the store has no snapshot for the pool.
func (s *SnapshotRecoverer) RecoverBook(ctx context.Context, chainID uint64, poolAddress string) (*book.Book, bool, error) {
	if s.loader == nil {
		return nil, false, fmt.Errorf("snapshot loader is nil")
	}
	snapshot, ok, err := s.loader.LoadSnapshot(ctx, chainID, poolAddress)
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	recovered, err := book.NewBookFromSnapshot(snapshot)
	if err != nil {
		return nil, false, fmt.Errorf("rebuild book: %w", err)
	}
	return recovered, true, nil
}
