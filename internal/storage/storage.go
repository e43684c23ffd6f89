package storage

import "poolPricer/internal/model"

// EventSink is a sink for decoded pool event records.
type EventSink interface {
	PutEventBatch(events []model.EventRecord) error
}

// SnapshotSink is a sink for book snapshots.
type SnapshotSink interface {
	PutSnapshots(snapshots []model.Snapshot) error
}

// DecodeErrorSink is a sink for logs that failed to decode.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}
