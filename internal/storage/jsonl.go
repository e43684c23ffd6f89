package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolPricer/internal/model"
)

// JsonlEventStorage appends event records to a JSONL file.
type JsonlEventStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlEventStorage(path string) *JsonlEventStorage {
	return &JsonlEventStorage{path: path}
}

// PutEventBatch appends a batch of event records as JSON lines.
func (s *JsonlEventStorage) PutEventBatch(events []model.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(s.path, len(events), func(i int) (interface{}, error) {
		return events[i], nil
	})
}

// JsonlSnapshotStorage appends book snapshots to a JSONL file.
type JsonlSnapshotStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlSnapshotStorage(path string) *JsonlSnapshotStorage {
	return &JsonlSnapshotStorage{path: path}
}

// PutSnapshots appends snapshots as JSON lines.
func (s *JsonlSnapshotStorage) PutSnapshots(snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(s.path, len(snapshots), func(i int) (interface{}, error) {
		return snapshots[i], nil
	})
}

// JsonlDecodeErrorStorage appends decode failures to a JSONL sidecar file so
// bad logs can be inspected after a run.
type JsonlDecodeErrorStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlDecodeErrorStorage(path string) *JsonlDecodeErrorStorage {
	return &JsonlDecodeErrorStorage{path: path}
}

// PutDecodeErrors appends decode failures as JSON lines.
func (s *JsonlDecodeErrorStorage) PutDecodeErrors(errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLines(s.path, len(errs), func(i int) (interface{}, error) {
		return errs[i], nil
	})
}

func appendLines(path string, count int, record func(int) (interface{}, error)) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for i := 0; i < count; i++ {
		value, err := record(i)
		if err != nil {
			return err
		}
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ReadEvents loads all event records from a JSONL file in file order.
func ReadEvents(path string) ([]model.EventRecord, error) {
	var out []model.EventRecord
	err := readLines(path, func(line []byte) error {
		var record model.EventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("parse event record: %w", err)
		}
		out = append(out, record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadSnapshots loads all snapshots from a JSONL file. When the same pool
// appears more than once the later line wins.
func ReadSnapshots(path string) ([]model.Snapshot, error) {
	var out []model.Snapshot
	err := readLines(path, func(line []byte) error {
		var snapshot model.Snapshot
		if err := json.Unmarshal(line, &snapshot); err != nil {
			return fmt.Errorf("parse snapshot: %w", err)
		}
		out = append(out, snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func readLines(path string, handle func(line []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}
