// Package storage persists the call journal: one bbolt record per routed
// tool call, keyed for reverse-chronological reads, with age and size
// pruning in the background.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"notionfast-go/internal/truncate"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"
	"go.uber.org/zap"
)

const (
	journalFileName = "journal.db"

	queueDepth    = 256
	pruneInterval = time.Hour

	// DefaultMaxRecords is the record count that triggers excess pruning.
	DefaultMaxRecords = 1000

	// DefaultMaxAge is how long records are kept.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// Options tune journal retention.
type Options struct {
	MaxRecords int           // excess pruning threshold; <=0 selects DefaultMaxRecords
	MaxAge     time.Duration // age pruning threshold; <=0 selects DefaultMaxAge
}

// Journal is the bbolt-backed call journal. Writes normally go through
// RecordAsync so tool calls never wait on disk.
type Journal struct {
	db        *bbolt.DB
	truncator *truncate.Truncator
	logger    *zap.SugaredLogger

	maxRecords int
	maxAge     time.Duration

	queue   chan *CallRecord
	dropped atomic.Int64
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// JournalStats summarizes the journal for status reporting.
type JournalStats struct {
	Records int   `json:"records"`
	Dropped int64 `json:"dropped"`
}

// Open opens (or creates) the journal under dataDir and starts the write
// worker and the hourly pruner. A nil truncator selects the default cap; a
// nil logger discards logs.
func Open(dataDir string, truncator *truncate.Truncator, opts Options, logger *zap.SugaredLogger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if truncator == nil {
		truncator = truncate.New(0, nil)
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = DefaultMaxRecords
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}

	db, err := openBolt(filepath.Join(dataDir, journalFileName), logger)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:         db,
		truncator:  truncator,
		logger:     logger,
		maxRecords: opts.MaxRecords,
		maxAge:     opts.MaxAge,
		queue:      make(chan *CallRecord, queueDepth),
	}

	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.wg.Add(2)
	go j.processQueue(ctx)
	go j.pruneLoop(ctx)

	return j, nil
}

// openBolt opens the database. A locked or stuck file is moved aside and
// recreated; the journal is operational history, not configuration, so
// losing it beats failing startup.
func openBolt(path string, logger *zap.SugaredLogger) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 10 * time.Second})
	if err == nil {
		return db, nil
	}
	if err != bolterrors.ErrTimeout {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	stalePath := path + ".stale." + time.Now().Format("20060102-150405")
	logger.Warnw("Journal database is locked, moving it aside",
		"path", path, "stale_path", stalePath)
	if renameErr := os.Rename(path, stalePath); renameErr != nil {
		return nil, fmt.Errorf("failed to move locked journal database: %w", renameErr)
	}

	db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to recreate journal database: %w", err)
	}
	return db, nil
}

func (j *Journal) initSchema() error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{CallRecordsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		return meta.Put([]byte(SchemaVersionKey), []byte(fmt.Sprintf("%d", CurrentSchemaVersion)))
	})
}

// callKey generates a bbolt key for a call record.
// Key format: {timestamp_ns}_{ulid} for natural reverse-chronological
// ordering; the 20-digit nanosecond timestamp keeps ordering consistent.
func callKey(timestamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", timestamp.UnixNano(), id))
}

// parseCallKey extracts the ULID from a call record key.
// Returns empty string if the key format is invalid.
func parseCallKey(key []byte) string {
	keyStr := string(key)
	if len(keyStr) < 22 { // 20 digits + underscore + at least 1 char for id
		return ""
	}
	return keyStr[21:]
}

// Record stores a call record synchronously. The journal owns the record
// from here on: a missing ID and timestamp are filled in and the response
// text is replaced by its truncated form.
func (j *Journal) Record(record *CallRecord) error {
	if record == nil {
		return fmt.Errorf("call record cannot be nil")
	}
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	if record.Response != "" {
		capped := j.truncator.Truncate(record.Response)
		record.Response = capped.Text
		record.ResponseTruncated = capped.Truncated
		record.ResponseBytes = capped.OriginalBytes
		record.ResponseTokens = capped.Tokens
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return fmt.Errorf("call records bucket missing")
		}

		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal call record: %w", err)
		}

		return bucket.Put(callKey(record.Timestamp, record.ID), data)
	})
}

// RecordAsync queues a record for the write worker. When the queue is full
// or the journal is closed the record is dropped and counted; journaling
// must never delay a tool call.
func (j *Journal) RecordAsync(record *CallRecord) {
	if record == nil {
		return
	}
	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- record:
	default:
		j.dropped.Add(1)
		j.logger.Debugw("Journal queue full, dropping call record", "tool", record.Tool)
	}
}

func (j *Journal) processQueue(ctx context.Context) {
	defer j.wg.Done()
	for {
		select {
		case record := <-j.queue:
			j.persist(record)
		case <-ctx.Done():
			// Drain whatever was queued before shutdown.
			for {
				select {
				case record := <-j.queue:
					j.persist(record)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) persist(record *CallRecord) {
	if err := j.Record(record); err != nil {
		j.logger.Warnw("Failed to persist call record",
			"id", record.ID, "tool", record.Tool, "error", err)
	}
}

func (j *Journal) pruneLoop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := j.PruneOlderThan(j.maxAge); err != nil {
				j.logger.Warnw("Journal age pruning failed", "error", err)
			}
			if _, err := j.PruneExcess(j.maxRecords, 0.9); err != nil {
				j.logger.Warnw("Journal size pruning failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Get retrieves a call record by ID. Returns nil if not found.
func (j *Journal) Get(id string) (*CallRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("record ID cannot be empty")
	}

	var record *CallRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			if parseCallKey(k) == id {
				record = &CallRecord{}
				if err := record.UnmarshalBinary(v); err != nil {
					return fmt.Errorf("failed to unmarshal call record: %w", err)
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns paginated call records matching the filter, newest first,
// along with the total matching count.
func (j *Journal) List(filter Filter) ([]*CallRecord, int, error) {
	filter.Validate()

	var records []*CallRecord
	var total int

	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return nil
		}

		cursor := bucket.Cursor()
		skipped := 0

		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			var record CallRecord
			if err := record.UnmarshalBinary(v); err != nil {
				j.logger.Warnw("Failed to unmarshal call record",
					"key", string(k), "error", err)
				continue
			}

			if !filter.Matches(&record) {
				continue
			}
			total++

			if skipped < filter.Offset {
				skipped++
				continue
			}
			if len(records) < filter.Limit {
				copied := record
				records = append(records, &copied)
			}
		}
		return nil
	})

	return records, total, err
}

// Count returns the total number of call records.
func (j *Journal) Count() (int, error) {
	var count int
	err := j.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Stats reports record and drop counts for status output.
func (j *Journal) Stats() (JournalStats, error) {
	count, err := j.Count()
	if err != nil {
		return JournalStats{}, err
	}
	return JournalStats{Records: count, Dropped: j.dropped.Load()}, nil
}

// PruneOlderThan deletes records older than maxAge. Returns how many were
// deleted.
func (j *Journal) PruneOlderThan(maxAge time.Duration) (int, error) {
	cutoffKey := callKey(time.Now().UTC().Add(-maxAge), "")

	var deleted int
	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return nil
		}

		var keysToDelete [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			// Keys sort by timestamp, so everything before the cutoff key
			// is old.
			if string(k) >= string(cutoffKey) {
				break
			}
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}

		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete old call record: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		j.logger.Infow("Pruned old call records",
			"deleted", deleted, "max_age", maxAge.String())
	}
	return deleted, nil
}

// PruneExcess deletes the oldest records when the count exceeds maxRecords,
// bringing the journal down to targetPercent of the bound. Returns how many
// were deleted.
func (j *Journal) PruneExcess(maxRecords int, targetPercent float64) (int, error) {
	if targetPercent <= 0 || targetPercent > 1 {
		targetPercent = 0.9
	}

	var deleted int
	err := j.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(CallRecordsBucket))
		if bucket == nil {
			return nil
		}

		count := bucket.Stats().KeyN
		if count <= maxRecords {
			return nil
		}
		toDelete := count - int(float64(maxRecords)*targetPercent)

		var keysToDelete [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.First(); k != nil && len(keysToDelete) < toDelete; k, _ = cursor.Next() {
			keysToDelete = append(keysToDelete, append([]byte{}, k...))
		}

		for _, key := range keysToDelete {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("failed to delete excess call record: %w", err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	if deleted > 0 {
		j.logger.Infow("Pruned excess call records",
			"deleted", deleted, "max_records", maxRecords)
	}
	return deleted, nil
}

// Close drains the write queue and closes the database. Safe to call twice.
func (j *Journal) Close() error {
	if j.closed.Swap(true) {
		return nil
	}
	j.cancel()
	j.wg.Wait()
	return j.db.Close()
}
