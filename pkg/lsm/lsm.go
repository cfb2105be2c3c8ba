// Package lsm implements the database engine: memtable, WAL-backed writes,
// flush to immutable tables, manifest-driven recovery, and a background
// size-tiered compactor.
package lsm

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejchid/heliosdb/pkg/atomicfile"
	"github.com/tejchid/heliosdb/pkg/manifest"
	"github.com/tejchid/heliosdb/pkg/metrics"
	"github.com/tejchid/heliosdb/pkg/sstable"
	"github.com/tejchid/heliosdb/pkg/wal"
)

const walFileName = "wal.log"

// Open creates or recovers a database in opts.DataDir: loads the manifest,
// opens every valid table, replays the WAL into a fresh memtable, and starts
// the background compaction worker.
func Open(opts Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Leftover *.tmp files are never named by the manifest; sweep them.
	atomicfile.SweepTmp(opts.DataDir)

	db := &DB{
		opts:         opts,
		id:           uuid.New(),
		mem:          newMemtable(),
		manifestPath: filepath.Join(opts.DataDir, manifest.FileName),
		nextTableID:  1,
		compactChan:  make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
		log:          opts.logger(),
		metrics:      opts.Metrics,
	}
	if db.metrics == nil {
		db.metrics = metrics.New(nil)
	}

	if err := db.loadManifestAndTables(); err != nil {
		return nil, err
	}

	w, err := wal.Open(filepath.Join(opts.DataDir, walFileName))
	if err != nil {
		return nil, err
	}
	db.wal = w

	records, err := w.Replay()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		// Replay must not re-log: apply straight to the memtable.
		switch rec.Type {
		case wal.OpPut:
			db.mem.put(rec.Key, rec.Value)
		case wal.OpDelete:
			db.mem.del(rec.Key)
		}
	}
	db.metrics.ReplayedRecords.Add(float64(len(records)))
	db.metrics.LiveTables.Set(float64(len(db.tables)))
	db.metrics.MemtableBytes.Set(float64(db.mem.bytes))

	db.wg.Add(1)
	go db.compactionWorker()

	db.log.WithFields(logrus.Fields{
		"dir":      opts.DataDir,
		"instance": db.id,
		"tables":   len(db.tables),
		"replayed": len(records),
	}).Info("heliosdb: opened")

	return db, nil
}

// Put writes key to value. The write is durable in the WAL before it becomes
// visible, and may trigger a flush.
func (db *DB) Put(key, value []byte) error {
	if err := checkKV(key, value); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if err := db.wal.AppendPut(key, value); err != nil {
		return err
	}
	db.mem.put(key, value)

	db.stats.Puts.Add(1)
	db.stats.BytesWritten.Add(int64(len(key) + len(value)))
	db.metrics.PutsTotal.Inc()
	db.metrics.BytesWritten.Add(float64(len(key) + len(value)))
	db.metrics.MemtableBytes.Set(float64(db.mem.bytes))

	return db.maybeFlushLocked()
}

// Delete writes a tombstone for key. Deleting an absent key is not an error.
func (db *DB) Delete(key []byte) error {
	if err := checkKV(key, nil); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if err := db.wal.AppendDelete(key); err != nil {
		return err
	}
	db.mem.del(key)

	db.stats.Deletes.Add(1)
	db.stats.BytesWritten.Add(int64(len(key)))
	db.metrics.DeletesTotal.Inc()
	db.metrics.BytesWritten.Add(float64(len(key)))
	db.metrics.MemtableBytes.Set(float64(db.mem.bytes))

	return db.maybeFlushLocked()
}

// Get returns the value for key, or false if the key is absent or deleted.
// The memtable is consulted under the shared lock; tables are immutable and
// are read from a lock-free snapshot of the live list, newest to oldest,
// short-circuiting on the first hit.
func (db *DB) Get(key []byte) ([]byte, bool) {
	db.stats.Reads.Add(1)
	db.metrics.ReadsTotal.Inc()

	db.mu.RLock()
	if e, ok := db.mem.get(key); ok {
		db.mu.RUnlock()
		if e.tombstone {
			return nil, false
		}
		return e.value, true
	}
	tables := db.tables
	db.mu.RUnlock()

	for _, t := range tables {
		switch v, outcome := t.Get(key); outcome {
		case sstable.Found:
			return v, true
		case sstable.Tombstone:
			return nil, false
		}
	}
	return nil, false
}

// Flush forces the memtable to a new table and resets the WAL. Flushing an
// empty memtable is a no-op and creates no file.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.flushLocked()
}

// Compact signals the background worker. Signals coalesce; the call never
// blocks and returns before the merge happens.
func (db *DB) Compact() {
	db.triggerCompaction()
}

// Close stops and joins the background worker, then closes the WAL and the
// open tables. It does not flush the memtable unless Options.FlushOnClose is
// set; the WAL replays the unflushed tail on the next open.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	close(db.stopChan)
	db.wg.Wait()

	db.mu.Lock()
	defer db.mu.Unlock()

	var firstErr error
	if db.opts.FlushOnClose {
		firstErr = db.flushLocked()
	}

	if err := db.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, t := range db.tables {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.tables = nil

	db.log.WithField("instance", db.id).Info("heliosdb: closed")
	return firstErr
}

// maybeFlushLocked flushes when the buffered bytes reach the threshold.
func (db *DB) maybeFlushLocked() error {
	if db.mem.bytes >= db.opts.MemtableBytes {
		return db.flushLocked()
	}
	return nil
}

// flushLocked turns the memtable into a new table: write the file atomically,
// append it to the manifest, install it at the head of the live list, then
// clear the memtable and reset the WAL. A crash before the manifest rewrite
// leaves the WAL authoritative; after it, the table is, and re-replaying the
// old WAL on top is idempotent.
func (db *DB) flushLocked() error {
	if db.mem.len() == 0 {
		return nil
	}

	id := db.nextTableID
	db.nextTableID++
	filename := tableFileName(id)
	path := filepath.Join(db.opts.DataDir, filename)

	if err := sstable.WriteAtomic(path, db.mem.entries()); err != nil {
		return err
	}

	files, err := manifest.Read(db.manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.WriteAtomic(db.manifestPath, append(files, filename)); err != nil {
		return err
	}

	t, err := sstable.Open(path)
	if err != nil {
		return err
	}
	db.tables = append([]*sstable.Table{t}, db.tables...)

	db.mem.clear()
	if err := db.wal.Reset(); err != nil {
		return err
	}

	db.stats.Flushes.Add(1)
	db.metrics.FlushesTotal.Inc()
	db.metrics.LiveTables.Set(float64(len(db.tables)))
	db.metrics.MemtableBytes.Set(0)

	db.log.WithFields(logrus.Fields{
		"table":  filename,
		"tables": len(db.tables),
	}).Debug("heliosdb: flushed memtable")

	if len(db.tables) >= db.opts.CompactThreshold {
		db.triggerCompaction()
	}
	return nil
}

// loadManifestAndTables opens every valid table named by the manifest, drops
// entries whose files are missing or corrupt, and rewrites the manifest if
// anything was dropped.
func (db *DB) loadManifestAndTables() error {
	files, err := manifest.Read(db.manifestPath)
	if err != nil {
		return err
	}

	// Recover the id allocator from the manifest's filenames.
	for _, f := range files {
		if id, ok := parseTableFileName(f); ok && id+1 > db.nextTableID {
			db.nextTableID = id + 1
		}
	}

	var kept []string
	var tables []*sstable.Table
	for _, f := range files {
		path := filepath.Join(db.opts.DataDir, f)
		t, err := sstable.Open(path)
		if err != nil {
			db.log.WithField("table", f).Warn("heliosdb: dropping invalid table from manifest")
			db.metrics.CorruptTablesSkipped.Inc()
			continue
		}
		kept = append(kept, f)
		tables = append(tables, t)
	}

	// Manifest order is oldest first; the live list is newest first.
	for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
		tables[i], tables[j] = tables[j], tables[i]
	}
	db.tables = tables

	if len(kept) != len(files) {
		return manifest.WriteAtomic(db.manifestPath, kept)
	}
	return nil
}

func tableFileName(id uint64) string {
	return fmt.Sprintf("sst_%06d.dat", id)
}

func parseTableFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "sst_") || !strings.HasSuffix(name, ".dat") {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "sst_"), ".dat"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func checkKV(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if uint64(len(key)) > math.MaxUint32 {
		return ErrKeyTooLarge
	}
	if uint64(len(value)) >= math.MaxUint32 {
		return ErrValueTooLarge
	}
	return nil
}
