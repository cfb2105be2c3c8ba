package lsm

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tejchid/heliosdb/pkg/metrics"
	"github.com/tejchid/heliosdb/pkg/sstable"
	"github.com/tejchid/heliosdb/pkg/wal"
)

// DB is the log-structured merge engine: a memtable in front of an ordered
// list of immutable tables, with a WAL for durability and one background
// worker for size-tiered merges.
type DB struct {
	mu sync.RWMutex

	opts Options
	id   uuid.UUID

	// Write path
	mem *memtable
	wal *wal.WAL

	// Read path. Newest first. The slice is never mutated in place: flush and
	// compaction publish a fresh slice, so readers may hold a snapshot of the
	// old one without locking. Replaced tables are not unmapped on swap;
	// dropping the last reference lets the runtime reclaim the mapping after
	// any in-flight reads have finished.
	tables []*sstable.Table

	manifestPath string
	nextTableID  uint64

	// Background worker
	compactChan chan struct{} // capacity 1; sends coalesce
	stopChan    chan struct{}
	wg          sync.WaitGroup

	closed bool

	log     *logrus.Logger
	metrics *metrics.Registry
	stats   Stats
}

// Stats tracks engine counters with lock-free atomics.
type Stats struct {
	Puts         atomic.Int64
	Deletes      atomic.Int64
	Reads        atomic.Int64
	Flushes      atomic.Int64
	Compactions  atomic.Int64
	BytesWritten atomic.Int64
}

// StatsSnapshot is a point-in-time view of engine statistics.
type StatsSnapshot struct {
	Puts          int64
	Deletes       int64
	Reads         int64
	Flushes       int64
	Compactions   int64
	BytesWritten  int64
	MemtableBytes int
	LiveTables    int
}

// Stats returns a snapshot of the engine counters.
func (db *DB) Stats() StatsSnapshot {
	db.mu.RLock()
	memBytes := db.mem.bytes
	liveTables := len(db.tables)
	db.mu.RUnlock()

	return StatsSnapshot{
		Puts:          db.stats.Puts.Load(),
		Deletes:       db.stats.Deletes.Load(),
		Reads:         db.stats.Reads.Load(),
		Flushes:       db.stats.Flushes.Load(),
		Compactions:   db.stats.Compactions.Load(),
		BytesWritten:  db.stats.BytesWritten.Load(),
		MemtableBytes: memBytes,
		LiveTables:    liveTables,
	}
}

// ID returns the uuid assigned to this engine instance at open.
func (db *DB) ID() uuid.UUID { return db.id }
