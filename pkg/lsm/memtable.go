package lsm

import (
	"sort"

	"github.com/tejchid/heliosdb/pkg/sstable"
)

// memtable is the in-memory write buffer: a mapping from key to value or
// tombstone, with keys kept for ordered iteration at flush. It is rebuilt
// from the WAL on restart and holds each key at most once.
//
// Callers hold the engine lock; the memtable itself is not synchronized.
type memtable struct {
	data   map[string]*memEntry
	keys   []string
	sorted bool
	bytes  int // approximate: sum of len(key)+len(value)+16 per entry
}

type memEntry struct {
	value     []byte
	tombstone bool
}

const memEntryOverhead = 16

func newMemtable() *memtable {
	return &memtable{
		data:   make(map[string]*memEntry),
		sorted: true,
	}
}

// put inserts or overwrites key with value.
func (mt *memtable) put(key, value []byte) {
	mt.upsert(key, value, false)
}

// del inserts or overwrites key with a tombstone.
func (mt *memtable) del(key []byte) {
	mt.upsert(key, nil, true)
}

func (mt *memtable) upsert(key, value []byte, tombstone bool) {
	k := string(key)

	if old, ok := mt.data[k]; ok {
		mt.bytes -= entryBytes(k, old)
	} else {
		mt.keys = append(mt.keys, k)
		mt.sorted = false
	}

	e := &memEntry{value: value, tombstone: tombstone}
	mt.data[k] = e
	mt.bytes += entryBytes(k, e)
}

// get returns the entry for key, if any. A tombstone entry is a hit.
func (mt *memtable) get(key []byte) (*memEntry, bool) {
	e, ok := mt.data[string(key)]
	return e, ok
}

// entries returns the contents in ascending key order for flushing.
func (mt *memtable) entries() []sstable.Entry {
	if !mt.sorted {
		sort.Strings(mt.keys)
		mt.sorted = true
	}

	out := make([]sstable.Entry, 0, len(mt.keys))
	for _, k := range mt.keys {
		e := mt.data[k]
		out = append(out, sstable.Entry{
			Key:       []byte(k),
			Value:     e.value,
			Tombstone: e.tombstone,
		})
	}
	return out
}

func (mt *memtable) len() int { return len(mt.data) }

// clear resets the buffer after a flush.
func (mt *memtable) clear() {
	mt.data = make(map[string]*memEntry)
	mt.keys = mt.keys[:0]
	mt.sorted = true
	mt.bytes = 0
}

func entryBytes(key string, e *memEntry) int {
	n := len(key) + memEntryOverhead
	if !e.tombstone {
		n += len(e.value)
	}
	return n
}
