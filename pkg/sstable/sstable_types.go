package sstable

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"

	"github.com/tejchid/heliosdb/pkg/bloom"
)

// On-disk format:
//   [Records: ksize(4) | vsize(4) | key | value?  ...]
//   [Footer: magic(8) | checksum(4)]
// All integers little-endian. vsize == 0xFFFFFFFF marks a tombstone and the
// value bytes are omitted. The checksum is FNV-1a-32 over the records region.

const (
	// FooterMagic spells "HELIOSST".
	FooterMagic uint64 = 0x48454C494F535354

	// TombstoneVSize is the reserved vsize marking a deletion.
	TombstoneVSize uint32 = math.MaxUint32

	// IndexStride is the record interval of the in-memory sparse index.
	IndexStride = 16

	// BloomSuffix names the filter sidecar next to a table file.
	BloomSuffix = ".bloom"

	footerSize     = 12
	recordHdrSize  = 8
	maxEncodedSize = math.MaxUint32 - 1
)

var (
	// ErrInvalidTable reports a missing, truncated, or checksum-mismatched file.
	ErrInvalidTable = errors.New("sstable: invalid table file")

	// ErrEntryTooLarge reports a key or value that cannot be encoded.
	ErrEntryTooLarge = errors.New("sstable: key or value too large")

	// ErrEntriesUnsorted reports a write with out-of-order or duplicate keys.
	ErrEntriesUnsorted = errors.New("sstable: entries not strictly ascending")
)

// Entry is one key with either a value or a tombstone.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Outcome classifies a point lookup against a single table.
type Outcome uint8

const (
	// Missing means the table holds no record for the key.
	Missing Outcome = iota
	// Tombstone means the table's newest record for the key is a deletion.
	Tombstone
	// Found means the table holds a live value for the key.
	Found
)

// Table is an open, immutable on-disk table. Contents never change after
// creation, so concurrent positional reads need no locking.
type Table struct {
	path   string
	r      *mmap.ReaderAt
	end    int64        // length of the records region
	index  []indexEntry // every IndexStride-th record, always including record 0
	filter *bloom.Filter
}

type indexEntry struct {
	key    []byte
	offset int64
}

// Path returns the table's file path.
func (t *Table) Path() string { return t.path }

// FilterLoaded reports whether the bloom sidecar was usable at open.
func (t *Table) FilterLoaded() bool { return t.filter != nil }
