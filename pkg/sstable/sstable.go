// Package sstable implements the immutable sorted table format: bit-exact
// records with a checksummed footer, a sparse in-memory index built at open,
// and bloom-filter-screened point lookups.
package sstable

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"

	"github.com/tejchid/heliosdb/pkg/bloom"
)

// Open validates path, maps it for positional reads, loads the bloom sidecar
// if it is present and well-formed, and scans the records region once to
// build the sparse index. A table that fails validation is not opened.
func Open(path string) (*Table, error) {
	if !IsValid(path) {
		return nil, ErrInvalidTable
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sstable: open %s", path)
	}

	t := &Table{
		path: path,
		r:    r,
		end:  int64(r.Len()) - footerSize,
	}

	// A bad or missing sidecar disables filtering; the table stays usable.
	if f, err := bloom.Load(path + BloomSuffix); err == nil {
		t.filter = f
	}

	count := 0
	for off := int64(0); off < t.end; {
		e, next, err := t.readRecordAt(off)
		if err != nil {
			break
		}
		if count%IndexStride == 0 {
			t.index = append(t.index, indexEntry{key: e.Key, offset: off})
		}
		count++
		off = next
	}

	return t, nil
}

// Get looks up key in this table alone.
func (t *Table) Get(key []byte) ([]byte, Outcome) {
	if t.filter != nil && !t.filter.PossiblyContains(key) {
		return nil, Missing
	}
	if len(t.index) == 0 {
		return nil, Missing
	}

	// Largest index entry with entry.key <= key; keys below the first entry
	// start at the first entry's offset, which is the file start.
	pos := sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].key, key) > 0
	})
	start := t.index[0].offset
	if pos > 0 {
		start = t.index[pos-1].offset
	}

	for off := start; off < t.end; {
		e, next, err := t.readRecordAt(off)
		if err != nil {
			return nil, Missing
		}
		switch cmp := bytes.Compare(e.Key, key); {
		case cmp == 0:
			if e.Tombstone {
				return nil, Tombstone
			}
			return e.Value, Found
		case cmp > 0:
			return nil, Missing
		}
		off = next
	}
	return nil, Missing
}

// Close releases the mapping. The file itself is only removed by compaction.
func (t *Table) Close() error {
	if t.r == nil {
		return nil
	}
	err := t.r.Close()
	t.r = nil
	return err
}
