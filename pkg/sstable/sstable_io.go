package sstable

import (
	"encoding/binary"
	"hash/fnv"
	"os"

	"github.com/pkg/errors"
)

// IsValid reports whether path holds a fully-formed table: at least a footer,
// the footer magic, and a records-region checksum matching the footer.
func IsValid(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil || len(data) < footerSize {
		return false
	}

	footer := data[len(data)-footerSize:]
	if binary.LittleEndian.Uint64(footer[0:8]) != FooterMagic {
		return false
	}

	digest := fnv.New32a()
	_, _ = digest.Write(data[:len(data)-footerSize])
	return digest.Sum32() == binary.LittleEndian.Uint32(footer[8:12])
}

// readRecordAt decodes the record starting at off within the records region.
// Returns the entry and the offset of the next record.
func (t *Table) readRecordAt(off int64) (Entry, int64, error) {
	if off+recordHdrSize > t.end {
		return Entry{}, 0, errors.Errorf("sstable: record header past region end at %d", off)
	}

	var hdr [recordHdrSize]byte
	if _, err := t.r.ReadAt(hdr[:], off); err != nil {
		return Entry{}, 0, errors.Wrap(err, "sstable: read record header")
	}
	ksize := binary.LittleEndian.Uint32(hdr[0:4])
	vsize := binary.LittleEndian.Uint32(hdr[4:8])

	if off+recordHdrSize+int64(ksize) > t.end {
		return Entry{}, 0, errors.Errorf("sstable: key past region end at %d", off)
	}
	key := make([]byte, ksize)
	if _, err := t.r.ReadAt(key, off+recordHdrSize); err != nil {
		return Entry{}, 0, errors.Wrap(err, "sstable: read key")
	}

	next := off + recordHdrSize + int64(ksize)
	if vsize == TombstoneVSize {
		return Entry{Key: key, Tombstone: true}, next, nil
	}

	if next+int64(vsize) > t.end {
		return Entry{}, 0, errors.Errorf("sstable: value past region end at %d", off)
	}
	value := make([]byte, vsize)
	if _, err := t.r.ReadAt(value, next); err != nil {
		return Entry{}, 0, errors.Wrap(err, "sstable: read value")
	}
	return Entry{Key: key, Value: value}, next + int64(vsize), nil
}

// ReadAll validates path and decodes every record in file order. Used by the
// compactor, which reads whole tables sequentially rather than point lookups.
func ReadAll(path string) ([]Entry, error) {
	if !IsValid(path) {
		return nil, ErrInvalidTable
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "sstable: read table")
	}
	region := data[:len(data)-footerSize]

	var entries []Entry
	off := 0
	for off < len(region) {
		if off+recordHdrSize > len(region) {
			break
		}
		ksize := binary.LittleEndian.Uint32(region[off : off+4])
		vsize := binary.LittleEndian.Uint32(region[off+4 : off+8])

		if off+recordHdrSize+int(ksize) > len(region) {
			break
		}
		key := make([]byte, ksize)
		copy(key, region[off+recordHdrSize:])
		off += recordHdrSize + int(ksize)

		if vsize == TombstoneVSize {
			entries = append(entries, Entry{Key: key, Tombstone: true})
			continue
		}
		if off+int(vsize) > len(region) {
			break
		}
		value := make([]byte, vsize)
		copy(value, region[off:])
		off += int(vsize)
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}
