package sstable

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"io"

	"github.com/pkg/errors"

	"github.com/tejchid/heliosdb/pkg/atomicfile"
	"github.com/tejchid/heliosdb/pkg/bloom"
)

// WriteAtomic writes entries to path with write-to-tmp-then-rename, then
// installs the bloom sidecar the same way. Entries must be sorted strictly
// ascending by key. After it returns, both files are either fully present
// and valid or absent; a crash at any point is recoverable by Open.
func WriteAtomic(path string, entries []Entry) error {
	for i := range entries {
		if len(entries[i].Key) > maxEncodedSize || len(entries[i].Value) > maxEncodedSize {
			return ErrEntryTooLarge
		}
		if i > 0 && bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			return ErrEntriesUnsorted
		}
	}

	digest := fnv.New32a()
	err := atomicfile.WriteFile(path, func(w io.Writer) error {
		// Feed the same bytes to the file and the running checksum.
		body := io.MultiWriter(w, digest)

		var hdr [recordHdrSize]byte
		for _, e := range entries {
			vsize := uint32(len(e.Value))
			if e.Tombstone {
				vsize = TombstoneVSize
			}
			binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(e.Key)))
			binary.LittleEndian.PutUint32(hdr[4:8], vsize)
			if _, err := body.Write(hdr[:]); err != nil {
				return errors.Wrap(err, "sstable: write record header")
			}
			if _, err := body.Write(e.Key); err != nil {
				return errors.Wrap(err, "sstable: write key")
			}
			if !e.Tombstone {
				if _, err := body.Write(e.Value); err != nil {
					return errors.Wrap(err, "sstable: write value")
				}
			}
		}

		// Footer is not covered by the checksum.
		var footer [footerSize]byte
		binary.LittleEndian.PutUint64(footer[0:8], FooterMagic)
		binary.LittleEndian.PutUint32(footer[8:12], digest.Sum32())
		if _, err := w.Write(footer[:]); err != nil {
			return errors.Wrap(err, "sstable: write footer")
		}
		return nil
	})
	if err != nil {
		return err
	}

	filter := bloom.NewForCapacity(len(entries))
	for i := range entries {
		filter.Add(entries[i].Key)
	}
	return filter.Save(path + BloomSuffix)
}
