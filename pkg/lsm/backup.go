package lsm

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tejchid/heliosdb/pkg/atomicfile"
	"github.com/tejchid/heliosdb/pkg/sstable"
)

// Backup file: magic(8) | version(4) | instance uuid(16), then a snappy
// stream of ksize(4) | vsize(4) | key | value records, live keys only.
const (
	backupMagic   uint64 = 0x48454C494F53424B // "HELIOSBK"
	backupVersion uint32 = 1
)

// ErrBadBackup reports a backup file with an unrecognized header.
var ErrBadBackup = errors.New("heliosdb: malformed backup file")

// Backup writes a snappy-compressed snapshot of the live logical state to
// path. Tombstones are elided: the stream carries the merged view a reader
// would observe, not the physical tables.
func (db *DB) Backup(path string) error {
	// Exclusive: entries() sorts the memtable's key slice in place.
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	tables := db.tables
	memEntries := db.mem.entries()
	db.mu.Unlock()

	// Oldest to newest so later writes win, memtable last.
	merged := make(map[string]sstable.Entry)
	for i := len(tables) - 1; i >= 0; i-- {
		entries, err := sstable.ReadAll(tables[i].Path())
		if err != nil {
			continue
		}
		for _, e := range entries {
			merged[string(e.Key)] = e
		}
	}
	for _, e := range memEntries {
		merged[string(e.Key)] = e
	}

	keys := make([]string, 0, len(merged))
	for k, e := range merged {
		if !e.Tombstone {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	err := atomicfile.WriteFile(path, func(w io.Writer) error {
		var hdr [28]byte
		binary.LittleEndian.PutUint64(hdr[0:8], backupMagic)
		binary.LittleEndian.PutUint32(hdr[8:12], backupVersion)
		copy(hdr[12:28], db.id[:])
		if _, err := w.Write(hdr[:]); err != nil {
			return errors.Wrap(err, "backup: write header")
		}

		zw := snappy.NewBufferedWriter(w)
		var rec [8]byte
		for _, k := range keys {
			e := merged[k]
			binary.LittleEndian.PutUint32(rec[0:4], uint32(len(e.Key)))
			binary.LittleEndian.PutUint32(rec[4:8], uint32(len(e.Value)))
			if _, err := zw.Write(rec[:]); err != nil {
				return errors.Wrap(err, "backup: write record")
			}
			if _, err := zw.Write(e.Key); err != nil {
				return errors.Wrap(err, "backup: write key")
			}
			if _, err := zw.Write(e.Value); err != nil {
				return errors.Wrap(err, "backup: write value")
			}
		}
		return errors.Wrap(zw.Close(), "backup: close stream")
	})
	if err != nil {
		return err
	}

	db.log.WithFields(logrus.Fields{"path": path, "keys": len(keys)}).Info("heliosdb: backup written")
	return nil
}

// Restore replays a backup written by Backup through normal puts, so the
// restored keys are WAL-logged and flushed like any other writes.
func (db *DB) Restore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "restore: open %s", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var hdr [28]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return ErrBadBackup
	}
	if binary.LittleEndian.Uint64(hdr[0:8]) != backupMagic ||
		binary.LittleEndian.Uint32(hdr[8:12]) != backupVersion {
		return ErrBadBackup
	}
	source, err := uuid.FromBytes(hdr[12:28])
	if err != nil {
		return ErrBadBackup
	}

	zr := snappy.NewReader(br)
	restored := 0
	for {
		var rec [8]byte
		if _, err := io.ReadFull(zr, rec[:]); err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrap(err, "restore: read record")
		}
		key := make([]byte, binary.LittleEndian.Uint32(rec[0:4]))
		if _, err := io.ReadFull(zr, key); err != nil {
			return errors.Wrap(err, "restore: read key")
		}
		value := make([]byte, binary.LittleEndian.Uint32(rec[4:8]))
		if _, err := io.ReadFull(zr, value); err != nil {
			return errors.Wrap(err, "restore: read value")
		}
		if err := db.Put(key, value); err != nil {
			return err
		}
		restored++
	}

	db.log.WithFields(logrus.Fields{
		"path":   path,
		"keys":   restored,
		"source": source,
	}).Info("heliosdb: backup restored")
	return nil
}
