// Package wal implements the append-only write-ahead log. Every mutation is
// recorded with a per-record checksum before it reaches the memtable, and
// replayed at startup; a corrupt or truncated tail stops replay cleanly
// without applying garbage.
package wal

import (
	"bufio"
	"encoding/binary"
	"hash/fnv"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Record layout, little-endian, packed:
//   total_len(4) | type(1) | ksize(4) | vsize(4) | checksum(4) | key | value
// vsize is 0 for deletes and the value bytes are present only for puts.
// checksum is FNV-1a-32 over type || ksize || vsize || key || value.
const headerSize = 17

// OpType tags a WAL record.
type OpType uint8

const (
	// OpPut records a write of key to value.
	OpPut OpType = 1
	// OpDelete records a tombstone for key.
	OpDelete OpType = 2
)

// Record is one replayed mutation.
type Record struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// WAL is an append-only log backed by a single file.
type WAL struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
}

// Open opens or creates the log at path for appending.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: open %s", path)
	}
	return &WAL{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// AppendPut logs a put of key to value and syncs it to disk.
func (l *WAL) AppendPut(key, value []byte) error {
	return l.append(OpPut, key, value)
}

// AppendDelete logs a tombstone for key and syncs it to disk.
func (l *WAL) AppendDelete(key []byte) error {
	return l.append(OpDelete, key, nil)
}

func (l *WAL) append(op OpType, key, value []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errors.New("wal: closed")
	}

	ksize := uint32(len(key))
	vsize := uint32(len(value))

	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], headerSize+ksize+vsize)
	hdr[4] = byte(op)
	binary.LittleEndian.PutUint32(hdr[5:9], ksize)
	binary.LittleEndian.PutUint32(hdr[9:13], vsize)
	binary.LittleEndian.PutUint32(hdr[13:17], checksum(op, key, value))

	if _, err := l.w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wal: write header")
	}
	if _, err := l.w.Write(key); err != nil {
		return errors.Wrap(err, "wal: write key")
	}
	if op == OpPut {
		if _, err := l.w.Write(value); err != nil {
			return errors.Wrap(err, "wal: write value")
		}
	}

	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "wal: flush")
	}
	if err := l.f.Sync(); err != nil {
		return errors.Wrap(err, "wal: sync")
	}
	return nil
}

// Replay reads every fully-formed record from the start of the log, stopping
// at end of file or at the first record that fails a sanity or checksum
// check. A corrupt tail is reported but never applied.
func (l *WAL) Replay() ([]Record, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "wal: open %s for replay", l.path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var records []Record

	for {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			break // EOF before or inside a header ends replay cleanly
		}

		totalLen := binary.LittleEndian.Uint32(hdr[0:4])
		op := OpType(hdr[4])
		ksize := binary.LittleEndian.Uint32(hdr[5:9])
		vsize := binary.LittleEndian.Uint32(hdr[9:13])
		stored := binary.LittleEndian.Uint32(hdr[13:17])

		if op != OpPut && op != OpDelete {
			logrus.Warnf("wal: unknown record type %d after %d records, stopping replay", op, len(records))
			break
		}
		if op == OpDelete && vsize != 0 {
			logrus.Warnf("wal: delete record carries a value after %d records, stopping replay", len(records))
			break
		}
		if uint64(totalLen) != headerSize+uint64(ksize)+uint64(vsize) {
			logrus.Warnf("wal: record length mismatch after %d records, stopping replay", len(records))
			break
		}

		key := make([]byte, ksize)
		if _, err := io.ReadFull(r, key); err != nil {
			break
		}
		var value []byte
		if op == OpPut {
			value = make([]byte, vsize)
			if _, err := io.ReadFull(r, value); err != nil {
				break
			}
		}

		if checksum(op, key, value) != stored {
			logrus.Warnf("wal: checksum mismatch after %d records, stopping replay", len(records))
			break
		}

		records = append(records, Record{Type: op, Key: key, Value: value})
	}

	return records, nil
}

// Reset discards the log after a successful flush: the file is closed,
// removed, and reopened empty for appending.
func (l *WAL) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		if err := l.w.Flush(); err != nil {
			return errors.Wrap(err, "wal: flush before reset")
		}
		if err := l.f.Close(); err != nil {
			return errors.Wrap(err, "wal: close before reset")
		}
		l.f = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "wal: remove %s", l.path)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "wal: reopen %s", l.path)
	}
	l.f = f
	l.w = bufio.NewWriter(f)
	return nil
}

// Close flushes and closes the log file.
func (l *WAL) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "wal: flush on close")
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path returns the log file path.
func (l *WAL) Path() string { return l.path }

func checksum(op OpType, key, value []byte) uint32 {
	var meta [9]byte
	meta[0] = byte(op)
	binary.LittleEndian.PutUint32(meta[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(meta[5:9], uint32(len(value)))

	d := fnv.New32a()
	_, _ = d.Write(meta[:])
	_, _ = d.Write(key)
	_, _ = d.Write(value)
	return d.Sum32()
}
