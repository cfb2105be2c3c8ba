package lsm

import (
	"bytes"
	"testing"
)

func TestMemtableByteAccounting(t *testing.T) {
	mt := newMemtable()

	mt.put([]byte("key"), []byte("value")) // 3 + 5 + 16
	if mt.bytes != 24 {
		t.Fatalf("bytes = %d, want 24", mt.bytes)
	}

	// Overwrite subtracts the old contribution first.
	mt.put([]byte("key"), []byte("v")) // 3 + 1 + 16
	if mt.bytes != 20 {
		t.Fatalf("bytes after overwrite = %d, want 20", mt.bytes)
	}

	// A tombstone contributes key + overhead only.
	mt.del([]byte("key"))
	if mt.bytes != 19 {
		t.Fatalf("bytes after delete = %d, want 19", mt.bytes)
	}

	if mt.len() != 1 {
		t.Fatalf("len = %d, want 1 (each key appears at most once)", mt.len())
	}
}

func TestMemtableGet(t *testing.T) {
	mt := newMemtable()

	if _, ok := mt.get([]byte("missing")); ok {
		t.Fatal("empty memtable reported a hit")
	}

	mt.put([]byte("a"), []byte("1"))
	e, ok := mt.get([]byte("a"))
	if !ok || e.tombstone || !bytes.Equal(e.value, []byte("1")) {
		t.Fatalf("get(a) = %+v, %v", e, ok)
	}

	mt.del([]byte("a"))
	e, ok = mt.get([]byte("a"))
	if !ok || !e.tombstone {
		t.Fatal("tombstone must be a hit with tombstone set")
	}
}

func TestMemtableEntriesSorted(t *testing.T) {
	mt := newMemtable()
	for _, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		mt.put([]byte(k), []byte("v"))
	}
	mt.del([]byte("echo"))

	entries := mt.entries()
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if bytes.Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			t.Fatalf("entries out of order: %s >= %s", entries[i-1].Key, entries[i].Key)
		}
	}
	if !entries[4].Tombstone {
		t.Fatal("echo should be a tombstone entry")
	}
}

func TestMemtableClear(t *testing.T) {
	mt := newMemtable()
	mt.put([]byte("a"), []byte("1"))
	mt.clear()

	if mt.len() != 0 || mt.bytes != 0 {
		t.Fatalf("clear left len=%d bytes=%d", mt.len(), mt.bytes)
	}
	if _, ok := mt.get([]byte("a")); ok {
		t.Fatal("cleared memtable still serves a key")
	}
}
