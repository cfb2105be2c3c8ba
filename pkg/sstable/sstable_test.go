package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestTable(t *testing.T, entries []Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sst_000001.dat")
	require.NoError(t, WriteAtomic(path, entries))
	return path
}

// sortedEntries builds n strictly ascending key/value records.
func sortedEntries(n int) []Entry {
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{
			Key:   []byte(fmt.Sprintf("key%05d", i)),
			Value: []byte(fmt.Sprintf("value%05d", i)),
		})
	}
	return entries
}

func TestWriteAtomicProducesValidFile(t *testing.T) {
	path := writeTestTable(t, sortedEntries(100))
	require.True(t, IsValid(path))

	// The sidecar is installed alongside.
	_, err := os.Stat(path + BloomSuffix)
	require.NoError(t, err)

	// No temporaries remain.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestGetEveryWrittenKey(t *testing.T) {
	entries := sortedEntries(100) // several index strides
	path := writeTestTable(t, entries)

	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()
	require.True(t, table.FilterLoaded())

	for _, e := range entries {
		v, outcome := table.Get(e.Key)
		require.Equal(t, Found, outcome, "key %s", e.Key)
		require.Equal(t, e.Value, v)
	}
}

func TestGetMissingKeys(t *testing.T) {
	path := writeTestTable(t, sortedEntries(100))
	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()

	// Before the first key, between two keys, and after the last key.
	for _, key := range []string{"key00000a", "key00050a", "aaa", "zzz"} {
		_, outcome := table.Get([]byte(key))
		require.Equal(t, Missing, outcome, "key %s", key)
	}
}

func TestGetTombstone(t *testing.T) {
	path := writeTestTable(t, []Entry{
		{Key: []byte("alive"), Value: []byte("v")},
		{Key: []byte("dead"), Tombstone: true},
	})
	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()

	_, outcome := table.Get([]byte("dead"))
	require.Equal(t, Tombstone, outcome)

	v, outcome := table.Get([]byte("alive"))
	require.Equal(t, Found, outcome)
	require.Equal(t, []byte("v"), v)
}

func TestBoundaryKeys(t *testing.T) {
	entries := []Entry{
		{Key: []byte{0x00}, Value: []byte("low")},
		{Key: []byte("k"), Value: nil}, // empty value
		{Key: bytes.Repeat([]byte{0xFF}, 8), Value: []byte("high")},
	}
	path := writeTestTable(t, entries)
	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()

	v, outcome := table.Get([]byte{0x00})
	require.Equal(t, Found, outcome)
	require.Equal(t, []byte("low"), v)

	v, outcome = table.Get([]byte("k"))
	require.Equal(t, Found, outcome)
	require.Empty(t, v)

	v, outcome = table.Get(bytes.Repeat([]byte{0xFF}, 8))
	require.Equal(t, Found, outcome)
	require.Equal(t, []byte("high"), v)
}

func TestWriteAtomicRejectsUnsortedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dat")
	err := WriteAtomic(path, []Entry{
		{Key: []byte("b"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
	})
	require.ErrorIs(t, err, ErrEntriesUnsorted)

	err = WriteAtomic(path, []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("a"), Value: []byte("2")},
	})
	require.ErrorIs(t, err, ErrEntriesUnsorted)
}

func TestIsValidRejectsFlippedByte(t *testing.T) {
	path := writeTestTable(t, sortedEntries(50))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one byte in the middle of the records region.
	flipped := make([]byte, len(data))
	copy(flipped, data)
	flipped[len(flipped)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, flipped, 0644))

	require.False(t, IsValid(path))
	_, err = Open(path)
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestIsValidRejectsShortAndMissingFiles(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.dat")
	require.NoError(t, os.WriteFile(short, []byte("tiny"), 0644))
	require.False(t, IsValid(short))

	require.False(t, IsValid(filepath.Join(dir, "absent.dat")))
}

func TestOpenWithoutSidecarStillServesReads(t *testing.T) {
	entries := sortedEntries(40)
	path := writeTestTable(t, entries)
	require.NoError(t, os.Remove(path+BloomSuffix))

	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()
	require.False(t, table.FilterLoaded())

	for _, e := range entries {
		v, outcome := table.Get(e.Key)
		require.Equal(t, Found, outcome)
		require.Equal(t, e.Value, v)
	}
	_, outcome := table.Get([]byte("nope"))
	require.Equal(t, Missing, outcome)
}

func TestEmptyTable(t *testing.T) {
	path := writeTestTable(t, nil)
	require.True(t, IsValid(path))

	table, err := Open(path)
	require.NoError(t, err)
	defer table.Close()

	_, outcome := table.Get([]byte("anything"))
	require.Equal(t, Missing, outcome)
}

func TestReadAllRoundTrip(t *testing.T) {
	entries := sortedEntries(30)
	entries = append(entries, Entry{Key: []byte("zzz-dead"), Tombstone: true})
	path := writeTestTable(t, entries)

	got, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, got, len(entries))
	for i := range entries {
		require.Equal(t, entries[i].Key, got[i].Key)
		require.Equal(t, entries[i].Tombstone, got[i].Tombstone)
		if !entries[i].Tombstone {
			require.Equal(t, entries[i].Value, got[i].Value)
		}
	}
}

func TestReadAllRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.dat")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{7}, 64), 0644))
	_, err := ReadAll(path)
	require.ErrorIs(t, err, ErrInvalidTable)
}
