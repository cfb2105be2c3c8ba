package lsm

import (
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/tejchid/heliosdb/pkg/manifest"
	"github.com/tejchid/heliosdb/pkg/sstable"
)

// compactOnce performs one size-tiered merge: the newest MergeFanIn tables
// (the manifest's tail) collapse into a single table that replaces them.
//
// Within the merged slice the later file wins for equal keys. Tombstones are
// kept, never dropped: older tables outside the merge may still hold the
// shadowed key.
func (db *DB) compactOnce() error {
	fanIn := db.opts.MergeFanIn

	db.mu.Lock()
	files, err := manifest.Read(db.manifestPath)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	if len(files) < fanIn {
		db.mu.Unlock()
		return nil
	}
	db.mu.Unlock()

	mergeFiles := files[len(files)-fanIn:]

	// Read the inputs oldest to newest without the lock; later entries
	// overwrite earlier ones. Files that fail validation are skipped.
	merged := make(map[string]sstable.Entry)
	for _, f := range mergeFiles {
		entries, err := sstable.ReadAll(filepath.Join(db.opts.DataDir, f))
		if err != nil {
			db.log.WithField("table", f).Warn("heliosdb: skipping invalid table during merge")
			continue
		}
		for _, e := range entries {
			merged[string(e.Key)] = e
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]sstable.Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, merged[k])
	}

	db.mu.Lock()
	id := db.nextTableID
	db.nextTableID++
	db.mu.Unlock()

	outFile := tableFileName(id)
	if err := sstable.WriteAtomic(filepath.Join(db.opts.DataDir, outFile), entries); err != nil {
		return err
	}

	// Install under the lock: replace the merged inputs in the manifest with
	// the merged table, remove the input files, and publish a fresh live list.
	// Tables flushed while the merge ran stay after the merged table.
	db.mu.Lock()
	defer db.mu.Unlock()

	cur, err := manifest.Read(db.manifestPath)
	if err != nil {
		return err
	}
	at := -1
	for i := 0; i+fanIn <= len(cur); i++ {
		if slices.Equal(cur[i:i+fanIn], mergeFiles) {
			at = i
			break
		}
	}
	if at < 0 {
		return nil
	}

	newManifest := append([]string{}, cur[:at]...)
	newManifest = append(newManifest, outFile)
	newManifest = append(newManifest, cur[at+fanIn:]...)
	if err := manifest.WriteAtomic(db.manifestPath, newManifest); err != nil {
		return err
	}

	for _, f := range mergeFiles {
		path := filepath.Join(db.opts.DataDir, f)
		_ = os.Remove(path)
		_ = os.Remove(path + sstable.BloomSuffix)
	}

	if err := db.reloadTablesLocked(); err != nil {
		return err
	}

	db.stats.Compactions.Add(1)
	db.metrics.CompactionsTotal.Inc()
	db.metrics.LiveTables.Set(float64(len(db.tables)))

	db.log.WithFields(logrus.Fields{
		"merged": len(mergeFiles),
		"into":   outFile,
		"keys":   len(entries),
		"tables": len(db.tables),
	}).Info("heliosdb: compaction cycle complete")

	return nil
}

// reloadTablesLocked rebuilds the live list from the manifest. Old table
// objects are left for in-flight readers and reclaimed once unreferenced.
func (db *DB) reloadTablesLocked() error {
	files, err := manifest.Read(db.manifestPath)
	if err != nil {
		return err
	}

	tables := make([]*sstable.Table, 0, len(files))
	for i := len(files) - 1; i >= 0; i-- { // newest first
		t, err := sstable.Open(filepath.Join(db.opts.DataDir, files[i]))
		if err != nil {
			db.log.WithField("table", files[i]).Warn("heliosdb: dropping invalid table on reload")
			db.metrics.CorruptTablesSkipped.Inc()
			continue
		}
		tables = append(tables, t)
	}
	db.tables = tables
	return nil
}
