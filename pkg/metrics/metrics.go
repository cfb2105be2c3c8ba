// Package metrics exposes engine counters and gauges as Prometheus
// collectors. Constructed with a nil Registerer the collectors still count
// but are not registered anywhere, which is what tests and embedded callers
// without a metrics endpoint use.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metrics for one engine instance.
type Registry struct {
	PutsTotal        prometheus.Counter
	DeletesTotal     prometheus.Counter
	ReadsTotal       prometheus.Counter
	FlushesTotal     prometheus.Counter
	CompactionsTotal prometheus.Counter
	BytesWritten     prometheus.Counter

	ReplayedRecords      prometheus.Counter
	CorruptTablesSkipped prometheus.Counter

	MemtableBytes prometheus.Gauge
	LiveTables    prometheus.Gauge
}

// New creates the engine metrics, registered with r when r is non-nil.
func New(r prometheus.Registerer) *Registry {
	f := promauto.With(r)
	return &Registry{
		PutsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_puts_total",
			Help: "Total number of put operations",
		}),
		DeletesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_deletes_total",
			Help: "Total number of delete operations",
		}),
		ReadsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_reads_total",
			Help: "Total number of get operations",
		}),
		FlushesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_flushes_total",
			Help: "Total number of memtable flushes",
		}),
		CompactionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_compactions_total",
			Help: "Total number of completed compaction cycles",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_bytes_written_total",
			Help: "Total key and value bytes accepted by writes",
		}),
		ReplayedRecords: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_wal_replayed_records_total",
			Help: "WAL records applied during open",
		}),
		CorruptTablesSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "heliosdb_corrupt_tables_skipped_total",
			Help: "Tables excluded from reads after failing validation",
		}),
		MemtableBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "heliosdb_memtable_bytes",
			Help: "Approximate bytes buffered in the memtable",
		}),
		LiveTables: f.NewGauge(prometheus.GaugeOpts{
			Name: "heliosdb_live_tables",
			Help: "Number of live tables in the manifest",
		}),
	}
}
