package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram the orchestrator exports. The
// graph engine itself never touches these — only the orchestration layer
// observes, per the non-suspending core engine design (§5).
type Metrics struct {
	VectorInserts prometheus.Counter
	VectorUpdates prometheus.Counter
	VectorDeletes prometheus.Counter

	SearchQueries prometheus.Counter
	SearchErrors  prometheus.Counter
	SearchLatency prometheus.Histogram
	InsertLatency prometheus.Histogram

	EfClampedTotal        prometheus.Counter
	OplogReplayedTotal    prometheus.Counter
	OplogReplaySkipped    prometheus.Counter
	GraphRebuildsTotal    prometheus.Counter
	CompactionsTotal      prometheus.Counter
	CompactionLatency     prometheus.Histogram
	SnapshotsTotal        prometheus.Counter
	SnapshotLatency       prometheus.Histogram
	MetadataRollbackTotal prometheus.Counter
}

// NewMetrics builds the full metric set against its own registry rather
// than promauto's process-wide default — each orchestrator instance
// (there is no implicit singleton, per §9) gets an independent set of
// series instead of panicking on a second registration of the same name.
// Registry is exposed so a caller wanting process-wide /metrics scraping
// can merge it into prometheus.DefaultRegisterer itself.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		VectorInserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_vector_inserts_total",
			Help: "Total vector insertions",
		}),
		VectorUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_vector_updates_total",
			Help: "Total vector updates (update_and_reconnect)",
		}),
		VectorDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_vector_deletes_total",
			Help: "Total soft deletes",
		}),
		SearchQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_search_queries_total",
			Help: "Total search queries",
		}),
		SearchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_search_errors_total",
			Help: "Total search errors",
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "annvdb_search_latency_seconds",
			Help: "End-to-end search latency including re-rank",
		}),
		InsertLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "annvdb_insert_latency_seconds",
			Help: "End-to-end insert pipeline latency",
		}),
		EfClampedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_ef_clamped_total",
			Help: "Queries whose internally-computed ef exceeded MAX_EF",
		}),
		OplogReplayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_oplog_replayed_total",
			Help: "Oplog entries successfully replayed on recovery",
		}),
		OplogReplaySkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_oplog_replay_skipped_total",
			Help: "Oplog entries skipped on recovery (ReplayMiss)",
		}),
		GraphRebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_graph_rebuilds_total",
			Help: "Non-compact graph rebuilds triggered by the deleted-ratio threshold (same-capacity, no id renumbering)",
		}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_compactions_total",
			Help: "Total compaction rebuilds (dense id renumbering, new f32/metadata files)",
		}),
		CompactionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "annvdb_compaction_latency_seconds",
			Help: "Compaction rebuild latency",
		}),
		SnapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_snapshots_total",
			Help: "Total successful snapshots",
		}),
		SnapshotLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "annvdb_snapshot_latency_seconds",
			Help: "Snapshot latency",
		}),
		MetadataRollbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "annvdb_metadata_rollback_total",
			Help: "Insert pipeline bulk-metadata rollbacks",
		}),
	}
	reg.MustRegister(
		m.VectorInserts, m.VectorUpdates, m.VectorDeletes,
		m.SearchQueries, m.SearchErrors, m.SearchLatency, m.InsertLatency,
		m.EfClampedTotal, m.OplogReplayedTotal, m.OplogReplaySkipped,
		m.GraphRebuildsTotal, m.CompactionsTotal, m.CompactionLatency,
		m.SnapshotsTotal, m.SnapshotLatency, m.MetadataRollbackTotal,
	)
	return m, reg
}
