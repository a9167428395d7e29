// Package metrics provides Prometheus metrics for Mavibot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storage engine.
type Metrics struct {
	// Transaction metrics
	CommitsTotal   prometheus.Counter
	AbortsTotal    prometheus.Counter
	CommitDuration prometheus.Histogram

	// Page I/O metrics. Hits/misses are gauges mirroring pkg/page.Store's own
	// cumulative counters rather than a second independent counter, since
	// Prometheus counters can only move forward and the store is the
	// source of truth for the running total.
	PageCacheHits        prometheus.Gauge
	PageCacheMisses      prometheus.Gauge
	PagesAllocatedTotal  prometheus.Counter
	PagesFreedTotal      prometheus.Counter
	FileSizeBytes        prometheus.Gauge

	// Reclaimer metrics
	ReclaimSweepsTotal     prometheus.Counter
	ReclaimedPagesTotal    prometheus.Counter
	ReclaimPendingPages    prometheus.Gauge
	ReclaimActiveReaders   prometheus.Gauge

	// Tree registry / per-tree operation metrics
	TreesRegisteredTotal prometheus.Gauge
	TreeOperationsTotal  *prometheus.CounterVec

	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_commits_total",
		Help: "Total number of committed write transactions",
	})
	m.AbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_aborts_total",
		Help: "Total number of aborted write transactions",
	})
	m.CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mavibot_commit_duration_seconds",
		Help:    "Duration of write-transaction commits",
		Buckets: prometheus.DefBuckets,
	})

	m.PageCacheHits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_page_cache_hits",
		Help: "Cumulative page cache hits",
	})
	m.PageCacheMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_page_cache_misses",
		Help: "Cumulative page cache misses",
	})
	m.PagesAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_pages_allocated_total",
		Help: "Total pages allocated, from the free list or by extending the file",
	})
	m.PagesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_pages_freed_total",
		Help: "Total pages returned to the free list by the reclaimer",
	})
	m.FileSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_file_size_bytes",
		Help: "Current backing file size in bytes",
	})

	m.ReclaimSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_reclaim_sweeps_total",
		Help: "Total reclaimer sweep passes",
	})
	m.ReclaimedPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_reclaimed_pages_total",
		Help: "Total pages reclaimed across all sweeps",
	})
	m.ReclaimPendingPages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_reclaim_pending_pages",
		Help: "Pages retired but not yet safe to reclaim",
	})
	m.ReclaimActiveReaders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_reclaim_active_readers",
		Help: "Number of read transactions currently pinning a revision",
	})

	m.TreesRegisteredTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_trees_registered_total",
		Help: "Number of named trees registered in the tree-of-trees",
	})
	m.TreeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mavibot_tree_operations_total",
			Help: "Per-tree operation counts",
		},
		[]string{"tree", "operation"},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_uptime_seconds",
		Help: "Process uptime in seconds",
	})

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordCommit records a write transaction outcome.
func (m *Metrics) RecordCommit(committed bool, duration time.Duration) {
	if committed {
		m.CommitsTotal.Inc()
		m.CommitDuration.Observe(duration.Seconds())
	} else {
		m.AbortsTotal.Inc()
	}
}

// RecordTreeOp increments the per-tree operation counter.
func (m *Metrics) RecordTreeOp(tree, operation string) {
	m.TreeOperationsTotal.WithLabelValues(tree, operation).Inc()
}

// RecordReclaim records a completed sweep.
func (m *Metrics) RecordReclaim(pagesFreed int, pending int, activeReaders int) {
	m.ReclaimSweepsTotal.Inc()
	m.ReclaimedPagesTotal.Add(float64(pagesFreed))
	m.ReclaimPendingPages.Set(float64(pending))
	m.ReclaimActiveReaders.Set(float64(activeReaders))
}

// RecordPageCache mirrors pkg/page.Store.CacheStats's cumulative totals.
func (m *Metrics) RecordPageCache(hits, misses uint64) {
	m.PageCacheHits.Set(float64(hits))
	m.PageCacheMisses.Set(float64(misses))
}
