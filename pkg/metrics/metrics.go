// Package metrics exposes tablesync progress as Prometheus metrics.
//
// # Overview
//
// Every metric carries a table label holding the target table name:
//   - tablesync_batches_total counts batches by outcome
//   - tablesync_rows_transferred_total counts rows committed to the target
//   - tablesync_batch_duration_seconds observes read, write and commit phases
//   - tablesync_retries_total counts reattempts by fault category
//   - tablesync_verification_mismatches_total counts failed verifications
//
// # Basic Usage
//
//	c := metrics.NewCollector("public.customers")
//	timer := metrics.NewTimer()
//	writeBatch(rows)
//	c.ObservePhase("write", timer.Stop())
//	c.BatchCommitted(int64(len(rows)))
//
// Handler serves the default registry for scraping.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Batch outcomes used as the status label.
const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusRetried   = "retried"
)

var (
	// BatchesTotal counts batches by outcome.
	// Labels: table, status (committed/failed/skipped/retried)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesync_batches_total",
			Help: "Total number of batches by outcome",
		},
		[]string{"table", "status"},
	)

	// RowsTransferred counts rows acknowledged by the target.
	RowsTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesync_rows_transferred_total",
			Help: "Total number of rows written to the target",
		},
		[]string{"table"},
	)

	// BatchDuration observes each phase of a batch in seconds.
	// Labels: table, phase (read/write/commit)
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "tablesync_batch_duration_seconds",
			Help: "Duration of batch phases in seconds",
			Buckets: []float64{
				0.005, // 5ms - checkpoint commits
				0.05,  // 50ms - small batches
				0.25,
				1,  // 1s - typical 10k row batch
				5,  // 5s
				30, // 30s - wide rows, slow links
				120,
			},
		},
		[]string{"table", "phase"},
	)

	// Retries counts reattempts by the category of the fault that caused them.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesync_retries_total",
			Help: "Total number of batch reattempts",
		},
		[]string{"table", "category"},
	)

	// VerificationMismatches counts tables whose verification failed.
	VerificationMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablesync_verification_mismatches_total",
			Help: "Total number of verification mismatches",
		},
		[]string{"table"},
	)

	// ActiveWorkers tracks workers currently processing a batch.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablesync_active_workers",
			Help: "Number of workers processing a batch",
		},
	)

	// Throughput tracks rows per second per table.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablesync_throughput_rows_per_second",
			Help: "Current throughput in rows per second",
		},
		[]string{"table"},
	)
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Collector records the metrics of one table.
type Collector struct {
	table      string
	throughput *ThroughputTracker
}

// NewCollector creates a collector for table.
func NewCollector(table string) *Collector {
	return &Collector{
		table:      table,
		throughput: NewThroughputTracker(table),
	}
}

// BatchCommitted records a batch acknowledged by the target.
func (c *Collector) BatchCommitted(rows int64) {
	BatchesTotal.WithLabelValues(c.table, StatusCommitted).Inc()
	RowsTransferred.WithLabelValues(c.table).Add(float64(rows))
	c.throughput.Increment(rows)
}

// BatchSkipped records n batches already committed by an earlier run.
func (c *Collector) BatchSkipped(n int) {
	BatchesTotal.WithLabelValues(c.table, StatusSkipped).Add(float64(n))
}

// BatchRetried records a reattempt caused by a fault of category.
func (c *Collector) BatchRetried(category string) {
	BatchesTotal.WithLabelValues(c.table, StatusRetried).Inc()
	Retries.WithLabelValues(c.table, category).Inc()
}

// BatchFailed records a batch that aborted its table.
func (c *Collector) BatchFailed() {
	BatchesTotal.WithLabelValues(c.table, StatusFailed).Inc()
}

// ObservePhase records the duration of a batch phase.
func (c *Collector) ObservePhase(phase string, d time.Duration) {
	BatchDuration.WithLabelValues(c.table, phase).Observe(d.Seconds())
}

// Mismatch records a failed verification.
func (c *Collector) Mismatch() {
	VerificationMismatches.WithLabelValues(c.table).Inc()
}

// Throughput updates and returns the rows per second since the last call.
func (c *Collector) Throughput() float64 {
	return c.throughput.GetAndReset()
}

// Timer measures the duration of one batch phase.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks rows per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Rows processed since last reset
	lastReset time.Time // Time of last reset
	table     string
}

// NewThroughputTracker creates a new throughput tracker for table.
func NewThroughputTracker(table string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		table:     table,
	}
}

// Increment adds n to the row count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (rows/second),
// updates the Prometheus metric, resets the counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	// Reset for next period
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.table).Set(throughput)

	return throughput
}
