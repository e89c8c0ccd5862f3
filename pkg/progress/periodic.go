package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PeriodicReporter logs aggregate progress on a fixed interval, with an ETA
// derived from the planned batch count and the rate observed so far.
type PeriodicReporter struct {
	logger *zap.Logger

	totalBatches     int64
	completedBatches int64
	// skippedBatches were committed by an earlier run
	skippedBatches int64
	processedRows    int64
	retries          int64
	startTime        time.Time
	reportInterval   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPeriodicReporter creates a reporter logging every interval.
func NewPeriodicReporter(logger *zap.Logger, interval time.Duration) *PeriodicReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PeriodicReporter{
		logger:         logger,
		startTime:      time.Now(),
		reportInterval: interval,
		stopCh:         make(chan struct{}),
	}
}

// Start begins periodic progress reporting
func (pr *PeriodicReporter) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.reportCurrentProgress()
			}
		}
	}()
}

// Stop stops progress reporting. Safe to call more than once.
func (pr *PeriodicReporter) Stop() {
	pr.stopOnce.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
	})
}

// Report implements Reporter
func (pr *PeriodicReporter) Report(e Event) {
	switch e.Type {
	case TableStarted:
		atomic.AddInt64(&pr.totalBatches, int64(e.BatchesTotal))
		atomic.AddInt64(&pr.skippedBatches, int64(e.BatchesSkipped))
	case BatchCompleted:
		atomic.AddInt64(&pr.completedBatches, 1)
		atomic.AddInt64(&pr.processedRows, e.Rows)
	case BatchRetrying:
		atomic.AddInt64(&pr.retries, 1)
	}
}

// Snapshot is a point-in-time view of job progress. CompletedBatches counts
// this run only; Percentage includes SkippedBatches.
type Snapshot struct {
	CompletedBatches int64
	SkippedBatches   int64
	TotalBatches     int64
	ProcessedRows    int64
	Retries          int64
	Percentage       float64
	Throughput       float64
	ElapsedTime      time.Duration
	ETA              time.Duration
}

// GetSnapshot returns a progress snapshot
func (pr *PeriodicReporter) GetSnapshot() Snapshot {
	s := Snapshot{
		CompletedBatches: atomic.LoadInt64(&pr.completedBatches),
		SkippedBatches:   atomic.LoadInt64(&pr.skippedBatches),
		TotalBatches:     atomic.LoadInt64(&pr.totalBatches),
		ProcessedRows:    atomic.LoadInt64(&pr.processedRows),
		Retries:          atomic.LoadInt64(&pr.retries),
		ElapsedTime:      time.Since(pr.startTime),
	}

	if secs := s.ElapsedTime.Seconds(); secs > 0 {
		s.Throughput = float64(s.ProcessedRows) / secs
	}
	if s.TotalBatches > 0 {
		s.Percentage = float64(s.CompletedBatches+s.SkippedBatches) / float64(s.TotalBatches) * 100
	}
	// skipped batches cost nothing, so only this run's work predicts the rest
	s.ETA = eta(s.CompletedBatches, s.TotalBatches-s.SkippedBatches, s.ElapsedTime)
	return s
}

// eta estimates the time remaining from the batch completion rate.
func eta(done, total int64, elapsed time.Duration) time.Duration {
	if done <= 0 || total <= 0 || done >= total {
		return 0
	}
	perBatch := elapsed / time.Duration(done)
	return perBatch * time.Duration(total-done)
}

// reportCurrentProgress logs current progress
func (pr *PeriodicReporter) reportCurrentProgress() {
	s := pr.GetSnapshot()

	fields := []zap.Field{
		zap.Int64("batches_completed", s.CompletedBatches),
		zap.Int64("rows", s.ProcessedRows),
		zap.Float64("rows_per_sec", s.Throughput),
		zap.Duration("elapsed", s.ElapsedTime),
	}
	if s.SkippedBatches > 0 {
		fields = append(fields, zap.Int64("batches_skipped", s.SkippedBatches))
	}
	if s.TotalBatches > 0 {
		fields = append(fields,
			zap.Int64("batches_total", s.TotalBatches),
			zap.Float64("percentage", s.Percentage),
			zap.Duration("eta", s.ETA),
		)
	}
	if s.Retries > 0 {
		fields = append(fields, zap.Int64("retries", s.Retries))
	}

	pr.logger.Info("progress update", fields...)
}
