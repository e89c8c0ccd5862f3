// Package progress defines the events a sync job emits while it runs and
// the reporters that turn them into log lines.
package progress

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a progress event
type EventType string

const (
	TableStarted   EventType = "table_started"
	BatchCompleted EventType = "batch_completed"
	BatchRetrying  EventType = "batch_retrying"
	BatchFailed    EventType = "batch_failed"
	TableFinished  EventType = "table_finished"
	JobSummary     EventType = "job_summary"
)

// Event is one progress notification. Fields that do not apply to the
// event type are zero.
type Event struct {
	Type EventType
	Time time.Time

	Table    string
	Worker   int
	Sequence int
	Attempt  int

	Rows    int64
	Elapsed time.Duration
	// Rate is rows per second of the batch, or of the table/job for
	// TableFinished and JobSummary
	Rate float64

	// Delay before the next attempt of a retried batch
	Delay time.Duration
	Err   error

	// BatchesTotal is set for TableStarted and TableFinished
	BatchesTotal int
	// BatchesSkipped counts batches resumed from the checkpoint
	BatchesSkipped int
	// Status is the table outcome for TableFinished
	Status string

	Summary *Summary
}

// Summary closes a job.
type Summary struct {
	JobID            string
	RunID            string
	TotalRows        int64
	Elapsed          time.Duration
	AverageRate      float64
	BatchesCompleted int
	BatchesTotal     int
	BatchesSkipped   int
	Retries          int
	Tables           []TableSummary
	// PeakRSS is the resident set size of the process at the end of the job
	PeakRSS uint64
}

// TableSummary is the outcome of one table.
type TableSummary struct {
	Table            string
	Status           string
	Rows             int64
	BatchesCompleted int
	BatchesTotal     int
	Verification     string
}

// Reporter receives progress events. Report is called from a single
// goroutine and must not block for long.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(Event)

// Report implements Reporter
func (f ReporterFunc) Report(e Event) { f(e) }

// Nop discards every event.
var Nop Reporter = ReporterFunc(func(Event) {})

type multi []Reporter

// Multi fans events out to every reporter in order.
func Multi(reporters ...Reporter) Reporter {
	out := make(multi, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// LogReporter writes every event as a structured zap entry.
type LogReporter struct {
	logger *zap.Logger
}

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Report implements Reporter
func (r *LogReporter) Report(e Event) {
	switch e.Type {
	case TableStarted:
		r.logger.Info("table started",
			zap.String("table", e.Table),
			zap.Int("batches_total", e.BatchesTotal),
			zap.Int("batches_skipped", e.BatchesSkipped))
	case BatchCompleted:
		r.logger.Info("batch committed",
			zap.Int("worker", e.Worker),
			zap.String("table", e.Table),
			zap.Int("batch", e.Sequence),
			zap.Int64("rows", e.Rows),
			zap.Duration("duration", e.Elapsed),
			zap.Float64("rows_per_sec", e.Rate))
	case BatchRetrying:
		r.logger.Warn("batch failed, retrying",
			zap.Int("worker", e.Worker),
			zap.String("table", e.Table),
			zap.Int("batch", e.Sequence),
			zap.Int("attempt", e.Attempt),
			zap.Duration("delay", e.Delay),
			zap.Error(e.Err))
	case BatchFailed:
		r.logger.Error("batch failed",
			zap.Int("worker", e.Worker),
			zap.String("table", e.Table),
			zap.Int("batch", e.Sequence),
			zap.Int("attempt", e.Attempt),
			zap.Error(e.Err))
	case TableFinished:
		fields := []zap.Field{
			zap.String("table", e.Table),
			zap.String("status", e.Status),
			zap.Int64("rows", e.Rows),
			zap.Int("batches_total", e.BatchesTotal),
			zap.Duration("elapsed", e.Elapsed),
			zap.Float64("rows_per_sec", e.Rate),
		}
		if e.Err != nil {
			r.logger.Error("table finished", append(fields, zap.Error(e.Err))...)
			return
		}
		r.logger.Info("table finished", fields...)
	case JobSummary:
		s := e.Summary
		if s == nil {
			return
		}
		r.logger.Info("job summary",
			zap.String("job_id", s.JobID),
			zap.String("run_id", s.RunID),
			zap.Int64("total_rows", s.TotalRows),
			zap.Duration("elapsed", s.Elapsed),
			zap.Float64("avg_rows_per_sec", s.AverageRate),
			zap.Int("batches_completed", s.BatchesCompleted),
			zap.Int("batches_total", s.BatchesTotal),
			zap.Int("batches_skipped", s.BatchesSkipped),
			zap.Int("retries", s.Retries),
			zap.Uint64("rss_bytes", s.PeakRSS))
		for _, t := range s.Tables {
			r.logger.Info("table summary",
				zap.String("table", t.Table),
				zap.String("status", t.Status),
				zap.Int64("rows", t.Rows),
				zap.Int("batches_completed", t.BatchesCompleted),
				zap.Int("batches_total", t.BatchesTotal),
				zap.String("verification", t.Verification))
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report implements Reporter
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns the events of the given types, all events when none given.
func (r *Recorder) Events(types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(types) == 0 {
		return append([]Event(nil), r.events...)
	}
	var out []Event
	for _, e := range r.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
