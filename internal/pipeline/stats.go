package pipeline

import (
	"sync"
	"time"
)

// TableStats are the counters of one table.
type TableStats struct {
	Table            string
	RowsTransferred  int64
	BatchesCompleted int
	BatchesTotal     int
	BatchesSkipped   int
	Retries          int
	Elapsed          time.Duration
}

// Rate returns rows per second over the elapsed time.
func (s TableStats) Rate() float64 {
	return rate(s.RowsTransferred, s.Elapsed)
}

// SyncStats aggregates progress across tables. It is written only by the
// coordinating goroutine; the mutex serves concurrent snapshot readers.
type SyncStats struct {
	mu      sync.RWMutex
	start   time.Time
	started map[string]time.Time
	tables  map[string]*TableStats
	order   []string
	elapsed time.Duration
	done    bool
}

// NewSyncStats starts the clock.
func NewSyncStats() *SyncStats {
	return &SyncStats{
		start:   time.Now(),
		started: make(map[string]time.Time),
		tables:  make(map[string]*TableStats),
	}
}

func (s *SyncStats) table(name string) *TableStats {
	ts, ok := s.tables[name]
	if !ok {
		ts = &TableStats{Table: name}
		s.tables[name] = ts
		s.order = append(s.order, name)
		s.started[name] = time.Now()
	}
	return ts
}

// Plan records the batch counts of a table.
func (s *SyncStats) Plan(table string, total, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.table(table)
	ts.BatchesTotal = total
	ts.BatchesSkipped = skipped
}

// Committed records a committed batch.
func (s *SyncStats) Committed(table string, rows int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.table(table)
	ts.RowsTransferred += rows
	ts.BatchesCompleted++
	ts.Elapsed = time.Since(s.started[table])
}

// Retried records a reattempt.
func (s *SyncStats) Retried(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(table).Retries++
}

// Finish freezes the elapsed time of table.
func (s *SyncStats) Finish(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.table(table)
	ts.Elapsed = time.Since(s.started[table])
}

// Close freezes the job elapsed time.
func (s *SyncStats) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.elapsed = time.Since(s.start)
		s.done = true
	}
}

// Table returns a copy of the stats of one table.
func (s *SyncStats) Table(name string) TableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ts, ok := s.tables[name]; ok {
		return *ts
	}
	return TableStats{Table: name}
}

// Snapshot is a consistent copy of all counters.
type Snapshot struct {
	Tables           []TableStats
	RowsTransferred  int64
	BatchesCompleted int
	BatchesTotal     int
	BatchesSkipped   int
	Retries          int
	Elapsed          time.Duration
}

// Rate returns the aggregate rows per second.
func (s Snapshot) Rate() float64 {
	return rate(s.RowsTransferred, s.Elapsed)
}

// Snapshot copies the current counters, tables in first-seen order.
func (s *SyncStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{Tables: make([]TableStats, 0, len(s.order))}
	for _, name := range s.order {
		ts := *s.tables[name]
		out.Tables = append(out.Tables, ts)
		out.RowsTransferred += ts.RowsTransferred
		out.BatchesCompleted += ts.BatchesCompleted
		out.BatchesTotal += ts.BatchesTotal
		out.BatchesSkipped += ts.BatchesSkipped
		out.Retries += ts.Retries
	}
	out.Elapsed = s.elapsed
	if !s.done {
		out.Elapsed = time.Since(s.start)
	}
	return out
}

func rate(rows int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(rows) / d.Seconds()
}
