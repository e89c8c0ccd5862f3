package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogReporter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewLogReporter(zap.New(core))

	r.Report(Event{Type: BatchCompleted, Worker: 2, Table: "orders", Sequence: 7, Rows: 1000, Elapsed: time.Second, Rate: 1000})
	r.Report(Event{Type: BatchRetrying, Table: "orders", Sequence: 8, Attempt: 1, Err: fmt.Errorf("deadlock")})
	r.Report(Event{Type: TableFinished, Table: "orders", Status: "failed", Err: fmt.Errorf("constraint")})
	r.Report(Event{Type: JobSummary, Summary: &Summary{TotalRows: 1000, Tables: []TableSummary{{Table: "orders"}}}})

	entries := logs.All()
	require.Len(t, entries, 5)

	batch := entries[0].ContextMap()
	assert.Equal(t, "batch committed", entries[0].Message)
	assert.Equal(t, int64(2), batch["worker"])
	assert.Equal(t, int64(7), batch["batch"])
	assert.Equal(t, int64(1000), batch["rows"])
	assert.Equal(t, 1000.0, batch["rows_per_sec"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "job summary", entries[3].Message)
	assert.Equal(t, "table summary", entries[4].Message)
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	r := Multi(a, nil, b)

	r.Report(Event{Type: TableStarted, Table: "t"})
	r.Report(Event{Type: BatchCompleted, Table: "t"})

	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(BatchCompleted), 1)
	assert.Empty(t, b.Events(BatchFailed))
}

func TestPeriodicReporterSnapshot(t *testing.T) {
	pr := NewPeriodicReporter(zap.NewNop(), time.Hour)

	pr.Report(Event{Type: TableStarted, BatchesTotal: 10, BatchesSkipped: 2})
	pr.Report(Event{Type: BatchCompleted, Rows: 500})
	pr.Report(Event{Type: BatchCompleted, Rows: 500})
	pr.Report(Event{Type: BatchRetrying})

	s := pr.GetSnapshot()
	assert.Equal(t, int64(2), s.CompletedBatches)
	assert.Equal(t, int64(2), s.SkippedBatches)
	assert.Equal(t, int64(10), s.TotalBatches)
	assert.Equal(t, int64(1000), s.ProcessedRows)
	assert.Equal(t, int64(1), s.Retries)
	assert.InDelta(t, 40.0, s.Percentage, 0.001)
}

func TestPeriodicReporterETAIgnoresSkippedBatches(t *testing.T) {
	pr := NewPeriodicReporter(zap.NewNop(), time.Hour)
	pr.startTime = time.Now().Add(-10 * time.Second)

	// a resumed table: 8 of 10 batches were done by the previous run
	pr.Report(Event{Type: TableStarted, BatchesTotal: 10, BatchesSkipped: 8})
	pr.Report(Event{Type: BatchCompleted, Rows: 100})

	s := pr.GetSnapshot()
	assert.InDelta(t, 90.0, s.Percentage, 0.001)
	// one batch took about 10s and one is left
	assert.InDelta(t, (10 * time.Second).Seconds(), s.ETA.Seconds(), 1)
}

func TestPeriodicReporterLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pr := NewPeriodicReporter(zap.New(core), 5*time.Millisecond)
	pr.Report(Event{Type: TableStarted, BatchesTotal: 4})

	pr.Start()
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("progress update").Len() > 0
	}, time.Second, 5*time.Millisecond)
	pr.Stop()
	pr.Stop()
}

func TestETA(t *testing.T) {
	assert.Equal(t, 30*time.Second, eta(1, 4, 10*time.Second))
	assert.Zero(t, eta(0, 4, time.Second))
	assert.Zero(t, eta(4, 4, time.Second))
}
