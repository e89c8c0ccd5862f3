package pipeline

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tablesync/pkg/checkpoint"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/metrics"
	"github.com/ajitpratap0/tablesync/pkg/observability"
)

// TaskState is the lifecycle state of one batch attempt
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskInProgress TaskState = "in_progress"
	TaskCommitted  TaskState = "committed"
	TaskFailed     TaskState = "failed"
)

// Table outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task is one attempt at one partition. A retry is a new Task with the
// next attempt number; a task value is never reused.
type Task struct {
	table     *tableRun
	Partition core.Partition
	Sequence  int
	Attempt   int
	State     TaskState
}

// retry returns the next attempt of the same partition.
func (t *Task) retry() *Task {
	return &Task{
		table:     t.table,
		Partition: t.Partition,
		Sequence:  t.Sequence,
		Attempt:   t.Attempt + 1,
		State:     TaskPending,
	}
}

func (t *Task) String() string {
	return fmt.Sprintf("%s batch %d (%s) attempt %d", t.table.target, t.Sequence, t.Partition, t.Attempt)
}

// result is what a worker reports back to the coordinator.
type result struct {
	task    *Task
	worker  int
	rows    int64
	digest  uint64
	elapsed time.Duration
	err     error
}

// tableRun is the resolved, immutable description of one table for the
// duration of a job, plus coordinator-owned progress state.
type tableRun struct {
	source string
	target string
	key    checkpoint.Key

	sourceColumns []string
	targetColumns []string
	// keyColumns identify target rows for upserts
	keyColumns     []string
	mode           core.WriteMode
	identityInsert bool

	// targetKey is the target column holding the partition key, empty for
	// offset partitioning
	targetKey  string
	partitions []core.Partition
	verify     bool

	// incremental plans start at lowerBound, recorded with every commit
	incremental bool
	lowerBound  *int64
	upToDate    bool

	collector *metrics.Collector
	tracer    *observability.BatchTracer

	// owned by the coordinator
	committed   map[string]checkpoint.PartitionRecord
	buffered    []checkpoint.PartitionRecord
	pending     []*Task
	remaining   int
	skipped     int
	status      string
	err         error
	failedTask  *Task
	finished    bool
	startedAt   time.Time
	completedAt time.Time
}

// lastSequence is the highest committed sequence, -1 when none.
func (tr *tableRun) lastSequence() int {
	last := -1
	for _, r := range tr.committed {
		last = max(last, r.Sequence)
	}
	return last
}
