package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/tablesync/pkg/progress"
)

// Exit codes of a finished job.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitConfig    = 2
	ExitMismatch  = 3
	ExitCancelled = 130
)

// TableResult is the outcome of one table.
type TableResult struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Status string `json:"status"`

	Rows             int64 `json:"rows"`
	BatchesCompleted int   `json:"batches_completed"`
	BatchesTotal     int   `json:"batches_total"`
	BatchesSkipped   int   `json:"batches_skipped"`
	Retries          int   `json:"retries"`

	// FailedPartition and FailedSequence name the batch that aborted the table
	FailedPartition string `json:"failed_partition,omitempty"`
	FailedSequence  int    `json:"failed_sequence,omitempty"`
	Err             error  `json:"-"`
	// LastCommittedSequence is -1 when nothing is committed
	LastCommittedSequence int `json:"last_committed_sequence"`

	Verification      *VerificationResult `json:"verification,omitempty"`
	VerificationError string              `json:"verification_error,omitempty"`
}

func newTableResult(tr *tableRun, ts TableStats) TableResult {
	res := TableResult{
		Source:                tr.source,
		Target:                tr.target,
		Status:                tr.status,
		Rows:                  ts.RowsTransferred,
		BatchesCompleted:      ts.BatchesCompleted,
		BatchesTotal:          len(tr.partitions),
		BatchesSkipped:        tr.skipped,
		Retries:               ts.Retries,
		Err:                   tr.err,
		LastCommittedSequence: tr.lastSequence(),
	}
	if tr.failedTask != nil {
		res.FailedPartition = tr.failedTask.Partition.String()
		res.FailedSequence = tr.failedTask.Sequence
	}
	return res
}

// Report is the result of a job run.
type Report struct {
	JobID     string
	RunID     string
	Tables    []TableResult
	Stats     Snapshot
	Elapsed   time.Duration
	Cancelled bool
}

// Table returns the result for a target table.
func (r *Report) Table(target string) (TableResult, bool) {
	for _, t := range r.Tables {
		if strings.EqualFold(t.Target, target) {
			return t, true
		}
	}
	return TableResult{}, false
}

// Failed returns the tables that did not complete because of an error.
func (r *Report) Failed() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Status == StatusFailed {
			out = append(out, t)
		}
	}
	return out
}

// Mismatched returns the tables whose verification found differences.
func (r *Report) Mismatched() []TableResult {
	var out []TableResult
	for _, t := range r.Tables {
		if t.Verification != nil && !t.Verification.Matched {
			out = append(out, t)
		}
	}
	return out
}

// Err returns a *JobError when any table failed, nil otherwise.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return &JobError{JobID: r.JobID, Tables: failed}
}

// ExitCode maps the report to the process exit status.
func (r *Report) ExitCode(failOnMismatch bool) int {
	switch {
	case len(r.Failed()) > 0:
		return ExitFailed
	case r.Cancelled:
		return ExitCancelled
	case failOnMismatch && len(r.Mismatched()) > 0:
		return ExitMismatch
	default:
		return ExitOK
	}
}

// Summary builds the job summary event payload.
func (r *Report) Summary(rss uint64) *progress.Summary {
	s := &progress.Summary{
		JobID:            r.JobID,
		RunID:            r.RunID,
		TotalRows:        r.Stats.RowsTransferred,
		Elapsed:          r.Elapsed,
		AverageRate:      r.Stats.Rate(),
		BatchesCompleted: r.Stats.BatchesCompleted,
		BatchesTotal:     r.Stats.BatchesTotal,
		BatchesSkipped:   r.Stats.BatchesSkipped,
		Retries:          r.Stats.Retries,
		PeakRSS:          rss,
	}
	for _, t := range r.Tables {
		s.Tables = append(s.Tables, progress.TableSummary{
			Table:            t.Target,
			Status:           t.Status,
			Rows:             t.Rows,
			BatchesCompleted: t.BatchesCompleted + t.BatchesSkipped,
			BatchesTotal:     t.BatchesTotal,
			Verification:     t.Verification.Status(),
		})
	}
	return s
}

// JobError reports the tables a job failed to copy.
type JobError struct {
	JobID  string
	Tables []TableResult
}

func (e *JobError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %s: %d table(s) failed", e.JobID, len(e.Tables))
	for _, t := range e.Tables {
		fmt.Fprintf(&b, "\n  %s", t.Target)
		if t.FailedPartition != "" {
			fmt.Fprintf(&b, " at batch %d (%s)", t.FailedSequence, t.FailedPartition)
		}
		fmt.Fprintf(&b, ", last committed batch %d", t.LastCommittedSequence)
		if t.Err != nil {
			fmt.Fprintf(&b, ": %v", t.Err)
		}
	}
	return b.String()
}

// Unwrap returns the table errors.
func (e *JobError) Unwrap() []error {
	out := make([]error, 0, len(e.Tables))
	for _, t := range e.Tables {
		if t.Err != nil {
			out = append(out, t.Err)
		}
	}
	return out
}
