package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tablesync/pkg/checkpoint"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
	"github.com/ajitpratap0/tablesync/pkg/metrics"
	"github.com/ajitpratap0/tablesync/pkg/progress"
)

// DispatcherConfig configures a Dispatcher. Logger is decorated with the job
// identities found in the Run context.
type DispatcherConfig struct {
	Workers      int
	NewSource    ConnectorFactory
	NewTarget    ConnectorFactory
	Store        checkpoint.Store
	Retry        *RetryController
	Reporter     progress.Reporter
	Stats        *SyncStats
	Logger       *zap.Logger
	DrainTimeout time.Duration
	// SampleInterval is how often the throughput gauges are updated
	SampleInterval time.Duration
	// TableGranularity records a table in one commit once all its batches are done
	TableGranularity bool
}

// Dispatcher runs the tasks of every table on a bounded worker pool.
//
// A single coordinating goroutine owns the queue, the table state, the
// stats and every checkpoint commit. Workers only receive tasks and send
// results back over channels.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.Nop
	}
	if cfg.Stats == nil {
		cfg.Stats = NewSyncStats()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	return &Dispatcher{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "dispatcher"))}
}

// Run dispatches the pending tasks of tables until every table is finished
// or ctx is cancelled. After cancellation no new task starts; batches in
// flight finish under a context that survives the cancellation for at
// most DrainTimeout, and their checkpoints are committed.
func (d *Dispatcher) Run(ctx context.Context, tables []*tableRun) {
	drainCtx, stopDrain := drainContext(ctx, d.cfg.DrainTimeout)
	defer stopDrain()
	log := logger.FromContext(ctx, d.logger)

	var queue []*Task
	for _, tr := range tables {
		tr.startedAt = time.Now()
		if tr.remaining == 0 {
			d.finish(drainCtx, tr, StatusCompleted)
			continue
		}
		queue = append(queue, tr.pending...)
	}

	workers := min(d.cfg.Workers, len(queue))
	taskCh := make(chan *Task)
	resultCh := make(chan result)
	retryCh := make(chan *Task)

	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		w := newWorker(i, d.cfg.NewSource, d.cfg.NewTarget, log)
		g.Go(func() error {
			defer w.close(drainCtx)
			for t := range taskCh {
				resultCh <- w.run(drainCtx, t)
			}
			return nil
		})
	}

	sample := time.NewTicker(d.cfg.SampleInterval)
	defer sample.Stop()

	var (
		inflight  int
		waiting   int
		cancelled bool
		done      = ctx.Done()
	)
	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			done = nil
			log.Warn("cancellation requested, draining in-flight batches",
				zap.Int("in_flight", inflight),
				zap.Duration("drain_timeout", d.cfg.DrainTimeout))
		}
		// drop queued tasks of failed tables, or all of them after cancellation
		for len(queue) > 0 && (queue[0].table.finished || cancelled) {
			queue = queue[1:]
		}
		if len(queue) == 0 && inflight == 0 && waiting == 0 {
			break
		}

		var (
			send chan<- *Task
			next *Task
		)
		if len(queue) > 0 {
			next, send = queue[0], taskCh
		}

		select {
		case send <- next:
			next.State = TaskInProgress
			queue = queue[1:]
			inflight++
		case r := <-resultCh:
			inflight--
			if t, delay := d.handle(drainCtx, r, cancelled); t != nil {
				waiting++
				go backoff(ctx, t, delay, retryCh)
			}
		case t := <-retryCh:
			waiting--
			if !cancelled && !t.table.finished {
				queue = append(queue, t)
			}
		case <-sample.C:
			for _, tr := range tables {
				if !tr.finished {
					tr.collector.Throughput()
				}
			}
		case <-done:
			// handled at the top of the loop
		}
	}

	close(taskCh)
	_ = g.Wait()

	for _, tr := range tables {
		if !tr.finished {
			d.finish(drainCtx, tr, StatusCancelled)
		}
	}
}

// handle applies the result of one attempt and returns the task to
// resubmit after delay, if any.
func (d *Dispatcher) handle(ctx context.Context, r result, cancelled bool) (*Task, time.Duration) {
	t, tr := r.task, r.task.table

	if r.err == nil {
		if err := d.commit(ctx, r); err != nil {
			t.State = TaskFailed
			d.fail(ctx, tr, t, errors.Wrap(err, errors.ErrorTypeFatal,
				fmt.Sprintf("failed to record checkpoint of %s batch %d", tr.target, t.Sequence)))
			return nil, 0
		}
		t.State = TaskCommitted
		tr.remaining--
		tr.collector.BatchCommitted(r.rows)
		d.cfg.Stats.Committed(tr.target, r.rows)
		d.cfg.Reporter.Report(progress.Event{
			Type:     progress.BatchCompleted,
			Time:     time.Now(),
			Table:    tr.target,
			Worker:   r.worker,
			Sequence: t.Sequence,
			Attempt:  t.Attempt,
			Rows:     r.rows,
			Elapsed:  r.elapsed,
			Rate:     rate(r.rows, r.elapsed),
		})
		if tr.remaining == 0 && !tr.finished {
			d.finish(ctx, tr, StatusCompleted)
		}
		return nil, 0
	}

	t.State = TaskFailed
	if tr.finished {
		// the table already failed; later failures add nothing
		return nil, 0
	}

	decision := d.cfg.Retry.Decide(r.err, t.Attempt)
	if decision.Retry && !cancelled {
		d.cfg.Stats.Retried(tr.target)
		tr.collector.BatchRetried(string(errors.TypeOf(r.err)))
		d.cfg.Reporter.Report(progress.Event{
			Type:     progress.BatchRetrying,
			Time:     time.Now(),
			Table:    tr.target,
			Worker:   r.worker,
			Sequence: t.Sequence,
			Attempt:  t.Attempt,
			Delay:    decision.Delay,
			Err:      r.err,
		})
		return t.retry(), decision.Delay
	}
	if cancelled && (decision.Retry || errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded)) {
		// interrupted by shutdown; the table stays resumable
		return nil, 0
	}

	tr.collector.BatchFailed()
	d.cfg.Reporter.Report(progress.Event{
		Type:     progress.BatchFailed,
		Time:     time.Now(),
		Table:    tr.target,
		Worker:   r.worker,
		Sequence: t.Sequence,
		Attempt:  t.Attempt,
		Err:      r.err,
	})
	d.fail(ctx, tr, t, errors.Wrap(r.err, errors.TypeOf(r.err),
		fmt.Sprintf("%s batch %d (%s) failed after %d attempts: %s", tr.target, t.Sequence, t.Partition, t.Attempt+1, decision.Reason)))
	return nil, 0
}

// commit records a written batch. With table granularity the record is
// buffered until the table completes.
func (d *Dispatcher) commit(ctx context.Context, r result) error {
	t, tr := r.task, r.task.table
	rec := checkpoint.PartitionRecord{
		ID:          t.Partition.ID(),
		Sequence:    t.Sequence,
		Rows:        r.rows,
		Digest:      r.digest,
		CommittedAt: time.Now().UTC(),
		LowerBound:  tr.lowerBound,
	}

	if d.cfg.TableGranularity {
		tr.buffered = append(tr.buffered, rec)
		return nil
	}
	return d.persist(ctx, tr, rec)
}

// persist writes records to the store and only then marks them committed.
func (d *Dispatcher) persist(ctx context.Context, tr *tableRun, records ...checkpoint.PartitionRecord) error {
	timer := metrics.NewTimer()
	err := d.cfg.Store.Commit(ctx, tr.key, records...)
	tr.collector.ObservePhase("commit", timer.Stop())
	if err != nil {
		return err
	}
	for _, rec := range records {
		tr.committed[rec.ID] = rec
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, tr *tableRun, t *Task, err error) {
	tr.err = err
	tr.failedTask = t
	d.finish(ctx, tr, StatusFailed)
}

// finish moves a table to its terminal status exactly once.
func (d *Dispatcher) finish(ctx context.Context, tr *tableRun, status string) {
	if tr.finished {
		return
	}
	if status == StatusCompleted && d.cfg.TableGranularity && len(tr.buffered) > 0 {
		if err := d.persist(ctx, tr, tr.buffered...); err != nil {
			status = StatusFailed
			tr.err = errors.Wrap(err, errors.ErrorTypeFatal, fmt.Sprintf("failed to record checkpoint of %s", tr.target))
		}
		tr.buffered = nil
	}

	tr.finished = true
	tr.status = status
	tr.completedAt = time.Now()
	tr.collector.Throughput()
	d.cfg.Stats.Finish(tr.target)

	ts := d.cfg.Stats.Table(tr.target)
	d.cfg.Reporter.Report(progress.Event{
		Type:           progress.TableFinished,
		Time:           tr.completedAt,
		Table:          tr.target,
		Rows:           ts.RowsTransferred,
		Elapsed:        ts.Elapsed,
		Rate:           ts.Rate(),
		BatchesTotal:   ts.BatchesTotal,
		BatchesSkipped: ts.BatchesSkipped,
		Status:         status,
		Err:            tr.err,
	})
}

// backoff hands t back after delay, or immediately when ctx ends.
func backoff(ctx context.Context, t *Task, delay time.Duration, out chan<- *Task) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	out <- t
}

// drainContext returns a context that ignores the cancellation of parent
// for up to timeout after it happens.
func drainContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		if timeout <= 0 {
			cancel()
			return
		}
		t := time.AfterFunc(timeout, cancel)
		// the timer is released with ctx
		context.AfterFunc(ctx, func() { t.Stop() })
	})
	return ctx, func() {
		stop()
		cancel()
	}
}
