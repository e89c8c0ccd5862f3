package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
	"github.com/ajitpratap0/tablesync/pkg/metrics"
)

// ConnectorFactory creates a fresh, unconnected connector.
type ConnectorFactory func() (core.Connector, error)

// worker moves batches with its own source and target connectors. It is
// driven by exactly one goroutine.
type worker struct {
	id        int
	newSource ConnectorFactory
	newTarget ConnectorFactory
	logger    *zap.Logger

	source core.Connector
	target core.Connector
}

func newWorker(id int, newSource, newTarget ConnectorFactory, log *zap.Logger) *worker {
	return &worker{
		id:        id,
		newSource: newSource,
		newTarget: newTarget,
		logger:    log.With(zap.Int("worker", id)),
	}
}

// run executes one attempt. Failures travel in the result.
func (w *worker) run(ctx context.Context, t *Task) result {
	start := time.Now()
	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	ctx = logger.WithTable(ctx, t.table.target)
	res := result{task: t, worker: w.id}
	res.rows, res.digest, res.err = w.transfer(ctx, t)
	res.elapsed = time.Since(start)

	if res.err != nil {
		logger.FromContext(ctx, w.logger).Debug("batch attempt failed",
			zap.Int("sequence", t.Sequence),
			zap.Int("attempt", t.Attempt),
			zap.String("category", string(errors.TypeOf(res.err))),
			zap.Error(res.err))
	}
	if res.err != nil && errors.IsType(res.err, errors.ErrorTypeConnection) {
		// drop both sides; the next attempt reconnects
		w.close(ctx)
	}
	return res
}

func (w *worker) transfer(ctx context.Context, t *Task) (int64, uint64, error) {
	if err := w.connect(ctx); err != nil {
		return 0, 0, err
	}
	tr := t.table

	var (
		rows   []core.Row
		digest uint64
	)
	timer := metrics.NewTimer()
	_, err := tr.tracer.TraceBatch(ctx, "read", t.Sequence, t.Attempt, func(ctx context.Context) (int64, error) {
		var err error
		rows, digest, err = w.read(ctx, t)
		return int64(len(rows)), err
	})
	tr.collector.ObservePhase("read", timer.Stop())
	if err != nil {
		return 0, 0, err
	}
	if len(rows) == 0 {
		return 0, 0, nil
	}

	timer = metrics.NewTimer()
	written, err := tr.tracer.TraceBatch(ctx, "write", t.Sequence, t.Attempt, func(ctx context.Context) (int64, error) {
		return w.write(ctx, t, rows)
	})
	tr.collector.ObservePhase("write", timer.Stop())
	if err != nil {
		return 0, 0, err
	}
	return written, digest, nil
}

// read drains the partition, hashing rows as they arrive.
func (w *worker) read(ctx context.Context, t *Task) ([]core.Row, uint64, error) {
	it, err := w.source.ReadBatch(ctx, t.table.source, t.Partition)
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	hint := t.Partition.Limit
	if t.Partition.Kind == core.PartitionRange {
		hint = t.Partition.Upper - t.Partition.Lower
	}
	rows := make([]core.Row, 0, min(hint, 1<<16))
	d := NewDigest()
	for it.Next() {
		row := it.Row()
		d.Add(row)
		rows = append(rows, row)
	}
	if err := it.Err(); err != nil {
		return nil, 0, err
	}
	return rows, d.Sum(), nil
}

// write stores rows, inside a transaction when the target supports one.
// The batch is durable when write returns nil.
func (w *worker) write(ctx context.Context, t *Task, rows []core.Row) (int64, error) {
	tr := t.table
	req := core.WriteRequest{
		Table:          tr.target,
		Columns:        tr.targetColumns,
		Rows:           rows,
		Mode:           tr.mode,
		KeyColumns:     tr.keyColumns,
		IdentityInsert: tr.identityInsert,
	}

	if !w.target.SupportsTransactions() {
		return w.target.WriteBatch(ctx, req)
	}

	tx, err := w.target.BeginTransaction(ctx)
	if err != nil {
		return 0, err
	}
	n, err := w.target.WriteBatch(ctx, req)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.FromContext(ctx, w.logger).Warn("rollback failed",
				zap.Int("sequence", t.Sequence), zap.Error(rbErr))
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (w *worker) connect(ctx context.Context) error {
	if w.source == nil {
		conn, err := w.newSource()
		if err != nil {
			return err
		}
		if err := conn.Connect(ctx); err != nil {
			return err
		}
		w.source = conn
	}
	if w.target == nil {
		conn, err := w.newTarget()
		if err != nil {
			return err
		}
		if err := conn.Connect(ctx); err != nil {
			return err
		}
		w.target = conn
	}
	return nil
}

func (w *worker) close(ctx context.Context) {
	for _, conn := range []core.Connector{w.source, w.target} {
		if conn == nil {
			continue
		}
		if err := conn.Disconnect(ctx); err != nil {
			w.logger.Debug("disconnect failed", zap.String("connector", conn.Name()), zap.Error(err))
		}
	}
	w.source, w.target = nil, nil
}
