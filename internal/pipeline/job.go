// Package pipeline runs sync jobs: it plans every table into partitions,
// moves them with a pool of workers, records progress in the checkpoint
// store and verifies the result.
package pipeline

import (
	"context"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/checkpoint"
	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
	"github.com/ajitpratap0/tablesync/pkg/logger"
	"github.com/ajitpratap0/tablesync/pkg/metrics"
	"github.com/ajitpratap0/tablesync/pkg/observability"
	"github.com/ajitpratap0/tablesync/pkg/progress"
	"github.com/ajitpratap0/tablesync/pkg/schema"
)

// Job copies the tables of one configuration from source to target.
type Job struct {
	cfg      *config.Config
	registry *registry.Registry
	store    checkpoint.Store
	reporter progress.Reporter
	logger   *zap.Logger
	retry    *RetryController
}

// Option configures a Job.
type Option func(*Job)

// WithStore uses store instead of the backend named in the configuration.
// The caller keeps ownership of store.
func WithStore(store checkpoint.Store) Option {
	return func(j *Job) { j.store = store }
}

// WithReporter receives the progress events of the job.
func WithReporter(r progress.Reporter) Option {
	return func(j *Job) { j.reporter = r }
}

// WithLogger sets the job logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithRegistry resolves connectors from r instead of the global registry.
func WithRegistry(r *registry.Registry) Option {
	return func(j *Job) { j.registry = r }
}

// WithRetryPolicy replaces the policy built from the settings.
func WithRetryPolicy(p *base.RetryPolicy) Option {
	return func(j *Job) { j.retry = NewRetryControllerWithPolicy(p) }
}

// NewJob creates a job for a validated configuration.
func NewJob(cfg *config.Config, opts ...Option) *Job {
	j := &Job{
		cfg:      cfg,
		registry: registry.GetRegistry(),
		retry:    NewRetryController(cfg.Settings),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = logger.Get()
	}
	if j.reporter == nil {
		j.reporter = progress.NewLogReporter(j.logger)
	}
	return j
}

// Run executes the job. Table failures are reported in the Report, not as
// the error; the error is set only when the job could not start at all.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	jobID := j.cfg.Identity()
	runID := uuid.NewString()
	ctx = logger.WithJob(ctx, jobID, runID)
	log := logger.FromContext(ctx, j.logger).With(zap.String("component", "job"))

	log.Info("starting sync job",
		zap.String("source", j.cfg.Source.Redacted()),
		zap.String("target", j.cfg.Target.Redacted()),
		zap.Int("tables", len(j.cfg.Tables)),
		zap.Int("batch_size", j.cfg.BatchSize),
		zap.Int("workers", j.cfg.MaxConcurrentTasks))

	sess, err := j.connect(ctx, log)
	if err != nil {
		return nil, err
	}
	defer sess.close()
	store, src, dst := sess.store, sess.src, sess.dst

	stats := NewSyncStats()
	planner := NewPlanner(src, log)

	tables := make([]*tableRun, 0, len(j.cfg.Tables))
	runnable := make([]*tableRun, 0, len(j.cfg.Tables))
	for _, m := range j.cfg.Tables {
		tr, err := j.prepare(ctx, jobID, m, src, dst, planner, store, false, log)
		if err != nil {
			tr = &tableRun{
				source:    m.Source,
				target:    m.TargetName(),
				key:       checkpoint.Key{JobID: jobID, Table: m.TargetName()},
				committed: map[string]checkpoint.PartitionRecord{},
				status:    StatusFailed,
				err:       err,
				finished:  true,
			}
			log.Error("table setup failed", zap.String("table", tr.target), zap.Error(err))
			j.reporter.Report(progress.Event{
				Type:   progress.TableFinished,
				Time:   time.Now(),
				Table:  tr.target,
				Status: StatusFailed,
				Err:    err,
			})
			tables = append(tables, tr)
			continue
		}

		stats.Plan(tr.target, len(tr.partitions), tr.skipped)
		tr.collector.BatchSkipped(tr.skipped)
		j.reporter.Report(progress.Event{
			Type:           progress.TableStarted,
			Time:           time.Now(),
			Table:          tr.target,
			BatchesTotal:   len(tr.partitions),
			BatchesSkipped: tr.skipped,
		})
		tables = append(tables, tr)
		runnable = append(runnable, tr)
	}

	granularity := j.cfg.Checkpoint.Granularity
	d := NewDispatcher(DispatcherConfig{
		Workers:          j.cfg.MaxConcurrentTasks,
		NewSource:        sess.newSource,
		NewTarget:        sess.newTarget,
		Store:            store,
		Retry:            j.retry,
		Reporter:         j.reporter,
		Stats:            stats,
		Logger:           j.logger,
		DrainTimeout:     j.cfg.DrainTimeoutDuration(),
		TableGranularity: granularity == config.GranularityTable,
	})
	d.Run(ctx, runnable)
	stats.Close()

	report := &Report{
		JobID:     jobID,
		RunID:     runID,
		Cancelled: ctx.Err() != nil,
	}

	verifier := NewVerifier(src, dst, j.cfg.VerifyMode, log)
	for _, tr := range tables {
		res := newTableResult(tr, stats.Table(tr.target))
		if tr.status == StatusCompleted && tr.verify && j.cfg.VerifyData {
			if ctx.Err() != nil {
				log.Warn("job cancelled, skipping verification", zap.String("table", tr.target))
			} else if v, err := verifier.Verify(ctx, tr); err != nil {
				log.Warn("verification failed to run", zap.String("table", tr.target), zap.Error(err))
				res.VerificationError = err.Error()
			} else {
				res.Verification = v
			}
		}
		if tr.status == StatusCompleted && tr.incremental {
			// the next incremental run starts from the target's new maximum
			if err := store.Clear(ctx, tr.key); err != nil {
				log.Warn("failed to clear incremental checkpoint", zap.String("table", tr.target), zap.Error(err))
			}
		}
		report.Tables = append(report.Tables, res)
	}

	report.Stats = stats.Snapshot()
	report.Elapsed = time.Since(start)
	j.reporter.Report(progress.Event{
		Type:    progress.JobSummary,
		Time:    time.Now(),
		Rows:    report.Stats.RowsTransferred,
		Elapsed: report.Elapsed,
		Rate:    report.Stats.Rate(),
		Summary: report.Summary(residentSetSize()),
	})
	return report, nil
}

// TablePlan describes how one table would be copied.
type TablePlan struct {
	Source     string
	Target     string
	Mode       core.WriteMode
	KeyColumn  string
	Partitions []core.Partition
	// Skipped counts partitions already committed in the checkpoint
	Skipped int
	Err     error
}

// Plan resolves and partitions every table without copying anything.
func (j *Job) Plan(ctx context.Context) ([]TablePlan, error) {
	jobID := j.cfg.Identity()
	log := j.logger.With(zap.String("component", "job"), zap.String("job_id", jobID))

	sess, err := j.connect(ctx, log)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	planner := NewPlanner(sess.src, log)
	plans := make([]TablePlan, 0, len(j.cfg.Tables))
	for _, m := range j.cfg.Tables {
		p := TablePlan{Source: m.Source, Target: m.TargetName()}
		tr, err := j.prepare(ctx, jobID, m, sess.src, sess.dst, planner, sess.store, true, log)
		if err != nil {
			p.Err = err
		} else {
			p.Mode = tr.mode
			p.Partitions = tr.partitions
			p.Skipped = tr.skipped
			if len(tr.partitions) > 0 && tr.partitions[0].Kind == core.PartitionRange {
				p.KeyColumn = tr.partitions[0].KeyColumn
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// session holds the connections shared by planning and verification.
type session struct {
	store     checkpoint.Store
	ownsStore bool
	newSource ConnectorFactory
	newTarget ConnectorFactory
	src       core.Connector
	dst       core.Connector
	log       *zap.Logger
}

func (j *Job) connect(ctx context.Context, log *zap.Logger) (*session, error) {
	sess := &session{store: j.store, log: log}
	if sess.store == nil {
		s, err := checkpoint.New(ctx, j.cfg.Checkpoint)
		if err != nil {
			return nil, err
		}
		sess.store, sess.ownsStore = s, true
	}

	var err error
	if sess.newSource, err = j.registry.Factory(j.cfg.Source); err != nil {
		sess.close()
		return nil, err
	}
	if sess.newTarget, err = j.registry.Factory(j.cfg.Target); err != nil {
		sess.close()
		return nil, err
	}
	if sess.src, err = j.open(ctx, sess.newSource, "source", log); err != nil {
		sess.close()
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to connect to source")
	}
	if sess.dst, err = j.open(ctx, sess.newTarget, "target", log); err != nil {
		sess.close()
		return nil, errors.Wrap(err, errors.TypeOf(err), "failed to connect to target")
	}
	return sess, nil
}

func (s *session) close() {
	for _, conn := range []core.Connector{s.src, s.dst} {
		if conn == nil {
			continue
		}
		if err := conn.Disconnect(context.Background()); err != nil {
			s.log.Debug("disconnect failed", zap.String("connector", conn.Name()), zap.Error(err))
		}
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close checkpoint store", zap.Error(err))
		}
	}
}

// prepare resolves one mapping into a runnable table: schema, write mode,
// checkpoint state and partitions. A dry run never truncates.
func (j *Job) prepare(ctx context.Context, jobID string, m config.TableMapping, src, dst core.Connector,
	planner *Planner, store checkpoint.Store, dryRun bool, log *zap.Logger) (*tableRun, error) {
	target := m.TargetName()
	log = log.With(zap.String("table", target))

	sourceSchema, err := src.DescribeSchema(ctx, m.Source)
	if err != nil {
		return nil, err
	}
	targetSchema, err := dst.DescribeSchema(ctx, target)
	if err != nil {
		return nil, err
	}
	plan, err := schema.Resolve(m, sourceSchema, targetSchema, j.cfg.StrictSchema)
	if err != nil {
		return nil, err
	}
	for _, w := range plan.Warnings {
		log.Warn("schema warning", zap.String("detail", w))
	}

	mode := core.WriteMode(firstNonEmpty(m.WriteMode, j.cfg.WriteMode))
	if mode == core.WriteUpsert && len(plan.TargetKey) == 0 {
		log.Warn("target has no primary key covered by the mapping, writing with plain inserts")
		mode = core.WriteInsert
	}

	tr := &tableRun{
		source:         m.Source,
		target:         target,
		key:            checkpoint.Key{JobID: jobID, Table: target},
		sourceColumns:  plan.SourceColumns(),
		targetColumns:  plan.TargetColumns(),
		keyColumns:     plan.TargetKey,
		mode:           mode,
		identityInsert: plan.IdentityInsert,
		verify:         m.VerifyEnabled(),
		collector:      metrics.NewCollector(target),
		tracer:         observability.NewBatchTracer(target),
	}

	cp, err := store.Load(ctx, tr.key)
	if err != nil {
		return nil, err
	}
	tr.committed = cp.Committed()

	if m.Truncate && !dryRun {
		if len(tr.committed) > 0 {
			log.Info("resuming from checkpoint, skipping truncate", zap.Int("committed", len(tr.committed)))
		} else {
			log.Info("truncating target table")
			if err := dst.Truncate(ctx, target); err != nil {
				return nil, err
			}
		}
	}

	req := PlanRequest{
		Table:     m.Source,
		Columns:   tr.sourceColumns,
		OrderBy:   plan.SourceKey,
		BatchSize: int64(j.cfg.BatchSize),
	}
	if key, ok := plan.PartitionKey(m.KeyColumn); ok {
		req.KeyColumn = key
		tr.targetKey, _ = plan.TargetKeyFor(key)
	}

	if strings.EqualFold(m.SyncMode, config.SyncModeIncremental) {
		if err := j.incremental(ctx, tr, cp, src, dst, &req, log); err != nil {
			return nil, err
		}
	}

	if !tr.upToDate {
		if tr.partitions, err = planner.Plan(ctx, req); err != nil {
			return nil, err
		}
	}

	for seq, p := range tr.partitions {
		if _, ok := tr.committed[p.ID()]; ok {
			tr.skipped++
			continue
		}
		tr.pending = append(tr.pending, &Task{table: tr, Partition: p, Sequence: seq, State: TaskPending})
	}
	tr.remaining = len(tr.pending)

	log.Info("table planned",
		zap.String("source_table", m.Source),
		zap.String("key", req.KeyColumn),
		zap.String("mode", string(mode)),
		zap.Int("batches", len(tr.partitions)),
		zap.Int("skipped", tr.skipped))
	return tr, nil
}

// incremental narrows req to keys above the target's current maximum. The
// bound is recorded with every commit so a resumed run keeps the same plan,
// even when partitions committed out of order already raised that maximum.
func (j *Job) incremental(ctx context.Context, tr *tableRun, cp *checkpoint.TableCheckpoint, src, dst core.Connector,
	req *PlanRequest, log *zap.Logger) error {
	if req.KeyColumn == "" || tr.targetKey == "" {
		log.Warn("incremental sync needs an integer key column, copying the full table")
		return nil
	}
	tr.incremental = true

	if lower, ok := cp.LowerBound(); ok {
		req.LowerBound = &lower
		tr.lowerBound = &lower
		log.Info("incremental sync resumed", zap.Int64("lower_bound", lower))
		return nil
	}

	kr, err := dst.GetKeyRange(ctx, tr.target, tr.targetKey)
	if err != nil {
		return err
	}
	var lower int64
	switch {
	case kr != nil && kr.Max == math.MaxInt64:
		log.Info("target already holds the largest key, nothing to copy")
		tr.upToDate = true
		return nil
	case kr != nil:
		lower = kr.Max + 1
	default:
		// empty target: everything is new, starting at the source minimum
		skr, err := src.GetKeyRange(ctx, req.Table, req.KeyColumn)
		if err != nil {
			return err
		}
		if skr == nil {
			return nil
		}
		lower = skr.Min
	}
	req.LowerBound = &lower
	tr.lowerBound = &lower
	log.Info("incremental sync", zap.Int64("lower_bound", lower))
	return nil
}

// open connects a planning connection, retrying connection faults with the
// job's retry policy.
func (j *Job) open(ctx context.Context, factory ConnectorFactory, side string, log *zap.Logger) (core.Connector, error) {
	var conn core.Connector
	err := j.retry.Policy().ExecuteWithCondition(ctx, func() error {
		c, err := factory()
		if err != nil {
			return err
		}
		if err := c.Connect(ctx); err != nil {
			return err
		}
		conn = c
		return nil
	}, errors.IsRetryable, func(retry int, delay time.Duration, err error) {
		log.Warn("connect failed, retrying",
			zap.String("side", side),
			zap.Int("retry", retry),
			zap.Duration("delay", delay),
			zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

// residentSetSize returns the RSS of this process, 0 when unavailable.
func residentSetSize() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := p.MemoryInfo()
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
