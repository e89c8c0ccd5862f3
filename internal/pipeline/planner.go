package pipeline

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
)

// PlanRequest describes the table to partition.
type PlanRequest struct {
	Table   string
	Columns []string

	// KeyColumn selects key-range partitioning; empty means offset windows
	KeyColumn string
	// OrderBy orders offset windows; the dialect fallback applies when empty
	OrderBy []string

	BatchSize int64

	// LowerBound, when set, skips keys below it (incremental sync)
	LowerBound *int64
}

// Planner splits source tables into partitions.
type Planner struct {
	source core.Connector
	logger *zap.Logger
}

// NewPlanner creates a planner that reads metadata through source.
func NewPlanner(source core.Connector, logger *zap.Logger) *Planner {
	return &Planner{source: source, logger: logger}
}

// Plan returns the partitions of a table in sequence order. The result is
// deterministic for a given source state.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]core.Partition, error) {
	if req.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", req.BatchSize)
	}

	rows, err := p.source.GetRowCount(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	if req.KeyColumn != "" {
		kr, err := p.source.GetKeyRange(ctx, req.Table, req.KeyColumn)
		if err != nil {
			return nil, err
		}
		switch {
		case kr == nil && rows > 0:
			// rows exist but none has an integer key
			p.logger.Warn("key column holds no integer values, falling back to offset windows",
				zap.String("table", req.Table), zap.String("key", req.KeyColumn))
		case kr != nil && !Partitionable(*kr):
			p.logger.Warn("key range exceeds the int64 span, falling back to offset windows",
				zap.String("table", req.Table),
				zap.String("key", req.KeyColumn),
				zap.Int64("min", kr.Min),
				zap.Int64("max", kr.Max))
		default:
			parts := KeyRangePartitions(rows, kr, req)
			if kr != nil && rows != kr.Span() {
				// keys are sparse or skewed: split ranges by their actual row count
				if parts, err = p.refine(ctx, req, parts); err != nil {
					return nil, err
				}
			}
			p.logger.Debug("planned key-range partitions",
				zap.String("table", req.Table),
				zap.String("key", req.KeyColumn),
				zap.Int64("rows", rows),
				zap.Int("partitions", len(parts)))
			return parts, nil
		}
	}

	parts := OffsetPartitions(rows, req)
	p.logger.Debug("planned offset partitions",
		zap.String("table", req.Table),
		zap.Int64("rows", rows),
		zap.Int("partitions", len(parts)))
	return parts, nil
}

// Partitionable reports whether every half-open range over kr can be
// expressed in int64: Max+1 and the span must not overflow.
func Partitionable(kr core.KeyRange) bool {
	if kr.Max == math.MaxInt64 {
		return false
	}
	d := kr.Max - kr.Min
	return d >= 0 && d < math.MaxInt64
}

// KeyRangePartitions splits [kr.Min, kr.Max] into half-open ranges. With n =
// ceil(rows/batch) the step is ceil(span/n), so dense keys give batch rows
// per range. Ranges over skewed keys are balanced by Planner.Plan. kr must
// be Partitionable.
func KeyRangePartitions(rows int64, kr *core.KeyRange, req PlanRequest) []core.Partition {
	if kr == nil || rows <= 0 || !Partitionable(*kr) {
		return nil
	}

	lower := kr.Min
	if req.LowerBound != nil && *req.LowerBound > lower {
		lower = *req.LowerBound
	}
	if lower > kr.Max {
		return nil
	}

	// scale the row estimate to the part of the key space still to copy
	span := kr.Max - lower + 1
	estimate := rows
	if total := kr.Span(); span < total {
		estimate = int64(float64(rows) * float64(span) / float64(total))
	}

	n := ceilDiv(estimate, req.BatchSize)
	if n < 1 {
		n = 1
	}
	return splitRange(core.Partition{
		Kind:      core.PartitionRange,
		Columns:   req.Columns,
		KeyColumn: req.KeyColumn,
		Lower:     lower,
		Upper:     kr.Max + 1,
	}, n)
}

// splitRange cuts p into at most n ranges of equal width.
func splitRange(p core.Partition, n int64) []core.Partition {
	width := p.Upper - p.Lower
	step := ceilDiv(width, n)
	if step < 1 {
		step = 1
	}

	parts := make([]core.Partition, 0, min(n, width))
	for lo := p.Lower; lo < p.Upper; lo += step {
		part := p
		part.Lower = lo
		part.Upper = lo + step
		if part.Upper > p.Upper || part.Upper < lo {
			part.Upper = p.Upper
		}
		parts = append(parts, part)
		if part.Upper == p.Upper {
			break
		}
	}
	return parts
}

// counted is a range partition with the rows it held when planned.
type counted struct {
	part core.Partition
	rows int64
}

// refine splits every range holding more than BatchSize rows until each
// holds at most BatchSize rows or covers a single key, then merges adjacent
// ranges whose rows fit one batch. The ranges still tile the key space.
func (p *Planner) refine(ctx context.Context, req PlanRequest, parts []core.Partition) ([]core.Partition, error) {
	leaves := make([]counted, 0, len(parts))
	for _, part := range parts {
		var err error
		if leaves, err = p.split(ctx, req, part, leaves); err != nil {
			return nil, err
		}
	}

	out := make([]core.Partition, 0, len(leaves))
	var cur *counted
	for i := range leaves {
		leaf := leaves[i]
		if cur != nil && cur.rows+leaf.rows <= req.BatchSize {
			cur.part.Upper = leaf.part.Upper
			cur.rows += leaf.rows
			continue
		}
		if cur != nil {
			out = append(out, cur.part)
		}
		cur = &leaf
	}
	if cur != nil {
		out = append(out, cur.part)
	}
	return out, nil
}

func (p *Planner) split(ctx context.Context, req PlanRequest, part core.Partition, out []counted) ([]counted, error) {
	n, err := p.source.CountRange(ctx, req.Table, req.KeyColumn, part.Lower, part.Upper)
	if err != nil {
		return nil, err
	}
	if n <= req.BatchSize || part.Upper-part.Lower <= 1 {
		return append(out, counted{part: part, rows: n}), nil
	}
	for _, sub := range splitRange(part, max(ceilDiv(n, req.BatchSize), 2)) {
		if out, err = p.split(ctx, req, sub, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// OffsetPartitions splits rows into windows of BatchSize. Windows are only
// stable while the source does not change.
func OffsetPartitions(rows int64, req PlanRequest) []core.Partition {
	if rows <= 0 {
		return nil
	}

	n := ceilDiv(rows, req.BatchSize)
	parts := make([]core.Partition, 0, n)
	for i := int64(0); i < n; i++ {
		parts = append(parts, core.Partition{
			Kind:    core.PartitionOffset,
			Columns: req.Columns,
			Offset:  i * req.BatchSize,
			Limit:   req.BatchSize,
			OrderBy: req.OrderBy,
		})
	}
	return parts
}

// ceilDiv divides positive a by positive b, rounding up without overflow.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
