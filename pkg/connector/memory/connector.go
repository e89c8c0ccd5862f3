package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func init() {
	registry.MustRegister(registry.ConnectorInfo{
		Name:         "memory",
		Description:  "In-process tables for tests and dry runs",
		Capabilities: []string{"transactions", "upsert", "key_range", "fault_injection"},
	}, New)
}

// Connector operates on the Database named by cfg.Database.
type Connector struct {
	cfg config.DatabaseConfig
	db  *Database

	mu      sync.Mutex
	tx      *transaction
	metrics struct{ read, written int64 }
}

// New creates an unconnected memory connector.
func New(cfg config.DatabaseConfig) (core.Connector, error) {
	return &Connector{cfg: cfg}, nil
}

// Name implements core.Connector
func (c *Connector) Name() string { return "memory" }

// Connect attaches to the registered database.
func (c *Connector) Connect(ctx context.Context) error {
	db, ok := Lookup(c.cfg.Database)
	if !ok {
		return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("memory database %q is not registered", c.cfg.Database))
	}
	if err := db.check(ctx, OpConnect, ""); err != nil {
		return err
	}
	c.db = db
	return nil
}

// Disconnect discards an open transaction.
func (c *Connector) Disconnect(context.Context) error {
	c.mu.Lock()
	c.tx = nil
	c.mu.Unlock()
	c.db = nil
	return nil
}

func (c *Connector) database(ctx context.Context, op Op, table string) (*Database, error) {
	if c.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if err := c.db.check(ctx, op, table); err != nil {
		return nil, err
	}
	return c.db, nil
}

// GetRowCount implements core.Connector
func (c *Connector) GetRowCount(ctx context.Context, name string) (int64, error) {
	db, err := c.database(ctx, OpCount, name)
	if err != nil {
		return 0, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return 0, err
	}
	return int64(len(t.rows)), nil
}

// GetKeyRange implements core.Connector
func (c *Connector) GetKeyRange(ctx context.Context, name, column string) (*core.KeyRange, error) {
	db, err := c.database(ctx, OpKeyRange, name)
	if err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	p, err := t.position(column)
	if err != nil {
		return nil, err
	}

	var kr *core.KeyRange
	for _, row := range t.rows {
		n, ok := toInt64(row[p])
		if !ok {
			continue
		}
		if kr == nil {
			kr = &core.KeyRange{Min: n, Max: n}
			continue
		}
		kr.Min = min(kr.Min, n)
		kr.Max = max(kr.Max, n)
	}
	return kr, nil
}

// CountRange implements core.Connector
func (c *Connector) CountRange(ctx context.Context, name, column string, lower, upper int64) (int64, error) {
	db, err := c.database(ctx, OpCountRange, name)
	if err != nil {
		return 0, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return 0, err
	}
	p, err := t.position(column)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, row := range t.rows {
		if n, ok := toInt64(row[p]); ok && n >= lower && n < upper {
			count++
		}
	}
	return count, nil
}

// DescribeSchema implements core.Connector
func (c *Connector) DescribeSchema(ctx context.Context, name string) ([]core.Column, error) {
	db, err := c.database(ctx, OpDescribe, name)
	if err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	cols := make([]core.Column, len(t.columns))
	copy(cols, t.columns)
	return cols, nil
}

// ReadBatch materializes the partition and returns it as an iterator.
func (c *Connector) ReadBatch(ctx context.Context, name string, p core.Partition) (core.RowIterator, error) {
	db, err := c.database(ctx, OpRead, name)
	if err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	pos, err := t.positions(p.Columns)
	if err != nil {
		return nil, err
	}

	var selected []core.Row
	switch p.Kind {
	case core.PartitionRange:
		k, err := t.position(p.KeyColumn)
		if err != nil {
			return nil, err
		}
		for _, row := range t.rows {
			if n, ok := toInt64(row[k]); ok && n >= p.Lower && n < p.Upper {
				selected = append(selected, row)
			}
		}
		sortRows(selected, []int{k})
	default:
		order, err := t.positions(p.OrderBy)
		if err != nil {
			return nil, err
		}
		all := make([]core.Row, len(t.rows))
		copy(all, t.rows)
		if len(order) > 0 {
			sortRows(all, order)
		}
		if p.Offset < int64(len(all)) {
			end := min(p.Offset+p.Limit, int64(len(all)))
			selected = all[p.Offset:end]
		}
	}

	out := make([]core.Row, len(selected))
	for i, row := range selected {
		out[i] = project(row, pos)
	}
	c.metrics.read += int64(len(out))
	return core.NewSliceIterator(out), nil
}

// WriteBatch applies the write, or buffers it when a transaction is open.
func (c *Connector) WriteBatch(ctx context.Context, req core.WriteRequest) (int64, error) {
	db, err := c.database(ctx, OpWrite, req.Table)
	if err != nil {
		return 0, err
	}

	ch := change{table: req.Table, req: req}
	if c.buffer(ch) {
		return int64(len(req.Rows)), nil
	}
	if err := db.apply([]change{ch}); err != nil {
		return 0, err
	}
	c.metrics.written += int64(len(req.Rows))
	return int64(len(req.Rows)), nil
}

// Truncate implements core.Connector
func (c *Connector) Truncate(ctx context.Context, name string) error {
	db, err := c.database(ctx, OpTruncate, name)
	if err != nil {
		return err
	}
	ch := change{table: name, truncate: true}
	if c.buffer(ch) {
		return nil
	}
	return db.apply([]change{ch})
}

func (c *Connector) buffer(ch change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return false
	}
	c.tx.changes = append(c.tx.changes, ch)
	return true
}

// SupportsTransactions implements core.Connector
func (c *Connector) SupportsTransactions() bool { return true }

// BeginTransaction implements core.Connector
func (c *Connector) BeginTransaction(ctx context.Context) (core.Transaction, error) {
	if c.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return nil, errors.New(errors.ErrorTypeInternal, "transaction already open")
	}
	c.tx = &transaction{conn: c}
	return c.tx, nil
}

// Metrics returns rows read and written by this instance.
func (c *Connector) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"rows_read":    c.metrics.read,
		"rows_written": c.metrics.written,
	}
}

type transaction struct {
	conn    *Connector
	changes []change
}

// Commit applies the buffered changes atomically.
func (t *transaction) Commit(ctx context.Context) error {
	defer t.release()
	db := t.conn.db
	if db == nil {
		return errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if err := db.check(ctx, OpCommit, ""); err != nil {
		return err
	}
	if err := db.apply(t.changes); err != nil {
		return err
	}
	for _, ch := range t.changes {
		t.conn.metrics.written += int64(len(ch.req.Rows))
	}
	return nil
}

func (t *transaction) Rollback(context.Context) error {
	t.release()
	return nil
}

func (t *transaction) release() {
	t.conn.mu.Lock()
	if t.conn.tx == t {
		t.conn.tx = nil
	}
	t.conn.mu.Unlock()
}

var _ core.Connector = (*Connector)(nil)
