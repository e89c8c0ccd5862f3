package base

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SQLConnector implements core.Connector over database/sql for any engine
// with a registered driver and a Dialect.
type SQLConnector struct {
	*BaseConnector

	driverName string
	dsn        string

	db      *sql.DB
	tx      *sql.Tx
	convert ValueConverter
}

// ValueConverter rewrites a scanned value given its database type name, for
// driver representations other engines cannot bind (raw GUID bytes, etc).
type ValueConverter func(databaseType string, v interface{}) interface{}

// NewSQLConnector creates an unconnected database/sql connector.
func NewSQLConnector(name string, cfg config.DatabaseConfig, dialect Dialect, classify Classifier, driverName, dsn string) *SQLConnector {
	return &SQLConnector{
		BaseConnector: NewBaseConnector(name, cfg, dialect, classify),
		driverName:    driverName,
		dsn:           dsn,
	}
}

// WithValueConverter installs fn for every value read.
func (c *SQLConnector) WithValueConverter(fn ValueConverter) *SQLConnector {
	c.convert = fn
	return c
}

// DB exposes the handle for engine-specific statements. Nil before Connect.
func (c *SQLConnector) DB() *sql.DB {
	return c.db
}

// Connect opens the pool and verifies the connection.
func (c *SQLConnector) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}

	db, err := sql.Open(c.driverName, c.dsn)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid connection settings")
	}
	// One worker owns this instance; a second connection serves the open
	// iterator while a write runs.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, c.Config().ConnectTimeoutDuration())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return c.ConnectError(err, fmt.Sprintf("failed to connect to %s", c.Config().Redacted()))
	}

	c.db = db
	c.GetLogger().Debug("connected", zap.String("address", c.Config().Address()))
	return nil
}

// Disconnect rolls back any open transaction and closes the pool.
func (c *SQLConnector) Disconnect(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	if err != nil {
		return c.Classify(err, "failed to close connection")
	}
	return nil
}

func (c *SQLConnector) q() (querier, error) {
	if c.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.db, nil
}

// GetRowCount returns COUNT(*) of table.
func (c *SQLConnector) GetRowCount(ctx context.Context, table string) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := q.QueryRowContext(ctx, CountQuery(c.Dialect(), c.Table(table))).Scan(&n); err != nil {
		return 0, c.Classify(err, fmt.Sprintf("failed to count rows of %s", table))
	}
	return n, nil
}

// GetKeyRange returns MIN/MAX of an integer column, nil for an empty table.
func (c *SQLConnector) GetKeyRange(ctx context.Context, table, column string) (*core.KeyRange, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}

	var lo, hi sql.NullInt64
	row := q.QueryRowContext(ctx, KeyRangeQuery(c.Dialect(), c.Table(table), column))
	if err := row.Scan(&lo, &hi); err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to read key range of %s.%s", table, column))
	}
	if !lo.Valid || !hi.Valid {
		return nil, nil
	}
	return &core.KeyRange{Min: lo.Int64, Max: hi.Int64}, nil
}

// CountRange counts the rows of table whose key lies in [lower, upper).
func (c *SQLConnector) CountRange(ctx context.Context, table, column string, lower, upper int64) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}

	var n int64
	stmt := CountRangeStatement(c.Dialect(), c.Table(table), column, lower, upper)
	if err := q.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, c.Classify(err, fmt.Sprintf("failed to count %s.%s in [%d, %d)", table, column, lower, upper))
	}
	return n, nil
}

// DescribeSchema lists the columns of table in ordinal order.
func (c *SQLConnector) DescribeSchema(ctx context.Context, table string) ([]core.Column, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}

	stmt := DescribeStatement(c.Dialect(), table, c.Schema())
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to describe %s", table))
	}
	defer rows.Close()

	var columns []core.Column
	for rows.Next() {
		var (
			col               core.Column
			nullable          string
			primary, identity sql.NullInt64
			length            sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &primary, &identity, &length); err != nil {
			return nil, c.Classify(err, "failed to scan schema row")
		}
		col.Type = strings.ToLower(col.Type)
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.PrimaryKey = primary.Int64 == 1
		col.Identity = identity.Int64 == 1
		col.Length = length.Int64
		col.Family = FamilyOf(col.Type)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, c.Classify(err, "error iterating schema rows")
	}
	if len(columns) == 0 {
		return nil, errors.New(errors.ErrorTypeFatal, fmt.Sprintf("table %s does not exist or has no visible columns", table))
	}
	return columns, nil
}

// ReadBatch streams the rows of one partition.
func (c *SQLConnector) ReadBatch(ctx context.Context, table string, p core.Partition) (core.RowIterator, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}

	stmt := SelectPartition(c.Dialect(), c.Table(table), p)
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to read %s %s", table, p))
	}

	it, err := newSQLRowIterator(rows, c)
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return it, nil
}

// WriteBatch writes the rows with multi-row INSERT or upsert statements.
func (c *SQLConnector) WriteBatch(ctx context.Context, req core.WriteRequest) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}

	for _, stmt := range WriteStatements(c.Dialect(), c.Table(req.Table), req) {
		if _, err := q.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return 0, c.Classify(err, fmt.Sprintf("failed to write %d rows to %s", len(req.Rows), req.Table))
		}
	}

	n := int64(len(req.Rows))
	c.RecordWrite(n)
	return n, nil
}

// Truncate empties table.
func (c *SQLConnector) Truncate(ctx context.Context, table string) error {
	q, err := c.q()
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, TruncateQuery(c.Table(table))); err != nil {
		return c.Classify(err, fmt.Sprintf("failed to truncate %s", table))
	}
	return nil
}

// SupportsTransactions implements core.Connector
func (c *SQLConnector) SupportsTransactions() bool {
	return true
}

// BeginTransaction opens a transaction used by subsequent writes.
func (c *SQLConnector) BeginTransaction(ctx context.Context) (core.Transaction, error) {
	if c.db == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if c.tx != nil {
		return nil, errors.New(errors.ErrorTypeInternal, "transaction already open")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.Classify(err, "failed to begin transaction")
	}
	c.tx = tx
	return &sqlTransaction{conn: c, tx: tx}, nil
}

type sqlTransaction struct {
	conn *SQLConnector
	tx   *sql.Tx
}

func (t *sqlTransaction) Commit(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return t.conn.Classify(err, "failed to commit transaction")
	}
	return nil
}

func (t *sqlTransaction) Rollback(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.conn.Classify(err, "failed to roll back transaction")
	}
	return nil
}

func (t *sqlTransaction) release() {
	if t.conn.tx == t.tx {
		t.conn.tx = nil
	}
}

// sqlRowIterator adapts *sql.Rows to core.RowIterator.
type sqlRowIterator struct {
	rows    *sql.Rows
	conn    *SQLConnector
	types   []string
	textual []bool // []byte values of these columns are returned as strings
	row     core.Row
	err     error
	count   int64
}

func newSQLRowIterator(rows *sql.Rows, conn *SQLConnector) (*sqlRowIterator, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, conn.Classify(err, "failed to read column types")
	}
	names := make([]string, len(types))
	textual := make([]bool, len(types))
	for i, t := range types {
		names[i] = t.DatabaseTypeName()
		textual[i] = FamilyOf(names[i]) != core.FamilyBinary
	}
	return &sqlRowIterator{rows: rows, conn: conn, types: names, textual: textual}, nil
}

func (it *sqlRowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}

	values := make([]interface{}, len(it.textual))
	ptrs := make([]interface{}, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = it.conn.Classify(err, "failed to scan row")
		return false
	}
	for i, v := range values {
		if it.conn.convert != nil {
			v = it.conn.convert(it.types[i], v)
		}
		if b, ok := v.([]byte); ok && it.textual[i] {
			v = string(b)
		}
		values[i] = v
	}

	it.row = values
	it.count++
	return true
}

func (it *sqlRowIterator) Row() core.Row { return it.row }

func (it *sqlRowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return it.conn.Classify(err, "error iterating rows")
	}
	return nil
}

func (it *sqlRowIterator) Close() error {
	it.conn.RecordRead(it.count)
	it.count = 0
	return it.rows.Close()
}
