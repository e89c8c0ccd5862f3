// Package postgresql implements the PostgreSQL engine on pgx with a small
// connection pool per connector instance.
package postgresql

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// DefaultPort is used when the descriptor leaves port unset.
const DefaultPort = 5432

func init() {
	registry.MustRegister(registry.ConnectorInfo{
		Name:         "postgresql",
		Aliases:      []string{"postgres", "pg"},
		Description:  "PostgreSQL over pgx with COPY bulk inserts",
		DefaultPort:  DefaultPort,
		Capabilities: []string{"transactions", "upsert", "key_range", "copy"},
	}, New)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Connector is a PostgreSQL connector.
type Connector struct {
	*base.BaseConnector

	connString string
	pool       *pgxpool.Pool
	poolConfig *pgxpool.Config
	tx         pgx.Tx
}

// New creates an unconnected PostgreSQL connector.
func New(cfg config.DatabaseConfig) (core.Connector, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Connector{
		BaseConnector: base.NewBaseConnector("postgresql", cfg, Dialect{}, Classify),
		connString:    ConnString(cfg),
	}, nil
}

// ConnString renders a postgres:// URL for cfg.
func ConnString(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   cfg.Address(),
		Path:   "/" + cfg.Database,
	}

	q := url.Values{}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}
	q.Set("sslmode", sslmode)
	q.Set("connect_timeout", strconv.Itoa(int(cfg.ConnectTimeoutDuration().Seconds())))
	q.Set("application_name", "tablesync")
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Connect creates the pool and verifies a connection.
func (c *Connector) Connect(ctx context.Context) error {
	if c.pool != nil {
		return nil
	}

	poolConfig, err := pgxpool.ParseConfig(c.connString)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}
	// One worker owns this pool: one connection for an open read, one spare.
	poolConfig.MaxConns = 2
	poolConfig.MinConns = 0
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	if schema := c.Config().Schema; schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return c.ConnectError(err, "failed to create connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.Config().ConnectTimeoutDuration())
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return c.ConnectError(err, fmt.Sprintf("failed to connect to %s", c.Config().Redacted()))
	}

	c.pool = pool
	c.poolConfig = poolConfig
	c.GetLogger().Debug("connected to PostgreSQL",
		zap.String("address", c.Config().Address()),
		zap.Int32("max_connections", poolConfig.MaxConns))
	return nil
}

// Disconnect rolls back an open transaction and closes the pool.
func (c *Connector) Disconnect(ctx context.Context) error {
	if c.tx != nil {
		_ = c.tx.Rollback(ctx)
		c.tx = nil
	}
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	return nil
}

func (c *Connector) q() (querier, error) {
	if c.pool == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if c.tx != nil {
		return c.tx, nil
	}
	return c.pool, nil
}

// GetRowCount implements core.Connector
func (c *Connector) GetRowCount(ctx context.Context, table string) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(ctx, base.CountQuery(c.Dialect(), c.Table(table))).Scan(&n); err != nil {
		return 0, c.Classify(err, fmt.Sprintf("failed to count rows of %s", table))
	}
	return n, nil
}

// GetKeyRange implements core.Connector
func (c *Connector) GetKeyRange(ctx context.Context, table, column string) (*core.KeyRange, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}
	var lo, hi *int64
	row := q.QueryRow(ctx, base.KeyRangeQuery(c.Dialect(), c.Table(table), column))
	if err := row.Scan(&lo, &hi); err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to read key range of %s.%s", table, column))
	}
	if lo == nil || hi == nil {
		return nil, nil
	}
	return &core.KeyRange{Min: *lo, Max: *hi}, nil
}

// CountRange implements core.Connector
func (c *Connector) CountRange(ctx context.Context, table, column string, lower, upper int64) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}
	var n int64
	stmt := base.CountRangeStatement(c.Dialect(), c.Table(table), column, lower, upper)
	if err := q.QueryRow(ctx, stmt.SQL, stmt.Args...).Scan(&n); err != nil {
		return 0, c.Classify(err, fmt.Sprintf("failed to count %s.%s in [%d, %d)", table, column, lower, upper))
	}
	return n, nil
}

// DescribeSchema implements core.Connector
func (c *Connector) DescribeSchema(ctx context.Context, table string) ([]core.Column, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}

	stmt := base.DescribeStatement(c.Dialect(), table, c.Schema())
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to describe %s", table))
	}
	defer rows.Close()

	var columns []core.Column
	for rows.Next() {
		var (
			col               core.Column
			nullable          string
			primary, identity int64
			length            *int64
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &primary, &identity, &length); err != nil {
			return nil, c.Classify(err, "failed to scan schema row")
		}
		col.Type = strings.ToLower(col.Type)
		col.Family = base.FamilyOf(col.Type)
		col.Nullable = nullable == "YES"
		col.PrimaryKey = primary == 1
		col.Identity = identity == 1
		if length != nil {
			col.Length = *length
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, c.Classify(err, "error iterating schema rows")
	}
	if len(columns) == 0 {
		return nil, errors.New(errors.ErrorTypeFatal, fmt.Sprintf("table %s not found or has no columns", table))
	}
	return columns, nil
}

// ReadBatch implements core.Connector
func (c *Connector) ReadBatch(ctx context.Context, table string, p core.Partition) (core.RowIterator, error) {
	q, err := c.q()
	if err != nil {
		return nil, err
	}

	stmt := base.SelectPartition(c.Dialect(), c.Table(table), p)
	rows, err := q.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, c.Classify(err, fmt.Sprintf("failed to read %s %s", table, p))
	}
	return &rowIterator{rows: rows, conn: c}, nil
}

// WriteBatch uses COPY for plain inserts and multi-row INSERT ... ON CONFLICT
// for upserts.
func (c *Connector) WriteBatch(ctx context.Context, req core.WriteRequest) (int64, error) {
	q, err := c.q()
	if err != nil {
		return 0, err
	}
	if len(req.Rows) == 0 {
		return 0, nil
	}

	if req.Mode != core.WriteUpsert || len(req.KeyColumns) == 0 {
		schema, name := base.SplitTableName(req.Table, c.Schema())
		src := make([][]any, len(req.Rows))
		for i, r := range req.Rows {
			src[i] = r
		}
		n, err := q.CopyFrom(ctx, pgx.Identifier{schema, name}, req.Columns, pgx.CopyFromRows(src))
		if err != nil {
			return 0, c.Classify(err, fmt.Sprintf("failed to copy %d rows into %s", len(req.Rows), req.Table))
		}
		c.RecordWrite(n)
		return n, nil
	}

	for _, stmt := range base.WriteStatements(c.Dialect(), c.Table(req.Table), req) {
		if _, err := q.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
			return 0, c.Classify(err, fmt.Sprintf("failed to upsert %d rows into %s", len(req.Rows), req.Table))
		}
	}
	n := int64(len(req.Rows))
	c.RecordWrite(n)
	return n, nil
}

// Truncate implements core.Connector
func (c *Connector) Truncate(ctx context.Context, table string) error {
	q, err := c.q()
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, base.TruncateQuery(c.Table(table))); err != nil {
		return c.Classify(err, fmt.Sprintf("failed to truncate %s", table))
	}
	return nil
}

// SupportsTransactions implements core.Connector
func (c *Connector) SupportsTransactions() bool { return true }

// BeginTransaction implements core.Connector
func (c *Connector) BeginTransaction(ctx context.Context) (core.Transaction, error) {
	if c.pool == nil {
		return nil, errors.New(errors.ErrorTypeConnection, "not connected")
	}
	if c.tx != nil {
		return nil, errors.New(errors.ErrorTypeInternal, "transaction already open")
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, c.Classify(err, "failed to begin transaction")
	}
	c.tx = tx
	return &transaction{conn: c, tx: tx}, nil
}

type transaction struct {
	conn *Connector
	tx   pgx.Tx
}

func (t *transaction) Commit(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Commit(ctx); err != nil {
		return t.conn.Classify(err, "failed to commit transaction")
	}
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	defer t.release()
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return t.conn.Classify(err, "failed to roll back transaction")
	}
	return nil
}

func (t *transaction) release() {
	if t.conn.tx == t.tx {
		t.conn.tx = nil
	}
}
