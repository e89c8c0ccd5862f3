package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// ConnectorSuite checks an engine against the connector contract. The
// source table must hold the customers fixture with ids 1..Rows and the
// target table must exist with the same schema and be empty.
type ConnectorSuite struct {
	t       *testing.T
	timeout time.Duration

	// New returns a fresh, unconnected instance
	New         func() (core.Connector, error)
	SourceTable string
	TargetTable string
	Rows        int
}

// NewConnectorSuite creates a suite for the engine built by factory.
func NewConnectorSuite(t *testing.T, factory func() (core.Connector, error), source, target string, rows int) *ConnectorSuite {
	return &ConnectorSuite{
		t:           t,
		timeout:     30 * time.Second,
		New:         factory,
		SourceTable: source,
		TargetTable: target,
		Rows:        rows,
	}
}

// WithTimeout sets the test timeout
func (cs *ConnectorSuite) WithTimeout(timeout time.Duration) *ConnectorSuite {
	cs.timeout = timeout
	return cs
}

// Run executes every contract check as a subtest.
func (cs *ConnectorSuite) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), cs.timeout)
	defer cancel()

	conn, err := cs.New()
	require.NoError(cs.t, err)
	require.NoError(cs.t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	cs.t.Run("Describe", func(t *testing.T) { cs.testDescribe(ctx, t, conn) })
	cs.t.Run("Count", func(t *testing.T) { cs.testCount(ctx, t, conn) })
	cs.t.Run("KeyRange", func(t *testing.T) { cs.testKeyRange(ctx, t, conn) })
	cs.t.Run("CountRange", func(t *testing.T) { cs.testCountRange(ctx, t, conn) })
	cs.t.Run("ReadRange", func(t *testing.T) { cs.testReadRange(ctx, t, conn) })
	cs.t.Run("ReadOffset", func(t *testing.T) { cs.testReadOffset(ctx, t, conn) })
	cs.t.Run("WriteAndUpsert", func(t *testing.T) { cs.testWriteAndUpsert(ctx, t, conn) })
	cs.t.Run("Transactions", func(t *testing.T) { cs.testTransactions(ctx, t, conn) })
	cs.t.Run("Truncate", func(t *testing.T) { cs.testTruncate(ctx, t, conn) })
	cs.t.Run("MissingTable", func(t *testing.T) { cs.testMissingTable(ctx, t, conn) })
}

func (cs *ConnectorSuite) columns() []string {
	return []string{"id", "name", "email", "balance"}
}

func (cs *ConnectorSuite) testDescribe(ctx context.Context, t *testing.T, conn core.Connector) {
	cols, err := conn.DescribeSchema(ctx, cs.SourceTable)
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, []string{"id"}, core.PrimaryKey(cols))
	assert.Equal(t, core.FamilyInteger, cols[0].Family)
	assert.Equal(t, core.FamilyString, cols[1].Family)
}

func (cs *ConnectorSuite) testCount(ctx context.Context, t *testing.T, conn core.Connector) {
	n, err := conn.GetRowCount(ctx, cs.SourceTable)
	require.NoError(t, err)
	assert.Equal(t, int64(cs.Rows), n)
}

func (cs *ConnectorSuite) testKeyRange(ctx context.Context, t *testing.T, conn core.Connector) {
	kr, err := conn.GetKeyRange(ctx, cs.SourceTable, "id")
	require.NoError(t, err)
	require.NotNil(t, kr)
	assert.Equal(t, core.KeyRange{Min: 1, Max: int64(cs.Rows)}, *kr)

	empty, err := conn.GetKeyRange(ctx, cs.TargetTable, "id")
	require.NoError(t, err)
	assert.Nil(t, empty, "empty table has no key range")
}

func (cs *ConnectorSuite) testCountRange(ctx context.Context, t *testing.T, conn core.Connector) {
	n, err := conn.CountRange(ctx, cs.SourceTable, "id", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "upper bound is exclusive")

	n, err = conn.CountRange(ctx, cs.SourceTable, "id", int64(cs.Rows)+1, int64(cs.Rows)+100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (cs *ConnectorSuite) testReadRange(ctx context.Context, t *testing.T, conn core.Connector) {
	it, err := conn.ReadBatch(ctx, cs.SourceTable, core.Partition{
		Kind: core.PartitionRange, Columns: []string{"id", "name"}, KeyColumn: "id", Lower: 2, Upper: 5,
	})
	require.NoError(t, err)
	rows, err := core.Collect(it, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3, "upper bound is exclusive")
	for i, r := range rows {
		require.Len(t, r, 2)
		assert.EqualValues(t, int64(i+2), r[0])
	}
}

func (cs *ConnectorSuite) testReadOffset(ctx context.Context, t *testing.T, conn core.Connector) {
	seen := make(map[interface{}]bool)
	limit := int64(cs.Rows/3 + 1)
	for off := int64(0); off < int64(cs.Rows); off += limit {
		it, err := conn.ReadBatch(ctx, cs.SourceTable, core.Partition{
			Kind: core.PartitionOffset, Columns: cs.columns(), Offset: off, Limit: limit, OrderBy: []string{"id"},
		})
		require.NoError(t, err)
		rows, err := core.Collect(it, int(limit))
		require.NoError(t, err)
		for _, r := range rows {
			assert.False(t, seen[r[0]], "row %v read twice", r[0])
			seen[r[0]] = true
		}
	}
	assert.Len(t, seen, cs.Rows)
}

func (cs *ConnectorSuite) testWriteAndUpsert(ctx context.Context, t *testing.T, conn core.Connector) {
	req := core.WriteRequest{
		Table:   cs.TargetTable,
		Columns: cs.columns(),
		Rows:    []core.Row{CustomerRow(1), CustomerRow(2)},
		Mode:    core.WriteInsert,
	}
	n, err := conn.WriteBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = conn.WriteBatch(ctx, req)
	require.Error(t, err, "duplicate insert")
	assert.True(t, errors.IsFatal(err))

	req.Mode = core.WriteUpsert
	req.KeyColumns = []string{"id"}
	_, err = conn.WriteBatch(ctx, req)
	require.NoError(t, err, "upsert is idempotent")

	count, err := conn.GetRowCount(ctx, cs.TargetTable)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, conn.Truncate(ctx, cs.TargetTable))
}

func (cs *ConnectorSuite) testTransactions(ctx context.Context, t *testing.T, conn core.Connector) {
	if !conn.SupportsTransactions() {
		t.Skip("engine has no transactions")
	}
	write := func() {
		_, err := conn.WriteBatch(ctx, core.WriteRequest{
			Table: cs.TargetTable, Columns: cs.columns(), Rows: []core.Row{CustomerRow(10)}, Mode: core.WriteInsert,
		})
		require.NoError(t, err)
	}

	tx, err := conn.BeginTransaction(ctx)
	require.NoError(t, err)
	write()
	require.NoError(t, tx.Rollback(ctx))

	n, err := conn.GetRowCount(ctx, cs.TargetTable)
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back")

	tx, err = conn.BeginTransaction(ctx)
	require.NoError(t, err)
	write()
	require.NoError(t, tx.Commit(ctx))

	n, err = conn.GetRowCount(ctx, cs.TargetTable)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func (cs *ConnectorSuite) testTruncate(ctx context.Context, t *testing.T, conn core.Connector) {
	require.NoError(t, conn.Truncate(ctx, cs.TargetTable))
	n, err := conn.GetRowCount(ctx, cs.TargetTable)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (cs *ConnectorSuite) testMissingTable(ctx context.Context, t *testing.T, conn core.Connector) {
	_, err := conn.DescribeSchema(ctx, "no_such_table")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
