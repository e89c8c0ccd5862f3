package base

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
)

// testDialect is a minimal positional-placeholder dialect.
type testDialect struct {
	maxParams int
	maxRows   int
}

func (testDialect) Name() string { return "test" }
func (testDialect) QuoteIdent(name string) string { return `"` + name + `"` }
func (testDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (testDialect) DefaultSchema() string { return "main" }
func (d testDialect) MaxParams() int { return d.maxParams }
func (d testDialect) MaxRowsPerStatement() int { return d.maxRows }
func (testDialect) CountExpr() string { return "COUNT(*)" }
func (testDialect) OrderFallback() string { return "" }

func (testDialect) Paginate(bind Binder, offset, limit int64) string {
	return "LIMIT " + bind(limit) + " OFFSET " + bind(offset)
}

func (d testDialect) Upsert(table string, columns, keys []string, values string) string {
	return fmt.Sprintf("UPSERT INTO %s (%s) VALUES %s ON (%s)", table,
		strings.Join(QuoteAll(d, columns), ", "), values, strings.Join(QuoteAll(d, keys), ", "))
}

func (testDialect) WrapWrite(table, stmt string, identityInsert bool) string {
	if identityInsert {
		return "IDENTITY ON; " + stmt + "; IDENTITY OFF"
	}
	return stmt
}

func (testDialect) DescribeQuery(bind Binder, schema, table string) string {
	return "DESCRIBE " + bind(schema) + " " + bind(table)
}

func TestQualifiedName(t *testing.T) {
	d := testDialect{}
	assert.Equal(t, `"main"."users"`, QualifiedName(d, "users", "main"))
	assert.Equal(t, `"sales"."orders"`, QualifiedName(d, "sales.orders", "main"))
	assert.Equal(t, `"users"`, QualifiedName(d, "users", ""))
}

func TestSelectPartition(t *testing.T) {
	d := testDialect{}

	tests := []struct {
		name     string
		part     core.Partition
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:     "range",
			part:     core.Partition{Kind: core.PartitionRange, Columns: []string{"id", "name"}, KeyColumn: "id", Lower: 1, Upper: 101},
			wantSQL:  `SELECT "id", "name" FROM t WHERE "id" >= $1 AND "id" < $2`,
			wantArgs: []interface{}{int64(1), int64(101)},
		},
		{
			name:     "offset ordered",
			part:     core.Partition{Kind: core.PartitionOffset, Columns: []string{"a"}, Offset: 200, Limit: 100, OrderBy: []string{"a"}},
			wantSQL:  `SELECT "a" FROM t ORDER BY "a" LIMIT $1 OFFSET $2`,
			wantArgs: []interface{}{int64(100), int64(200)},
		},
		{
			name:     "offset without order",
			part:     core.Partition{Kind: core.PartitionOffset, Columns: []string{"a"}, Offset: 0, Limit: 10},
			wantSQL:  `SELECT "a" FROM t LIMIT $1 OFFSET $2`,
			wantArgs: []interface{}{int64(10), int64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := SelectPartition(d, "t", tt.part)
			assert.Equal(t, tt.wantSQL, stmt.SQL)
			assert.Equal(t, tt.wantArgs, stmt.Args)
		})
	}
}

func TestCountRangeStatement(t *testing.T) {
	stmt := CountRangeStatement(testDialect{}, "t", "id", 10, 20)
	assert.Equal(t, `SELECT COUNT(*) FROM t WHERE "id" >= $1 AND "id" < $2`, stmt.SQL)
	assert.Equal(t, []interface{}{int64(10), int64(20)}, stmt.Args)
}

func TestWriteStatementsChunking(t *testing.T) {
	d := testDialect{maxParams: 6, maxRows: 1000}
	req := core.WriteRequest{
		Table:   "t",
		Columns: []string{"id", "v"},
		Rows:    []core.Row{{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"}},
		Mode:    core.WriteInsert,
	}

	stmts := WriteStatements(d, "t", req)
	require.Len(t, stmts, 2)
	assert.Equal(t, `INSERT INTO t ("id", "v") VALUES ($1, $2), ($3, $4), ($5, $6)`, stmts[0].SQL)
	assert.Equal(t, []interface{}{1, "a", 2, "b", 3, "c"}, stmts[0].Args)
	assert.Equal(t, `INSERT INTO t ("id", "v") VALUES ($1, $2)`, stmts[1].SQL)
	assert.Equal(t, []interface{}{4, "d"}, stmts[1].Args)
}

func TestWriteStatementsUpsertAndIdentity(t *testing.T) {
	d := testDialect{maxParams: 100, maxRows: 1000}
	req := core.WriteRequest{
		Table:          "t",
		Columns:        []string{"id", "v"},
		Rows:           []core.Row{{1, "a"}},
		Mode:           core.WriteUpsert,
		KeyColumns:     []string{"id"},
		IdentityInsert: true,
	}

	stmts := WriteStatements(d, "t", req)
	require.Len(t, stmts, 1)
	assert.Equal(t, `IDENTITY ON; UPSERT INTO t ("id", "v") VALUES ($1, $2) ON ("id"); IDENTITY OFF`, stmts[0].SQL)

	req.KeyColumns = nil
	stmts = WriteStatements(d, "t", req)
	assert.True(t, strings.Contains(stmts[0].SQL, "INSERT INTO t"), "upsert without keys falls back to insert")

	assert.Empty(t, WriteStatements(d, "t", core.WriteRequest{Columns: []string{"id"}}))
}

func TestRowsPerStatement(t *testing.T) {
	assert.Equal(t, 1000, RowsPerStatement(testDialect{maxParams: 65535, maxRows: 1000}, 3))
	assert.Equal(t, 700, RowsPerStatement(testDialect{maxParams: 2100, maxRows: 1000}, 3))
	assert.Equal(t, 1, RowsPerStatement(testDialect{maxParams: 10, maxRows: 1000}, 20))
}

func TestNonKeyColumns(t *testing.T) {
	assert.Equal(t, []string{"name", "total"}, NonKeyColumns([]string{"ID", "name", "total"}, []string{"id"}))
	assert.Empty(t, NonKeyColumns([]string{"id"}, []string{"id"}))
}

func TestFamilyOf(t *testing.T) {
	tests := map[string]core.TypeFamily{
		"int":                      core.FamilyInteger,
		"BIGINT UNSIGNED":          core.FamilyInteger,
		"int4":                     core.FamilyInteger,
		"decimal(10,2)":            core.FamilyDecimal,
		"double precision":         core.FamilyFloat,
		"varchar(255)":             core.FamilyString,
		"nvarchar":                 core.FamilyString,
		"timestamp with time zone": core.FamilyTemporal,
		"datetime2":                core.FamilyTemporal,
		"bit":                      core.FamilyBoolean,
		"bytea":                    core.FamilyBinary,
		"jsonb":                    core.FamilyJSON,
		"geometry":                 core.FamilyOther,
	}
	for typ, want := range tests {
		t.Run(typ, func(t *testing.T) {
			assert.Equal(t, want, FamilyOf(typ))
		})
	}
}
