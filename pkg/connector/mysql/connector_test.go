package mysql

import (
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func TestUpsertStatement(t *testing.T) {
	req := core.WriteRequest{
		Table:      "customers",
		Columns:    []string{"id", "name"},
		Rows:       []core.Row{{1, "a"}, {2, "b"}},
		Mode:       core.WriteUpsert,
		KeyColumns: []string{"id"},
	}

	stmts := base.WriteStatements(Dialect{}, "`customers`", req)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"INSERT INTO `customers` (`id`, `name`) VALUES (?, ?), (?, ?) ON DUPLICATE KEY UPDATE `name` = VALUES(`name`)",
		stmts[0].SQL)
	assert.Len(t, stmts[0].Args, 4)
}

func TestUpsertKeyOnlyTable(t *testing.T) {
	sql := Dialect{}.Upsert("`tags`", []string{"id"}, []string{"id"}, "(?)")
	assert.Equal(t, "INSERT INTO `tags` (`id`) VALUES (?) ON DUPLICATE KEY UPDATE `id` = VALUES(`id`)", sql)
}

func TestOffsetPartition(t *testing.T) {
	p := core.Partition{Kind: core.PartitionOffset, Columns: []string{"id"}, Offset: 1000, Limit: 500, OrderBy: []string{"id"}}
	stmt := base.SelectPartition(Dialect{}, "`t`", p)
	assert.Equal(t, "SELECT `id` FROM `t` ORDER BY `id` LIMIT ? OFFSET ?", stmt.SQL)
	assert.Equal(t, []interface{}{int64(500), int64(1000)}, stmt.Args)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`odd``name`", Dialect{}.QuoteIdent("odd`name"))
}

func TestDSN(t *testing.T) {
	dsn, err := DSN(config.DatabaseConfig{
		Host: "db", Port: 3306, Username: "sync", Password: "pw", Database: "shop", SSLMode: "require",
	})
	require.NoError(t, err)

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "skip-verify", parsed.TLSConfig)

	_, err = DSN(config.DatabaseConfig{Host: "db", SSLMode: "bogus"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorType
		ok   bool
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, errors.ErrorTypeTransient, true},
		{"lock wait", &mysql.MySQLError{Number: 1205}, errors.ErrorTypeTransient, true},
		{"duplicate", &mysql.MySQLError{Number: 1062}, errors.ErrorTypeFatal, true},
		{"not null", fmt.Errorf("write: %w", &mysql.MySQLError{Number: 1048}), errors.ErrorTypeFatal, true},
		{"invalid conn", mysql.ErrInvalidConn, errors.ErrorTypeConnection, true},
		{"unknown code", &mysql.MySQLError{Number: 9999}, "", false},
		{"foreign", fmt.Errorf("boom"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistered(t *testing.T) {
	name, err := registry.Resolve("MariaDB")
	require.NoError(t, err)
	assert.Equal(t, "mysql", name)

	conn, err := registry.Create(config.DatabaseConfig{Type: "mysql", Host: "db", Database: "shop"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", conn.Name())
	assert.True(t, conn.SupportsTransactions())
}
