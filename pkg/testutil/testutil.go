// Package testutil provides fixtures and helpers shared by tablesync tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/memory"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// MemoryDatabase registers an empty memory database with a name unique to
// the test and drops it when the test ends.
func MemoryDatabase(t testing.TB, suffix string) *memory.Database {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + suffix
	db := memory.NewDatabase(name)
	t.Cleanup(func() { memory.Drop(name) })
	return db
}

// MemoryConfig returns a descriptor for the memory database db.
func MemoryConfig(db *memory.Database) config.DatabaseConfig {
	return config.DatabaseConfig{Type: "memory", Database: db.Name()}
}

// CustomerColumns is the schema of the customers fixture.
func CustomerColumns() []core.Column {
	return []core.Column{
		{Name: "id", Type: "bigint", PrimaryKey: true},
		{Name: "name", Type: "varchar", Nullable: true, Length: 100},
		{Name: "email", Type: "varchar", Nullable: true, Length: 255},
		{Name: "balance", Type: "decimal", Nullable: true},
	}
}

// CustomerRow is the fixture row for id.
func CustomerRow(id int64) core.Row {
	return core.Row{id, fmt.Sprintf("customer %d", id), fmt.Sprintf("c%d@example.com", id), fmt.Sprintf("%d.50", id%1000)}
}

// SeedCustomers creates table in db with the customers schema and ids 1..n.
func SeedCustomers(t testing.TB, db *memory.Database, table string, n int) {
	t.Helper()
	require.NoError(t, db.CreateTable(table, CustomerColumns()))

	rows := make([]core.Row, 0, n)
	for id := int64(1); id <= int64(n); id++ {
		rows = append(rows, CustomerRow(id))
	}
	require.NoError(t, db.Insert(table, rows...))
}

// FailFirst returns a fault that fails the first n calls of op on table
// with err. An empty table matches every table.
func FailFirst(op memory.Op, table string, n int, err error) memory.Fault {
	var mu sync.Mutex
	remaining := n
	return func(_ context.Context, o memory.Op, tbl string) error {
		if o != op || (table != "" && !strings.EqualFold(tbl, table)) {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if remaining <= 0 {
			return nil
		}
		remaining--
		return err
	}
}
