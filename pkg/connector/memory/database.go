// Package memory implements an in-process engine holding tables in named,
// shared databases. It backs tests and dry runs and supports fault injection.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Op names a connector operation for fault injection.
type Op string

const (
	OpConnect    Op = "connect"
	OpCount      Op = "count"
	OpKeyRange   Op = "key_range"
	OpCountRange Op = "count_range"
	OpDescribe   Op = "describe"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpTruncate   Op = "truncate"
	OpCommit     Op = "commit"
)

// Fault is consulted before every operation; a non-nil error is returned to
// the caller instead of performing it.
type Fault func(ctx context.Context, op Op, table string) error

var (
	registryMu sync.RWMutex
	databases  = make(map[string]*Database)
)

// Database is a named set of tables shared by every connector opened on it.
type Database struct {
	name string

	mu     sync.RWMutex
	tables map[string]*table
	fault  Fault
}

// NewDatabase creates an empty database and registers it under name,
// replacing any previous database of that name.
func NewDatabase(name string) *Database {
	db := &Database{name: name, tables: make(map[string]*table)}
	registryMu.Lock()
	databases[name] = db
	registryMu.Unlock()
	return db
}

// Lookup returns the registered database called name.
func Lookup(name string) (*Database, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	db, ok := databases[name]
	return db, ok
}

// Drop unregisters name.
func Drop(name string) {
	registryMu.Lock()
	delete(databases, name)
	registryMu.Unlock()
}

// Name returns the database name
func (db *Database) Name() string { return db.name }

// SetFault installs f, or removes fault injection when f is nil.
func (db *Database) SetFault(f Fault) {
	db.mu.Lock()
	db.fault = f
	db.mu.Unlock()
}

func (db *Database) check(ctx context.Context, op Op, name string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransient, fmt.Sprintf("%s %s", op, name))
	}
	db.mu.RLock()
	f := db.fault
	db.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(ctx, op, name)
}

// CreateTable adds an empty table. Families are derived from the type names
// when unset.
func (db *Database) CreateTable(name string, columns []core.Column) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := db.tables[key]; exists {
		return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("table %s already exists", name))
	}
	cols := make([]core.Column, len(columns))
	for i, c := range columns {
		if c.Family == "" {
			c.Family = base.FamilyOf(c.Type)
		}
		cols[i] = c
	}
	db.tables[key] = newTable(name, cols)
	return nil
}

// MustCreateTable is CreateTable that panics on error.
func (db *Database) MustCreateTable(name string, columns []core.Column) {
	if err := db.CreateTable(name, columns); err != nil {
		panic(err)
	}
}

// Insert appends rows in table column order, bypassing fault injection.
func (db *Database) Insert(name string, rows ...core.Row) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t, err := db.lookup(name)
	if err != nil {
		return err
	}
	return t.write(t.columnNames(), rows, core.WriteInsert, nil)
}

// Rows returns a copy of the rows of name in primary key order, insertion
// order when the table has no primary key.
func (db *Database) Rows(name string) ([]core.Row, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	t, err := db.lookup(name)
	if err != nil {
		return nil, err
	}
	return t.sortedRows(), nil
}

// Tables lists table names in lexical order.
func (db *Database) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.tables))
	for _, t := range db.tables {
		names = append(names, t.name)
	}
	sort.Strings(names)
	return names
}

func (db *Database) lookup(name string) (*table, error) {
	_, short := base.SplitTableName(name, "")
	t, ok := db.tables[strings.ToLower(short)]
	if !ok {
		return nil, errors.New(errors.ErrorTypeFatal, fmt.Sprintf("table %s does not exist", name))
	}
	return t, nil
}

// change is one buffered mutation.
type change struct {
	table    string
	truncate bool
	req      core.WriteRequest
}

// apply runs every change under one lock against copies of the affected
// tables and installs the copies only when all succeed.
func (db *Database) apply(changes []change) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	staged := make(map[string]*table)
	for _, ch := range changes {
		t, err := db.lookup(ch.table)
		if err != nil {
			return err
		}
		key := strings.ToLower(t.name)
		clone, ok := staged[key]
		if !ok {
			clone = t.clone()
			staged[key] = clone
		}
		if ch.truncate {
			clone.reset()
			continue
		}
		if err := clone.write(ch.req.Columns, ch.req.Rows, ch.req.Mode, ch.req.KeyColumns); err != nil {
			return err
		}
	}
	for key, t := range staged {
		db.tables[key] = t
	}
	return nil
}
