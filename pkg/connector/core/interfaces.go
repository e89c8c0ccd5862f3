// Package core defines the capability contract every database connector
// implements, together with the data types that flow across it.
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// TypeFamily groups engine-specific column types into comparable families
type TypeFamily string

const (
	FamilyInteger  TypeFamily = "integer"
	FamilyDecimal  TypeFamily = "decimal"
	FamilyFloat    TypeFamily = "float"
	FamilyString   TypeFamily = "string"
	FamilyTemporal TypeFamily = "temporal"
	FamilyBoolean  TypeFamily = "boolean"
	FamilyBinary   TypeFamily = "binary"
	FamilyJSON     TypeFamily = "json"
	FamilyOther    TypeFamily = "other"
)

// Numeric reports whether the family holds numbers.
func (f TypeFamily) Numeric() bool {
	return f == FamilyInteger || f == FamilyDecimal || f == FamilyFloat
}

// Column describes one column as reported by DescribeSchema
type Column struct {
	Name       string
	Type       string // engine-native type name, lower case
	Family     TypeFamily
	Nullable   bool
	PrimaryKey bool
	Identity   bool // auto-increment / IDENTITY / serial
	Length     int64
}

// Row is one tuple, ordered like the columns it was read or written with
type Row []interface{}

// KeyRange is the inclusive [Min, Max] span of an integer key column
type KeyRange struct {
	Min int64
	Max int64
}

// Span returns the number of integers covered by the range.
func (r KeyRange) Span() int64 {
	return r.Max - r.Min + 1
}

// PartitionKind distinguishes key-range partitions from offset windows
type PartitionKind string

const (
	PartitionRange  PartitionKind = "range"
	PartitionOffset PartitionKind = "offset"
)

// Partition identifies the rows belonging to one batch.
//
// A range partition selects KeyColumn in [Lower, Upper). An offset partition
// selects Limit rows starting at Offset in OrderBy order.
type Partition struct {
	Kind    PartitionKind
	Columns []string

	KeyColumn string
	Lower     int64
	Upper     int64

	Offset  int64
	Limit   int64
	OrderBy []string
}

// ID returns the stable identity used as checkpoint key. It depends only on
// the partition bounds, never on the selected columns.
func (p Partition) ID() string {
	if p.Kind == PartitionRange {
		return fmt.Sprintf("range:%s:%d-%d", p.KeyColumn, p.Lower, p.Upper)
	}
	return fmt.Sprintf("offset:%d+%d", p.Offset, p.Limit)
}

// String implements fmt.Stringer
func (p Partition) String() string {
	if p.Kind == PartitionRange {
		return fmt.Sprintf("%s in [%d, %d)", p.KeyColumn, p.Lower, p.Upper)
	}
	return fmt.Sprintf("rows %d..%d", p.Offset, p.Offset+p.Limit-1)
}

// RowIterator is a lazy, finite, non-restartable sequence of rows.
// Callers must Close it.
type RowIterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// WriteMode selects plain inserts or insert-or-update writes
type WriteMode string

const (
	WriteInsert WriteMode = "insert"
	WriteUpsert WriteMode = "upsert"
)

// WriteRequest is one batch write
type WriteRequest struct {
	Table   string
	Columns []string
	Rows    []Row
	Mode    WriteMode
	// KeyColumns identify a row for upserts
	KeyColumns []string
	// IdentityInsert allows explicit values for identity columns (SQL Server)
	IdentityInsert bool
}

// Transaction is an open unit of work on a connector
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connector is the capability contract of one engine family.
//
// Instances are not safe for concurrent use; every worker owns its own.
// Every error returned by ReadBatch, WriteBatch and Truncate is classified as
// errors.ErrorTypeConnection, errors.ErrorTypeTransient or errors.ErrorTypeFatal.
type Connector interface {
	// Name returns the engine identifier
	Name() string

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	GetRowCount(ctx context.Context, table string) (int64, error)
	// GetKeyRange returns nil when the table is empty or the column holds no integers
	GetKeyRange(ctx context.Context, table, column string) (*KeyRange, error)
	// CountRange counts the rows with lower <= column < upper
	CountRange(ctx context.Context, table, column string, lower, upper int64) (int64, error)
	DescribeSchema(ctx context.Context, table string) ([]Column, error)

	ReadBatch(ctx context.Context, table string, partition Partition) (RowIterator, error)
	WriteBatch(ctx context.Context, req WriteRequest) (int64, error)
	Truncate(ctx context.Context, table string) error

	// SupportsTransactions reports whether BeginTransaction can succeed. When
	// a transaction is open, WriteBatch runs inside it.
	SupportsTransactions() bool
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// ErrTransactionsUnsupported is returned by BeginTransaction on connectors
// without transaction support.
var ErrTransactionsUnsupported = errors.New(errors.ErrorTypeCapability, "connector does not support transactions")

// PrimaryKey returns the primary key column names in schema order.
func PrimaryKey(columns []Column) []string {
	var keys []string
	for _, c := range columns {
		if c.PrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// Lookup returns the column with the given name, case-insensitively.
func Lookup(columns []Column, name string) (Column, bool) {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}
