package base

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
)

// Binder appends v to a statement's argument list and returns its placeholder.
type Binder func(v interface{}) string

// Dialect captures the SQL differences between engine families.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	Placeholder(n int) string
	DefaultSchema() string

	// MaxParams is the bind-parameter limit of one statement
	MaxParams() int
	// MaxRowsPerStatement caps the VALUES rows of one statement
	MaxRowsPerStatement() int

	CountExpr() string
	// Paginate renders the offset/limit clause that follows ORDER BY
	Paginate(bind Binder, offset, limit int64) string
	// OrderFallback is used when an offset query has no ordering columns;
	// empty means ORDER BY can be omitted
	OrderFallback() string

	// Upsert renders an insert-or-update statement for the given VALUES list
	Upsert(table string, columns, keys []string, values string) string
	// WrapWrite decorates a write statement, e.g. for identity inserts
	WrapWrite(table, stmt string, identityInsert bool) string
	// DescribeQuery selects (name, type, is_nullable, is_primary, is_identity,
	// max_length) ordered by position
	DescribeQuery(bind Binder, schema, table string) string
}

// Statement is a rendered SQL statement with its arguments.
type Statement struct {
	SQL  string
	Args []interface{}
}

type argList struct {
	d    Dialect
	args []interface{}
}

func (a *argList) bind(v interface{}) string {
	a.args = append(a.args, v)
	return a.d.Placeholder(len(a.args))
}

// Render builds a statement whose arguments are bound through fn.
func Render(d Dialect, fn func(bind Binder) string) Statement {
	a := &argList{d: d}
	sql := fn(a.bind)
	return Statement{SQL: sql, Args: a.args}
}

// DescribeStatement renders the schema query for table, resolving its schema
// against defaultSchema.
func DescribeStatement(d Dialect, table, defaultSchema string) Statement {
	schema, name := SplitTableName(table, defaultSchema)
	return Render(d, func(bind Binder) string { return d.DescribeQuery(bind, schema, name) })
}

// SplitTableName splits "schema.table" and applies the default schema.
func SplitTableName(name, defaultSchema string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return defaultSchema, name
}

// QualifiedName renders a quoted, schema-qualified table name.
func QualifiedName(d Dialect, name, defaultSchema string) string {
	schema, table := SplitTableName(name, defaultSchema)
	if schema == "" {
		return d.QuoteIdent(table)
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(table)
}

// QuoteAll quotes every identifier.
func QuoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdent(n)
	}
	return out
}

// CountQuery renders SELECT COUNT(*).
func CountQuery(d Dialect, table string) string {
	return fmt.Sprintf("SELECT %s FROM %s", d.CountExpr(), table)
}

// KeyRangeQuery renders SELECT MIN(k), MAX(k).
func KeyRangeQuery(d Dialect, table, column string) string {
	k := d.QuoteIdent(column)
	return fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s", k, k, table)
}

// CountRangeStatement renders the count of rows in the half-open key range
// [lower, upper).
func CountRangeStatement(d Dialect, table, column string, lower, upper int64) Statement {
	return Render(d, func(bind Binder) string {
		k := d.QuoteIdent(column)
		return fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s AND %s < %s", d.CountExpr(), table, k, bind(lower), k, bind(upper))
	})
}

// TruncateQuery renders TRUNCATE TABLE.
func TruncateQuery(table string) string {
	return "TRUNCATE TABLE " + table
}

// SelectPartition renders the read of one partition. table must already be
// qualified and quoted.
func SelectPartition(d Dialect, table string, p core.Partition) Statement {
	a := &argList{d: d}
	cols := strings.Join(QuoteAll(d, p.Columns), ", ")

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, table)

	switch p.Kind {
	case core.PartitionRange:
		k := d.QuoteIdent(p.KeyColumn)
		fmt.Fprintf(&b, " WHERE %s >= %s AND %s < %s", k, a.bind(p.Lower), k, a.bind(p.Upper))
	default:
		order := strings.Join(QuoteAll(d, p.OrderBy), ", ")
		if order == "" {
			order = d.OrderFallback()
		}
		if order != "" {
			b.WriteString(" ORDER BY " + order)
		}
		b.WriteString(" " + d.Paginate(a.bind, p.Offset, p.Limit))
	}

	return Statement{SQL: b.String(), Args: a.args}
}

// RowsPerStatement returns how many rows of width columns fit one statement.
func RowsPerStatement(d Dialect, columns int) int {
	if columns <= 0 {
		return 1
	}
	n := d.MaxParams() / columns
	if m := d.MaxRowsPerStatement(); m > 0 && n > m {
		n = m
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WriteStatements renders req as one or more multi-row INSERT or upsert
// statements, chunked to the dialect's parameter limit. table must already be
// qualified and quoted.
func WriteStatements(d Dialect, table string, req core.WriteRequest) []Statement {
	if len(req.Rows) == 0 {
		return nil
	}

	per := RowsPerStatement(d, len(req.Columns))
	stmts := make([]Statement, 0, (len(req.Rows)+per-1)/per)
	cols := strings.Join(QuoteAll(d, req.Columns), ", ")

	for start := 0; start < len(req.Rows); start += per {
		end := start + per
		if end > len(req.Rows) {
			end = len(req.Rows)
		}

		a := &argList{d: d, args: make([]interface{}, 0, (end-start)*len(req.Columns))}
		tuples := make([]string, 0, end-start)
		for _, row := range req.Rows[start:end] {
			ph := make([]string, len(row))
			for i, v := range row {
				ph[i] = a.bind(v)
			}
			tuples = append(tuples, "("+strings.Join(ph, ", ")+")")
		}
		values := strings.Join(tuples, ", ")

		var sql string
		if req.Mode == core.WriteUpsert && len(req.KeyColumns) > 0 {
			sql = d.Upsert(table, req.Columns, req.KeyColumns, values)
		} else {
			sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, cols, values)
		}
		sql = d.WrapWrite(table, sql, req.IdentityInsert)

		stmts = append(stmts, Statement{SQL: sql, Args: a.args})
	}
	return stmts
}

// NonKeyColumns returns columns that are not part of keys.
func NonKeyColumns(columns, keys []string) []string {
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[strings.ToLower(k)] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !isKey[strings.ToLower(c)] {
			out = append(out, c)
		}
	}
	return out
}

// FamilyOf maps an engine-native type name to its family.
func FamilyOf(dataType string) core.TypeFamily {
	t := strings.ToLower(strings.TrimSpace(dataType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSuffix(t, " unsigned")

	switch t {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"int2", "int4", "int8", "serial", "bigserial", "smallserial":
		return core.FamilyInteger
	case "decimal", "numeric", "money", "smallmoney":
		return core.FamilyDecimal
	case "float", "double", "real", "double precision", "float4", "float8":
		return core.FamilyFloat
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext", "tinytext",
		"mediumtext", "longtext", "character", "character varying", "bpchar",
		"enum", "set", "uuid", "uniqueidentifier", "citext", "xml", "name":
		return core.FamilyString
	case "date", "time", "datetime", "datetime2", "smalldatetime", "datetimeoffset",
		"timestamp", "timestamp without time zone", "timestamp with time zone",
		"timestamptz", "time without time zone", "time with time zone", "timetz",
		"year", "interval":
		return core.FamilyTemporal
	case "boolean", "bool", "bit":
		return core.FamilyBoolean
	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob",
		"bytea", "image", "rowversion":
		return core.FamilyBinary
	case "json", "jsonb":
		return core.FamilyJSON
	default:
		return core.FamilyOther
	}
}
