package sqlserver

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/connector/base"
)

// Dialect renders T-SQL.
type Dialect struct{}

var _ base.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlserver" }

func (Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

func (Dialect) DefaultSchema() string { return "dbo" }

// MaxParams stays below the 2100 parameter limit of an RPC call.
func (Dialect) MaxParams() int { return 2000 }

// MaxRowsPerStatement is the row limit of a table value constructor.
func (Dialect) MaxRowsPerStatement() int { return 1000 }

func (Dialect) CountExpr() string { return "COUNT_BIG(*)" }

func (Dialect) Paginate(bind base.Binder, offset, limit int64) string {
	return "OFFSET " + bind(offset) + " ROWS FETCH NEXT " + bind(limit) + " ROWS ONLY"
}

// OrderFallback satisfies OFFSET/FETCH, which requires an ORDER BY.
func (Dialect) OrderFallback() string { return "(SELECT NULL)" }

// Upsert renders a MERGE of the VALUES list into table.
func (d Dialect) Upsert(table string, columns, keys []string, values string) string {
	cols := strings.Join(base.QuoteAll(d, columns), ", ")

	on := make([]string, len(keys))
	for i, k := range keys {
		q := d.QuoteIdent(k)
		on[i] = fmt.Sprintf("tgt.%s = src.%s", q, q)
	}
	srcCols := make([]string, len(columns))
	for i, c := range columns {
		srcCols[i] = "src." + d.QuoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS tgt USING (VALUES %s) AS src (%s) ON %s",
		table, values, cols, strings.Join(on, " AND "))

	if updates := base.NonKeyColumns(columns, keys); len(updates) > 0 {
		set := make([]string, len(updates))
		for i, c := range updates {
			q := d.QuoteIdent(c)
			set[i] = fmt.Sprintf("tgt.%s = src.%s", q, q)
		}
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);", cols, strings.Join(srcCols, ", "))
	return b.String()
}

// WrapWrite brackets stmt with IDENTITY_INSERT so explicit identity values
// are accepted. Both SET statements run in the same batch as stmt.
func (Dialect) WrapWrite(table, stmt string, identityInsert bool) string {
	if !identityInsert {
		return stmt
	}
	return fmt.Sprintf("SET IDENTITY_INSERT %s ON; %s; SET IDENTITY_INSERT %s OFF;",
		table, strings.TrimSuffix(stmt, ";"), table)
}

func (Dialect) DescribeQuery(bind base.Binder, schema, table string) string {
	s, t := bind(schema), bind(table)
	return `SELECT c.name, ty.name,
		CASE WHEN c.is_nullable = 1 THEN 'YES' ELSE 'NO' END,
		CASE WHEN EXISTS (
			SELECT 1 FROM sys.index_columns ic
			JOIN sys.indexes i ON i.object_id = ic.object_id AND i.index_id = ic.index_id
			WHERE i.is_primary_key = 1 AND ic.object_id = c.object_id AND ic.column_id = c.column_id
		) THEN 1 ELSE 0 END,
		CAST(c.is_identity AS int),
		CAST(c.max_length AS bigint)
	FROM sys.columns c
	JOIN sys.types ty ON ty.user_type_id = c.user_type_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(` + s + `) + '.' + QUOTENAME(` + t + `))
	ORDER BY c.column_id`
}
