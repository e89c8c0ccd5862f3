package postgresql

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/connector/base"
)

// Dialect renders PostgreSQL SQL.
type Dialect struct{}

var _ base.Dialect = Dialect{}

func (Dialect) Name() string { return "postgresql" }

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) DefaultSchema() string { return "public" }

func (Dialect) MaxParams() int { return 65535 }

func (Dialect) MaxRowsPerStatement() int { return 1000 }

func (Dialect) CountExpr() string { return "COUNT(*)" }

func (Dialect) Paginate(bind base.Binder, offset, limit int64) string {
	return "OFFSET " + bind(offset) + " LIMIT " + bind(limit)
}

func (Dialect) OrderFallback() string { return "" }

// Upsert renders INSERT ... ON CONFLICT (keys) DO UPDATE.
func (d Dialect) Upsert(table string, columns, keys []string, values string) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s)",
		table, strings.Join(base.QuoteAll(d, columns), ", "), values, strings.Join(base.QuoteAll(d, keys), ", "))

	updates := base.NonKeyColumns(columns, keys)
	if len(updates) == 0 {
		return insert + " DO NOTHING"
	}
	set := make([]string, len(updates))
	for i, c := range updates {
		q := d.QuoteIdent(c)
		set[i] = q + " = EXCLUDED." + q
	}
	return insert + " DO UPDATE SET " + strings.Join(set, ", ")
}

func (Dialect) WrapWrite(_ string, stmt string, _ bool) string { return stmt }

func (Dialect) DescribeQuery(bind base.Binder, schema, table string) string {
	s, t := bind(schema), bind(table)
	return `SELECT c.column_name::text, c.data_type::text, c.is_nullable::text,
		CASE WHEN EXISTS (
			SELECT 1 FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage k
				ON k.constraint_name = tc.constraint_name
				AND k.table_schema = tc.table_schema
				AND k.table_name = tc.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
				AND tc.table_schema = c.table_schema
				AND tc.table_name = c.table_name
				AND k.column_name = c.column_name
		) THEN 1 ELSE 0 END::bigint,
		CASE WHEN c.is_identity = 'YES' OR c.column_default LIKE 'nextval(%' THEN 1 ELSE 0 END::bigint,
		c.character_maximum_length::bigint
	FROM information_schema.columns c
	WHERE c.table_schema = ` + s + ` AND c.table_name = ` + t + `
	ORDER BY c.ordinal_position`
}
