package mysql

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/tablesync/pkg/connector/base"
)

// Dialect renders MySQL and MariaDB SQL.
type Dialect struct{}

var _ base.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }

// QuoteIdent wraps name in backticks.
func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(int) string { return "?" }

// DefaultSchema is empty: the database selected in the DSN is the schema.
func (Dialect) DefaultSchema() string { return "" }

func (Dialect) MaxParams() int { return 65535 }

func (Dialect) MaxRowsPerStatement() int { return 1000 }

func (Dialect) CountExpr() string { return "COUNT(*)" }

func (Dialect) Paginate(bind base.Binder, offset, limit int64) string {
	return "LIMIT " + bind(limit) + " OFFSET " + bind(offset)
}

func (Dialect) OrderFallback() string { return "" }

// Upsert renders INSERT ... ON DUPLICATE KEY UPDATE. MySQL resolves the
// conflict on any unique key, so keys only decide which columns are updated.
func (d Dialect) Upsert(table string, columns, keys []string, values string) string {
	updates := base.NonKeyColumns(columns, keys)
	if len(updates) == 0 {
		updates = keys[:1]
	}
	set := make([]string, len(updates))
	for i, c := range updates {
		q := d.QuoteIdent(c)
		set[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(base.QuoteAll(d, columns), ", "), values, strings.Join(set, ", "))
}

func (Dialect) WrapWrite(_ string, stmt string, _ bool) string { return stmt }

func (Dialect) DescribeQuery(bind base.Binder, schema, table string) string {
	where := "c.TABLE_SCHEMA = DATABASE()"
	if schema != "" {
		where = "c.TABLE_SCHEMA = " + bind(schema)
	}
	return `SELECT c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE,
		CASE WHEN c.COLUMN_KEY = 'PRI' THEN 1 ELSE 0 END,
		CASE WHEN c.EXTRA LIKE '%auto_increment%' THEN 1 ELSE 0 END,
		c.CHARACTER_MAXIMUM_LENGTH
	FROM information_schema.COLUMNS c
	WHERE ` + where + ` AND c.TABLE_NAME = ` + bind(table) + `
	ORDER BY c.ORDINAL_POSITION`
}
