package memory

import (
	"cmp"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

type table struct {
	name    string
	columns []core.Column
	pk      []int // positions of primary key columns
	rows    []core.Row
	index   map[string]int // primary key -> position in rows
}

func newTable(name string, columns []core.Column) *table {
	t := &table{name: name, columns: columns, index: make(map[string]int)}
	for i, c := range columns {
		if c.PrimaryKey {
			t.pk = append(t.pk, i)
		}
	}
	return t
}

func (t *table) clone() *table {
	c := &table{
		name:    t.name,
		columns: t.columns,
		pk:      t.pk,
		rows:    make([]core.Row, len(t.rows)),
		index:   make(map[string]int, len(t.index)),
	}
	copy(c.rows, t.rows)
	for k, v := range t.index {
		c.index[k] = v
	}
	return c
}

func (t *table) reset() {
	t.rows = nil
	t.index = make(map[string]int)
}

func (t *table) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

func (t *table) position(name string) (int, error) {
	for i, c := range t.columns {
		if strings.EqualFold(c.Name, name) {
			return i, nil
		}
	}
	return -1, errors.New(errors.ErrorTypeFatal, fmt.Sprintf("column %s does not exist in %s", name, t.name))
}

func (t *table) positions(names []string) ([]int, error) {
	pos := make([]int, len(names))
	for i, n := range names {
		p, err := t.position(n)
		if err != nil {
			return nil, err
		}
		pos[i] = p
	}
	return pos, nil
}

func rowKey(row core.Row, positions []int) string {
	var b strings.Builder
	for i, p := range positions {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(keyPart(row[p]))
	}
	return b.String()
}

// write stores rows given in columns order. Upserts match on keys, falling
// back to the primary key.
func (t *table) write(columns []string, rows []core.Row, mode core.WriteMode, keys []string) error {
	pos, err := t.positions(columns)
	if err != nil {
		return err
	}

	match := t.pk
	if len(keys) > 0 {
		if match, err = t.positions(keys); err != nil {
			return err
		}
	}
	// Upserts on non-primary keys need a scan; the index covers the primary key only.
	indexed := equalInts(match, t.pk)

	for _, in := range rows {
		if len(in) != len(pos) {
			return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("row has %d values for %d columns", len(in), len(pos)))
		}
		row := make(core.Row, len(t.columns))
		for i, p := range pos {
			row[p] = in[i]
		}
		for i, c := range t.columns {
			if row[i] == nil && !c.Nullable && !c.Identity {
				return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("null value in column %s of %s violates not-null constraint", c.Name, t.name))
			}
		}

		existing := -1
		if len(match) > 0 {
			if indexed {
				if at, ok := t.index[rowKey(row, match)]; ok {
					existing = at
				}
			} else {
				key := rowKey(row, match)
				for i, r := range t.rows {
					if rowKey(r, match) == key {
						existing = i
						break
					}
				}
			}
		}

		switch {
		case existing >= 0 && mode == core.WriteUpsert:
			if len(t.pk) > 0 {
				delete(t.index, rowKey(t.rows[existing], t.pk))
				t.index[rowKey(row, t.pk)] = existing
			}
			t.rows[existing] = row
		case existing >= 0 && indexed:
			return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("duplicate key value violates primary key of %s", t.name))
		default:
			if len(t.pk) > 0 {
				k := rowKey(row, t.pk)
				if _, dup := t.index[k]; dup {
					return errors.New(errors.ErrorTypeFatal, fmt.Sprintf("duplicate key value violates primary key of %s", t.name))
				}
				t.index[k] = len(t.rows)
			}
			t.rows = append(t.rows, row)
		}
	}
	return nil
}

func (t *table) sortedRows() []core.Row {
	out := make([]core.Row, len(t.rows))
	copy(out, t.rows)
	if len(t.pk) > 0 {
		sortRows(out, t.pk)
	}
	return out
}

func sortRows(rows []core.Row, by []int) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, p := range by {
			if c := compareValues(rows[i][p], rows[j][p]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func project(row core.Row, pos []int) core.Row {
	out := make(core.Row, len(pos))
	for i, p := range pos {
		out[i] = row[p]
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// toInt64 converts integer-like values; ok is false for anything else.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func keyPart(v interface{}) string {
	if n, ok := toInt64(v); ok {
		return fmt.Sprintf("i%d", n)
	}
	if v == nil {
		return "\x01null"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

// compareValues orders nil first, then numbers, strings and times naturally.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if x, ok := toInt64(a); ok {
		if y, ok := toInt64(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v interface{}) (float64, bool) {
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	return 0, false
}
