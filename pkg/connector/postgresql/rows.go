package postgresql

import (
	"database/sql/driver"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
)

type rowIterator struct {
	rows  pgx.Rows
	conn  *Connector
	row   core.Row
	err   error
	count int64
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	values, err := it.rows.Values()
	if err != nil {
		it.err = it.conn.Classify(err, "failed to decode row")
		return false
	}

	fields := it.rows.FieldDescriptions()
	for i, v := range values {
		if values[i], err = portable(fields[i].DataTypeOID, v); err != nil {
			it.err = it.conn.Classify(err, "failed to convert column "+fields[i].Name)
			return false
		}
	}
	it.row = values
	it.count++
	return true
}

func (it *rowIterator) Row() core.Row { return it.row }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return it.conn.Classify(err, "error iterating rows")
	}
	return nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	it.conn.RecordRead(it.count)
	it.count = 0
	return nil
}

// portable converts pgx-decoded values into types every engine's driver
// accepts as bind parameters.
func portable(oid uint32, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch oid {
	case pgtype.UUIDOID:
		if b, ok := v.([16]byte); ok {
			return uuid.UUID(b).String(), nil
		}
	case pgtype.JSONOID, pgtype.JSONBOID:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}
	return v, nil
}
