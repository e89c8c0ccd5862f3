package core

// SliceIterator iterates over rows already held in memory.
type SliceIterator struct {
	rows []Row
	pos  int
	cur  Row
}

// NewSliceIterator returns an iterator over rows.
func NewSliceIterator(rows []Row) *SliceIterator {
	return &SliceIterator{rows: rows}
}

// Next implements RowIterator
func (it *SliceIterator) Next() bool {
	if it.pos >= len(it.rows) {
		it.cur = nil
		return false
	}
	it.cur = it.rows[it.pos]
	it.pos++
	return true
}

// Row implements RowIterator
func (it *SliceIterator) Row() Row { return it.cur }

// Err implements RowIterator
func (it *SliceIterator) Err() error { return nil }

// Close implements RowIterator
func (it *SliceIterator) Close() error {
	it.rows = nil
	return nil
}

// Collect drains it into a slice and closes it. The sizeHint preallocates.
func Collect(it RowIterator, sizeHint int) ([]Row, error) {
	defer it.Close()

	if sizeHint < 0 {
		sizeHint = 0
	}
	rows := make([]Row, 0, sizeHint)
	for it.Next() {
		rows = append(rows, it.Row())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
