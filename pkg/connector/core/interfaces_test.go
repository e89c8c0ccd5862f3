package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionID(t *testing.T) {
	r := Partition{Kind: PartitionRange, KeyColumn: "id", Lower: 1, Upper: 10001, Columns: []string{"id", "name"}}
	same := Partition{Kind: PartitionRange, KeyColumn: "id", Lower: 1, Upper: 10001}
	o := Partition{Kind: PartitionOffset, Offset: 2000, Limit: 1000}

	assert.Equal(t, "range:id:1-10001", r.ID())
	assert.Equal(t, r.ID(), same.ID(), "identity ignores the selected columns")
	assert.Equal(t, "offset:2000+1000", o.ID())
	assert.Equal(t, "id in [1, 10001)", r.String())
	assert.Equal(t, "rows 2000..2999", o.String())
}

func TestKeyRangeSpan(t *testing.T) {
	assert.Equal(t, int64(250000), KeyRange{Min: 1, Max: 250000}.Span())
	assert.Equal(t, int64(1), KeyRange{Min: 7, Max: 7}.Span())
}

func TestPrimaryKeyAndLookup(t *testing.T) {
	cols := []Column{
		{Name: "tenant", PrimaryKey: true},
		{Name: "ID", PrimaryKey: true, Family: FamilyInteger},
		{Name: "name"},
	}
	assert.Equal(t, []string{"tenant", "ID"}, PrimaryKey(cols))

	c, ok := Lookup(cols, "id")
	require.True(t, ok)
	assert.Equal(t, FamilyInteger, c.Family)

	_, ok = Lookup(cols, "missing")
	assert.False(t, ok)
}

func TestCollect(t *testing.T) {
	it := NewSliceIterator([]Row{{1, "a"}, {2, "b"}})
	rows, err := Collect(it, 2)
	require.NoError(t, err)
	assert.Equal(t, []Row{{1, "a"}, {2, "b"}}, rows)
	assert.False(t, it.Next(), "iterator is not restartable")
}

func TestTypeFamilyNumeric(t *testing.T) {
	assert.True(t, FamilyInteger.Numeric())
	assert.True(t, FamilyDecimal.Numeric())
	assert.True(t, FamilyFloat.Numeric())
	assert.False(t, FamilyString.Numeric())
}
