package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/memory"
	"github.com/ajitpratap0/tablesync/pkg/testutil"
)

// assertCovers checks that parts tile [lo, hi] without gaps or overlaps.
func assertCovers(t *testing.T, parts []core.Partition, lo, hi int64) {
	t.Helper()
	require.NotEmpty(t, parts)
	assert.Equal(t, lo, parts[0].Lower)
	for i := 1; i < len(parts); i++ {
		assert.Equal(t, parts[i-1].Upper, parts[i].Lower, "partition %d", i)
		assert.Less(t, parts[i].Lower, parts[i].Upper)
	}
	assert.Equal(t, hi+1, parts[len(parts)-1].Upper)
}

func TestKeyRangePartitions(t *testing.T) {
	tests := []struct {
		name      string
		rows      int64
		kr        core.KeyRange
		batch     int64
		wantParts int
	}{
		{name: "dense", rows: 250000, kr: core.KeyRange{Min: 1, Max: 250000}, batch: 10000, wantParts: 25},
		{name: "uneven tail", rows: 105, kr: core.KeyRange{Min: 1, Max: 105}, batch: 10, wantParts: 11},
		{name: "sparse keys", rows: 100, kr: core.KeyRange{Min: 1, Max: 1000000}, batch: 10, wantParts: 10},
		{name: "single row", rows: 1, kr: core.KeyRange{Min: 42, Max: 42}, batch: 1000, wantParts: 1},
		{name: "batch larger than table", rows: 50, kr: core.KeyRange{Min: 1, Max: 50}, batch: 1000, wantParts: 1},
		{name: "negative keys", rows: 21, kr: core.KeyRange{Min: -10, Max: 10}, batch: 5, wantParts: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kr := tt.kr
			parts := KeyRangePartitions(tt.rows, &kr, PlanRequest{KeyColumn: "id", BatchSize: tt.batch})
			assert.Len(t, parts, tt.wantParts)
			assertCovers(t, parts, tt.kr.Min, tt.kr.Max)

			ids := make(map[string]bool, len(parts))
			for _, p := range parts {
				assert.Equal(t, core.PartitionRange, p.Kind)
				assert.Equal(t, "id", p.KeyColumn)
				ids[p.ID()] = true
			}
			assert.Len(t, ids, len(parts), "partition ids must be unique")
		})
	}
}

func TestKeyRangePartitionsEmpty(t *testing.T) {
	assert.Nil(t, KeyRangePartitions(0, nil, PlanRequest{BatchSize: 10}))
	assert.Nil(t, KeyRangePartitions(0, &core.KeyRange{Min: 1, Max: 1}, PlanRequest{BatchSize: 10}))
}

func TestKeyRangePartitionsLowerBound(t *testing.T) {
	kr := core.KeyRange{Min: 1, Max: 100}

	t.Run("inside range", func(t *testing.T) {
		lower := int64(51)
		parts := KeyRangePartitions(100, &kr, PlanRequest{KeyColumn: "id", BatchSize: 10, LowerBound: &lower})
		assert.Len(t, parts, 5)
		assertCovers(t, parts, 51, 100)
	})

	t.Run("below range", func(t *testing.T) {
		lower := int64(-5)
		parts := KeyRangePartitions(100, &kr, PlanRequest{KeyColumn: "id", BatchSize: 10, LowerBound: &lower})
		assertCovers(t, parts, 1, 100)
	})

	t.Run("past range", func(t *testing.T) {
		lower := int64(101)
		assert.Empty(t, KeyRangePartitions(100, &kr, PlanRequest{KeyColumn: "id", BatchSize: 10, LowerBound: &lower}))
	})
}

func TestOffsetPartitions(t *testing.T) {
	parts := OffsetPartitions(25, PlanRequest{BatchSize: 10, OrderBy: []string{"id"}})
	require.Len(t, parts, 3)

	var covered int64
	for i, p := range parts {
		assert.Equal(t, core.PartitionOffset, p.Kind)
		assert.Equal(t, int64(i*10), p.Offset)
		assert.Equal(t, int64(10), p.Limit)
		assert.Equal(t, []string{"id"}, p.OrderBy)
		covered += min(p.Limit, 25-p.Offset)
	}
	assert.Equal(t, int64(25), covered)
	assert.Empty(t, OffsetPartitions(0, PlanRequest{BatchSize: 10}))
}

func TestPlannerPlan(t *testing.T) {
	db := testutil.MemoryDatabase(t, "planner")
	testutil.SeedCustomers(t, db, "customers", 95)
	require.NoError(t, db.CreateTable("events", []core.Column{
		{Name: "code", Type: "varchar"},
		{Name: "payload", Type: "text", Nullable: true},
	}))
	require.NoError(t, db.Insert("events", core.Row{"a", "x"}, core.Row{"b", "y"}, core.Row{"c", "z"}))
	require.NoError(t, db.CreateTable("empty", testutil.CustomerColumns()))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	conn, err := memory.New(testutil.MemoryConfig(db))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	planner := NewPlanner(conn, zap.NewNop())

	t.Run("key range", func(t *testing.T) {
		parts, err := planner.Plan(ctx, PlanRequest{Table: "customers", KeyColumn: "id", BatchSize: 10})
		require.NoError(t, err)
		assert.Len(t, parts, 10)
		assertCovers(t, parts, 1, 95)
	})

	t.Run("offset without key", func(t *testing.T) {
		parts, err := planner.Plan(ctx, PlanRequest{Table: "events", BatchSize: 2})
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, core.PartitionOffset, parts[0].Kind)
	})

	t.Run("non integer key falls back to offsets", func(t *testing.T) {
		parts, err := planner.Plan(ctx, PlanRequest{Table: "events", KeyColumn: "code", BatchSize: 2})
		require.NoError(t, err)
		require.Len(t, parts, 2)
		assert.Equal(t, core.PartitionOffset, parts[1].Kind)
	})

	t.Run("empty table", func(t *testing.T) {
		parts, err := planner.Plan(ctx, PlanRequest{Table: "empty", KeyColumn: "id", BatchSize: 10})
		require.NoError(t, err)
		assert.Empty(t, parts)
	})

	t.Run("missing table", func(t *testing.T) {
		_, err := planner.Plan(ctx, PlanRequest{Table: "missing", KeyColumn: "id", BatchSize: 10})
		assert.Error(t, err)
	})

	t.Run("invalid batch size", func(t *testing.T) {
		_, err := planner.Plan(ctx, PlanRequest{Table: "customers", BatchSize: 0})
		assert.Error(t, err)
	})
}

func TestPartitionable(t *testing.T) {
	tests := []struct {
		name string
		kr   core.KeyRange
		want bool
	}{
		{name: "small", kr: core.KeyRange{Min: 1, Max: 100}, want: true},
		{name: "negative", kr: core.KeyRange{Min: -50, Max: -1}, want: true},
		{name: "max key", kr: core.KeyRange{Min: 1, Max: math.MaxInt64}, want: false},
		{name: "span overflows", kr: core.KeyRange{Min: math.MinInt64, Max: 0}, want: false},
		{name: "near limit", kr: core.KeyRange{Min: 0, Max: math.MaxInt64 - 1}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Partitionable(tt.kr))
		})
	}
}

func TestKeyRangePartitionsNearLimit(t *testing.T) {
	kr := core.KeyRange{Min: math.MaxInt64 - 25, Max: math.MaxInt64 - 1}
	parts := KeyRangePartitions(25, &kr, PlanRequest{KeyColumn: "id", BatchSize: 10})
	assert.Len(t, parts, 3)
	assertCovers(t, parts, kr.Min, kr.Max)
}

func TestPlannerBalancesSkewedKeys(t *testing.T) {
	db := testutil.MemoryDatabase(t, "skewed")
	testutil.SeedCustomers(t, db, "customers", 10000)
	require.NoError(t, db.Insert("customers", testutil.CustomerRow(1000000000)))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	conn, err := memory.New(testutil.MemoryConfig(db))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))

	const batch = 100
	parts, err := NewPlanner(conn, zap.NewNop()).Plan(ctx, PlanRequest{Table: "customers", KeyColumn: "id", BatchSize: batch})
	require.NoError(t, err)
	assertCovers(t, parts, 1, 1000000000)

	var total int64
	for i, p := range parts {
		n, err := conn.CountRange(ctx, "customers", "id", p.Lower, p.Upper)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, int64(batch), "partition %d (%s)", i, p)
		total += n
	}
	assert.Equal(t, int64(10001), total)
	assert.GreaterOrEqual(t, len(parts), 101)
	assert.LessOrEqual(t, len(parts), 110, "empty ranges are merged into their neighbours")

	again, err := NewPlanner(conn, zap.NewNop()).Plan(ctx, PlanRequest{Table: "customers", KeyColumn: "id", BatchSize: batch})
	require.NoError(t, err)
	assert.Equal(t, parts, again, "plans are deterministic")
}

func TestPlannerFallsBackAtMaxKey(t *testing.T) {
	db := testutil.MemoryDatabase(t, "maxkey")
	require.NoError(t, db.CreateTable("customers", testutil.CustomerColumns()))
	require.NoError(t, db.Insert("customers",
		testutil.CustomerRow(1), testutil.CustomerRow(2), testutil.CustomerRow(math.MaxInt64)))

	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	conn, err := memory.New(testutil.MemoryConfig(db))
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))

	parts, err := NewPlanner(conn, zap.NewNop()).Plan(ctx, PlanRequest{
		Table: "customers", KeyColumn: "id", OrderBy: []string{"id"}, BatchSize: 2,
	})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.Equal(t, core.PartitionOffset, p.Kind)
	}
}
