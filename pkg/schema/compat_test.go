package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func col(name string, family core.TypeFamily) core.Column {
	return core.Column{Name: name, Type: string(family), Family: family, Nullable: true}
}

func pk(c core.Column) core.Column {
	c.PrimaryKey = true
	c.Nullable = false
	return c
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		from, to core.TypeFamily
		want     bool
	}{
		{core.FamilyInteger, core.FamilyInteger, true},
		{core.FamilyInteger, core.FamilyDecimal, true},
		{core.FamilyFloat, core.FamilyInteger, true},
		{core.FamilyInteger, core.FamilyBoolean, true},
		{core.FamilyTemporal, core.FamilyString, true},
		{core.FamilyJSON, core.FamilyString, true},
		{core.FamilyString, core.FamilyInteger, false},
		{core.FamilyBinary, core.FamilyString, false},
		{core.FamilyTemporal, core.FamilyInteger, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, Compatible(tt.from, tt.to))
		})
	}
}

func TestResolve(t *testing.T) {
	source := []core.Column{
		pk(col("id", core.FamilyInteger)),
		col("name", core.FamilyString),
		col("created", core.FamilyTemporal),
	}
	target := []core.Column{
		pk(col("ID", core.FamilyInteger)),
		col("full_name", core.FamilyString),
		col("created", core.FamilyTemporal),
		col("extra", core.FamilyString),
	}
	mapping := config.TableMapping{
		Source: "users",
		Target: "people",
		Fields: []config.FieldMapping{{Source: "name", Target: "full_name"}},
	}

	plan, err := Resolve(mapping, source, target, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "created"}, plan.SourceColumns())
	assert.Equal(t, []string{"ID", "full_name", "created"}, plan.TargetColumns())
	assert.Equal(t, []string{"id"}, plan.SourceKey)
	assert.Equal(t, []string{"ID"}, plan.TargetKey)
	assert.False(t, plan.IdentityInsert)
	assert.Empty(t, plan.Warnings)

	key, ok := plan.PartitionKey("")
	assert.True(t, ok)
	assert.Equal(t, "id", key)

	tk, ok := plan.TargetKeyFor("id")
	assert.True(t, ok)
	assert.Equal(t, "ID", tk)
}

func TestResolveMissingTargetColumn(t *testing.T) {
	source := []core.Column{pk(col("id", core.FamilyInteger)), col("note", core.FamilyString)}
	target := []core.Column{pk(col("id", core.FamilyInteger))}

	_, err := Resolve(config.TableMapping{Source: "t"}, source, target, false)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "column note not found in target table t")
}

func TestResolveUnknownMappedSourceColumn(t *testing.T) {
	source := []core.Column{pk(col("id", core.FamilyInteger))}
	mapping := config.TableMapping{Source: "t", Fields: []config.FieldMapping{{Source: "ghost", Target: "id"}}}

	_, err := Resolve(mapping, source, source, false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFatal))
}

func TestResolveIncompatibleTypes(t *testing.T) {
	source := []core.Column{pk(col("id", core.FamilyInteger)), col("payload", core.FamilyBinary)}
	target := []core.Column{pk(col("id", core.FamilyInteger)), col("payload", core.FamilyString)}

	t.Run("lenient", func(t *testing.T) {
		plan, err := Resolve(config.TableMapping{Source: "t"}, source, target, false)
		require.NoError(t, err)
		require.Len(t, plan.Warnings, 1)
		assert.Contains(t, plan.Warnings[0], "incompatible types")
	})

	t.Run("strict", func(t *testing.T) {
		_, err := Resolve(config.TableMapping{Source: "t"}, source, target, true)
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})
}

func TestResolveKeys(t *testing.T) {
	t.Run("identity target", func(t *testing.T) {
		target := pk(col("id", core.FamilyInteger))
		target.Identity = true
		plan, err := Resolve(config.TableMapping{Source: "t"},
			[]core.Column{pk(col("id", core.FamilyInteger))}, []core.Column{target}, false)
		require.NoError(t, err)
		assert.True(t, plan.IdentityInsert)
	})

	t.Run("unmapped target key", func(t *testing.T) {
		source := []core.Column{col("name", core.FamilyString)}
		target := []core.Column{pk(col("id", core.FamilyInteger)), col("name", core.FamilyString)}
		plan, err := Resolve(config.TableMapping{Source: "t"}, source, target, false)
		require.NoError(t, err)
		assert.Empty(t, plan.TargetKey)

		_, ok := plan.PartitionKey("")
		assert.False(t, ok)
	})

	t.Run("composite key is not a partition key", func(t *testing.T) {
		cols := []core.Column{pk(col("a", core.FamilyInteger)), pk(col("b", core.FamilyInteger))}
		plan, err := Resolve(config.TableMapping{Source: "t"}, cols, cols, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, plan.TargetKey)

		_, ok := plan.PartitionKey("")
		assert.False(t, ok)

		key, ok := plan.PartitionKey("B")
		assert.True(t, ok)
		assert.Equal(t, "b", key)
	})

	t.Run("string key reads by offset", func(t *testing.T) {
		cols := []core.Column{pk(col("code", core.FamilyString))}
		plan, err := Resolve(config.TableMapping{Source: "t"}, cols, cols, false)
		require.NoError(t, err)
		_, ok := plan.PartitionKey("")
		assert.False(t, ok)
	})
}
