package sqlserver

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func TestMerge(t *testing.T) {
	req := core.WriteRequest{
		Table:      "Customers",
		Columns:    []string{"Id", "Name"},
		Rows:       []core.Row{{1, "a"}},
		Mode:       core.WriteUpsert,
		KeyColumns: []string{"Id"},
	}
	stmts := base.WriteStatements(Dialect{}, "[dbo].[Customers]", req)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"MERGE INTO [dbo].[Customers] WITH (HOLDLOCK) AS tgt USING (VALUES (@p1, @p2)) AS src ([Id], [Name]) ON tgt.[Id] = src.[Id]"+
			" WHEN MATCHED THEN UPDATE SET tgt.[Name] = src.[Name]"+
			" WHEN NOT MATCHED THEN INSERT ([Id], [Name]) VALUES (src.[Id], src.[Name]);",
		stmts[0].SQL)
}

func TestMergeKeyOnly(t *testing.T) {
	sql := Dialect{}.Upsert("[t]", []string{"Id"}, []string{"Id"}, "(@p1)")
	assert.NotContains(t, sql, "WHEN MATCHED")
	assert.True(t, strings.HasSuffix(sql, "WHEN NOT MATCHED THEN INSERT ([Id]) VALUES (src.[Id]);"))
}

func TestIdentityInsertWrapping(t *testing.T) {
	req := core.WriteRequest{
		Columns:        []string{"Id"},
		Rows:           []core.Row{{1}},
		Mode:           core.WriteInsert,
		IdentityInsert: true,
	}
	stmts := base.WriteStatements(Dialect{}, "[dbo].[T]", req)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		"SET IDENTITY_INSERT [dbo].[T] ON; INSERT INTO [dbo].[T] ([Id]) VALUES (@p1); SET IDENTITY_INSERT [dbo].[T] OFF;",
		stmts[0].SQL)
}

func TestParameterLimitChunking(t *testing.T) {
	// 10 columns fit 200 rows per statement under the parameter cap.
	cols := make([]string, 10)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	rows := make([]core.Row, 450)
	for i := range rows {
		rows[i] = make(core.Row, len(cols))
	}

	stmts := base.WriteStatements(Dialect{}, "[t]", core.WriteRequest{Columns: cols, Rows: rows, Mode: core.WriteInsert})
	require.Len(t, stmts, 3)
	for _, s := range stmts {
		assert.LessOrEqual(t, len(s.Args), 2000)
	}
	assert.Len(t, stmts[2].Args, 50*10)
}

func TestOffsetNeedsOrder(t *testing.T) {
	stmt := base.SelectPartition(Dialect{}, "[dbo].[T]", core.Partition{
		Kind: core.PartitionOffset, Columns: []string{"A"}, Offset: 0, Limit: 100,
	})
	assert.Equal(t, "SELECT [A] FROM [dbo].[T] ORDER BY (SELECT NULL) OFFSET @p1 ROWS FETCH NEXT @p2 ROWS ONLY", stmt.SQL)
}

func TestCountUsesBigint(t *testing.T) {
	assert.Equal(t, "SELECT COUNT_BIG(*) FROM [dbo].[T]", base.CountQuery(Dialect{}, "[dbo].[T]"))
}

func TestDSN(t *testing.T) {
	u, err := url.Parse(DSN(config.DatabaseConfig{
		Host: "mssql", Port: 1433, Username: "sa", Password: "S3cret!", Database: "Sales",
		TrustServerCertificate: true,
	}))
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "mssql:1433", u.Host)
	assert.Equal(t, "Sales", u.Query().Get("database"))
	assert.Equal(t, "true", u.Query().Get("TrustServerCertificate"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorType
		ok   bool
	}{
		{"deadlock", mssql.Error{Number: 1205}, errors.ErrorTypeTransient, true},
		{"lock timeout", fmt.Errorf("exec: %w", mssql.Error{Number: 1222}), errors.ErrorTypeTransient, true},
		{"pk violation", mssql.Error{Number: 2627}, errors.ErrorTypeFatal, true},
		{"pointer", &mssql.Error{Number: 515}, errors.ErrorTypeFatal, true},
		{"unlisted", mssql.Error{Number: 50000}, "", false},
		{"other", fmt.Errorf("x"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertValue(t *testing.T) {
	id := mssql.UniqueIdentifier{0x6F, 0x96, 0x19, 0xFF, 0x8B, 0x86, 0xD0, 0x11, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	raw, err := id.Value()
	require.NoError(t, err)

	assert.Equal(t, id.String(), convertValue("UNIQUEIDENTIFIER", raw))
	assert.Equal(t, "x", convertValue("NVARCHAR", "x"))
}

func TestRegistered(t *testing.T) {
	name, err := registry.Resolve("mssql")
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", name)
}
