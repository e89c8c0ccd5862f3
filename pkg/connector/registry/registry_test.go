package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

type stubConnector struct {
	core.Connector
	cfg config.DatabaseConfig
}

func (s *stubConnector) Name() string                      { return "stub" }
func (s *stubConnector) Connect(ctx context.Context) error { return nil }

func stubFactory(cfg config.DatabaseConfig) (core.Connector, error) {
	return &stubConnector{cfg: cfg}, nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ConnectorInfo{Name: "PostgreSQL", Aliases: []string{"postgres", "pg"}}, stubFactory))

	for _, name := range []string{"postgresql", "POSTGRES", " pg "} {
		got, err := r.Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, "postgresql", got)
	}

	_, err := r.Resolve("oracle")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "unsupported database type: oracle")
}

func TestRegisterConflicts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ConnectorInfo{Name: "mysql", Aliases: []string{"mariadb"}}, stubFactory))

	err := r.Register(ConnectorInfo{Name: "mysql"}, stubFactory)
	assert.ErrorContains(t, err, "already registered")

	err = r.Register(ConnectorInfo{Name: "maria", Aliases: []string{"mariadb"}}, stubFactory)
	assert.ErrorContains(t, err, "alias mariadb already registered by mysql")
}

func TestCreateAndFactory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ConnectorInfo{Name: "sqlserver", Aliases: []string{"mssql"}}, stubFactory))

	conn, err := r.Create(config.DatabaseConfig{Type: "mssql", Database: "sales"})
	require.NoError(t, err)
	assert.Equal(t, "sales", conn.(*stubConnector).cfg.Database)

	factory, err := r.Factory(config.DatabaseConfig{Type: "sqlserver"})
	require.NoError(t, err)
	a, err := factory()
	require.NoError(t, err)
	b, err := factory()
	require.NoError(t, err)
	assert.NotSame(t, a, b, "each call yields a private instance")

	_, err = r.Factory(config.DatabaseConfig{Type: "db2"})
	require.Error(t, err)
}

func TestList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ConnectorInfo{Name: "sqlserver"}, stubFactory))
	require.NoError(t, r.Register(ConnectorInfo{Name: "mysql"}, stubFactory))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "mysql", infos[0].Name)
	assert.Equal(t, "sqlserver", infos[1].Name)
}
