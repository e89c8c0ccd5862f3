package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/memory"
)

// JobSuite is the base for end-to-end job tests: every test gets a fresh
// source and target memory database and a temp directory for checkpoints.
type JobSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	tempDir string

	Source *memory.Database
	Target *memory.Database
}

// SetupTest runs before each test in the suite
func (s *JobSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.tempDir = s.T().TempDir()
	s.Source = MemoryDatabase(s.T(), "source")
	s.Target = MemoryDatabase(s.T(), "target")
}

// TearDownTest runs after each test in the suite
func (s *JobSuite) TearDownTest() {
	s.cancel()
}

// Context returns the test context
func (s *JobSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *JobSuite) TempDir() string {
	return s.tempDir
}

// JobConfig returns a valid configuration syncing the suite databases with
// file checkpoints under the temp directory and no retry delay.
func (s *JobSuite) JobConfig(tables ...config.TableMapping) *config.Config {
	cfg := config.New()
	cfg.JobID = "suite-job"
	cfg.Source = MemoryConfig(s.Source)
	cfg.Target = MemoryConfig(s.Target)
	cfg.Tables = tables
	cfg.RetryInterval = 0
	cfg.Checkpoint.Path = filepath.Join(s.tempDir, "checkpoints")
	require.NoError(s.T(), cfg.Validate())
	return cfg
}

// CreateTempFile creates a temporary file with content
func (s *JobSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	err := os.WriteFile(path, content, 0o644)
	require.NoError(s.T(), err)
	return path
}

// IntegrationConfig returns the descriptor of a live engine read from
// TABLESYNC_TEST_<ENGINE>_HOST, _PORT, _USER, _PASSWORD and _DATABASE. The
// test is skipped when the host is unset.
func IntegrationConfig(t testing.TB, engine string) config.DatabaseConfig {
	t.Helper()
	prefix := "TABLESYNC_TEST_" + strings.ToUpper(engine) + "_"
	host := os.Getenv(prefix + "HOST")
	if host == "" {
		t.Skipf("%sHOST not set, skipping %s integration test", prefix, engine)
	}

	cfg := config.DatabaseConfig{
		Type:                   engine,
		Host:                   host,
		Username:               os.Getenv(prefix + "USER"),
		Password:               os.Getenv(prefix + "PASSWORD"),
		Database:               os.Getenv(prefix + "DATABASE"),
		SSLMode:                "disable",
		TrustServerCertificate: true,
	}
	if port := os.Getenv(prefix + "PORT"); port != "" {
		p, err := strconv.Atoi(port)
		require.NoError(t, err, "invalid %sPORT", prefix)
		cfg.Port = p
	}
	return cfg
}

// SeedTables loads the customers fixture into source through the connector
// and empties target. Both tables must already exist with the customers
// schema.
func SeedTables(t testing.TB, factory func() (core.Connector, error), source, target string, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := factory()
	require.NoError(t, err)
	require.NoError(t, conn.Connect(ctx))
	defer conn.Disconnect(ctx)

	require.NoError(t, conn.Truncate(ctx, source))
	require.NoError(t, conn.Truncate(ctx, target))

	rows := make([]core.Row, 0, n)
	for id := int64(1); id <= int64(n); id++ {
		rows = append(rows, CustomerRow(id))
	}
	_, err = conn.WriteBatch(ctx, core.WriteRequest{
		Table:   source,
		Columns: []string{"id", "name", "email", "balance"},
		Rows:    rows,
		Mode:    core.WriteInsert,
	})
	require.NoError(t, err)
}
