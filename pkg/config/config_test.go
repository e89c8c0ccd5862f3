package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

const jobJSON = `{
  "source": {"type": "mysql", "host": "mysql.local", "port": 3306,
             "username": "root", "password": "${TS_TEST_SRC_PW}", "database": "shop"},
  "target": {"type": "postgresql", "host": "pg.local", "port": 5432,
             "username": "pg", "password": "pw", "database": "shop", "schema": "sales",
             "sslmode": "require"},
  "tables": [
    {"source": "users", "target": "app_users",
     "fields": [{"source": "id", "target": "id"}, {"source": "name", "target": "full_name"}],
     "truncate": true, "verify": false},
    {"source": "orders"}
  ],
  "batch_size": 500,
  "max_concurrent_tasks": 8,
  "retry_times": 2,
  "retry_interval": 1
}`

func TestParseJSON(t *testing.T) {
	t.Setenv("TS_TEST_SRC_PW", "s3cret")

	cfg, err := Parse([]byte(jobJSON), "json")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Source.Password)
	assert.Equal(t, "sales", cfg.Target.Schema)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 8, cfg.MaxConcurrentTasks)
	assert.Equal(t, 2, cfg.RetryTimes)
	assert.True(t, cfg.VerifyData)
	assert.Equal(t, WriteModeUpsert, cfg.WriteMode)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)

	require.Len(t, cfg.Tables, 2)
	assert.Equal(t, "app_users", cfg.Tables[0].TargetName())
	assert.True(t, cfg.Tables[0].Truncate)
	assert.False(t, cfg.Tables[0].VerifyEnabled())
	require.Len(t, cfg.Tables[0].Fields, 2)
	assert.Equal(t, "full_name", cfg.Tables[0].Fields[1].Target)

	assert.Equal(t, "orders", cfg.Tables[1].TargetName())
	assert.True(t, cfg.Tables[1].VerifyEnabled())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("TABLESYNC_BATCH_SIZE", "250")

	doc := `
source: {type: memory, database: src}
target: {type: memory, database: dst}
tables:
  - source: items
batch_size: 100
retry_backoff: exponential
checkpoint:
  backend: memory
`
	path := filepath.Join(t.TempDir(), "job.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.BatchSize)
	assert.Equal(t, BackoffExponential, cfg.RetryBackoff)
	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, GranularityBatch, cfg.Checkpoint.Granularity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := New()
		cfg.Source = DatabaseConfig{Type: "mysql", Host: "a", Port: 3306, Database: "db"}
		cfg.Target = DatabaseConfig{Type: "postgresql", Host: "b", Port: 5432, Database: "db"}
		cfg.Tables = []TableMapping{{Source: "t"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no source type", func(c *Config) { c.Source.Type = "" }, "source.type is required"},
		{"no target host", func(c *Config) { c.Target.Host = "" }, "target.host is required"},
		{"bad port", func(c *Config) { c.Source.Port = 70000 }, "out of range"},
		{"no tables", func(c *Config) { c.Tables = nil }, "at least one table"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size must be positive"},
		{"zero workers", func(c *Config) { c.MaxConcurrentTasks = 0 }, "max_concurrent_tasks must be positive"},
		{"negative retries", func(c *Config) { c.RetryTimes = -1 }, "retry_times cannot be negative"},
		{"jitter above one", func(c *Config) { c.RetryJitter = 1.5 }, "retry_jitter must be between 0 and 1"},
		{"bad backoff", func(c *Config) { c.RetryBackoff = "random" }, "retry_backoff"},
		{"bad multiplier", func(c *Config) {
			c.RetryBackoff = BackoffExponential
			c.RetryMultiplier = 0.5
		}, "retry_multiplier"},
		{"bad write mode", func(c *Config) { c.WriteMode = "replace" }, "write_mode"},
		{"bad verify mode", func(c *Config) { c.VerifyMode = "deep" }, "verify_mode"},
		{"bad sync mode", func(c *Config) { c.Tables[0].SyncMode = "cdc" }, "sync_mode"},
		{"half field", func(c *Config) { c.Tables[0].Fields = []FieldMapping{{Source: "a"}} }, "needs both source and target"},
		{"duplicate target column", func(c *Config) {
			c.Tables[0].Fields = []FieldMapping{{Source: "a", Target: "x"}, {Source: "b", Target: "X"}}
		}, "mapped more than once"},
		{"duplicate target table", func(c *Config) {
			c.Tables = append(c.Tables, TableMapping{Source: "u", Target: "t"})
		}, "target table t is mapped more than once"},
		{"s3 without bucket", func(c *Config) { c.Checkpoint.Backend = "s3" }, "checkpoint.bucket"},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "redis" }, "not supported"},
		{"memory engine needs no host", func(c *Config) { c.Source = DatabaseConfig{Type: "memory"} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestIdentity(t *testing.T) {
	a := Sample()
	b := Sample()
	assert.Equal(t, a.Identity(), b.Identity())
	assert.Regexp(t, `^job-[0-9a-f]{16}$`, a.Identity())

	b.Tables[0].Target = "clients"
	assert.NotEqual(t, a.Identity(), b.Identity())

	b.JobID = "nightly"
	assert.Equal(t, "nightly", b.Identity())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "job.yaml")
	require.NoError(t, Save(path, Sample()))

	t.Setenv("SOURCE_PASSWORD", "x")
	t.Setenv("TARGET_PASSWORD", "y")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "x", cfg.Source.Password)
	assert.Len(t, cfg.Tables, 2)
	assert.Equal(t, "full_name", cfg.Tables[0].Fields[1].Target)
}
