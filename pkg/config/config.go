package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Write modes accepted for tables and settings.
const (
	WriteModeInsert = "insert"
	WriteModeUpsert = "upsert"
)

// Sync modes accepted for tables.
const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

// Verification modes.
const (
	VerifyModeCount  = "count"
	VerifyModeDigest = "digest"
)

// Retry backoff policies.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Checkpoint granularities.
const (
	GranularityBatch = "batch"
	GranularityTable = "table"
)

// Config is a complete sync job description: two connection descriptors, the
// ordered table mappings and the global settings.
type Config struct {
	// JobID identifies the job for checkpointing. Derived from the descriptors when empty.
	JobID string `mapstructure:"job_id" yaml:"job_id,omitempty" json:"job_id,omitempty"`

	Source DatabaseConfig `mapstructure:"source" yaml:"source" json:"source"`
	Target DatabaseConfig `mapstructure:"target" yaml:"target" json:"target"`

	Tables []TableMapping `mapstructure:"tables" yaml:"tables" json:"tables"`

	Settings `mapstructure:",squash" yaml:",inline" json:",inline"`

	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint" json:"checkpoint"`
	Log        LogConfig        `mapstructure:"log" yaml:"log" json:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// DatabaseConfig describes one side of the sync.
type DatabaseConfig struct {
	// Type is the engine identifier (mysql, postgresql, sqlserver and their aliases)
	Type     string `mapstructure:"type" yaml:"type" json:"type"`
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	Database string `mapstructure:"database" yaml:"database" json:"database"`
	// Driver names an ODBC driver. Only recorded; the native drivers ignore it.
	Driver string `mapstructure:"driver" yaml:"driver,omitempty" json:"driver,omitempty"`
	// Schema is the default schema for unqualified table names
	Schema                 string `mapstructure:"schema" yaml:"schema,omitempty" json:"schema,omitempty"`
	SSLMode                string `mapstructure:"sslmode" yaml:"sslmode,omitempty" json:"sslmode,omitempty"`
	TrustServerCertificate bool   `mapstructure:"trust_server_certificate" yaml:"trust_server_certificate,omitempty" json:"trust_server_certificate,omitempty"`
	// ConnectTimeout in seconds
	ConnectTimeout int `mapstructure:"connect_timeout" yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	// Options are passed to the driver as extra connection parameters
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty" json:"options,omitempty"`
}

// Address returns host:port.
func (d DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Redacted describes the connection without credentials.
func (d DatabaseConfig) Redacted() string {
	if d.Host == "" {
		return fmt.Sprintf("%s://%s", d.Type, d.Database)
	}
	return fmt.Sprintf("%s://%s@%s/%s", d.Type, d.Username, d.Address(), d.Database)
}

// ConnectTimeoutDuration returns the connect timeout, 10s when unset.
func (d DatabaseConfig) ConnectTimeoutDuration() time.Duration {
	if d.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.ConnectTimeout) * time.Second
}

// FieldMapping renames one column.
type FieldMapping struct {
	Source string `mapstructure:"source" yaml:"source" json:"source"`
	Target string `mapstructure:"target" yaml:"target" json:"target"`
}

// TableMapping describes one source table and where its rows go.
type TableMapping struct {
	Source string         `mapstructure:"source" yaml:"source" json:"source"`
	Target string         `mapstructure:"target" yaml:"target" json:"target"`
	Fields []FieldMapping `mapstructure:"fields" yaml:"fields,omitempty" json:"fields,omitempty"`

	Truncate bool  `mapstructure:"truncate" yaml:"truncate,omitempty" json:"truncate,omitempty"`
	Verify   *bool `mapstructure:"verify" yaml:"verify,omitempty" json:"verify,omitempty"`

	// KeyColumn overrides primary key detection for partitioning
	KeyColumn string `mapstructure:"key_column" yaml:"key_column,omitempty" json:"key_column,omitempty"`
	// WriteMode overrides Settings.WriteMode
	WriteMode string `mapstructure:"write_mode" yaml:"write_mode,omitempty" json:"write_mode,omitempty"`
	// SyncMode is full (default) or incremental
	SyncMode string `mapstructure:"sync_mode" yaml:"sync_mode,omitempty" json:"sync_mode,omitempty"`
}

// VerifyEnabled reports the per-table verify flag, true when unset.
func (t TableMapping) VerifyEnabled() bool {
	return t.Verify == nil || *t.Verify
}

// TargetName returns the target table, defaulting to the source name.
func (t TableMapping) TargetName() string {
	if t.Target == "" {
		return t.Source
	}
	return t.Target
}

// Settings are the global knobs of a sync job.
type Settings struct {
	BatchSize          int  `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	MaxConcurrentTasks int  `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	VerifyData         bool `mapstructure:"verify_data" yaml:"verify_data" json:"verify_data"`
	// VerifyMode is count or digest
	VerifyMode string `mapstructure:"verify_mode" yaml:"verify_mode" json:"verify_mode"`

	RetryTimes int `mapstructure:"retry_times" yaml:"retry_times" json:"retry_times"`
	// RetryInterval in seconds
	RetryInterval    int     `mapstructure:"retry_interval" yaml:"retry_interval" json:"retry_interval"`
	RetryBackoff     string  `mapstructure:"retry_backoff" yaml:"retry_backoff" json:"retry_backoff"`
	RetryMultiplier  float64 `mapstructure:"retry_multiplier" yaml:"retry_multiplier" json:"retry_multiplier"`
	RetryMaxInterval int     `mapstructure:"retry_max_interval" yaml:"retry_max_interval" json:"retry_max_interval"`
	// RetryJitter randomizes each delay by up to this fraction, 0 disables it
	RetryJitter float64 `mapstructure:"retry_jitter" yaml:"retry_jitter" json:"retry_jitter"`

	WriteMode    string `mapstructure:"write_mode" yaml:"write_mode" json:"write_mode"`
	StrictSchema bool   `mapstructure:"strict_schema" yaml:"strict_schema" json:"strict_schema"`
	// DrainTimeout bounds in-flight batches after cancellation, in seconds
	DrainTimeout int `mapstructure:"drain_timeout" yaml:"drain_timeout" json:"drain_timeout"`
}

// RetryIntervalDuration returns the retry interval as a duration.
func (s Settings) RetryIntervalDuration() time.Duration {
	return time.Duration(s.RetryInterval) * time.Second
}

// RetryMaxIntervalDuration returns the backoff cap as a duration.
func (s Settings) RetryMaxIntervalDuration() time.Duration {
	return time.Duration(s.RetryMaxInterval) * time.Second
}

// DrainTimeoutDuration returns the drain timeout as a duration.
func (s Settings) DrainTimeoutDuration() time.Duration {
	return time.Duration(s.DrainTimeout) * time.Second
}

// CheckpointConfig selects the checkpoint backend.
type CheckpointConfig struct {
	// Backend is file, s3, gcs, memory or none
	Backend         string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Path            string `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty" json:"credentials_file,omitempty"`
	// Granularity is batch (default) or table
	Granularity string `mapstructure:"granularity" yaml:"granularity" json:"granularity"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development,omitempty" json:"development,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9090"
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr,omitempty" json:"listen_addr,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled,omitempty" json:"enabled,omitempty"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

// DefaultSettings returns the settings used when a key is absent.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:          1000,
		MaxConcurrentTasks: 5,
		VerifyData:         true,
		VerifyMode:         VerifyModeCount,
		RetryTimes:         3,
		RetryInterval:      5,
		RetryBackoff:       BackoffFixed,
		RetryMultiplier:    2,
		RetryMaxInterval:   300,
		WriteMode:          WriteModeUpsert,
		DrainTimeout:       300,
	}
}

// New returns a configuration with every default applied.
func New() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Checkpoint: CheckpointConfig{
			Backend:     "file",
			Path:        ".tablesync/checkpoints",
			Granularity: GranularityBatch,
		},
		Log: LogConfig{Level: "info", Encoding: "console"},
	}
}

// Identity returns the job identity used to key checkpoints. An explicit
// job_id wins; otherwise the identity is a stable hash of both connection
// descriptors and the table mappings, so reruns of the same file resume.
func (c *Config) Identity() string {
	if c.JobID != "" {
		return c.JobID
	}

	var b strings.Builder
	for _, d := range []DatabaseConfig{c.Source, c.Target} {
		fmt.Fprintf(&b, "%s|%s|%d|%s|%s;", strings.ToLower(d.Type), d.Host, d.Port, d.Database, d.Schema)
	}
	for _, t := range c.Tables {
		fmt.Fprintf(&b, "%s>%s", t.Source, t.TargetName())
		fields := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			fields = append(fields, f.Source+"="+f.Target)
		}
		sort.Strings(fields)
		fmt.Fprintf(&b, "[%s];", strings.Join(fields, ","))
	}
	return fmt.Sprintf("job-%016x", xxhash.Sum64String(b.String()))
}

// Validate checks the configuration. The returned error is a config error.
func (c *Config) Validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}
	if err := c.Settings.validate(); err != nil {
		return err
	}
	if err := c.Checkpoint.validate(); err != nil {
		return err
	}

	if len(c.Tables) == 0 {
		return configError("at least one table mapping is required")
	}
	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if err := t.validate(i); err != nil {
			return err
		}
		key := strings.ToLower(t.TargetName())
		if seen[key] {
			return configError(fmt.Sprintf("tables[%d]: target table %s is mapped more than once", i, t.TargetName()))
		}
		seen[key] = true
	}
	return nil
}

func (d DatabaseConfig) validate(side string) error {
	if d.Type == "" {
		return configError(side + ".type is required")
	}
	if strings.EqualFold(d.Type, "memory") {
		return nil
	}
	if d.Host == "" {
		return configError(side + ".host is required")
	}
	if d.Port < 0 || d.Port > 65535 {
		return configError(fmt.Sprintf("%s.port %d is out of range", side, d.Port))
	}
	if d.Database == "" {
		return configError(side + ".database is required")
	}
	return nil
}

func (s Settings) validate() error {
	if s.BatchSize <= 0 {
		return configError("batch_size must be positive")
	}
	if s.MaxConcurrentTasks <= 0 {
		return configError("max_concurrent_tasks must be positive")
	}
	if s.RetryTimes < 0 {
		return configError("retry_times cannot be negative")
	}
	if s.RetryInterval < 0 {
		return configError("retry_interval cannot be negative")
	}
	if s.DrainTimeout < 0 {
		return configError("drain_timeout cannot be negative")
	}
	if s.RetryJitter < 0 || s.RetryJitter > 1 {
		return configError("retry_jitter must be between 0 and 1")
	}
	switch s.RetryBackoff {
	case BackoffFixed:
	case BackoffExponential:
		if s.RetryMultiplier < 1 {
			return configError("retry_multiplier must be at least 1 for exponential backoff")
		}
	default:
		return configError(fmt.Sprintf("retry_backoff %q must be fixed or exponential", s.RetryBackoff))
	}
	if err := validWriteMode(s.WriteMode, "write_mode"); err != nil {
		return err
	}
	if s.VerifyMode != VerifyModeCount && s.VerifyMode != VerifyModeDigest {
		return configError(fmt.Sprintf("verify_mode %q must be count or digest", s.VerifyMode))
	}
	return nil
}

func (t TableMapping) validate(i int) error {
	prefix := fmt.Sprintf("tables[%d]", i)
	if t.Source == "" {
		return configError(prefix + ".source is required")
	}
	if t.WriteMode != "" {
		if err := validWriteMode(t.WriteMode, prefix+".write_mode"); err != nil {
			return err
		}
	}
	if t.SyncMode != "" && t.SyncMode != SyncModeFull && t.SyncMode != SyncModeIncremental {
		return configError(fmt.Sprintf("%s.sync_mode %q must be full or incremental", prefix, t.SyncMode))
	}

	targets := make(map[string]bool, len(t.Fields))
	for j, f := range t.Fields {
		if f.Source == "" || f.Target == "" {
			return configError(fmt.Sprintf("%s.fields[%d] needs both source and target", prefix, j))
		}
		key := strings.ToLower(f.Target)
		if targets[key] {
			return configError(fmt.Sprintf("%s.fields[%d]: target column %s is mapped more than once", prefix, j, f.Target))
		}
		targets[key] = true
	}
	return nil
}

func (c CheckpointConfig) validate() error {
	switch c.Backend {
	case "file":
		if c.Path == "" {
			return configError("checkpoint.path is required for the file backend")
		}
	case "s3", "gcs":
		if c.Bucket == "" {
			return configError(fmt.Sprintf("checkpoint.bucket is required for the %s backend", c.Backend))
		}
	case "memory", "none":
	default:
		return configError(fmt.Sprintf("checkpoint.backend %q is not supported", c.Backend))
	}
	if c.Granularity != GranularityBatch && c.Granularity != GranularityTable {
		return configError(fmt.Sprintf("checkpoint.granularity %q must be batch or table", c.Granularity))
	}
	return nil
}

func validWriteMode(mode, key string) error {
	if mode != WriteModeInsert && mode != WriteModeUpsert {
		return configError(fmt.Sprintf("%s %q must be insert or upsert", key, mode))
	}
	return nil
}

func configError(msg string) error {
	return errors.New(errors.ErrorTypeConfig, msg)
}
