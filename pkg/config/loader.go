package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. TABLESYNC_BATCH_SIZE.
const EnvPrefix = "TABLESYNC"

// Load reads a YAML or JSON job file, applies defaults and environment
// overrides, and validates the result.
func Load(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(filePath)), ".")
	if format == "yml" {
		format = "yaml"
	}
	if format != "yaml" && format != "json" {
		format = "yaml" // JSON is valid YAML
	}

	return Parse(data, format)
}

// Parse decodes a job document in the given format ("yaml" or "json").
func Parse(data []byte, format string) (*Config, error) {
	content := substituteEnvVars(string(data))

	v := viper.New()
	v.SetConfigType(format)
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader([]byte(content))); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to parse %s config", format))
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes a configuration as YAML.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	d := New()
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("max_concurrent_tasks", d.MaxConcurrentTasks)
	v.SetDefault("verify_data", d.VerifyData)
	v.SetDefault("verify_mode", d.VerifyMode)
	v.SetDefault("retry_times", d.RetryTimes)
	v.SetDefault("retry_interval", d.RetryInterval)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_multiplier", d.RetryMultiplier)
	v.SetDefault("retry_max_interval", d.RetryMaxInterval)
	v.SetDefault("retry_jitter", d.RetryJitter)
	v.SetDefault("write_mode", d.WriteMode)
	v.SetDefault("strict_schema", d.StrictSchema)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("checkpoint.backend", d.Checkpoint.Backend)
	v.SetDefault("checkpoint.path", d.Checkpoint.Path)
	v.SetDefault("checkpoint.granularity", d.Checkpoint.Granularity)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("source.password", "")
	v.SetDefault("target.password", "")
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}

// Sample returns an illustrative job written by `tablesync init`.
func Sample() *Config {
	cfg := New()
	cfg.Source = DatabaseConfig{
		Type: "mysql", Host: "localhost", Port: 3306,
		Username: "root", Password: "${SOURCE_PASSWORD}", Database: "shop",
	}
	cfg.Target = DatabaseConfig{
		Type: "postgresql", Host: "localhost", Port: 5432,
		Username: "postgres", Password: "${TARGET_PASSWORD}", Database: "shop",
		Schema: "public", SSLMode: "disable",
	}
	cfg.Tables = []TableMapping{
		{
			Source: "customers",
			Target: "customers",
			Fields: []FieldMapping{
				{Source: "id", Target: "id"},
				{Source: "name", Target: "full_name"},
				{Source: "email", Target: "email"},
			},
		},
		{Source: "orders", Target: "orders", Truncate: true},
	}
	return cfg
}
