package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tablesync/internal/pipeline"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

func TestConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		flag    string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "flag", flag: "job.yaml", want: "job.yaml"},
		{name: "argument", args: []string{"config=other.yaml"}, want: "other.yaml"},
		{name: "argument wins", flag: "job.yaml", args: []string{"config=other.yaml"}, want: "other.yaml"},
		{name: "missing", args: []string{"job.yaml"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := configPath(tt.flag, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "config", err: errors.New(errors.ErrorTypeConfig, "bad"), want: pipeline.ExitConfig},
		{name: "wrapped config", err: fmt.Errorf("load: %w", errors.New(errors.ErrorTypeConfig, "bad")), want: pipeline.ExitConfig},
		{name: "connection", err: errors.New(errors.ErrorTypeConnection, "refused"), want: pipeline.ExitFailed},
		{name: "explicit", err: &exitError{code: pipeline.ExitCancelled}, want: pipeline.ExitCancelled},
		{name: "mismatch", err: &exitError{code: pipeline.ExitMismatch, err: fmt.Errorf("orders")}, want: pipeline.ExitMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestInitWritesLoadableSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")

	cmd := initCommand()
	require.NoError(t, cmd.RunE(cmd, []string{path}))
	_, err := os.Stat(path)
	require.NoError(t, err)

	_, err = loadConfig("", []string{"config=" + path})
	require.NoError(t, err)

	err = cmd.RunE(cmd, []string{path})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "init must not overwrite")
}
