// Package logger holds the process-wide zap logger of tablesync and the
// context fields (job, run, table) every log line of a job carries.
package logger

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global atomic.Pointer[zap.Logger]

// Config mirrors the log section of a job file
type Config struct {
	Level       string
	Development bool
	Encoding    string // json or console
	OutputPaths []string
}

// Init builds a logger from cfg and installs it. Calling it again replaces
// the logger.
func Init(cfg Config) error {
	l, err := build(cfg)
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the global logger.
func Set(l *zap.Logger) {
	global.Store(l)
}

func build(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.StringDurationEncoder
	if cfg.Development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         cfg.Encoding,
		EncoderConfig:    enc,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if zc.Encoding == "" {
		zc.Encoding = "console"
	}
	if len(zc.OutputPaths) == 0 {
		// stdout is reserved for command output (plan, checkpoint show)
		zc.OutputPaths = []string{"stderr"}
	}

	opts := []zap.Option{}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	l, err := zc.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}

// Get returns the global logger, installing a JSON info logger on first use.
func Get() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, err := build(Config{Encoding: "json"})
	if err != nil {
		l = zap.NewNop()
	}
	if global.CompareAndSwap(nil, l) {
		return l
	}
	return global.Load()
}

// Sync flushes the global logger.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

type ctxKey struct{}

// jobFields are the identities stored in a context
type jobFields struct {
	jobID, runID, table string
}

func fieldsFrom(ctx context.Context) jobFields {
	f, _ := ctx.Value(ctxKey{}).(jobFields)
	return f
}

// WithJob returns a context carrying the job and run identities.
func WithJob(ctx context.Context, jobID, runID string) context.Context {
	f := fieldsFrom(ctx)
	f.jobID, f.runID = jobID, runID
	return context.WithValue(ctx, ctxKey{}, f)
}

// WithTable returns a context carrying the table being copied.
func WithTable(ctx context.Context, table string) context.Context {
	f := fieldsFrom(ctx)
	f.table = table
	return context.WithValue(ctx, ctxKey{}, f)
}

// FromContext decorates base with the identities stored in ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	f := fieldsFrom(ctx)
	fields := make([]zap.Field, 0, 3)
	if f.jobID != "" {
		fields = append(fields, zap.String("job_id", f.jobID))
	}
	if f.runID != "" {
		fields = append(fields, zap.String("run_id", f.runID))
	}
	if f.table != "" {
		fields = append(fields, zap.String("table", f.table))
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
