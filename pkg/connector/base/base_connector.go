package base

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/logger"
)

// BaseConnector carries what every engine connector shares: identity,
// configuration, logger, fault classifier and I/O counters.
type BaseConnector struct {
	name     string
	config   config.DatabaseConfig
	dialect  Dialect
	classify Classifier
	logger   *zap.Logger

	rowsRead    int64
	rowsWritten int64
	batches     int64
}

// NewBaseConnector creates a new base connector
func NewBaseConnector(name string, cfg config.DatabaseConfig, dialect Dialect, classify Classifier) *BaseConnector {
	return &BaseConnector{
		name:     name,
		config:   cfg,
		dialect:  dialect,
		classify: classify,
		logger: logger.Get().With(
			zap.String("connector", name),
			zap.String("database", cfg.Database),
		),
	}
}

// Name returns the engine identifier
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Config returns the connection descriptor
func (bc *BaseConnector) Config() config.DatabaseConfig {
	return bc.config
}

// Dialect returns the SQL dialect
func (bc *BaseConnector) Dialect() Dialect {
	return bc.dialect
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// Schema returns the schema used for unqualified table names.
func (bc *BaseConnector) Schema() string {
	if bc.config.Schema != "" {
		return bc.config.Schema
	}
	return bc.dialect.DefaultSchema()
}

// Table renders a quoted, schema-qualified table name.
func (bc *BaseConnector) Table(name string) string {
	return QualifiedName(bc.dialect, name, bc.Schema())
}

// Classify wraps err with its sync category.
func (bc *BaseConnector) Classify(err error, message string) error {
	return Classify(err, bc.classify, message)
}

// ConnectError classifies a failure to connect. Anything the engine does not
// call fatal (bad credentials, unknown database) is a connection error.
func (bc *BaseConnector) ConnectError(err error, message string) error {
	return WrapConnectError(err, bc.classify, message)
}

// RecordRead adds to the rows-read counter.
func (bc *BaseConnector) RecordRead(rows int64) {
	atomic.AddInt64(&bc.rowsRead, rows)
}

// RecordWrite adds to the rows-written and batch counters.
func (bc *BaseConnector) RecordWrite(rows int64) {
	atomic.AddInt64(&bc.rowsWritten, rows)
	atomic.AddInt64(&bc.batches, 1)
}

// Metrics returns the connector counters
func (bc *BaseConnector) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"rows_read":       atomic.LoadInt64(&bc.rowsRead),
		"rows_written":    atomic.LoadInt64(&bc.rowsWritten),
		"batches_written": atomic.LoadInt64(&bc.batches),
	}
}
