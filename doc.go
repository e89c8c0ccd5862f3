// Package tablesync copies relational tables between MySQL, PostgreSQL and
// SQL Server databases.
//
// A job names a source database, a target database and an ordered list of
// table mappings. Each table is split into batches, either half-open ranges
// of an integer key or offset windows when no usable key exists. A bounded
// pool of workers moves the batches, each worker holding its own pair of
// connections. Every committed batch is recorded in a checkpoint store, so an
// interrupted or failed job resumes with the batches that are still missing.
//
// # Quick Start
//
//	tablesync init job.yaml          # write a sample configuration
//	tablesync validate -c job.yaml   # check it without connecting
//	tablesync plan -c job.yaml       # show the batches of every table
//	tablesync run -c job.yaml        # copy
//
// The same job from Go:
//
//	import (
//	    "github.com/ajitpratap0/tablesync/internal/pipeline"
//	    "github.com/ajitpratap0/tablesync/pkg/config"
//	    _ "github.com/ajitpratap0/tablesync/pkg/connector/mysql"
//	    _ "github.com/ajitpratap0/tablesync/pkg/connector/postgresql"
//	)
//
//	cfg, err := config.Load("job.yaml")
//	if err != nil {
//	    return err
//	}
//	report, err := pipeline.NewJob(cfg).Run(ctx)
//	if err != nil {
//	    return err
//	}
//	os.Exit(report.ExitCode(false))
//
// # Key Packages
//
//	internal/pipeline        - planning, dispatch, retries, verification, reports
//	pkg/config               - job configuration loading and validation
//	pkg/connector/core       - the connector capability contract
//	pkg/connector/base       - database/sql plumbing, dialects, error classification
//	pkg/connector/registry   - engine lookup by type and alias
//	pkg/checkpoint           - file, S3, GCS and in-memory checkpoint stores
//	pkg/schema               - column mapping and type compatibility
//	pkg/progress             - progress events and reporters
//	pkg/errors               - classified errors
//	pkg/logger               - structured logging
//	pkg/metrics              - Prometheus metrics
//	pkg/observability        - OpenTelemetry tracing
//
// # Guarantees
//
// Rows of a batch are written in a single transaction when the target
// supports it. With upsert writes a batch can be replayed without creating
// duplicates, which makes resume after a crash between write and checkpoint
// safe. Verification compares row counts, and optionally per-batch digests,
// after the copy.
package tablesync
