// Package connector groups the database engines a sync job can read from and
// write to.
//
// # Layout
//
//   - core: the Connector capability contract (row counts, key ranges, schema
//     description, partitioned reads, batch writes, truncation, transactions)
//     and the Row, Column and Partition types that cross it.
//
//   - base: shared plumbing for database/sql engines. SQLConnector owns the
//     connection pool and statement execution; a Dialect supplies identifier
//     quoting, placeholders, paging and upsert syntax. Error classification
//     and retry policies live here too.
//
//   - registry: engine lookup by type name or alias. Engines register from
//     init, so importing an engine package makes it available:
//
//	import _ "github.com/ajitpratap0/tablesync/pkg/connector/postgresql"
//
//   - mysql, postgresql, sqlserver: the production engines.
//
//   - memory: in-process tables with fault injection, used by tests and
//     dry runs.
//
// # Errors
//
// Every error a connector returns from ReadBatch, WriteBatch or Truncate is
// classified as a connection, transient or fatal error (see pkg/errors). The
// job retries the first two and fails the table on the third.
//
// # Concurrency
//
// A connector instance is owned by one worker. The registry hands out a
// factory per job side so every worker opens its own connection.
package connector
