// Package config defines the sync job configuration: the source and target
// connection descriptors, the ordered table mappings and the global settings
// (batch size, concurrency, retry and verification policy, checkpoint backend).
//
// # Loading
//
// Job files are YAML or JSON. ${VAR_NAME} placeholders are replaced with
// environment values before decoding, and any settings key can be overridden
// with a TABLESYNC_ prefixed variable:
//
//	cfg, err := config.Load("job.yaml")
//	if err != nil {
//		// err is a config error; nothing has been started
//	}
//
// # Example
//
//	source:
//	  type: mysql
//	  host: mysql.internal
//	  port: 3306
//	  username: sync
//	  password: ${SOURCE_PASSWORD}
//	  database: shop
//	target:
//	  type: postgresql
//	  host: pg.internal
//	  port: 5432
//	  username: sync
//	  password: ${TARGET_PASSWORD}
//	  database: shop
//	  schema: public
//	tables:
//	  - source: customers
//	    target: customers
//	    fields:
//	      - {source: id, target: id}
//	      - {source: name, target: full_name}
//	  - source: orders
//	    truncate: true
//	batch_size: 10000
//	max_concurrent_tasks: 5
//	retry_times: 3
//	retry_interval: 5
//	verify_data: true
package config
