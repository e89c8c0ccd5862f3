// Package mysql implements the MySQL and MariaDB engine on
// github.com/go-sql-driver/mysql.
package mysql

import (
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// DefaultPort is used when the descriptor leaves port unset.
const DefaultPort = 3306

func init() {
	registry.MustRegister(registry.ConnectorInfo{
		Name:         "mysql",
		Aliases:      []string{"mariadb"},
		Description:  "MySQL and MariaDB over go-sql-driver/mysql",
		DefaultPort:  DefaultPort,
		Capabilities: []string{"transactions", "upsert", "key_range"},
	}, New)
}

// Connector is a MySQL connector.
type Connector struct {
	*base.SQLConnector
}

// New creates an unconnected MySQL connector.
func New(cfg config.DatabaseConfig) (core.Connector, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return &Connector{
		SQLConnector: base.NewSQLConnector("mysql", cfg, Dialect{}, Classify, "mysql", dsn),
	}, nil
}

// DSN renders the driver connection string for cfg.
func DSN(cfg config.DatabaseConfig) (string, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Address()
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = cfg.ConnectTimeoutDuration()

	switch strings.ToLower(cfg.SSLMode) {
	case "", "disable", "disabled":
	case "require", "required":
		mc.TLSConfig = "skip-verify"
	case "verify-ca", "verify-full", "verify_identity":
		mc.TLSConfig = "true"
	case "prefer", "preferred":
		mc.TLSConfig = "preferred"
	default:
		return "", errors.New(errors.ErrorTypeConfig, "unsupported sslmode for mysql: "+cfg.SSLMode)
	}

	if len(cfg.Options) > 0 {
		mc.Params = make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN(), nil
}

// Server error numbers, see
// https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
var (
	transientCodes = map[uint16]bool{
		1205: true, // lock wait timeout
		1213: true, // deadlock
		1040: true, // too many connections
		1053: true, // server shutdown in progress
		1317: true, // query interrupted
	}
	fatalCodes = map[uint16]bool{
		1062: true, // duplicate entry
		1452: true, // foreign key, child row
		1451: true, // foreign key, parent row
		1048: true, // column cannot be null
		1406: true, // data too long
		1366: true, // incorrect value
		1264: true, // out of range
		1292: true, // incorrect datetime value
		1142: true, // command denied
		1044: true, // access denied to database
		1045: true, // access denied for user
		1049: true, // unknown database
		1146: true, // table doesn't exist
		1054: true, // unknown column
		1064: true, // syntax error
	}
)

// Classify maps MySQL driver errors to sync categories.
func Classify(err error) (errors.ErrorType, bool) {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return errors.ErrorTypeConnection, true
	}

	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return "", false
	}
	switch {
	case transientCodes[me.Number]:
		return errors.ErrorTypeTransient, true
	case fatalCodes[me.Number]:
		return errors.ErrorTypeFatal, true
	}
	return "", false
}
