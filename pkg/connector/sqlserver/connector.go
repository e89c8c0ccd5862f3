// Package sqlserver implements the SQL Server engine on
// github.com/microsoft/go-mssqldb.
package sqlserver

import (
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/ajitpratap0/tablesync/pkg/config"
	"github.com/ajitpratap0/tablesync/pkg/connector/base"
	"github.com/ajitpratap0/tablesync/pkg/connector/core"
	"github.com/ajitpratap0/tablesync/pkg/connector/registry"
	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// DefaultPort is used when the descriptor leaves port unset.
const DefaultPort = 1433

func init() {
	registry.MustRegister(registry.ConnectorInfo{
		Name:         "sqlserver",
		Aliases:      []string{"mssql"},
		Description:  "Microsoft SQL Server over go-mssqldb",
		DefaultPort:  DefaultPort,
		Capabilities: []string{"transactions", "upsert", "key_range", "identity_insert"},
	}, New)
}

// Connector is a SQL Server connector.
type Connector struct {
	*base.SQLConnector
}

// New creates an unconnected SQL Server connector. The ODBC driver named in
// the descriptor is not used.
func New(cfg config.DatabaseConfig) (core.Connector, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	conn := base.NewSQLConnector("sqlserver", cfg, Dialect{}, Classify, "sqlserver", DSN(cfg)).
		WithValueConverter(convertValue)
	if cfg.Driver != "" {
		conn.GetLogger().Debug("ignoring ODBC driver setting; using the native protocol")
	}
	return &Connector{SQLConnector: conn}, nil
}

// DSN renders a sqlserver:// URL for cfg.
func DSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("app name", "tablesync")
	q.Set("dial timeout", strconv.Itoa(int(cfg.ConnectTimeoutDuration().Seconds())))
	if cfg.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	switch strings.ToLower(cfg.SSLMode) {
	case "disable", "disabled":
		q.Set("encrypt", "disable")
	case "require", "required", "verify-full", "verify-ca":
		q.Set("encrypt", "true")
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Address(),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// convertValue renders GUIDs in their canonical text form.
func convertValue(databaseType string, v interface{}) interface{} {
	b, ok := v.([]byte)
	if !ok || !strings.EqualFold(databaseType, "UNIQUEIDENTIFIER") {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}

// Server error numbers, see
// https://learn.microsoft.com/sql/relational-databases/errors-events/database-engine-events-and-errors
var (
	transientNumbers = map[int32]bool{
		1205:  true, // deadlock victim
		1222:  true, // lock request timeout
		-2:    true, // client timeout
		40613: true, // database unavailable (Azure)
		40197: true, // service error processing request (Azure)
		40501: true, // service busy (Azure)
		49918: true, // not enough resources (Azure)
	}
	fatalNumbers = map[int32]bool{
		2627:  true, // unique constraint
		2601:  true, // duplicate key in unique index
		547:   true, // constraint conflict
		515:   true, // null into not-null column
		8152:  true, // string or binary data truncated
		2628:  true, // string or binary data truncated (2019+)
		245:   true, // conversion failed
		8114:  true, // error converting data type
		229:   true, // permission denied
		230:   true, // column permission denied
		208:   true, // invalid object name
		207:   true, // invalid column name
		102:   true, // syntax error
		544:   true, // explicit identity value with IDENTITY_INSERT off
		18456: true, // login failed
		4060:  true, // cannot open database
	}
)

// Classify maps go-mssqldb errors to sync categories.
func Classify(err error) (errors.ErrorType, bool) {
	var number int32
	var me mssql.Error
	var pme *mssql.Error
	switch {
	case errors.As(err, &me):
		number = me.Number
	case errors.As(err, &pme):
		number = pme.Number
	default:
		return "", false
	}

	switch {
	case transientNumbers[number]:
		return errors.ErrorTypeTransient, true
	case fatalNumbers[number]:
		return errors.ErrorTypeFatal, true
	}
	return "", false
}
