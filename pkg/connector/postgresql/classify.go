package postgresql

import (
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
var transientStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
}

var connectionStates = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// Classify maps pgx errors to sync categories.
func Classify(err error) (errors.ErrorType, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyState(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errors.ErrorTypeConnection, true
	}
	if pgconn.Timeout(err) {
		return errors.ErrorTypeTransient, true
	}
	if pgconn.SafeToRetry(err) {
		return errors.ErrorTypeConnection, true
	}
	return "", false
}

func classifyState(code string) (errors.ErrorType, bool) {
	switch {
	case transientStates[code]:
		return errors.ErrorTypeTransient, true
	case connectionStates[code]:
		return errors.ErrorTypeConnection, true
	}

	switch class := code[:min(2, len(code))]; class {
	case "08":
		return errors.ErrorTypeConnection, true
	case "53":
		return errors.ErrorTypeTransient, true
	case "22", "23", "28", "3D", "42", "XX":
		return errors.ErrorTypeFatal, true
	}
	return "", false
}
