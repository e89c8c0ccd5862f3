package base

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ajitpratap0/tablesync/pkg/errors"
)

// Classifier maps an engine-specific error to a sync category. It returns
// false when it does not recognise the error.
type Classifier func(err error) (errors.ErrorType, bool)

// fatalPatterns name conditions no reattempt can fix.
var fatalPatterns = []string{
	"access denied",
	"permission denied",
	"authentication failed",
	"login failed",
	"invalid credentials",
	"unauthorized",
	"duplicate key",
	"duplicate entry",
	"violates",
	"constraint",
	"foreign key",
	"cannot be null",
	"not-null",
	"syntax error",
	"does not exist",
	"doesn't exist",
	"unknown column",
	"invalid column",
	"invalid object name",
	"data too long",
	"truncated",
	"out of range",
	"invalid input",
	"conversion failed",
	"incorrect",
	"schema mismatch",
}

// transientPatterns name conditions expected to clear on retry.
var transientPatterns = []string{
	"deadlock",
	"lock wait timeout",
	"lock timeout",
	"lock request time out",
	"serialization failure",
	"could not serialize",
	"timeout",
	"timed out",
	"too many connections",
	"temporarily unavailable",
	"service unavailable",
	"try again",
	"throttl",
}

// connectionPatterns name lost or refused connections.
var connectionPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"invalid connection",
	"server has gone away",
	"lost connection",
	"connection closed",
	"unexpected eof",
	"no such host",
	"network",
	"i/o error",
}

// Classify wraps err with the sync category it belongs to. Errors that are
// already classified are returned unchanged. The engine classifier is
// consulted first, then transport-level checks, then message patterns.
// Anything left over is fatal.
func Classify(err error, engine Classifier, message string) error {
	if err == nil {
		return nil
	}

	switch errors.TypeOf(err) {
	case errors.ErrorTypeConnection, errors.ErrorTypeTransient, errors.ErrorTypeFatal:
		return err
	}

	return errors.Wrap(err, categorize(err, engine), message)
}

func categorize(err error, engine Classifier) errors.ErrorType {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.ErrorTypeTransient
	}

	if engine != nil {
		if t, ok := engine(err); ok {
			return t
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.ErrorTypeConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return errors.ErrorTypeConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errors.ErrorTypeTransient
		}
		return errors.ErrorTypeConnection
	}

	return ClassifyMessage(err.Error())
}

// ClassifyMessage categorizes an error from its text alone.
func ClassifyMessage(msg string) errors.ErrorType {
	msg = strings.ToLower(msg)

	switch {
	case matchesAny(msg, fatalPatterns):
		return errors.ErrorTypeFatal
	case matchesAny(msg, transientPatterns):
		return errors.ErrorTypeTransient
	case matchesAny(msg, connectionPatterns):
		return errors.ErrorTypeConnection
	}
	return errors.ErrorTypeFatal
}

// WrapConnectError classifies a failure to establish a connection. Only
// conditions the engine or the message identify as fatal (bad credentials,
// unknown database) are fatal; everything else is a connection error.
func WrapConnectError(err error, engine Classifier, message string) error {
	if err == nil {
		return nil
	}

	t := errors.ErrorTypeConnection
	if engine != nil {
		if et, ok := engine(err); ok && et == errors.ErrorTypeFatal {
			t = errors.ErrorTypeFatal
		}
	}
	if t != errors.ErrorTypeFatal && matchesAny(strings.ToLower(err.Error()), fatalPatterns) {
		t = errors.ErrorTypeFatal
	}
	return errors.Wrap(err, t, message)
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
