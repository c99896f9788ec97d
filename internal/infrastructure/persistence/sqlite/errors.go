package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/garyjia/cash-clearing/internal/infrastructure/resilience"
)

// ClassifyError judges a store error for the guard: busy, locked and dropped
// connections are retried; constraint violations and missing rows are the
// caller's problem and leave the breaker alone.
func ClassifyError(err error) resilience.Verdict {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrNoRows):
		return resilience.Verdict{}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return resilience.Verdict{Retry: true, Trip: true}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return resilience.Verdict{Retry: true, Trip: true}
		case sqlite3.ErrConstraint:
			return resilience.Verdict{}
		}
	}
	return resilience.Verdict{Trip: true}
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
