package database

import (
	"database/sql"
	"errors"

	"golang.org/x/xerrors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNoRows is returned when a query that must match a row matches none.
var ErrNoRows = sql.ErrNoRows

// IsUniqueViolation checks if the error is due to a unique or primary key
// constraint violation.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, errUniqueViolation) {
		return true
	}
	var sqliteErr *sqlite.Error
	if xerrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}

// errUniqueViolation is returned by in-memory stores. Exported through
// UniqueViolation for fakes outside the package.
var errUniqueViolation = xerrors.New("unique constraint violation")

// UniqueViolation returns an error that satisfies IsUniqueViolation.
func UniqueViolation(detail string) error {
	return xerrors.Errorf("%s: %w", detail, errUniqueViolation)
}
