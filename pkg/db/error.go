package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation = "23505"
	pgLockNotAvail    = "55P03"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation on
// any supported dialect. Idempotent inserts treat this as already-done.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	// MySQL (error 1062) and SQLite keep the message as the only signal.
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	return false
}

// IsLockTimeoutErr reports whether err is a row-lock acquisition failure.
func IsLockTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvail
	}
	return strings.Contains(err.Error(), "database is locked")
}
