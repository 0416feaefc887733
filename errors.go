package main

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrValidation は入力値の不備を表します。個別のエラーはこれをラップします
var ErrValidation = errors.New("validation error")

var (
	ErrMissingField     = fmt.Errorf("%w: username and password are required", ErrValidation)
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrValidation)
	ErrPasswordTooLong  = fmt.Errorf("%w: password is too long", ErrValidation)
	ErrInvalidDate      = fmt.Errorf("%w: invalid date", ErrValidation)
	ErrUnknownChoice    = fmt.Errorf("%w: unknown lunch choice", ErrValidation)

	ErrDuplicateUsername  = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPastDateLocked     = errors.New("lunch date is in the past")
	ErrUnauthorized       = errors.New("admin access required")
	ErrNotFound           = errors.New("not found")
)

// isUniqueViolation は一意制約違反のエラーかどうかを判定します
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}
