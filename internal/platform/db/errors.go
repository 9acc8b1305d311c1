package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories translate.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeSerializationFail   = "40001"
)

// IsNoRows reports whether err is pgx's "no rows in result set".
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// PgCode returns the SQLSTATE and constraint name carried by err, if any.
func PgCode(err error) (code, constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", "", false
	}
	return pgErr.Code, pgErr.ConstraintName, true
}

func IsUniqueViolation(err error) bool {
	code, _, ok := PgCode(err)
	return ok && code == CodeUniqueViolation
}

func IsForeignKeyViolation(err error) bool {
	code, _, ok := PgCode(err)
	return ok && code == CodeForeignKeyViolation
}

func IsCheckViolation(err error) bool {
	code, _, ok := PgCode(err)
	return ok && code == CodeCheckViolation
}
