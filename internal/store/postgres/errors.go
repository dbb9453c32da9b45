package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes consulted by the repositories.
const (
	codeUniqueViolation = "23505"
	codeDuplicateTable  = "42P07"
)

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool {
	return isPgError(err, codeUniqueViolation)
}
