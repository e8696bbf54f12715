package dbstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// containsSQLState reports whether err wraps a pgconn.PgError with the given
// SQLSTATE code (e.g. "23505" for unique_violation).
func containsSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
