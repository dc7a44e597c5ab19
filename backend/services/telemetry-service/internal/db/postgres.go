package db

import (
	"database/sql"

	libdb "aquaflow/backend/libs/db"
)

// NewPostgres connects to Postgres using shared library helper.
func NewPostgres(dsn string, pool libdb.PoolOptions) (*sql.DB, error) {
	return libdb.NewPostgresDB(dsn, pool)
}
