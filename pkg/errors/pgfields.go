package errors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgresFields extracts the server-side diagnostics of a Postgres error anywhere in
// err's chain, keyed for structured logs. It returns nil for non-Postgres errors.
func PostgresFields(err error) map[string]string {
	if err == nil {
		return nil
	}
	var out map[string]string
	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		out = map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_constraint": pgxErr.ConstraintName,
			"pg_table":      pgxErr.TableName,
			"pg_column":     pgxErr.ColumnName,
			"pg_detail":     pgxErr.Detail,
		}
	case errors.As(err, &pqErr):
		out = map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_constraint": pqErr.Constraint,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_detail":     pqErr.Detail,
		}
	default:
		return nil
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out
}
