package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// appendListOpts appends time filters on col, newest-first ordering and
// pagination to query. Placeholders continue after the existing args.
func appendListOpts(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	next := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", col, next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", col, next)
		args = append(args, *opts.Until)
		next++
	}
	query += fmt.Sprintf(" ORDER BY %s DESC", col)
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, opts.Limit)
		next++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return query, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
