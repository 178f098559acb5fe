// Package sqlutil holds the small amount of SQL plumbing shared by the
// packages that talk to the database: dialect selection and placeholder
// rebinding, so the same queries run on sqlite and postgres.
package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavor of the underlying driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch name {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "pq":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", name)
}

// Rebind rewrites ?-style placeholders into the dialect's native form.
// Queries in this codebase are written with ? and rebound at the call site.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting store methods run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
