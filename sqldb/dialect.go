package sqldb

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Dialect covers the handful of statements that differ between the
// databases the source and replica can live in. Identifiers are never
// quoted; mapping.Validate only lets plain identifiers through.
type Dialect interface {
	Name() string
	DriverName() string
	// Placeholder returns the bind parameter for the n-th (1 based) argument.
	Placeholder(n int) string
	// UpsertClause is appended to an INSERT so a conflict on key overwrites
	// the given columns.
	UpsertClause(key string, columns []string) string
	DefaultColumnType() string
}

const (
	Postgres = "postgres"
	Mysql    = "mysql"
	Sqlite   = "sqlite"
)

type postgresDialect struct{}

func (postgresDialect) Name() string       { return Postgres }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) UpsertClause(key string, columns []string) string {
	return onConflictClause(key, columns)
}

func (postgresDialect) DefaultColumnType() string { return "TEXT" }

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return Sqlite }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) UpsertClause(key string, columns []string) string {
	return onConflictClause(key, columns)
}

func (sqliteDialect) DefaultColumnType() string { return "TEXT" }

type mysqlDialect struct{}

func (mysqlDialect) Name() string       { return Mysql }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) UpsertClause(_ string, columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
	}

	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

// mysql can't index an unbounded TEXT primary key
func (mysqlDialect) DefaultColumnType() string { return "VARCHAR(255)" }

func onConflictClause(key string, columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}

	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", key, strings.Join(sets, ", "))
}

func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case Postgres, "postgresql", "pgx":
		return postgresDialect{}, nil
	case Mysql:
		return mysqlDialect{}, nil
	case Sqlite, "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, errors.Errorf("unsupported database driver %q", name)
	}
}

// Placeholders renders count bind parameters starting at the from-th argument.
func Placeholders(d Dialect, from, count int) string {
	p := make([]string, count)
	for i := range p {
		p[i] = d.Placeholder(from + i)
	}

	return strings.Join(p, ", ")
}
