package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"

	_ "github.com/go-mysql-org/go-mysql/driver"
	_ "github.com/jackc/pgx/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	// DbName is the database name, or the file path for sqlite.
	DbName string
}

func (c Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Dsn renders the connection string in the format each registered driver
// expects.
func (c Config) Dsn(d Dialect) string {
	switch d.Name() {
	case Postgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     c.Address(),
			Path:     "/" + c.DbName,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case Mysql:
		// go-mysql's driver takes user:password@addr?db
		return fmt.Sprintf("%s:%s@%s?%s", c.User, c.Password, c.Address(), c.DbName)
	default:
		return "file:" + c.DbName + "?_pragma=busy_timeout(5000)"
	}
}

type DB struct {
	*sql.DB
	Dialect Dialect
	Config  Config
}

func Open(cfg Config) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.Dsn(dialect))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %s database %s", dialect.Name(), cfg.DbName)
	}

	if dialect.Name() == Sqlite {
		// a single writer avoids SQLITE_BUSY between the loops sharing a file
		db.SetMaxOpenConns(1)
	}

	log.Infof("opened %s database %s", dialect.Name(), cfg.DbName)

	return &DB{DB: db, Dialect: dialect, Config: cfg}, nil
}

// WithConn runs f on a dedicated connection that is handed back to the pool
// on every exit path. Each scan batch and each applied event is one unit.
func WithConn[T any](ctx context.Context, db *DB, f func(conn *sql.Conn) (T, error)) (T, error) {
	var zero T

	conn, err := db.Conn(ctx)
	if err != nil {
		return zero, errors.Wrapf(err, "unable to get %s connection", db.Dialect.Name())
	}
	defer conn.Close()

	return f(conn)
}
