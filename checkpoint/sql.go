package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	"bigcartel/trickle/consts"
	"bigcartel/trickle/sqldb"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

// SQLStore keeps checkpoints in a key/value table next to the replica, so
// the replica and the position it was fed from live in the same place.
type SQLStore struct {
	db    *sqldb.DB
	table string
}

func NewSQLStore(db *sqldb.DB) *SQLStore {
	return &SQLStore{db: db, table: consts.SyncStateTable}
}

func (s *SQLStore) Setup(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			state_key VARCHAR(255) NOT NULL PRIMARY KEY,
			state_value BIGINT NOT NULL
		)`, s.table))

	return errors.Wrapf(err, "unable to create %s", s.table)
}

func (s *SQLStore) Load(ctx context.Context, name string) (int64, error) {
	return sqldb.WithConn(ctx, s.db, func(conn *sql.Conn) (int64, error) {
		var sequence int64

		err := conn.QueryRowContext(ctx,
			fmt.Sprintf("SELECT state_value FROM %s WHERE state_key = %s", s.table, s.db.Dialect.Placeholder(1)),
			name).Scan(&sequence)

		if err == sql.ErrNoRows {
			return 0, nil
		}

		return sequence, errors.Wrapf(err, "unable to read checkpoint %s", name)
	})
}

func (s *SQLStore) Save(ctx context.Context, name string, sequence int64) error {
	_, err := sqldb.WithConn(ctx, s.db, func(conn *sql.Conn) (struct{}, error) {
		_, err := conn.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (state_key, state_value) VALUES (%s) %s",
				s.table,
				sqldb.Placeholders(s.db.Dialect, 1, 2),
				s.db.Dialect.UpsertClause("state_key", []string{"state_value"})),
			name, sequence)

		return struct{}{}, err
	})

	if err != nil {
		return errors.Wrapf(err, "unable to persist checkpoint %s", name)
	}

	log.Debugf("persisted checkpoint %s=%d", name, sequence)

	return nil
}
