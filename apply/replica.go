package apply

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/consts"
	"bigcartel/trickle/mapping"
	"bigcartel/trickle/sqldb"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

// Writer is what one change event gets to do to the replica. All calls
// made through one Writer commit or roll back together.
type Writer interface {
	Upsert(ctx context.Context, key int64, s changelog.Snapshot) error
	Update(ctx context.Context, key int64, s changelog.Snapshot) (int64, error)
	Delete(ctx context.Context, key int64) (int64, error)
	// AppliedSequence is the sequence of the last event applied for key,
	// 0 when none has been.
	AppliedSequence(ctx context.Context, key int64) (int64, error)
	MarkApplied(ctx context.Context, key, sequence int64) error
}

type Replica interface {
	Within(ctx context.Context, f func(w Writer) error) error
}

type statements struct {
	upsert,
	update,
	delete,
	appliedSequence,
	markApplied string
}

// SQLReplica writes to the replica table described by a mapping. Next to it
// lives trickle_applied, holding the last applied sequence per key.
type SQLReplica struct {
	db         *sqldb.DB
	mapping    mapping.Mapping
	statements statements
}

func NewSQLReplica(db *sqldb.DB, m mapping.Mapping) *SQLReplica {
	d := db.Dialect
	columns := m.AllColumns()

	sets := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		sets[i] = fmt.Sprintf("%s = %s", c, d.Placeholder(i+1))
	}

	return &SQLReplica{
		db:      db,
		mapping: m,
		statements: statements{
			upsert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
				m.Table,
				strings.Join(columns, ", "),
				sqldb.Placeholders(d, 1, len(columns)),
				d.UpsertClause(m.KeyColumn, m.Columns)),
			update: fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
				m.Table,
				strings.Join(sets, ", "),
				m.KeyColumn,
				d.Placeholder(len(m.Columns)+1)),
			delete: fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
				m.Table, m.KeyColumn, d.Placeholder(1)),
			appliedSequence: fmt.Sprintf("SELECT applied_sequence FROM %s WHERE table_name = %s AND entity_key = %s",
				consts.AppliedSequenceTable, d.Placeholder(1), d.Placeholder(2)),
			markApplied: fmt.Sprintf("INSERT INTO %s (table_name, entity_key, applied_sequence) VALUES (%s) %s",
				consts.AppliedSequenceTable,
				sqldb.Placeholders(d, 1, 3),
				d.UpsertClause("table_name, entity_key", []string{"applied_sequence"})),
		},
	}
}

// EnsureTable creates the replica table and the applied sequence table when
// they don't exist yet. Existing tables are left as they are.
func (r *SQLReplica) EnsureTable(ctx context.Context) error {
	d := r.db.Dialect
	m := r.mapping

	definitions := []string{fmt.Sprintf("%s %s NOT NULL PRIMARY KEY", m.KeyColumn, m.ColumnType(m.KeyColumn, "BIGINT"))}
	for _, c := range m.Columns {
		definitions = append(definitions, fmt.Sprintf("%s %s", c, m.ColumnType(c, d.DefaultColumnType())))
	}

	ddl := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", m.Table, strings.Join(definitions, ", ")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name VARCHAR(255) NOT NULL,
			entity_key BIGINT NOT NULL,
			applied_sequence BIGINT NOT NULL,
			PRIMARY KEY (table_name, entity_key)
		)`, consts.AppliedSequenceTable),
	}

	for _, s := range ddl {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return errors.Wrapf(err, "unable to create replica tables for %s", m.Table)
		}
	}

	log.Infof("replica table %s ready", m.Table)

	return nil
}

// Within runs f in a transaction on a connection of its own.
func (r *SQLReplica) Within(ctx context.Context, f func(w Writer) error) error {
	_, err := sqldb.WithConn(ctx, r.db, func(conn *sql.Conn) (struct{}, error) {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, errors.Wrap(err, "unable to begin replica transaction")
		}
		// no-op once committed
		defer tx.Rollback()

		if err := f(&sqlWriter{replica: r, tx: tx}); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, errors.Wrap(tx.Commit(), "unable to commit replica transaction")
	})

	return err
}

type sqlWriter struct {
	replica *SQLReplica
	tx      *sql.Tx
}

func (w *sqlWriter) Upsert(ctx context.Context, key int64, s changelog.Snapshot) error {
	args := append([]interface{}{key}, s.Values(w.replica.mapping.Columns)...)

	_, err := w.tx.ExecContext(ctx, w.replica.statements.upsert, args...)

	return errors.Wrapf(err, "unable to upsert %s %d", w.replica.mapping.Table, key)
}

func (w *sqlWriter) Update(ctx context.Context, key int64, s changelog.Snapshot) (int64, error) {
	args := append(s.Values(w.replica.mapping.Columns), key)

	res, err := w.tx.ExecContext(ctx, w.replica.statements.update, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to update %s %d", w.replica.mapping.Table, key)
	}

	return rowsAffected(res)
}

func (w *sqlWriter) Delete(ctx context.Context, key int64) (int64, error) {
	res, err := w.tx.ExecContext(ctx, w.replica.statements.delete, key)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to delete %s %d", w.replica.mapping.Table, key)
	}

	return rowsAffected(res)
}

func (w *sqlWriter) AppliedSequence(ctx context.Context, key int64) (int64, error) {
	var sequence int64

	err := w.tx.QueryRowContext(ctx, w.replica.statements.appliedSequence, w.replica.mapping.Table, key).Scan(&sequence)
	if err == sql.ErrNoRows {
		return 0, nil
	}

	return sequence, errors.Wrapf(err, "unable to read applied sequence for %s %d", w.replica.mapping.Table, key)
}

func (w *sqlWriter) MarkApplied(ctx context.Context, key, sequence int64) error {
	_, err := w.tx.ExecContext(ctx, w.replica.statements.markApplied, w.replica.mapping.Table, key, sequence)

	return errors.Wrapf(err, "unable to record applied sequence for %s %d", w.replica.mapping.Table, key)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()

	return n, errors.Wrap(err, "unable to read rows affected")
}
