package tailer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/mapping"
	"bigcartel/trickle/sqldb"

	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

// Row is one change log row. Err is set when the row can't become a change
// event at all; the tailer skips it instead of retrying it forever.
type Row struct {
	changelog.ChangeEvent
	Err error
}

type Reader interface {
	// ReadSince returns change log rows with a sequence above watermark in
	// ascending order, at most limit of them when limit > 0.
	ReadSince(ctx context.Context, watermark int64, limit int) ([]Row, error)
}

// Source reads the trigger-maintained change log table.
type Source struct {
	db      *sqldb.DB
	mapping mapping.Mapping
	query   string
}

func NewSource(db *sqldb.DB, m mapping.Mapping) *Source {
	cl := m.ChangeLog
	columns := append([]string{cl.SequenceColumn, cl.KeyColumn, cl.ActionColumn}, m.Columns...)

	return &Source{
		db:      db,
		mapping: m,
		query: fmt.Sprintf("SELECT %s FROM %s WHERE %s > %s ORDER BY %s ASC",
			strings.Join(columns, ", "),
			cl.Table,
			cl.SequenceColumn,
			db.Dialect.Placeholder(1),
			cl.SequenceColumn),
	}
}

func (s *Source) ReadSince(ctx context.Context, watermark int64, limit int) ([]Row, error) {
	query := s.query
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	return sqldb.WithConn(ctx, s.db, func(conn *sql.Conn) ([]Row, error) {
		rows, err := conn.QueryContext(ctx, query, watermark)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to query %s", s.mapping.ChangeLog.Table)
		}
		defer rows.Close()

		read := make([]Row, 0)
		last := watermark

		for rows.Next() {
			r, err := s.scanRow(rows)
			if err != nil {
				return nil, err
			}

			if r.Sequence <= last {
				log.Warnf("ignoring change log row %d at or below %d", r.Sequence, last)
				continue
			}
			last = r.Sequence

			read = append(read, r)
		}

		return read, errors.Wrapf(rows.Err(), "unable to read %s", s.mapping.ChangeLog.Table)
	})
}

func (s *Source) scanRow(rows *sql.Rows) (Row, error) {
	var sequence int64
	var key sql.NullInt64
	var action sql.NullString

	values := make([]interface{}, len(s.mapping.Columns))
	dest := append(make([]interface{}, 0, len(values)+3), &sequence, &key, &action)
	for i := range values {
		dest = append(dest, &values[i])
	}

	if err := rows.Scan(dest...); err != nil {
		return Row{}, errors.Wrapf(err, "unable to scan %s row", s.mapping.ChangeLog.Table)
	}

	snapshot := make(changelog.Snapshot, len(values))
	for i, c := range s.mapping.Columns {
		if t, ok := values[i].(time.Time); ok && s.mapping.IsDate(c) {
			snapshot[c] = changelog.FormatDate(t)
			continue
		}
		snapshot[c] = values[i]
	}

	// Unknown actions travel as-is; the apply engine logs and skips them.
	a, _ := changelog.ParseAction(action.String)

	r := Row{ChangeEvent: changelog.ChangeEvent{
		Sequence:  sequence,
		EntityKey: key.Int64,
		Action:    a,
		Snapshot:  snapshot,
	}}

	if !key.Valid {
		r.Err = errors.Errorf("change log row %d has no %s", sequence, s.mapping.ChangeLog.KeyColumn)
	}

	return r, nil
}
