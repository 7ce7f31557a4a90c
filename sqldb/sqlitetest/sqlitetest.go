// Package sqlitetest sets up throwaway sqlite databases shaped like the
// default table mapping, including the change log triggers a real source
// database would have installed.
package sqlitetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/sqldb"

	"github.com/stretchr/testify/require"
)

const employeesTable = `
	CREATE TABLE IF NOT EXISTS employees (
		emp_id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name VARCHAR(100),
		last_name VARCHAR(100),
		dob DATE,
		city VARCHAR(100),
		salary INT
	)`

var sourceStatements = []string{
	employeesTable,
	`CREATE TABLE IF NOT EXISTS emp_cdc (
		cdc_id INTEGER PRIMARY KEY AUTOINCREMENT,
		emp_id INT,
		first_name VARCHAR(100),
		last_name VARCHAR(100),
		dob DATE,
		city VARCHAR(100),
		salary INT,
		action VARCHAR(100)
	)`,
	`CREATE TRIGGER IF NOT EXISTS employee_cdc_insert AFTER INSERT ON employees BEGIN
		INSERT INTO emp_cdc (emp_id, first_name, last_name, dob, city, salary, action)
		VALUES (NEW.emp_id, NEW.first_name, NEW.last_name, NEW.dob, NEW.city, NEW.salary, 'INSERT');
	END`,
	`CREATE TRIGGER IF NOT EXISTS employee_cdc_update AFTER UPDATE ON employees BEGIN
		INSERT INTO emp_cdc (emp_id, first_name, last_name, dob, city, salary, action)
		VALUES (NEW.emp_id, NEW.first_name, NEW.last_name, NEW.dob, NEW.city, NEW.salary, 'UPDATE');
	END`,
	`CREATE TRIGGER IF NOT EXISTS employee_cdc_delete AFTER DELETE ON employees BEGIN
		INSERT INTO emp_cdc (emp_id, first_name, last_name, dob, city, salary, action)
		VALUES (OLD.emp_id, OLD.first_name, OLD.last_name, OLD.dob, OLD.city, OLD.salary, 'DELETE');
	END`,
}

func Open(t testing.TB, name string) *sqldb.DB {
	db, err := sqldb.Open(sqldb.Config{
		Driver: sqldb.Sqlite,
		DbName: filepath.Join(t.TempDir(), name+".db"),
	})
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func Exec(t testing.TB, db *sqldb.DB, statements ...string) {
	for _, s := range statements {
		_, err := db.ExecContext(context.Background(), s)
		require.NoError(t, err, s)
	}
}

// OpenSource returns a database with employees, emp_cdc and the triggers
// feeding emp_cdc.
func OpenSource(t testing.TB) *sqldb.DB {
	db := Open(t, "source")
	Exec(t, db, sourceStatements...)

	return db
}

// Rows reads a whole table keyed by its first column, with values
// normalized the same way change events are.
func Rows(t testing.TB, db *sqldb.DB, query string) map[int64]changelog.Snapshot {
	rows, err := db.QueryContext(context.Background(), query)
	require.NoError(t, err)
	defer rows.Close()

	columns, err := rows.Columns()
	require.NoError(t, err)

	out := make(map[int64]changelog.Snapshot)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}

		require.NoError(t, rows.Scan(dest...))

		var key sql.NullInt64
		require.NoError(t, key.Scan(values[0]))

		s := make(changelog.Snapshot, len(columns)-1)
		for i, c := range columns[1:] {
			s[c] = changelog.NormalizeValue(values[i+1])
		}
		out[key.Int64] = s
	}

	require.NoError(t, rows.Err())

	return out
}
