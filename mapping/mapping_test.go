package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	m := Default()
	assert.NoError(t, m.Validate())
	assert.Equal(t, []string{"emp_id", "first_name", "last_name", "dob", "city", "salary"}, m.AllColumns())
}

func TestParseOverridesDefaults(t *testing.T) {
	m, err := Parse([]byte(`
table: accounts
key_column: account_id
columns:
  - name
  - balance
change_log:
  table: account_changes
`))

	require.NoError(t, err)
	assert.Equal(t, "accounts", m.Table)
	assert.Equal(t, "account_id", m.KeyColumn)
	assert.Equal(t, []string{"name", "balance"}, m.Columns)
	assert.Equal(t, "account_changes", m.ChangeLog.Table)
	assert.Equal(t, "cdc_id", m.ChangeLog.SequenceColumn, "unset fields keep defaults")
	assert.Equal(t, "TEXT", m.ColumnType("balance", "TEXT"), "default types don't leak into a custom column list")
}

func TestColumnType(t *testing.T) {
	m := Default()
	assert.Equal(t, "DATE", m.ColumnType("dob", "TEXT"))
	assert.Equal(t, "TEXT", m.ColumnType("nickname", "TEXT"))
}

func TestIsDate(t *testing.T) {
	m := Default()
	assert.True(t, m.IsDate("dob"))
	assert.False(t, m.IsDate("salary"))

	m.ColumnTypes["hired_at"] = " date "
	m.ColumnTypes["updated_at"] = "TIMESTAMPTZ"
	assert.True(t, m.IsDate("hired_at"))
	assert.False(t, m.IsDate("updated_at"))
	assert.False(t, m.IsDate("nickname"))
}

func TestValidateRejectsBadIdentifiers(t *testing.T) {
	m := Default()
	m.Columns = []string{"name; drop table employees"}
	assert.Error(t, m.Validate())
}

func TestValidateRejectsDuplicateColumns(t *testing.T) {
	m := Default()
	m.Columns = []string{"city", "city"}
	assert.Error(t, m.Validate())

	m.Columns = []string{"emp_id"}
	assert.Error(t, m.Validate(), "key column can't be an attribute column")
}

func TestValidateRejectsEmptyColumns(t *testing.T) {
	m := Default()
	m.Columns = nil
	assert.Error(t, m.Validate())
}

func TestLoad(t *testing.T) {
	m, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), m)

	path := filepath.Join(t.TempDir(), "mapping.yml")
	require.NoError(t, os.WriteFile(path, []byte("columns: [first_name, salary]\n"), 0o644))

	m, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "salary"}, m.Columns)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
