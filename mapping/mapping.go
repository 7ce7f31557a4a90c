// Package mapping describes which source table is replicated, which change
// log table feeds it and how the replica table is shaped.
package mapping

import (
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

var identifierMatcher = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type ChangeLog struct {
	Table          string `yaml:"table"`
	SequenceColumn string `yaml:"sequence_column"`
	KeyColumn      string `yaml:"key_column"`
	ActionColumn   string `yaml:"action_column"`
}

type Mapping struct {
	// Table is the replica table name. The source entity table has the same
	// shape but is only ever written by the application and its trigger.
	Table     string    `yaml:"table"`
	KeyColumn string    `yaml:"key_column"`
	Columns   []string  `yaml:"columns"`
	ChangeLog ChangeLog `yaml:"change_log"`
	// ColumnTypes is only used when creating the replica table.
	ColumnTypes map[string]string `yaml:"column_types"`
}

// Default mirrors the employees / emp_cdc schema the trigger is installed on.
func Default() Mapping {
	return Mapping{
		Table:     "employees",
		KeyColumn: "emp_id",
		Columns:   []string{"first_name", "last_name", "dob", "city", "salary"},
		ColumnTypes: map[string]string{
			"emp_id":     "INT",
			"first_name": "VARCHAR(100)",
			"last_name":  "VARCHAR(100)",
			"dob":        "DATE",
			"city":       "VARCHAR(100)",
			"salary":     "INT",
		},
		ChangeLog: ChangeLog{
			Table:          "emp_cdc",
			SequenceColumn: "cdc_id",
			KeyColumn:      "emp_id",
			ActionColumn:   "action",
		},
	}
}

// Load reads a yaml mapping file. Fields left out of the file keep their
// Default values.
func Load(path string) (Mapping, error) {
	m := Default()

	if path == "" {
		return m, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrapf(err, "unable to read table mapping %s", path)
	}

	return Parse(b)
}

func Parse(b []byte) (Mapping, error) {
	var f Mapping
	m := Default()

	if err := yaml.Unmarshal(b, &f); err != nil {
		return m, errors.Wrap(err, "unable to parse table mapping")
	}

	override(&m.Table, f.Table)
	override(&m.KeyColumn, f.KeyColumn)
	override(&m.ChangeLog.Table, f.ChangeLog.Table)
	override(&m.ChangeLog.SequenceColumn, f.ChangeLog.SequenceColumn)
	override(&m.ChangeLog.KeyColumn, f.ChangeLog.KeyColumn)
	override(&m.ChangeLog.ActionColumn, f.ChangeLog.ActionColumn)

	if len(f.Columns) > 0 {
		m.Columns = f.Columns
		m.ColumnTypes = f.ColumnTypes
	}

	return m, m.Validate()
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (m Mapping) Validate() error {
	names := []string{
		m.Table,
		m.KeyColumn,
		m.ChangeLog.Table,
		m.ChangeLog.SequenceColumn,
		m.ChangeLog.KeyColumn,
		m.ChangeLog.ActionColumn,
	}
	names = append(names, m.Columns...)

	for _, n := range names {
		if !identifierMatcher.MatchString(n) {
			return errors.Errorf("invalid identifier %q in table mapping", n)
		}
	}

	if len(m.Columns) == 0 {
		return errors.New("table mapping needs at least one attribute column")
	}

	seen := map[string]bool{m.KeyColumn: true}
	for _, c := range m.Columns {
		if seen[c] {
			return errors.Errorf("column %s listed twice in table mapping", c)
		}
		seen[c] = true
	}

	if m.ChangeLog.SequenceColumn == m.ChangeLog.KeyColumn ||
		m.ChangeLog.SequenceColumn == m.ChangeLog.ActionColumn {
		return errors.New("change log sequence column must differ from its key and action columns")
	}

	return nil
}

// AllColumns is the key column followed by the attribute columns, the order
// used for every replica statement.
func (m Mapping) AllColumns() []string {
	return append([]string{m.KeyColumn}, m.Columns...)
}

func (m Mapping) ColumnType(column, fallback string) string {
	if t, ok := m.ColumnTypes[column]; ok && t != "" {
		return t
	}

	return fallback
}

// IsDate reports whether column holds calendar dates rather than instants.
func (m Mapping) IsDate(column string) bool {
	return strings.EqualFold(strings.TrimSpace(m.ColumnTypes[column]), "DATE")
}
