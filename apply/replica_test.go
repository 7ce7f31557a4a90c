package apply

import (
	"context"
	"testing"

	"bigcartel/trickle/changelog"
	"bigcartel/trickle/mapping"
	"bigcartel/trickle/sqldb"
	"bigcartel/trickle/sqldb/sqlitetest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const replicaQuery = "SELECT emp_id, first_name, last_name, dob, city, salary FROM employees"

func newReplica(t *testing.T) (*SQLReplica, *sqldb.DB) {
	db := sqlitetest.Open(t, "replica")
	r := NewSQLReplica(db, mapping.Default())
	require.NoError(t, r.EnsureTable(context.Background()))

	return r, db
}

func employee(first string, salary int64) changelog.Snapshot {
	return changelog.Snapshot{
		"first_name": first,
		"last_name":  "Doe",
		"dob":        "1990-04-02",
		"city":       "Austin",
		"salary":     salary,
	}
}

func TestEnsureTableIsRepeatable(t *testing.T) {
	r, _ := newReplica(t)
	assert.NoError(t, r.EnsureTable(context.Background()))
}

func TestReplicaStatements(t *testing.T) {
	r, db := newReplica(t)
	ctx := context.Background()

	err := r.Within(ctx, func(w Writer) error {
		require.NoError(t, w.Upsert(ctx, 1, employee("John", 75000)))
		require.NoError(t, w.Upsert(ctx, 1, employee("John", 76000)))

		n, err := w.Update(ctx, 1, employee("John", 85000))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = w.Update(ctx, 2, employee("Jane", 1))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "missing rows aren't updated")

		return nil
	})
	require.NoError(t, err)

	rows := sqlitetest.Rows(t, db, replicaQuery)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(85000), rows[1]["salary"])
	assert.Equal(t, "Austin", rows[1]["city"])

	err = r.Within(ctx, func(w Writer) error {
		n, err := w.Delete(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = w.Delete(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, sqlitetest.Rows(t, db, replicaQuery))
}

func TestReplicaIgnoresUnmappedAttributes(t *testing.T) {
	r, db := newReplica(t)
	ctx := context.Background()

	s := changelog.Snapshot{"first_name": "John", "nickname": "JD"}
	require.NoError(t, r.Within(ctx, func(w Writer) error { return w.Upsert(ctx, 3, s) }))

	rows := sqlitetest.Rows(t, db, replicaQuery)
	assert.Equal(t, "John", rows[3]["first_name"])
	assert.Nil(t, rows[3]["salary"])
}

func TestAppliedSequence(t *testing.T) {
	r, _ := newReplica(t)
	ctx := context.Background()

	err := r.Within(ctx, func(w Writer) error {
		seq, err := w.AppliedSequence(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), seq)

		require.NoError(t, w.MarkApplied(ctx, 1, 4))
		require.NoError(t, w.MarkApplied(ctx, 1, 9))

		seq, err = w.AppliedSequence(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(9), seq)

		return nil
	})
	assert.NoError(t, err)
}

func TestWithinRollsBackOnError(t *testing.T) {
	r, db := newReplica(t)
	ctx := context.Background()

	err := r.Within(ctx, func(w Writer) error {
		require.NoError(t, w.Upsert(ctx, 1, employee("John", 75000)))
		return errors.New("boom")
	})

	assert.EqualError(t, err, "boom")
	assert.Empty(t, sqlitetest.Rows(t, db, replicaQuery))
}
