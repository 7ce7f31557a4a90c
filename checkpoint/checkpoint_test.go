package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"bigcartel/trickle/sqldb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	name := WatermarkKey("emp_cdc")

	seq, err := s.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq, "missing checkpoints start at zero")

	require.NoError(t, s.Save(ctx, name, 41))
	require.NoError(t, s.Save(ctx, name, 42))

	seq, err = s.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	other, err := s.Load(ctx, WatermarkKey("other_cdc"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)
}

func TestWatermarkKey(t *testing.T) {
	assert.Equal(t, "watermark-emp_cdc", WatermarkKey("emp_cdc"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.db")
	db, err := sqldb.Open(sqldb.Config{Driver: sqldb.Sqlite, DbName: path})
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLStore(db)
	require.NoError(t, s.Setup(context.Background()))
	require.NoError(t, s.Setup(context.Background()), "setup is repeatable")

	exerciseStore(t, s)

	// a second store over the same database sees the saved position
	reopened, err := sqldb.Open(sqldb.Config{Driver: sqldb.Sqlite, DbName: path})
	require.NoError(t, err)
	defer reopened.Close()

	seq, err := NewSQLStore(reopened).Load(context.Background(), WatermarkKey("emp_cdc"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}

// Needs a clickhouse server, e.g. TRICKLE_TEST_CLICKHOUSE_ADDR=0.0.0.0:9001
func TestClickhouseStore(t *testing.T) {
	addr := os.Getenv("TRICKLE_TEST_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("TRICKLE_TEST_CLICKHOUSE_ADDR not set")
	}

	s, err := NewClickhouseStore(ClickhouseConfig{
		Address:  addr,
		Username: "default",
		DbName:   "trickle_test",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Setup(ctx))
	require.NoError(t, s.Conn.Exec(ctx, "truncate table trickle_test.trickle_sync_state"))

	exerciseStore(t, s)
}
