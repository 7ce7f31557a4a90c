package checkpoint

import (
	"context"
	"fmt"
	"strconv"

	"bigcartel/trickle/consts"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"
	"github.com/siddontang/go-log/log"
)

type ClickhouseConfig struct {
	Address  string
	Username string
	Password string
	DbName   string
}

// ClickhouseStore keeps checkpoints in an EmbeddedRocksDB table, where an
// insert for an existing key replaces it.
type ClickhouseStore struct {
	Conn   driver.Conn
	Config ClickhouseConfig
}

func NewClickhouseStore(config ClickhouseConfig) (*ClickhouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Address},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: config.Username,
			Password: config.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to clickhouse at %s", config.Address)
	}

	return &ClickhouseStore{Conn: conn, Config: config}, nil
}

func (s *ClickhouseStore) tableWithDb() string {
	return fmt.Sprintf("%s.%s", s.Config.DbName, consts.SyncStateTable)
}

func (s *ClickhouseStore) Setup(ctx context.Context) error {
	if err := s.Conn.Exec(ctx, fmt.Sprintf("create database if not exists %s", s.Config.DbName)); err != nil {
		return errors.Wrapf(err, "unable to create clickhouse database %s", s.Config.DbName)
	}

	err := s.Conn.Exec(ctx, fmt.Sprintf(`
		create table if not exists %s (
			key String,
			value String
	 ) ENGINE = EmbeddedRocksDB PRIMARY KEY(key)`, s.tableWithDb()))

	return errors.Wrapf(err, "unable to create %s", s.tableWithDb())
}

func (s *ClickhouseStore) Load(ctx context.Context, name string) (int64, error) {
	type storedKeyValue struct {
		Value string `ch:"value"`
	}

	var rows []storedKeyValue

	err := s.Conn.Select(ctx,
		&rows,
		fmt.Sprintf("select value from %s where key = $1", s.tableWithDb()),
		name)

	if err != nil {
		return 0, errors.Wrapf(err, "unable to read checkpoint %s", name)
	}

	if len(rows) == 0 || rows[0].Value == "" {
		return 0, nil
	}

	sequence, err := strconv.ParseInt(rows[0].Value, 10, 64)
	return sequence, errors.Wrapf(err, "stored checkpoint %s is not a sequence", name)
}

func (s *ClickhouseStore) Save(ctx context.Context, name string, sequence int64) error {
	err := s.Conn.Exec(ctx,
		fmt.Sprintf("insert into %s (key, value) values ($1, $2)", s.tableWithDb()),
		name,
		strconv.FormatInt(sequence, 10))

	if err != nil {
		return errors.Wrapf(err, "unable to persist checkpoint %s", name)
	}

	log.Debugf("persisted checkpoint %s=%d", name, sequence)

	return nil
}
