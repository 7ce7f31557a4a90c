package config

import (
	"flag"
	"fmt"
	"strings"
	"time"

	"bigcartel/trickle/consts"

	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
)

const (
	ModeTailer  = "tailer"
	ModeApplier = "applier"
	ModeAll     = "all"

	ChannelKafka  = "kafka"
	ChannelMemory = "memory"

	CheckpointSql        = "sql"
	CheckpointClickhouse = "clickhouse"
	CheckpointMemory     = "memory"
)

type Config struct {
	Mode,
	SourceDriver,
	SourceHost,
	SourceUser,
	SourcePassword,
	SourceDb,
	ReplicaDriver,
	ReplicaHost,
	ReplicaUser,
	ReplicaPassword,
	ReplicaDb,
	Channel,
	KafkaTopic,
	KafkaConsumerGroup,
	AckPolicy,
	CheckpointStore,
	ClickhouseAddr,
	ClickhouseDb,
	ClickhouseUsername,
	ClickhousePassword,
	TableMapping,
	MetricsAddr,
	LogLevel *string

	SourcePort,
	ReplicaPort,
	ScanBatchSize,
	MemoryPartitions *int

	ScanInterval,
	KafkaTimeout,
	RetryReadInterval *time.Duration

	InitSchema,
	RunProfile *bool

	KafkaBrokers []string
}

func (c Config) RunsTailer() bool {
	return *c.Mode == ModeTailer || *c.Mode == ModeAll
}

func (c Config) RunsApplier() bool {
	return *c.Mode == ModeApplier || *c.Mode == ModeAll
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}

	return errors.Errorf("--%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
}

func (c Config) validate() error {
	if err := oneOf("mode", *c.Mode, ModeTailer, ModeApplier, ModeAll); err != nil {
		return err
	}

	if err := oneOf("channel", *c.Channel, ChannelKafka, ChannelMemory); err != nil {
		return err
	}

	if err := oneOf("checkpoint-store", *c.CheckpointStore, CheckpointSql, CheckpointClickhouse, CheckpointMemory); err != nil {
		return err
	}

	if *c.Channel == ChannelMemory && *c.Mode != ModeAll {
		return errors.New("--channel=memory only works with --mode=all, the tailer and applier have to share a process")
	}

	if *c.Channel == ChannelKafka && len(c.KafkaBrokers) == 0 {
		return errors.New("--kafka-brokers is required with --channel=kafka")
	}

	if *c.ScanBatchSize < 0 {
		return errors.New("--scan-batch-size can't be negative")
	}

	return nil
}

func csvToList(csv string) []string {
	list := make([]string, 0)
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}

	return list
}

func NewFromFlags(args []string) (Config, error) {
	c := Config{}

	fs := flag.NewFlagSet("Trickle", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Print(`
Trickle replicates a table from one database into another through kafka.

A trigger on the source table appends every insert, update and delete to a
change log table. The tailer polls that change log, publishes each new row
as a change event keyed by the row's primary key and remembers how far it
got. The applier consumes those events and upserts, updates or deletes the
matching replica row. Events can arrive twice or, across keys, in any
order; the replica still ends up matching the source.

Run both halves in one process with --mode=all, or split them with
--mode=tailer and --mode=applier.

All flags can be specified as environment variables.
--kafka-topic=employee_cdc becomes TRICKLE_KAFKA_TOPIC=employee_cdc

All flags can also be specified in a json config file specified via the --config flag:

{
  "kafka-topic": "employee_cdc"
}

Command line flags take precedence over config file values.

Flags:
`)
		fs.PrintDefaults()
	}

	var _ = fs.String("config", "", "config file (optional)")
	c.Mode = fs.String("mode", ModeAll, "Which half of the pipeline to run: tailer, applier or all")
	c.SourceDriver = fs.String("source-driver", "postgres", "Source database: postgres, mysql or sqlite")
	c.SourceHost = fs.String("source-host", "localhost", "Source database host")
	c.SourcePort = fs.Int("source-port", 5434, "Source database port")
	c.SourceUser = fs.String("source-user", "postgres", "Source database user")
	c.SourcePassword = fs.String("source-password", "postgres", "Source database password")
	c.SourceDb = fs.String("source-db", "postgres", "Source database name, or file path for sqlite")
	c.ReplicaDriver = fs.String("replica-driver", "postgres", "Replica database: postgres, mysql or sqlite")
	c.ReplicaHost = fs.String("replica-host", "localhost", "Replica database host")
	c.ReplicaPort = fs.Int("replica-port", 5435, "Replica database port")
	c.ReplicaUser = fs.String("replica-user", "postgres", "Replica database user")
	c.ReplicaPassword = fs.String("replica-password", "postgres", "Replica database password")
	c.ReplicaDb = fs.String("replica-db", "postgres", "Replica database name, or file path for sqlite")
	c.Channel = fs.String("channel", ChannelKafka, "Event channel between tailer and applier: kafka or memory (memory requires --mode=all)")
	c.KafkaTopic = fs.String("kafka-topic", consts.DefaultTopic, "Topic change events are published to")
	c.KafkaConsumerGroup = fs.String("kafka-consumer-group", consts.DefaultConsumerGroup, "Consumer group the applier commits offsets under")
	c.KafkaTimeout = fs.Duration("kafka-timeout", 10*time.Second, "Timeout for a single publish to kafka")
	c.MemoryPartitions = fs.Int("memory-partitions", 4, "Partitions of the in-process channel")
	c.ScanInterval = fs.Duration("scan-interval", 500*time.Millisecond, "How often the tailer polls the change log (valid values - 1m, 10s, 500ms, etc...)")
	c.ScanBatchSize = fs.Int("scan-batch-size", 0, "Maximum change log rows read per scan, 0 reads everything new")
	c.RetryReadInterval = fs.Duration("retry-read-interval", time.Second, "How long the applier waits before reading again after a channel error")
	c.AckPolicy = fs.String("ack-policy", "after-apply", `When the applier commits a delivery. after-apply redelivers events interrupted by a crash,
before-apply drops them`)
	c.CheckpointStore = fs.String("checkpoint-store", CheckpointSql, "Where the tailer keeps its watermark: sql (the replica database), clickhouse or memory")
	c.ClickhouseAddr = fs.String("clickhouse-addr", "0.0.0.0:9000", "ip/url and port for the clickhouse checkpoint store")
	c.ClickhouseDb = fs.String("clickhouse-db", "trickle", "clickhouse db holding the checkpoint table")
	c.ClickhouseUsername = fs.String("clickhouse-username", "default", "Clickhouse username")
	c.ClickhousePassword = fs.String("clickhouse-password", "", "Clickhouse password")
	c.TableMapping = fs.String("table-mapping", "", "yaml file describing the replicated table and its change log (defaults to employees / emp_cdc)")
	c.InitSchema = fs.Bool("init-schema", false, "Create the replica and checkpoint tables if they don't exist before starting")
	c.MetricsAddr = fs.String("metrics-addr", ":9090", "Address to serve prometheus metrics on, empty to disable")
	c.LogLevel = fs.String("log-level", "info", "Log level: debug, info, warn or error")
	c.RunProfile = fs.Bool("profile", false, "Outputs pprof profile to cpu.pprof for performance analysis")

	KafkaBrokers := fs.String("kafka-brokers", "localhost:29092", "Comma separated list of kafka brokers")

	err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("TRICKLE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.JSONParser),
	)

	if err != nil {
		return c, err
	}

	c.KafkaBrokers = csvToList(*KafkaBrokers)

	return c, c.validate()
}
