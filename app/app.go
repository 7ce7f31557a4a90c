package app

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"bigcartel/trickle/apply"
	"bigcartel/trickle/channel"
	"bigcartel/trickle/checkpoint"
	"bigcartel/trickle/config"
	"bigcartel/trickle/err_utils"
	"bigcartel/trickle/mapping"
	"bigcartel/trickle/sqldb"
	"bigcartel/trickle/stats"
	"bigcartel/trickle/tailer"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/siddontang/go-log/log"
)

const statsInterval = time.Minute

type App struct {
	Ctx      context.Context
	Shutdown context.CancelFunc
	Config   config.Config
	Mapping  mapping.Mapping
	Stats    *stats.Stats
	// Source is only opened when this process tails the change log.
	Source *sqldb.DB
	// Replica is opened for the applier and for the sql checkpoint store.
	Replica     *sqldb.DB
	PublisherId string

	testing     bool
	broker      *channel.MemoryBroker
	checkpoints checkpoint.Store
}

func sourceConfig(c config.Config) sqldb.Config {
	return sqldb.Config{
		Driver:   *c.SourceDriver,
		Host:     *c.SourceHost,
		Port:     *c.SourcePort,
		User:     *c.SourceUser,
		Password: *c.SourcePassword,
		DbName:   *c.SourceDb,
	}
}

func replicaConfig(c config.Config) sqldb.Config {
	return sqldb.Config{
		Driver:   *c.ReplicaDriver,
		Host:     *c.ReplicaHost,
		Port:     *c.ReplicaPort,
		User:     *c.ReplicaUser,
		Password: *c.ReplicaPassword,
		DbName:   *c.ReplicaDb,
	}
}

func (app *App) checkpointStore() checkpoint.Store {
	if app.checkpoints != nil {
		return app.checkpoints
	}

	switch *app.Config.CheckpointStore {
	case config.CheckpointClickhouse:
		app.checkpoints = err_utils.Unwrap(checkpoint.NewClickhouseStore(checkpoint.ClickhouseConfig{
			Address:  *app.Config.ClickhouseAddr,
			Username: *app.Config.ClickhouseUsername,
			Password: *app.Config.ClickhousePassword,
			DbName:   *app.Config.ClickhouseDb,
		}))
	case config.CheckpointMemory:
		log.Warnln("tailer watermark is kept in memory, a restart republishes the whole change log")
		app.checkpoints = checkpoint.NewMemoryStore()
	default:
		app.checkpoints = checkpoint.NewSQLStore(app.Replica)
	}

	return app.checkpoints
}

func (app *App) kafkaConfig() channel.KafkaConfig {
	return channel.KafkaConfig{
		Brokers:     app.Config.KafkaBrokers,
		Topic:       *app.Config.KafkaTopic,
		GroupID:     *app.Config.KafkaConsumerGroup,
		Timeout:     *app.Config.KafkaTimeout,
		PublisherId: app.PublisherId,
	}
}

func (app *App) publisher() (channel.Publisher, error) {
	if app.broker != nil {
		return app.broker, nil
	}

	return channel.NewKafkaPublisher(app.kafkaConfig())
}

func (app *App) consumer() (channel.Consumer, error) {
	if app.broker != nil {
		return app.broker.NewConsumer(*app.Config.KafkaConsumerGroup), nil
	}

	return channel.NewKafkaConsumer(app.kafkaConfig())
}

// InitSchema creates the replica table and whatever the checkpoint store
// keeps its state in. The source change log and its trigger are expected to
// exist already.
func (app *App) InitSchema() error {
	if app.Replica != nil {
		err := apply.NewSQLReplica(app.Replica, app.Mapping).EnsureTable(app.Ctx)
		if err != nil {
			return err
		}
	}

	if !app.Config.RunsTailer() {
		return nil
	}

	switch s := app.checkpointStore().(type) {
	case *checkpoint.SQLStore:
		return s.Setup(app.Ctx)
	case *checkpoint.ClickhouseStore:
		return s.Setup(app.Ctx)
	}

	return nil
}

func (app *App) NewTailer(publisher channel.Publisher) *tailer.Tailer {
	return tailer.New(
		tailer.NewSource(app.Source, app.Mapping),
		publisher,
		app.checkpointStore(),
		app.Stats,
		tailer.Config{
			Interval:       *app.Config.ScanInterval,
			BatchSize:      *app.Config.ScanBatchSize,
			CheckpointName: checkpoint.WatermarkKey(app.Mapping.ChangeLog.Table),
		})
}

func (app *App) NewEngine() *apply.Engine {
	// validated when the app was created
	policy := err_utils.Unwrap(apply.ParseAckPolicy(*app.Config.AckPolicy))

	return apply.NewEngine(apply.NewSQLReplica(app.Replica, app.Mapping), app.Stats, apply.Config{
		AckPolicy:         policy,
		RetryReadInterval: *app.Config.RetryReadInterval,
	})
}

func (app *App) runTailer() error {
	publisher, err := app.publisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	t := app.NewTailer(publisher)
	if err := t.Restore(app.Ctx); err != nil {
		return err
	}

	return t.Run(app.Ctx)
}

func (app *App) runApplier() error {
	consumer, err := app.consumer()
	if err != nil {
		return err
	}
	defer consumer.Close()

	return app.NewEngine().Run(app.Ctx, consumer)
}

func (app *App) serveMetrics() {
	if app.testing || *app.Config.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: *app.Config.MetricsAddr, Handler: mux}

	go func() {
		<-app.Ctx.Done()
		server.Close()
	}()

	go func() {
		log.Infoln("serving metrics on", *app.Config.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func (app *App) printStats() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.Ctx.Done():
			return
		case <-ticker.C:
			app.Stats.Print()
		}
	}
}

// Run starts the halves of the pipeline this process is configured for and
// blocks until Shutdown is called. The first half to fail stops the other.
func (app *App) Run() error {
	if *app.Config.InitSchema {
		if err := app.InitSchema(); err != nil {
			return err
		}
	}

	app.serveMetrics()
	go app.printStats()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	start := func(name string, f func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f(); err != nil {
				errs <- errors.Wrapf(err, "%s failed", name)
				app.Shutdown()
			}
		}()
	}

	if app.Config.RunsApplier() {
		start("applier", app.runApplier)
	}

	if app.Config.RunsTailer() {
		start("tailer", app.runTailer)
	}

	wg.Wait()
	close(errs)

	app.Stats.Print()

	return <-errs
}

func (app *App) Close() {
	for _, db := range []*sqldb.DB{app.Source, app.Replica} {
		if db != nil {
			db.Close()
		}
	}
}

func NewApp(testing bool, flags []string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	config, err := config.NewFromFlags(flags)

	if err != nil {
		log.Errorln(err)
		os.Exit(1)
	}

	_, err = apply.ParseAckPolicy(*config.AckPolicy)
	err_utils.Mustf(err, "unable to start with --ack-policy=%s", *config.AckPolicy)

	m := err_utils.Unwrap(mapping.Load(*config.TableMapping))

	app := &App{
		Ctx:         ctx,
		Shutdown:    cancel,
		Config:      config,
		Mapping:     m,
		Stats:       stats.NewStats(testing),
		PublisherId: uuid.NewString(),
		testing:     testing,
	}

	if config.RunsTailer() {
		app.Source = err_utils.Unwrap(sqldb.Open(sourceConfig(config)))
	}

	if config.RunsApplier() || *config.CheckpointStore == "sql" {
		app.Replica = err_utils.Unwrap(sqldb.Open(replicaConfig(config)))
	}

	if *config.Channel == "memory" {
		app.broker = channel.NewMemoryBroker(*config.MemoryPartitions)
	}

	log.Infof("trickle %s starting, mode %s, channel %s, publisher %s",
		m.Table, *config.Mode, *config.Channel, app.PublisherId)

	return app
}
