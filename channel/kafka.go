package channel

import (
	"context"
	"time"

	"bigcartel/trickle/consts"

	"github.com/pkg/errors"
	skafka "github.com/segmentio/kafka-go"
	"github.com/siddontang/go-log/log"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Timeout time.Duration
	// PublisherId is attached to every published message as a header.
	PublisherId string
}

func (c KafkaConfig) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one kafka broker is required")
	}

	if c.Topic == "" {
		return errors.New("a kafka topic is required")
	}

	return nil
}

type KafkaPublisher struct {
	writer  *skafka.Writer
	headers []skafka.Header
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "unable to validate kafka config")
	}

	// One message per request: Publish has to report a result for each
	// event before the tailer may move its watermark.
	w := &skafka.Writer{
		Addr:         skafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &skafka.Hash{},
		BatchSize:    1,
		RequiredAcks: skafka.RequireAll,
		WriteTimeout: cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
	}

	log.Infof("publishing to kafka topic %s via %v", cfg.Topic, cfg.Brokers)

	return &KafkaPublisher{
		writer: w,
		headers: []skafka.Header{
			{Key: consts.PublisherHeader, Value: []byte(cfg.PublisherId)},
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, skafka.Message{
		Key:     key,
		Value:   value,
		Headers: p.headers,
	})

	if err != nil {
		return errors.Wrapf(err, "unable to publish message with key %s", key)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type KafkaConsumer struct {
	reader *skafka.Reader
}

func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "unable to validate kafka config")
	}

	if cfg.GroupID == "" {
		return nil, errors.New("a kafka consumer group is required")
	}

	// CommitInterval is left at zero so CommitMessages is synchronous and the
	// apply engine decides exactly when an offset is acknowledged.
	r := skafka.NewReader(skafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		Dialer:      &skafka.Dialer{Timeout: cfg.Timeout},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: skafka.FirstOffset,
	})

	log.Infof("consuming kafka topic %s as group %s", cfg.Topic, cfg.GroupID)

	return &KafkaConsumer{reader: r}, nil
}

func (c *KafkaConsumer) Fetch(ctx context.Context) (Delivery, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Delivery{}, err
	}

	return Delivery{
		Key:       msg.Key,
		Value:     msg.Value,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		message:   msg,
	}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, d Delivery) error {
	if err := c.reader.CommitMessages(ctx, d.message); err != nil {
		return errors.Wrapf(err, "unable to commit offset %d on partition %d", d.Offset, d.Partition)
	}

	return nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
