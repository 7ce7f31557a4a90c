// Package channel is the ordered, partitioned transport between the log
// tailer and the apply engine. Order holds only among messages sharing a
// key, and delivery is at-least-once: consumers will see redeliveries.
package channel

import (
	"context"

	skafka "github.com/segmentio/kafka-go"
)

type Publisher interface {
	// Publish returns once the message is acknowledged by the channel or
	// has definitely failed.
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Delivery struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64

	message skafka.Message
}

type Consumer interface {
	// Fetch blocks until the next delivery is available or ctx is done.
	Fetch(ctx context.Context) (Delivery, error)
	// Commit acknowledges d and every earlier delivery on its partition.
	Commit(ctx context.Context, d Delivery) error
	Close() error
}
