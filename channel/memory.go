package channel

import (
	"context"
	"sync"

	"github.com/go-faster/city"
	"github.com/pkg/errors"
)

// MemoryBroker is an in-process stand-in for a kafka topic. Messages are
// routed to a partition by key hash and kept forever; each consumer group
// has its own committed offset per partition. A consumer created for a
// group resumes from the committed offsets, so anything fetched but never
// committed is delivered again.
type MemoryBroker struct {
	mu         sync.Mutex
	partitions [][]Delivery
	committed  map[string][]int64
	notify     chan struct{}
	closed     bool
}

func NewMemoryBroker(partitions int) *MemoryBroker {
	if partitions < 1 {
		partitions = 1
	}

	return &MemoryBroker{
		partitions: make([][]Delivery, partitions),
		committed:  make(map[string][]int64),
		notify:     make(chan struct{}),
	}
}

func (b *MemoryBroker) PartitionFor(key []byte) int {
	return int(city.Hash64(key) % uint64(len(b.partitions)))
}

func (b *MemoryBroker) Publish(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("memory broker is closed")
	}

	p := b.PartitionFor(key)
	b.partitions[p] = append(b.partitions[p], Delivery{
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Partition: p,
		Offset:    int64(len(b.partitions[p])),
	})

	close(b.notify)
	b.notify = make(chan struct{})

	return nil
}

// Close only stops new publishes; consumers can still drain what is there.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

// Depth is the number of messages ever published.
func (b *MemoryBroker) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, p := range b.partitions {
		n += len(p)
	}

	return n
}

func (b *MemoryBroker) groupOffsets(group string) []int64 {
	offsets, ok := b.committed[group]
	if !ok {
		offsets = make([]int64, len(b.partitions))
		b.committed[group] = offsets
	}

	return offsets
}

// NewConsumer reads every partition for group. Only one consumer per group
// should be active at a time; there is no partition assignment.
func (b *MemoryBroker) NewConsumer(group string) *MemoryConsumer {
	b.mu.Lock()
	defer b.mu.Unlock()

	return &MemoryConsumer{
		broker:   b,
		group:    group,
		position: append([]int64(nil), b.groupOffsets(group)...),
	}
}

type MemoryConsumer struct {
	broker   *MemoryBroker
	group    string
	position []int64
	next     int
}

// must hold broker.mu
func (c *MemoryConsumer) take() (Delivery, bool) {
	partitions := c.broker.partitions

	for i := 0; i < len(partitions); i++ {
		p := (c.next + i) % len(partitions)
		if c.position[p] < int64(len(partitions[p])) {
			d := partitions[p][c.position[p]]
			c.position[p]++
			c.next = (p + 1) % len(partitions)
			return d, true
		}
	}

	return Delivery{}, false
}

func (c *MemoryConsumer) Fetch(ctx context.Context) (Delivery, error) {
	for {
		c.broker.mu.Lock()
		d, ok := c.take()
		wait := c.broker.notify
		c.broker.mu.Unlock()

		if ok {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-wait:
		}
	}
}

func (c *MemoryConsumer) Commit(_ context.Context, d Delivery) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	offsets := c.broker.groupOffsets(c.group)
	if d.Partition < 0 || d.Partition >= len(offsets) {
		return errors.Errorf("unknown partition %d", d.Partition)
	}

	if d.Offset+1 > offsets[d.Partition] {
		offsets[d.Partition] = d.Offset + 1
	}

	return nil
}

func (c *MemoryConsumer) Close() error {
	return nil
}
