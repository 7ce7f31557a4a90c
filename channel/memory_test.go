package channel

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fetchN(t *testing.T, c Consumer, n int) []Delivery {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ds := make([]Delivery, 0, n)
	for i := 0; i < n; i++ {
		d, err := c.Fetch(ctx)
		require.NoError(t, err)
		ds = append(ds, d)
	}

	return ds
}

func TestMemoryBrokerKeepsPerKeyOrder(t *testing.T) {
	b := NewMemoryBroker(3)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		key := []byte(strconv.Itoa(i % 5))
		require.NoError(t, b.Publish(ctx, key, []byte(strconv.Itoa(i))))
	}

	ds := fetchN(t, b.NewConsumer("g"), 30)

	lastByKey := map[string]int{}
	for _, d := range ds {
		v, _ := strconv.Atoi(string(d.Value))
		if last, ok := lastByKey[string(d.Key)]; ok {
			assert.Greater(t, v, last, "key %s out of order", d.Key)
		}
		lastByKey[string(d.Key)] = v
		assert.Equal(t, b.PartitionFor(d.Key), d.Partition)
	}

	assert.Len(t, lastByKey, 5)
	assert.Equal(t, 30, b.Depth())
}

func TestMemoryBrokerRedeliversUncommitted(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, []byte("1"), []byte(v)))
	}

	first := b.NewConsumer("g")
	ds := fetchN(t, first, 3)
	require.NoError(t, first.Commit(ctx, ds[0]))

	// a restarted consumer picks up after the last commit
	again := fetchN(t, b.NewConsumer("g"), 2)
	assert.Equal(t, "b", string(again[0].Value))
	assert.Equal(t, "c", string(again[1].Value))

	// other groups are independent
	other := fetchN(t, b.NewConsumer("other"), 1)
	assert.Equal(t, "a", string(other[0].Value))
}

func TestMemoryBrokerCommitNeverMovesBack(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()

	for _, v := range []string{"a", "b"} {
		require.NoError(t, b.Publish(ctx, []byte("1"), []byte(v)))
	}

	c := b.NewConsumer("g")
	ds := fetchN(t, c, 2)
	require.NoError(t, c.Commit(ctx, ds[1]))
	require.NoError(t, c.Commit(ctx, ds[0]))

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	_, err := b.NewConsumer("g").Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBrokerFetchWaitsForPublish(t *testing.T) {
	b := NewMemoryBroker(2)
	c := b.NewConsumer("g")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = b.Publish(context.Background(), []byte("9"), []byte("late"))
	}()

	ds := fetchN(t, c, 1)
	assert.Equal(t, "late", string(ds[0].Value))
}

func TestMemoryBrokerClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBroker(1)
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(context.Background(), []byte("1"), []byte("x")))
}
