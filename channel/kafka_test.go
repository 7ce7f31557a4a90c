package channel

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaConfigValidation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "employee_cdc"})
	assert.Error(t, err, "brokers are required")

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:29092"}})
	assert.Error(t, err, "topic is required")

	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:29092"}, Topic: "employee_cdc"})
	assert.Error(t, err, "group is required")
}

func TestKafkaPublisherDoesNotDialOnCreate(t *testing.T) {
	p, err := NewKafkaPublisher(KafkaConfig{
		Brokers:     []string{"localhost:29092"},
		Topic:       "employee_cdc",
		Timeout:     time.Second,
		PublisherId: "test",
	})
	require.NoError(t, err)

	assert.Equal(t, "employee_cdc", p.writer.Topic)
	assert.Equal(t, 1, p.writer.BatchSize)
	assert.Equal(t, "test", string(p.headers[0].Value))
	assert.NoError(t, p.Close())
}

// Needs a running broker, e.g. TRICKLE_TEST_KAFKA_BROKERS=localhost:29092
func TestKafkaRoundTrip(t *testing.T) {
	brokers := os.Getenv("TRICKLE_TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TRICKLE_TEST_KAFKA_BROKERS not set")
	}

	cfg := KafkaConfig{
		Brokers:     strings.Split(brokers, ","),
		Topic:       "trickle_test_" + uuid.NewString(),
		GroupID:     "trickle_test",
		Timeout:     10 * time.Second,
		PublisherId: "test",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewKafkaPublisher(cfg)
	require.NoError(t, err)
	defer p.Close()

	// the first write auto creates the topic and can fail while it does
	for attempt := 0; ; attempt++ {
		err = p.Publish(ctx, []byte("1"), []byte("first"))
		if err == nil || attempt == 10 {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, []byte("1"), []byte("second")))

	c, err := NewKafkaConsumer(cfg)
	require.NoError(t, err)
	defer c.Close()

	for _, expected := range []string{"first", "second"} {
		d, err := c.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, string(d.Value))
		assert.Equal(t, "1", string(d.Key))
		require.NoError(t, c.Commit(ctx, d))
	}
}
