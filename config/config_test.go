package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := NewFromFlags([]string{})
	require.NoError(t, err)

	assert.Equal(t, ModeAll, *c.Mode)
	assert.Equal(t, 500*time.Millisecond, *c.ScanInterval)
	assert.Equal(t, "after-apply", *c.AckPolicy)
	assert.Equal(t, []string{"localhost:29092"}, c.KafkaBrokers)
	assert.Equal(t, "cdc_consumer_group", *c.KafkaConsumerGroup)
	assert.True(t, c.RunsTailer())
	assert.True(t, c.RunsApplier())
}

func TestFlags(t *testing.T) {
	c, err := NewFromFlags([]string{
		"--mode", "applier",
		"--kafka-brokers", "k1:9092, k2:9092,",
		"--scan-interval", "2s",
		"--replica-driver", "sqlite",
	})
	require.NoError(t, err)

	assert.False(t, c.RunsTailer())
	assert.True(t, c.RunsApplier())
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 2*time.Second, *c.ScanInterval)
	assert.Equal(t, "sqlite", *c.ReplicaDriver)
}

func TestEnvAndConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trickle.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kafka-topic": "from_file", "scan-batch-size": "50"}`), 0o644))
	t.Setenv("TRICKLE_KAFKA_CONSUMER_GROUP", "from_env")

	c, err := NewFromFlags([]string{"--config", path, "--scan-batch-size", "10"})
	require.NoError(t, err)

	assert.Equal(t, "from_file", *c.KafkaTopic)
	assert.Equal(t, "from_env", *c.KafkaConsumerGroup)
	assert.Equal(t, 10, *c.ScanBatchSize, "flags win over the config file")
}

func TestValidation(t *testing.T) {
	for _, args := range [][]string{
		{"--mode", "both"},
		{"--channel", "rabbit"},
		{"--checkpoint-store", "disk"},
		{"--mode", "tailer", "--channel", "memory"},
		{"--kafka-brokers", ""},
		{"--scan-batch-size", "-1"},
	} {
		_, err := NewFromFlags(args)
		assert.Error(t, err, args)
	}

	_, err := NewFromFlags([]string{"--channel", "memory", "--kafka-brokers", ""})
	assert.NoError(t, err)
}
