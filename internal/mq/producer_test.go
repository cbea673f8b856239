package mq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerConfig(t *testing.T) {
	cm := producerConfig(Config{Brokers: []string{"k1:9092", "k2:9092"}, LingerMs: -1})

	v, err := cm.Get("bootstrap.servers", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1:9092,k2:9092", v)

	v, err = cm.Get("linger.ms", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultLingerMs, v)

	v, err = cm.Get("batch.size", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultBatchSize, v)

	v, err = cm.Get("enable.idempotence", nil)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestTopicSpec(t *testing.T) {
	s := topicSpec(Config{Topic: "settlement"}, 1)
	assert.Equal(t, 1, s.NumPartitions)
	assert.Equal(t, 1, s.ReplicationFactor)

	s = topicSpec(Config{Topic: "settlement", Partitions: 6}, 3)
	assert.Equal(t, 6, s.NumPartitions)
	assert.Equal(t, 2, s.ReplicationFactor)
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer(Config{Topic: "x"}, nil)
	assert.Error(t, err)
}
