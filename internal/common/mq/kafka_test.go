package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingProducer struct {
	topics []string
}

func (p *recordingProducer) Publish(_ context.Context, topic string, _ *Message) error {
	p.topics = append(p.topics, topic)
	return nil
}

func TestKafkaHeadersCarryEnvelope(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Message{ID: "evt-1", Key: "42", Body: []byte(`{}`), Timestamp: ts, RetryCount: 1, MaxRetries: 5}
	in.SetHeader("event_type", "problem.deleted")

	km := toKafkaMessage("problem.lifecycle", in)
	require.Equal(t, "problem.lifecycle", km.Topic)
	require.Equal(t, []byte("42"), km.Key)

	out := fromKafkaMessage(km)
	require.Equal(t, "evt-1", out.ID)
	require.Equal(t, "42", out.Key)
	require.True(t, ts.Equal(out.Timestamp))
	require.Equal(t, 1, out.RetryCount)
	require.Equal(t, 5, out.MaxRetries)
	v, ok := out.GetHeader("event_type")
	require.True(t, ok)
	require.Equal(t, "problem.deleted", v)
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	handler := func(context.Context, *Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}
	opts := SubscribeOptions{MaxRetries: 3, RetryDelay: time.Millisecond}
	ok := deliver(context.Background(), nil, opts, handler, &Message{})
	require.True(t, ok)
	require.Equal(t, 3, attempts)
}

func TestDeliverDeadLetters(t *testing.T) {
	producer := &recordingProducer{}
	opts := SubscribeOptions{MaxRetries: 2, RetryDelay: time.Millisecond, DeadLetterTopic: "submission.judged.dlq"}
	attempts := 0
	ok := deliver(context.Background(), producer, opts, func(context.Context, *Message) error {
		attempts++
		return errors.New("bad payload")
	}, &Message{})
	require.False(t, ok)
	require.Equal(t, 3, attempts)
	require.Equal(t, []string{"submission.judged.dlq"}, producer.topics)
}

func TestSubscribeValidation(t *testing.T) {
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	require.NoError(t, err)
	require.Error(t, q.SubscribeWithOptions(context.Background(), "", func(context.Context, *Message) error { return nil }, nil))
	require.Error(t, q.SubscribeWithOptions(context.Background(), "t", nil, nil))
	require.NoError(t, q.Close())
	require.Error(t, q.SubscribeWithOptions(context.Background(), "t", func(context.Context, *Message) error { return nil }, nil))

	_, err = NewKafkaQueue(KafkaConfig{})
	require.Error(t, err)
}
