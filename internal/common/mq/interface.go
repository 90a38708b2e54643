package mq

import (
	"context"
	"time"
)

// MessageQueue combines publishing and consuming on one broker connection.
type MessageQueue interface {
	Producer
	Consumer

	Ping(ctx context.Context) error
	Close() error
}

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Consumer dispatches topic messages to handlers once started.
type Consumer interface {
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
}

// Message represents a message in the queue
type Message struct {
	ID string `json:"id"`
	// Key selects the partition; messages with equal keys keep their order.
	Key        string            `json:"key"`
	Body       []byte            `json:"body"`
	Headers    map[string]string `json:"headers"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
}

// HandlerFunc processes one message; a non-nil error schedules a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	ConsumerGroup string
	// Concurrency sets the number of concurrent workers. Default: 1
	Concurrency int
	// MaxRetries sets the maximum number of retries for failed messages. Default: 3
	MaxRetries int
	// RetryDelay sets the delay between retries. Default: 1 second
	RetryDelay time.Duration
	// DeadLetterTopic receives messages that exhausted their retries.
	DeadLetterTopic string
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	val, ok := m.Headers[key]
	return val, ok
}
