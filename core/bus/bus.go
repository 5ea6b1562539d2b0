package bus

import (
	"context"
	"errors"
)

var (
	// ErrStale marks a transport failure caused by a dead connection or channel.
	// The Handle reconnects once when it sees it.
	ErrStale = errors.New("bus connection is stale")
	// ErrNacked is returned when the broker negatively acknowledges a publish.
	ErrNacked = errors.New("publish not confirmed by broker")
	// ErrUnroutable is returned when the broker could not route a mandatory message.
	ErrUnroutable = errors.New("publish returned unroutable")
	// ErrClosed is returned by a Handle after Close.
	ErrClosed = errors.New("bus handle closed")
)

// Message is one event ready for the bus.
type Message struct {
	// Exchange is the topic exchange (AMQP) or subject root (NATS).
	Exchange string
	// RoutingKey selects the consumers of the message.
	RoutingKey string
	// MessageID lets consumers deduplicate. It is the content version, so two objects
	// with identical bytes share it.
	MessageID string
	// DedupeID identifies this announcement of this object to brokers that drop
	// repeats (the NATS Nats-Msg-Id header). Empty falls back to MessageID.
	DedupeID string
	// ContentType of Body, "application/json" for events.
	ContentType string
	// Body is the encoded event.
	Body []byte
}

// Publisher publishes a message and returns only once the broker confirmed it.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Transport is one live connection to a broker.
// Implementations wrap connection-loss errors with ErrStale.
type Transport interface {
	Publisher
	Close() error
}

// Dialer opens a fresh Transport.
type Dialer func(ctx context.Context) (Transport, error)

// BrokerID returns the id a deduplicating broker should see for msg.
func (m Message) BrokerID() string {
	if m.DedupeID != "" {
		return m.DedupeID
	}
	return m.MessageID
}
