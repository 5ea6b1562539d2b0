package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type jsPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type natsTransport struct {
	nc      *nats.Conn
	js      jsPublisher
	closed  func() bool
	timeout time.Duration
}

// Subject maps an exchange/routing key pair onto a NATS subject.
func Subject(exchange, routingKey string) string {
	return exchange + "." + routingKey
}

// NATSDialer returns a Dialer that connects to NATS and ensures a durable file-backed
// JetStream stream covers the ingest and deletion subjects.
func NATSDialer(cfg Config) Dialer {
	return func(ctx context.Context) (Transport, error) {
		nc, err := nats.Connect(cfg.NatsURL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}

		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating JetStream context: %w", err)
		}

		setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		_, err = js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   streamSubjects(cfg),
			Storage:    jetstream.FileStorage,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
		}

		return &natsTransport{nc: nc, js: js, closed: nc.IsClosed, timeout: confirmTimeout(cfg)}, nil
	}
}

func streamSubjects(cfg Config) []string {
	subjects := []string{Subject(cfg.Exchange, cfg.RoutingKey)}
	if del := Subject(cfg.DeleteExchange, cfg.DeleteRoutingKey); del != subjects[0] {
		subjects = append(subjects, del)
	}
	return subjects
}

// Publish waits for the stream's PubAck. Nats-Msg-Id carries the broker id, so the
// stream drops a re-announcement of the same object inside its duplicate window while
// other objects with the same content version still get through.
func (t *natsTransport) Publish(ctx context.Context, msg Message) error {
	if t.closed() {
		return fmt.Errorf("%w: NATS connection closed", ErrStale)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	m := nats.NewMsg(Subject(msg.Exchange, msg.RoutingKey))
	m.Data = msg.Body
	if msg.ContentType != "" {
		m.Header.Set("Content-Type", msg.ContentType)
	}
	if id := msg.BrokerID(); id != "" {
		m.Header.Set(nats.MsgIdHdr, id)
	}

	if _, err := t.js.PublishMsg(ctx, m); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("%w: %v", ErrStale, err)
		}
		if errors.Is(err, jetstream.ErrNoStreamResponse) {
			return fmt.Errorf("%w: %s on %s", ErrUnroutable, msg.MessageID, m.Subject)
		}
		return fmt.Errorf("publish %s to %s: %w", msg.MessageID, m.Subject, err)
	}
	return nil
}

func (t *natsTransport) Close() error {
	if t.nc != nil && !t.nc.IsClosed() {
		return t.nc.Drain()
	}
	return nil
}
