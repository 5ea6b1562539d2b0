package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	IsClosed() bool
	Close() error
}

type amqpTransport struct {
	conn    *amqp.Connection
	ch      amqpChannel
	returns chan amqp.Return
	timeout time.Duration
}

// AMQPURI builds the broker URI from the configuration.
func AMQPURI(cfg Config) string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    cfg.VHost,
	}.String()
}

// AMQPDialer returns a Dialer that connects to RabbitMQ, declares the durable topic
// exchanges (and optional queues) for ingest and deletion events, and puts the channel
// into confirm mode.
func AMQPDialer(cfg Config) Dialer {
	return func(ctx context.Context) (Transport, error) {
		conn, err := amqp.DialConfig(AMQPURI(cfg), amqp.Config{
			Heartbeat: time.Duration(cfg.HeartbeatSeconds) * time.Second,
			Locale:    "en_US",
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to AMQP broker %s:%d: %w", cfg.Host, cfg.Port, err)
		}

		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("opening AMQP channel: %w", err)
		}

		for _, b := range []Binding{cfg.Ingest(), cfg.Deletion()} {
			if err := declare(ch, b); err != nil {
				conn.Close()
				return nil, err
			}
		}

		if err := ch.Confirm(false); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enabling publisher confirms: %w", err)
		}

		return &amqpTransport{
			conn:    conn,
			ch:      ch,
			returns: ch.NotifyReturn(make(chan amqp.Return, 64)),
			timeout: confirmTimeout(cfg),
		}, nil
	}
}

func declare(ch *amqp.Channel, b Binding) error {
	if err := ch.ExchangeDeclare(b.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", b.Exchange, err)
	}
	if b.Queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declaring queue %s: %w", b.Queue, err)
	}
	if err := ch.QueueBind(b.Queue, b.RoutingKey, b.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s to %s/%s: %w", b.Queue, b.Exchange, b.RoutingKey, err)
	}
	return nil
}

func (t *amqpTransport) Publish(ctx context.Context, msg Message) error {
	if t.ch.IsClosed() {
		return fmt.Errorf("%w: channel closed", ErrStale)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	dc, err := t.ch.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, true, false, toPublishing(msg))
	if err != nil {
		return amqpError(err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return amqpError(err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrNacked, msg.MessageID)
	}
	if t.wasReturned(msg.MessageID) {
		return fmt.Errorf("%w: %s to %s/%s", ErrUnroutable, msg.MessageID, msg.Exchange, msg.RoutingKey)
	}
	return nil
}

// wasReturned drains pending basic.return frames. RabbitMQ sends the return of a
// mandatory message before its ack, so it is already queued when the confirm arrives.
func (t *amqpTransport) wasReturned(messageID string) bool {
	returned := false
	for {
		select {
		case r, ok := <-t.returns:
			if !ok {
				return returned
			}
			if r.MessageId == messageID {
				returned = true
			}
		default:
			return returned
		}
	}
}

func (t *amqpTransport) Close() error {
	var errs []error
	if t.ch != nil && !t.ch.IsClosed() {
		errs = append(errs, t.ch.Close())
	}
	if t.conn != nil && !t.conn.IsClosed() {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}

func toPublishing(msg Message) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	}
}

// amqpError tags connection and channel loss as stale.
func amqpError(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	var aerr *amqp.Error
	if errors.As(err, &aerr) && (aerr.Code == amqp.ChannelError || aerr.Code == amqp.ConnectionForced) {
		return fmt.Errorf("%w: %v", ErrStale, err)
	}
	return err
}

func confirmTimeout(cfg Config) time.Duration {
	if cfg.ConfirmTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second
}
