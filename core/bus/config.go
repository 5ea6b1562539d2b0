package bus

// Driver names.
const (
	DriverAMQP = "amqp"
	DriverNATS = "nats"
)

// Config holds configuration for the message bus.
type Config struct {
	// Driver selects the broker: amqp (RabbitMQ) or nats (JetStream).
	Driver string `mapstructure:"driver" default:"amqp"`
	// Host is the AMQP broker host.
	Host string `mapstructure:"host" default:"localhost"`
	// Port is the AMQP broker port.
	Port int `mapstructure:"port" default:"5672"`
	// VHost is the AMQP virtual host.
	VHost string `mapstructure:"vhost" default:"/"`
	// User is the AMQP user.
	User string `mapstructure:"user" default:"guest"`
	// Password is the AMQP password.
	Password string `mapstructure:"password" default:"guest"`
	// HeartbeatSeconds is the AMQP heartbeat interval.
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds" default:"120"`
	// NatsURL is the NATS server URL.
	NatsURL string `mapstructure:"nats_url" default:"nats://localhost:4222"`
	// Stream is the JetStream stream holding document events.
	Stream string `mapstructure:"stream" default:"DOCUMENTS"`
	// Exchange is the topic exchange for ingest events.
	Exchange string `mapstructure:"exchange" default:"events"`
	// RoutingKey is the routing key for ingest events.
	RoutingKey string `mapstructure:"routing_key" default:"text"`
	// Queue, if set, is declared durable and bound to the ingest routing key.
	Queue string `mapstructure:"queue" default:""`
	// DeleteExchange is the topic exchange for deletion events.
	DeleteExchange string `mapstructure:"delete_exchange" default:"events"`
	// DeleteRoutingKey is the routing key for deletion events.
	DeleteRoutingKey string `mapstructure:"delete_routing_key" default:"deletions"`
	// DeleteQueue, if set, is declared durable and bound to the deletion routing key.
	DeleteQueue string `mapstructure:"delete_queue" default:""`
	// ConfirmTimeoutSeconds bounds the wait for a broker confirmation.
	ConfirmTimeoutSeconds int `mapstructure:"confirm_timeout_seconds" default:"30"`
}

// Binding is one exchange/routing key pair with an optional durable queue.
type Binding struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

// Ingest returns the binding ingest events are published to.
func (c Config) Ingest() Binding {
	return Binding{Exchange: c.Exchange, RoutingKey: c.RoutingKey, Queue: c.Queue}
}

// Deletion returns the binding deletion events are published to.
func (c Config) Deletion() Binding {
	return Binding{Exchange: c.DeleteExchange, RoutingKey: c.DeleteRoutingKey, Queue: c.DeleteQueue}
}
