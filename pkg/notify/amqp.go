package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"calldash-server/pkg/config"
)

// AMQPFeed implements Feed over a topic exchange. Routing keys are
// "<table>.<op>" so subscribers can bind per table.
type AMQPFeed struct {
	logger *logrus.Entry
	cfg    config.AMQPConfig
	conn   *amqp.Connection

	mu      sync.Mutex
	channel *amqp.Channel
	closed  bool
}

// NewAMQPFeed connects to the broker and declares the change exchange.
func NewAMQPFeed(cfg config.AMQPConfig, logger *logrus.Logger) (*AMQPFeed, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if err := channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // kind
		true,         // durable
		false,        // auto-delete
		false,        // internal
		false,        // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	logger.WithField("exchange", cfg.Exchange).Info("Connected to AMQP change feed")

	return &AMQPFeed{
		logger:  logger.WithField("component", "amqp_change_feed"),
		cfg:     cfg,
		conn:    conn,
		channel: channel,
	}, nil
}

// NotifyChange publishes a change event. Failures are logged and
// swallowed; the write that triggered the event has already succeeded.
func (f *AMQPFeed) NotifyChange(table, op string) {
	event := ChangeEvent{Table: table, Op: op, Timestamp: time.Now()}

	body, err := json.Marshal(event)
	if err != nil {
		f.logger.WithError(err).Error("Failed to marshal change event")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	err = f.channel.Publish(
		f.cfg.Exchange,
		fmt.Sprintf("%s.%s", table, op),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   event.Timestamp,
			Body:        body,
		},
	)
	if err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"table": table,
			"op":    op,
		}).Warn("Failed to publish change event")
	}
}

// Subscribe binds an exclusive queue to the change exchange for the
// given tables; no tables means all tables.
func (f *AMQPFeed) Subscribe(tables ...string) (Subscription, error) {
	channel, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open subscription channel: %w", err)
	}

	queue, err := channel.QueueDeclare(
		"",    // broker-assigned name
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare subscription queue: %w", err)
	}

	keys := make([]string, 0, len(tables))
	for _, table := range tables {
		keys = append(keys, table+".*")
	}
	if len(keys) == 0 {
		keys = []string{"#"}
	}

	for _, key := range keys {
		if err := channel.QueueBind(queue.Name, key, f.cfg.Exchange, false, nil); err != nil {
			channel.Close()
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	deliveries, err := channel.Consume(
		queue.Name,
		"",    // consumer tag
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	sub := &amqpSubscription{
		logger:  f.logger,
		channel: channel,
		events:  make(chan ChangeEvent, 32),
	}
	go sub.pump(deliveries)

	return sub, nil
}

// Close shuts down the publisher connection.
func (f *AMQPFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	if err := f.channel.Close(); err != nil {
		f.logger.WithError(err).Debug("Error closing AMQP channel")
	}
	return f.conn.Close()
}

type amqpSubscription struct {
	logger  *logrus.Entry
	channel *amqp.Channel
	events  chan ChangeEvent
	once    sync.Once
}

func (s *amqpSubscription) pump(deliveries <-chan amqp.Delivery) {
	defer close(s.events)

	for delivery := range deliveries {
		var event ChangeEvent
		if err := json.Unmarshal(delivery.Body, &event); err != nil {
			s.logger.WithError(err).Warn("Discarding malformed change event")
			continue
		}

		select {
		case s.events <- event:
		default:
			s.logger.WithField("table", event.Table).Warn("Dropping change event for slow subscriber")
		}
	}
}

// Events returns the subscription's event stream.
func (s *amqpSubscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close cancels the consumer; the event channel closes once the broker
// delivery channel drains.
func (s *amqpSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.channel.Close()
	})
	return err
}
