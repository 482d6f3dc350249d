package events

import (
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
)

type exchangeDecl struct {
	name string
	kind string
}

var exchanges = []exchangeDecl{
	{name: ExchangeDeadLetter, kind: amqp091.ExchangeDirect},
	{name: ExchangeMailreader, kind: amqp091.ExchangeFanout},
}

// declareTopology makes sure the exchanges, the events queue and its dead
// letter queue exist. All declarations are durable and idempotent.
func declareTopology(conn *amqp091.Connection, cfg PublisherConfig) error {
	channel, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open topology channel")
	}
	defer channel.Close()

	for _, ex := range exchanges {
		if err := channel.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare exchange %s", ex.name)
		}
	}

	if _, err := channel.QueueDeclare(DLQMailreader, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", DLQMailreader)
	}
	if err := channel.QueueBind(DLQMailreader, RoutingKeyDeadLetter, ExchangeDeadLetter, false, nil); err != nil {
		return errors.Wrapf(err, "bind %s to %s", DLQMailreader, ExchangeDeadLetter)
	}

	if _, err := channel.QueueDeclare(QueueMailreader, true, false, false, false, queueArgs(cfg)); err != nil {
		return errors.Wrapf(err, "declare queue %s", QueueMailreader)
	}
	if err := channel.QueueBind(QueueMailreader, "", ExchangeMailreader, false, nil); err != nil {
		return errors.Wrapf(err, "bind %s to %s", QueueMailreader, ExchangeMailreader)
	}

	return nil
}

// queueArgs routes expired events to the dead letter exchange.
func queueArgs(cfg PublisherConfig) amqp091.Table {
	return amqp091.Table{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": RoutingKeyDeadLetter,
		"x-message-ttl":             cfg.MessageTTL.Milliseconds(),
	}
}
