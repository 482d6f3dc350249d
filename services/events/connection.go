package events

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailreader/internal/logger"
)

var errPublisherClosed = errors.New("publisher is closed")

type RabbitMQPublisher struct {
	url    string
	logger logger.Logger
	config PublisherConfig

	mu         sync.Mutex
	connection *amqp091.Connection
	channel    *amqp091.Channel

	closed    chan struct{}
	closeOnce sync.Once
}

func NewRabbitMQPublisher(rabbitmqURL string, log logger.Logger, config *PublisherConfig) (*RabbitMQPublisher, error) {
	cfg := DefaultPublisherConfig()
	if config != nil {
		cfg = config.withDefaults()
	}

	publisher := &RabbitMQPublisher{
		url:    rabbitmqURL,
		logger: log,
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := publisher.connect(); err != nil {
		return nil, err
	}
	go publisher.watchConnection()

	return publisher, nil
}

// connect dials the broker, declares the topology and installs a fresh
// confirm-mode publish channel.
func (r *RabbitMQPublisher) connect() error {
	conn, err := amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "dial rabbitmq")
	}

	if err := declareTopology(conn, r.config); err != nil {
		_ = conn.Close()
		return err
	}

	channel, err := openConfirmChannel(conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isClosed() {
		_ = conn.Close()
		return errPublisherClosed
	}
	r.connection = conn
	r.channel = channel
	return nil
}

func openConfirmChannel(conn *amqp091.Connection) (*amqp091.Channel, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open publish channel")
	}
	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return channel, nil
}

// watchConnection is the only reconnect loop. It exits once Close is called.
func (r *RabbitMQPublisher) watchConnection() {
	for {
		r.mu.Lock()
		conn := r.connection
		r.mu.Unlock()

		notifyClose := conn.NotifyClose(make(chan *amqp091.Error, 1))
		select {
		case <-r.closed:
			return
		case amqpErr := <-notifyClose:
			if r.isClosed() {
				return
			}
			r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", amqpErr)
		}

		if !r.reconnect() {
			return
		}
	}
}

func (r *RabbitMQPublisher) reconnect() bool {
	backoff := r.config.ReconnectBackoff
	for {
		err := r.connect()
		if err == nil {
			r.logger.Info("Reconnected to RabbitMQ")
			return true
		}
		if errors.Is(err, errPublisherClosed) {
			return false
		}

		r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
		select {
		case <-r.closed:
			return false
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff, r.config.MaxReconnectBackoff)
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next <= 0 || next > max {
		return max
	}
	return next
}

// publishChannel returns the live confirm channel, reopening it when only the
// channel (not the connection) was lost.
func (r *RabbitMQPublisher) publishChannel() (*amqp091.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosed() {
		return nil, errPublisherClosed
	}
	if r.connection == nil || r.connection.IsClosed() {
		return nil, errors.New("rabbitmq connection is down")
	}
	if r.channel == nil || r.channel.IsClosed() {
		channel, err := openConfirmChannel(r.connection)
		if err != nil {
			return nil, err
		}
		r.channel = channel
	}
	return r.channel, nil
}

func (r *RabbitMQPublisher) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// Close stops the reconnect loop and releases the channel and connection.
// Calling it more than once is a no-op.
func (r *RabbitMQPublisher) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)

		r.mu.Lock()
		defer r.mu.Unlock()

		if r.channel != nil && !r.channel.IsClosed() {
			if closeErr := r.channel.Close(); closeErr != nil {
				r.logger.Errorf("Error closing publish channel: %v", closeErr)
				err = closeErr
			}
		}
		if r.connection != nil && !r.connection.IsClosed() {
			if closeErr := r.connection.Close(); closeErr != nil {
				r.logger.Errorf("Error closing connection: %v", closeErr)
				if err == nil {
					err = closeErr
				}
			}
		}
	})
	return err
}
