package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/streadway/amqp"

	"github.com/rl1809/seckill/internal/pkg/config"
)

var ErrNotConnected = errors.New("there is no connection to RabbitMQ")

// RabbitMQClient owns the broker connection and reconnects when it drops.
type RabbitMQClient struct {
	config config.RabbitMQConfig
	logger *slog.Logger

	mu         sync.RWMutex
	connection *amqp.Connection
	isClosing  bool
}

func NewRabbitMQClient(cfg config.RabbitMQConfig, logger *slog.Logger) *RabbitMQClient {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 1
	}
	return &RabbitMQClient{
		config: cfg,
		logger: logger,
	}
}

func (r *RabbitMQClient) Connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for i := 0; i < r.config.RetryCount; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(r.config.URL)
		if err != nil {
			r.logger.Warn("rabbitmq connection error", "attempt", i+1, "max_attempts", r.config.RetryCount, "error", err)
			if i < r.config.RetryCount-1 {
				time.Sleep(r.config.RetryDelay)
			}
			continue
		}

		if err = declareQueue(conn, r.config.Queue); err != nil {
			conn.Close()
			return err
		}

		r.connection = conn
		r.logger.Info("connected to rabbitmq", "queue", r.config.Queue)

		go r.handleReconnection(conn)
		return nil
	}

	return errors.Wrap(err, "failed to connect to RabbitMQ")
}

func declareQueue(conn *amqp.Connection, queue string) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return errors.Wrapf(err, "declare queue %s", queue)
}

func (r *RabbitMQClient) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok {
		return
	}

	r.mu.RLock()
	closing := r.isClosing
	r.mu.RUnlock()
	if closing {
		return
	}

	r.logger.Warn("rabbitmq connection lost, reconnecting", "error", err)
	time.Sleep(r.config.RetryDelay)
	if reconnectErr := r.Connect(); reconnectErr != nil {
		r.logger.Error("rabbitmq reconnect failed", "error", reconnectErr)
	}
}

// OpenChannel opens a new channel on the current connection.
func (r *RabbitMQClient) OpenChannel() (*amqp.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.connection == nil || r.connection.IsClosed() {
		return nil, ErrNotConnected
	}

	ch, err := r.connection.Channel()
	return ch, errors.Wrap(err, "open channel")
}

func (r *RabbitMQClient) Queue() string {
	return r.config.Queue
}

func (r *RabbitMQClient) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.connection != nil && !r.connection.IsClosed()
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosing {
		return nil
	}
	r.isClosing = true

	if r.connection == nil {
		return nil
	}
	return errors.Wrap(r.connection.Close(), "close connection")
}
