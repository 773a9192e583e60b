package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and publishing configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URL returns the amqp connection string
func (c *Config) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	if vhost[0] != '/' {
		vhost = "/" + vhost
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, vhost)
}

// backoff returns the delay before publish attempt n (0-based) is retried
func (c *Config) backoff(attempt int) time.Duration {
	base := c.PublishRetryDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	mult := c.PublishBackoffMult
	if mult <= 1 {
		mult = 2.0
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= mult
	}
	return time.Duration(d)
}

// Client is a publish-only RabbitMQ client bound to one exchange. A lost connection is
// re-established in the background; publishes fail fast until it is back.
type Client struct {
	config *Config
	logger *slog.Logger

	// amqp channels are not safe for concurrent publishing
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
	watchers  sync.WaitGroup
}

// NewClient dials RabbitMQ and declares the exchange
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := newClient(config, logger)

	conn, channel, err := client.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}
	client.install(conn, channel)

	return client, nil
}

func newClient(config *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() (*amqp.Connection, *amqp.Channel, error) {
	var (
		conn *amqp.Connection
		err  error
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := max(1, c.config.RetryAttempts)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.URL(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts && !c.sleep(c.config.RetryInterval) {
			return nil, nil, fmt.Errorf("client closed while connecting")
		}
	}

	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("exchange_type", c.config.ExchangeType),
	)

	return conn, channel, nil
}

// install makes conn the active connection and starts watching it. It reports false,
// closing conn, when the client was closed meanwhile.
func (c *Client) install(conn *amqp.Connection, channel *amqp.Channel) bool {
	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		channel.Close()
		conn.Close()
		return false
	}
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	// Monitor connection
	closeChan := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeChan)
	c.watchers.Add(1)
	go c.watch(closeChan)
	return true
}

// watch waits for the connection to close and reconnects unless the client was closed
func (c *Client) watch(closeChan <-chan *amqp.Error) {
	defer c.watchers.Done()

	select {
	case <-c.done:
		return
	case amqpErr, ok := <-closeChan:
		if c.isClosed() {
			return
		}
		attrs := []any{slog.String("host", c.config.Host)}
		if ok && amqpErr != nil {
			attrs = append(attrs, slog.Int("code", amqpErr.Code), slog.String("reason", amqpErr.Reason))
		}
		c.logger.Warn("RabbitMQ connection lost", attrs...)
	}

	c.mu.Lock()
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()

	c.reconnect()
}

// reconnect dials until it succeeds or the client is closed
func (c *Client) reconnect() {
	for {
		conn, channel, err := c.connect()
		if err == nil {
			if c.install(conn, channel) {
				c.logger.Info("RabbitMQ connection restored", slog.String("host", c.config.Host))
			}
			return
		}

		c.logger.Error("RabbitMQ reconnect failed", slog.Any("error", err))
		if !c.sleep(c.config.RetryInterval) {
			return
		}
	}
}

// sleep waits d and reports false if the client was closed meanwhile
func (c *Client) sleep(d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Publish sends one persistent message to the exchange under routingKey
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishWithRetry publishes with exponential backoff, giving up early when ctx is done
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.Publish(ctx, routingKey, body, contentType)
		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("routing_key", routingKey),
				slog.Int("body_size", len(body)),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}

		if attempt == maxRetries {
			break
		}

		delay := c.config.backoff(attempt)
		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.String("routing_key", routingKey),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

func (c *Client) connectedLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil
}

// Close closes the RabbitMQ connection and stops reconnecting
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn, channel := c.conn, c.channel
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	var err error
	if channel != nil {
		if cerr := channel.Close(); cerr != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", cerr))
		}
	}
	if conn != nil {
		if err = conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
		}
	}

	c.watchers.Wait()
	return err
}
