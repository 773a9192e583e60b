package rabbitmq

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		name  string
		vhost string
		want  string
	}{
		{name: "default vhost", vhost: "", want: "amqp://guest:secret@mq:5672/"},
		{name: "root vhost", vhost: "/", want: "amqp://guest:secret@mq:5672/"},
		{name: "named vhost", vhost: "stylize", want: "amqp://guest:secret@mq:5672/stylize"},
		{name: "named vhost with slash", vhost: "/stylize", want: "amqp://guest:secret@mq:5672/stylize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: "mq", Port: 5672, User: "guest", Password: "secret", VHost: tt.vhost}
			assert.Equal(t, tt.want, cfg.URL())
		})
	}
}

func TestConfig_Backoff(t *testing.T) {
	cfg := &Config{PublishRetryDelay: 10 * time.Millisecond, PublishBackoffMult: 3}
	assert.Equal(t, 10*time.Millisecond, cfg.backoff(0))
	assert.Equal(t, 30*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 90*time.Millisecond, cfg.backoff(2))

	defaults := &Config{}
	assert.Equal(t, 100*time.Millisecond, defaults.backoff(0))
	assert.Equal(t, 200*time.Millisecond, defaults.backoff(1))
}

func TestClient_PublishWithoutConnection(t *testing.T) {
	c := &Client{config: &Config{}}
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Publish(t.Context(), "job.done", []byte("{}"), "application/json"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func unreachableClient(out *syncBuffer) *Client {
	cfg := &Config{
		Host:          "127.0.0.1",
		Port:          1,
		User:          "guest",
		Password:      "guest",
		RetryAttempts: 1,
		RetryInterval: time.Millisecond,
	}
	return newClient(cfg, slog.New(slog.NewTextHandler(out, nil)))
}

func TestClient_WatchReconnectsAfterConnectionLoss(t *testing.T) {
	out := &syncBuffer{}
	c := unreachableClient(out)

	closeChan := make(chan *amqp.Error, 1)
	c.watchers.Add(1)
	go c.watch(closeChan)
	closeChan <- &amqp.Error{Code: 320, Reason: "CONNECTION_FORCED - broker shutdown"}

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "RabbitMQ reconnect failed")
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, c.IsConnected())

	// Close stops the reconnect loop and waits for it
	require.NoError(t, c.Close())
	logs := out.String()
	assert.Contains(t, logs, "RabbitMQ connection lost")
	assert.Contains(t, logs, "CONNECTION_FORCED")
	assert.Contains(t, logs, "Connecting to RabbitMQ")
}

func TestClient_WatchStopsAfterClose(t *testing.T) {
	out := &syncBuffer{}
	c := unreachableClient(out)

	closeChan := make(chan *amqp.Error, 1)
	c.watchers.Add(1)
	go c.watch(closeChan)

	require.NoError(t, c.Close())
	close(closeChan)

	assert.NotContains(t, out.String(), "RabbitMQ connection lost")
	assert.NotContains(t, out.String(), "Connecting to RabbitMQ")
}
