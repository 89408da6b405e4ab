package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// DefaultRedisChannel is the pub/sub channel notifications are published to
const DefaultRedisChannel = "mcp:notifications"

// ErrRedisNotReady is returned when every connection attempt failed
var ErrRedisNotReady = errors.New("redis did not become ready")

// RedisConfig configures the Redis connection
type RedisConfig struct {
	URL            string
	Channel        string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// Publisher is the subset of a Redis client used to publish
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisHandle is a broadcast-only handle publishing to a pub/sub channel
type RedisHandle struct {
	pub     Publisher
	channel string
}

// NewRedisHandle creates a handle publishing through pub
func NewRedisHandle(pub Publisher, channel string) *RedisHandle {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisHandle{pub: pub, channel: channel}
}

// DialRedis connects with retries and returns a handle backed by the client
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisHandle, error) {
	client, err := connectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRedisHandle(client, cfg.Channel), nil
}

func connectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, mcperrors.InvalidParameter("redis_url", cfg.URL, "redis://[:password@]host:port/db")
	}

	for i := 0; i < cfg.RetryAttempts; i++ {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, mcperrors.ConnectionFailed(NameRedis, opts.Addr, errors.Join(ErrRedisNotReady, ctx.Err()))
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, mcperrors.ConnectionFailed(NameRedis, opts.Addr, ErrRedisNotReady)
}

// Channel returns the publish channel
func (h *RedisHandle) Channel() string {
	return h.channel
}

// Send publishes n. Zero subscribers is still a successful publish.
func (h *RedisHandle) Send(ctx context.Context, n *protocol.Notification) error {
	data, err := encode(NameRedis, n)
	if err != nil {
		return err
	}
	if err := h.pub.Publish(ctx, h.channel, data).Err(); err != nil {
		return mcperrors.MessageSendError(NameRedis, n.Method, err)
	}
	return nil
}

// Close closes the underlying client when it owns one
func (h *RedisHandle) Close() error {
	if c, ok := h.pub.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
