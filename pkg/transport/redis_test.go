package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
)

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
	closed   bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	return redis.NewIntResult(1, nil)
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestRedisHandle(t *testing.T) {
	t.Run("publishes to channel", func(t *testing.T) {
		pub := &fakePublisher{}
		h := NewRedisHandle(pub, "")
		assert.Equal(t, DefaultRedisChannel, h.Channel())

		require.NoError(t, h.Send(context.Background(), progressNotification(t, "tok", 1)))
		require.Len(t, pub.payloads, 1)
		assert.Equal(t, DefaultRedisChannel, pub.channels[0])
		assert.JSONEq(t,
			`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"tok","progress":1}}`,
			string(pub.payloads[0]))
	})

	t.Run("publish error", func(t *testing.T) {
		h := NewRedisHandle(&fakePublisher{err: errors.New("connection refused")}, "c")
		err := h.Send(context.Background(), progressNotification(t, "tok", 1))
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryTransport))
	})

	t.Run("close", func(t *testing.T) {
		pub := &fakePublisher{}
		require.NoError(t, NewRedisHandle(pub, "c").Close())
		assert.True(t, pub.closed)
	})
}

func TestDialRedisErrors(t *testing.T) {
	t.Run("bad url", func(t *testing.T) {
		_, err := DialRedis(context.Background(), RedisConfig{URL: "not a url"})
		assert.Error(t, err)
	})

	t.Run("nothing listening", func(t *testing.T) {
		_, err := DialRedis(context.Background(), RedisConfig{
			URL:            "redis://" + freeAddr(t) + "/0",
			RetryAttempts:  2,
			RetryInterval:  10 * time.Millisecond,
			ConnectTimeout: 2 * time.Second,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRedisNotReady)
	})
}
