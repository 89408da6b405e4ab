package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

func TestWSConn(t *testing.T) {
	connCh := make(chan *WSConn, 1)
	loopErr := make(chan error, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWSConn("ws-1", c, WithWSLogger(logging.Nop()))
		connCh <- conn
		loopErr <- conn.ReadLoop(r.Context(), func(ctx context.Context, data []byte) []byte {
			return []byte(`{"echo":` + string(data) + `}`)
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.CloseNow()

	var conn *WSConn
	select {
	case conn = <-connCh:
	case <-ctx.Done():
		t.Fatal("server never accepted")
	}
	assert.Equal(t, "ws-1", conn.SessionID())

	t.Run("send notification", func(t *testing.T) {
		require.NoError(t, conn.Send(ctx, progressNotification(t, "tok", 0.5)))

		typ, data, err := client.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)

		var n protocol.Notification
		require.NoError(t, json.Unmarshal(data, &n))
		assert.Equal(t, protocol.MethodProgress, n.Method)
	})

	t.Run("inbound message gets response", func(t *testing.T) {
		require.NoError(t, client.Write(ctx, websocket.MessageText, []byte(`{"a":1}`)))

		_, data, err := client.Read(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"echo":{"a":1}}`, string(data))
	})

	t.Run("peer close ends read loop", func(t *testing.T) {
		require.NoError(t, client.Close(websocket.StatusNormalClosure, ""))

		select {
		case err := <-loopErr:
			assert.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("read loop did not return")
		}

		select {
		case <-conn.Done():
		case <-ctx.Done():
			t.Fatal("Done was not closed")
		}
		assert.Error(t, conn.Send(ctx, progressNotification(t, "tok", 1)))
	})
}
