package transport

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// Transport names used in errors and logs
const (
	NameStdio     = "stdio"
	NameSSE       = "sse"
	NameWebSocket = "websocket"
	NameMQTT      = "mqtt"
	NameBroker    = "mqtt-embedded"
	NameRedis     = "redis"
)

// MessageHandler handles one inbound raw message and returns the raw
// response to write back, or nil when there is nothing to write.
type MessageHandler func(ctx context.Context, data []byte) []byte

// encode serializes n for transport. A nil notification or an empty method
// is rejected before anything reaches the wire.
func encode(transport string, n *protocol.Notification) ([]byte, error) {
	if n == nil {
		return nil, mcperrors.MissingParameter("notification")
	}
	if n.Method == "" {
		return nil, mcperrors.MessageSendError(transport, "", protocol.ErrEmptyMethod)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, mcperrors.MessageSendError(transport, n.Method, err)
	}
	return data, nil
}
