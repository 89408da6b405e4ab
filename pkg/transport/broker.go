package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// EmbeddedBroker runs an in-process MQTT broker. It is itself a
// broadcast-only handle: Send publishes through the broker's inline client
// so subscribers receive notifications without a separate broker.
type EmbeddedBroker struct {
	server  *mqtt.Server
	address string
	topic   string
}

// NewEmbeddedBroker creates a broker listening on address once started.
// All clients are allowed to connect.
func NewEmbeddedBroker(address, topic string) (*EmbeddedBroker, error) {
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}

	return &EmbeddedBroker{server: server, address: address, topic: topic}, nil
}

// Start binds the TCP listener and begins serving
func (b *EmbeddedBroker) Start() error {
	listener := listeners.NewTCP(listeners.Config{
		ID:      "mcp-notify-" + b.address,
		Address: b.address,
	})
	if err := b.server.AddListener(listener); err != nil {
		return mcperrors.ConnectionFailed(NameBroker, b.address, err)
	}
	if err := b.server.Serve(); err != nil {
		return mcperrors.TransportError(NameBroker, "serve", err)
	}
	return nil
}

// Address returns the configured listen address
func (b *EmbeddedBroker) Address() string {
	return b.address
}

// Topic returns the publish topic
func (b *EmbeddedBroker) Topic() string {
	return b.topic
}

// Send publishes n on the broker topic
func (b *EmbeddedBroker) Send(ctx context.Context, n *protocol.Notification) error {
	if err := ctx.Err(); err != nil {
		return mcperrors.MessageSendError(NameBroker, methodOf(n), err)
	}
	data, err := encode(NameBroker, n)
	if err != nil {
		return err
	}
	if err := b.server.Publish(b.topic, data, false, 0); err != nil {
		return mcperrors.MessageSendError(NameBroker, n.Method, err)
	}
	return nil
}

// Close stops the broker and disconnects every client
func (b *EmbeddedBroker) Close() error {
	return b.server.Close()
}
