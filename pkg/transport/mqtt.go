package transport

import (
	"context"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// MQTTConfig configures an MQTT broadcast handle
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Topic          string
	QoS            byte
	Retain         bool
	Username       string
	Password       string
	ConnectTimeout time.Duration
}

// DefaultMQTTTopic is the topic notifications are published to
const DefaultMQTTTopic = "mcp/notifications"

// MQTTHandle is a broadcast-only handle publishing each notification to one
// MQTT topic.
type MQTTHandle struct {
	client paho.Client
	topic  string
	qos    byte
	retain bool
}

// NewMQTTHandle wraps an already connected paho client
func NewMQTTHandle(client paho.Client, topic string, qos byte, retain bool) *MQTTHandle {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTTHandle{client: client, topic: topic, qos: qos, retain: retain}
}

// DialMQTT connects to the broker and returns a handle
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTHandle, error) {
	if cfg.BrokerURL == "" {
		return nil, mcperrors.MissingParameter("broker_url")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("mcp-notify-%d", time.Now().UnixNano())
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, mcperrors.ConnectionFailed(NameMQTT, cfg.BrokerURL, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, mcperrors.ConnectionFailed(NameMQTT, cfg.BrokerURL, err)
	}

	return NewMQTTHandle(client, cfg.Topic, cfg.QoS, cfg.Retain), nil
}

// Topic returns the publish topic
func (h *MQTTHandle) Topic() string {
	return h.topic
}

// Send publishes n to the topic and waits for the publish to complete
func (h *MQTTHandle) Send(ctx context.Context, n *protocol.Notification) error {
	data, err := encode(NameMQTT, n)
	if err != nil {
		return err
	}
	if !h.client.IsConnectionOpen() {
		return mcperrors.ConnectionClosed(NameMQTT)
	}

	token := h.client.Publish(h.topic, h.qos, h.retain, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return mcperrors.MessageSendError(NameMQTT, n.Method, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return mcperrors.MessageSendError(NameMQTT, n.Method, err)
	}
	return nil
}

// Close disconnects the client
func (h *MQTTHandle) Close() error {
	h.client.Disconnect(250)
	return nil
}
