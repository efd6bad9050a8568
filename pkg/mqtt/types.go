package mqtt

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = errors.New("mqtt client not connected")

// MessageHandler defines the callback function for processing received MQTT messages.
// Handlers run on the connection's reader goroutine and must not block.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// ConnectionLostHandler is invoked once per session when the link drops
// without a local Disconnect.
type ConnectionLostHandler func(err error)

// Client defines the interface for a generic MQTT client.
// It abstracts the underlying paho implementation details.
// Reconnection is left to the owner: after a loss, call Connect again and
// re-issue subscriptions.
type Client interface {
	// Connect dials the broker and blocks until the CONNACK is received.
	Connect(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message to the specified topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers a handler for a specific topic filter and sends the SUBSCRIBE packet.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// OnConnectionLost installs the handler called on unsolicited disconnects.
	OnConnectionLost(fn ConnectionLostHandler)

	// IsConnected returns true if the client is currently connected.
	IsConnected() bool
}
