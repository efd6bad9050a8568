// Package mqtttest provides an in-memory MQTT broker and clients for tests.
package mqtttest

import (
	"context"
	"errors"
	"sync"

	"github.com/autopeer-io/velopark/pkg/mqtt"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

// ErrRefused is returned by Connect while the broker refuses a client.
var ErrRefused = errors.New("connection refused")

// Publication is one message seen by the Broker.
type Publication struct {
	ClientID string
	Topic    string
	Payload  []byte
}

// Broker routes publications between in-memory clients synchronously.
type Broker struct {
	mu        sync.Mutex
	clients   map[string]*Client
	published []Publication
	refused   map[string]bool
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		clients: make(map[string]*Client),
		refused: make(map[string]bool),
	}
}

// NewClient creates a disconnected client attached to the broker.
func (b *Broker) NewClient(id string) *Client {
	c := &Client{id: id, broker: b, subs: make(map[string]mqtt.MessageHandler)}
	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()
	return c
}

// Client returns the client registered under id.
func (b *Broker) Client(id string) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[id]
}

// Refuse makes every following Connect of the client fail until allowed again.
func (b *Broker) Refuse(id string, refuse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refused[id] = refuse
}

// Inject publishes as the broker itself.
func (b *Broker) Inject(topicName string, payload []byte) {
	b.route("", topicName, payload)
}

// Published returns every publication whose topic matches filter.
func (b *Broker) Published(filter string) []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Publication
	for _, p := range b.published {
		if topic.Match(filter, p.Topic) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Broker) route(from, topicName string, payload []byte) {
	type target struct {
		filter  string
		handler mqtt.MessageHandler
	}

	b.mu.Lock()
	b.published = append(b.published, Publication{ClientID: from, Topic: topicName, Payload: payload})
	var targets []target
	for _, c := range b.clients {
		c.mu.Lock()
		if c.connected {
			for filter, h := range c.subs {
				if topic.Match(filter, topicName) {
					targets = append(targets, target{filter, h})
				}
			}
		}
		c.mu.Unlock()
	}
	b.mu.Unlock()

	for _, t := range targets {
		t.handler(context.Background(), topicName, payload)
	}
}

// Client is an in-memory implementation of mqtt.Client.
type Client struct {
	id     string
	broker *Broker

	mu        sync.Mutex
	connected bool
	subs      map[string]mqtt.MessageHandler
	lost      mqtt.ConnectionLostHandler
	connects  int
}

var _ mqtt.Client = (*Client)(nil)

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.broker.mu.Lock()
	refused := c.broker.refused[c.id]
	c.broker.mu.Unlock()
	if refused {
		return ErrRefused
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.connects++
	return nil
}

func (c *Client) Disconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.subs = make(map[string]mqtt.MessageHandler)
}

func (c *Client) Publish(ctx context.Context, topicName string, qos int, retain bool, payload []byte) error {
	if !c.IsConnected() {
		return mqtt.ErrNotConnected
	}
	c.broker.route(c.id, topicName, payload)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, filter string, qos int, handler mqtt.MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return mqtt.ErrNotConnected
	}
	c.subs[filter] = handler
	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, filter string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, filter)
	return nil
}

func (c *Client) OnConnectionLost(fn mqtt.ConnectionLostHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost = fn
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscriptions returns the filters of the current session.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for f := range c.subs {
		out = append(out, f)
	}
	return out
}

// Connects returns how many times Connect succeeded.
func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Drop simulates an unsolicited link loss. The session's subscriptions are discarded.
func (c *Client) Drop(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.subs = make(map[string]mqtt.MessageHandler)
	fn := c.lost
	c.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
