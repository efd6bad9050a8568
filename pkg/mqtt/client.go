package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

type pahoClient struct {
	cfg *ClientConfig
	log log.Logger

	mu   sync.Mutex
	conn *paho.Client

	connected atomic.Bool
	closing   atomic.Bool
	session   atomic.Uint64
	lost      atomic.Pointer[ConnectionLostHandler]

	// subscriptions holds the registered handlers.
	// Key: topic filter (string), Value: subscriptionEntry
	subscriptions sync.Map
}

type subscriptionEntry struct {
	topic   string
	qos     int
	handler MessageHandler
}

// NewClient creates a new MQTT client implementing the Client interface.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg: cfg,
		log: log.WithName("mqtt").WithValues("clientID", cfg.ClientID),
	}, nil
}

func (c *pahoClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.connected.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	netConn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	session := c.session.Add(1)
	cli := paho.NewClient(paho.ClientConfig{
		ClientID: c.cfg.ClientID,
		Conn:     netConn,
		OnClientError: func(err error) {
			c.connectionLost(session, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.onServerDisconnect(session, d)
		},
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.router,
		},
	})

	cp := &paho.Connect{
		ClientID:     c.cfg.ClientID,
		KeepAlive:    c.cfg.KeepAlive,
		CleanStart:   c.cfg.CleanStart,
		Username:     c.cfg.Username,
		UsernameFlag: c.cfg.Username != "",
		Password:     []byte(c.cfg.Password),
		PasswordFlag: c.cfg.Password != "",
	}
	if c.cfg.SessionExpiry > 0 {
		expiry := c.cfg.SessionExpiry
		cp.Properties = &paho.ConnectProperties{SessionExpiryInterval: &expiry}
	}

	ack, err := cli.Connect(ctx, cp)
	if err != nil {
		_ = netConn.Close()
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	if ack.ReasonCode != 0 {
		_ = netConn.Close()
		return fmt.Errorf("mqtt connect refused: reason code %d", ack.ReasonCode)
	}

	c.conn = cli
	c.closing.Store(false)
	c.connected.Store(true)

	c.log.Info("MQTT Connection established", "broker", c.cfg.BrokerURL)
	return nil
}

func (c *pahoClient) dial(ctx context.Context) (net.Conn, error) {
	u, _ := url.Parse(c.cfg.BrokerURL) // Already validated
	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}

	switch u.Scheme {
	case "ssl", "tls", "mqtts":
		td := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify},
		}
		return td.DialContext(ctx, "tcp", u.Host)
	default:
		return dialer.DialContext(ctx, "tcp", u.Host)
	}
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}

	c.closing.Store(true)
	wasConnected := c.connected.Swap(false)
	if wasConnected {
		_ = c.conn.Disconnect(&paho.Disconnect{ReasonCode: 0})
		c.log.Info("MQTT Client disconnected")
	}
	c.conn = nil
}

func (c *pahoClient) current() (*paho.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected.Load() {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cli, err := c.current()
	if err != nil {
		return err
	}

	_, err = cli.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})

	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	cli, err := c.current()
	if err != nil {
		return err
	}

	c.subscriptions.Store(topic, subscriptionEntry{
		topic:   topic,
		qos:     qos,
		handler: handler,
	})

	if _, err := cli.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(qos)},
		},
	}); err != nil {
		return fmt.Errorf("failed to send subscription packet: %w", err)
	}

	c.log.Debug("Subscribed to topic", "topic", topic)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	c.subscriptions.Delete(topic)

	cli, err := c.current()
	if err != nil {
		return err
	}

	_, err = cli.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: []string{topic},
	})
	return err
}

func (c *pahoClient) OnConnectionLost(fn ConnectionLostHandler) {
	c.lost.Store(&fn)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

// --- Internal Callbacks ---

func (c *pahoClient) connectionLost(session uint64, err error) {
	// Errors from a replaced session must not tear down the current one.
	if c.session.Load() != session || c.closing.Load() || !c.connected.CompareAndSwap(true, false) {
		return
	}

	c.log.Warn("MQTT Connection lost", "error", err)
	if fn := c.lost.Load(); fn != nil && *fn != nil {
		(*fn)(err)
	}
}

func (c *pahoClient) onServerDisconnect(session uint64, d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	c.connectionLost(session, fmt.Errorf("server disconnect: code %d %s", d.ReasonCode, reason))
}

// router dispatches incoming messages to the registered handlers.
func (c *pahoClient) router(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(key, value any) bool {
		entry := value.(subscriptionEntry)
		if topic.Match(entry.topic, p.Packet.Topic) {
			entry.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
			matched = true
		}
		return true
	})

	if !matched {
		c.log.Debug("Received message on unhandled topic", "topic", p.Packet.Topic)
	}

	return true, nil // Always acknowledge reception
}
