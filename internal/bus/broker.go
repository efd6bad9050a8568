// Package bus embeds the MQTT broker that connects device agents with the
// ride orchestrator.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
	"github.com/autopeer-io/velopark/pkg/options"
)

// ErrStopped is returned by operations on a bus that is not running.
var ErrStopped = errors.New("bus is not running")

const (
	listenerID = "velopark-tcp"
	// routeSubscriptionID identifies the inline subscription feeding the Router.
	routeSubscriptionID = 1
)

// Broker is the embedded message bus. It is either Started or Stopped.
type Broker struct {
	opts   *options.BusOptions
	router *Router

	mu       sync.Mutex
	server   *mochi.Server
	listener *listeners.TCP
	running  atomic.Bool

	// clients maps client id to ConnectionState.
	clients sync.Map
}

// NewBroker creates a stopped bus.
func NewBroker(opts *options.BusOptions) *Broker {
	return &Broker{
		opts:   opts,
		router: NewRouter(),
	}
}

// Start opens the listener and begins routing. Starting a running bus is a no-op.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running.Load() {
		return nil
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       log.Slog().With("component", "bus"),
	})

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("failed to add auth hook: %w", err)
	}
	if err := server.AddHook(&lifecycleHook{broker: b}, nil); err != nil {
		return fmt.Errorf("failed to add lifecycle hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		Type:    listeners.TypeTCP,
		ID:      listenerID,
		Address: b.opts.Address(),
	})
	if err := server.AddListener(tcp); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.opts.Address(), err)
	}

	err := server.Subscribe(topic.MultiWildcard, routeSubscriptionID, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		b.router.Dispatch(Message{
			Topic:      pk.TopicName,
			Payload:    pk.Payload,
			ClientID:   cl.ID,
			FromServer: cl.Net.Inline,
			ReceivedAt: time.Now(),
		})
	})
	if err != nil {
		_ = server.Close()
		return fmt.Errorf("failed to attach router: %w", err)
	}

	go func() {
		if err := server.Serve(); err != nil {
			log.Error(err, "Bus stopped serving")
		}
	}()

	b.server = server
	b.listener = tcp
	b.running.Store(true)

	log.Info("Message bus started", "addr", tcp.Address())
	return nil
}

// Stop closes every client session and the listener, then waits for
// in-flight subscriber handlers. Stopping a stopped bus is a no-op.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running.Swap(false) {
		return nil
	}

	err := b.server.Close()
	if rerr := b.router.Close(ctx); rerr != nil {
		err = errors.Join(err, rerr)
	}

	b.server = nil
	b.listener = nil
	log.Info("Message bus stopped")
	return err
}

// Running reports whether the bus accepts publications.
func (b *Broker) Running() bool {
	return b.running.Load()
}

// Addr returns the bound listener address, or the configured one when stopped.
func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listener != nil {
		return b.listener.Address()
	}
	return b.opts.Address()
}

// Inject publishes payload as the server identity. Injected messages reach
// devices normally but are hidden from in-process subscribers unless they
// opted in with WithServerOrigin.
func (b *Broker) Inject(ctx context.Context, topicName string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	server := b.server
	b.mu.Unlock()

	if server == nil || !b.running.Load() {
		return ErrStopped
	}

	if err := server.Publish(topicName, payload, false, byte(b.opts.InjectQoS)); err != nil {
		return fmt.Errorf("failed to inject on %s: %w", topicName, err)
	}
	return nil
}

// Subscribe registers an in-process subscriber and returns its cancel function.
func (b *Broker) Subscribe(filter string, handler Handler, opts ...SubscribeOption) func() {
	return b.router.Add(filter, handler, opts...)
}

// Clients returns the last known state of every client session.
func (b *Broker) Clients() map[string]ConnectionState {
	out := make(map[string]ConnectionState)
	b.clients.Range(func(k, v any) bool {
		out[k.(string)] = v.(ConnectionState)
		return true
	})
	return out
}

func (b *Broker) setState(clientID string, state ConnectionState) ConnectionState {
	prev, _ := b.clients.Swap(clientID, state)
	if p, ok := prev.(ConnectionState); ok {
		return p
	}
	return ""
}
