package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

// Message is a publication delivered to in-process subscribers.
type Message struct {
	Topic    string
	Payload  []byte
	ClientID string
	// FromServer is set for messages injected by the bus itself.
	FromServer bool
	ReceivedAt time.Time
}

// Handler processes one message. Returned errors are logged and counted.
type Handler func(ctx context.Context, msg Message) error

const (
	// queueSize bounds the messages waiting for one subscriber.
	queueSize = 256
	// enqueueWait is how long Dispatch waits on a full subscriber queue
	// before dropping the message for that subscriber.
	enqueueWait = 100 * time.Millisecond
)

type delivery struct {
	ctx context.Context
	msg Message
}

type subscription struct {
	id           uint64
	filter       string
	handler      Handler
	serverOrigin bool

	queue chan delivery
	stop  chan struct{}
}

// SubscribeOption tunes an in-process subscription.
type SubscribeOption func(*subscription)

// WithServerOrigin delivers messages injected by the server too.
// By default only device publications reach a subscriber.
func WithServerOrigin() SubscribeOption {
	return func(s *subscription) { s.serverOrigin = true }
}

// Router fans publications out to in-process subscribers. Each subscription
// owns a queue drained by one goroutine, so a subscriber sees messages in
// dispatch order and a slow one only delays itself.
type Router struct {
	mu   sync.RWMutex
	subs []*subscription
	seq  uint64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{ctx: ctx, cancel: cancel}
}

// Add registers handler for filter and returns a function removing it.
func (r *Router) Add(filter string, handler Handler, opts ...SubscribeOption) func() {
	sub := &subscription{
		filter:  filter,
		handler: handler,
		queue:   make(chan delivery, queueSize),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}

	r.mu.Lock()
	r.seq++
	sub.id = r.seq
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go r.work(sub)
	return sync.OnceFunc(func() { r.remove(sub.id) })
}

func (r *Router) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			close(s.stop)
			return
		}
	}
}

// Dispatch queues msg for every matching subscription without waiting for
// the handlers. It returns the number of subscriptions that accepted it.
func (r *Router) Dispatch(msg Message) int {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	// the read lock keeps removed subscriptions from receiving new messages
	r.mu.RLock()
	defer r.mu.RUnlock()

	d := delivery{ctx: r.ctx, msg: msg}
	n := 0
	for _, s := range r.subs {
		if msg.FromServer && !s.serverOrigin {
			continue
		}
		if !topic.Match(s.filter, msg.Topic) {
			continue
		}
		if r.enqueue(s, d) {
			n++
		}
	}
	return n
}

func (r *Router) enqueue(s *subscription, d delivery) bool {
	r.wg.Add(1)
	select {
	case s.queue <- d:
		return true
	default:
	}

	timer := time.NewTimer(enqueueWait)
	defer timer.Stop()
	select {
	case s.queue <- d:
		return true
	case <-timer.C:
		r.wg.Done()
		metrics.BusDroppedTotal.WithLabelValues("subscriber_full").Inc()
		log.Warn("Subscriber queue full, dropping message", "filter", s.filter, "topic", d.msg.Topic)
		return false
	}
}

func (r *Router) work(s *subscription) {
	for {
		select {
		case d := <-s.queue:
			r.deliver(d.ctx, s, d.msg)
		case <-s.stop:
			for {
				select {
				case <-s.queue:
					r.wg.Done()
				default:
					return
				}
			}
		}
	}
}

func (r *Router) deliver(ctx context.Context, s *subscription, msg Message) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.BusHandlerErrorsTotal.WithLabelValues(s.filter).Inc()
			log.Error(fmt.Errorf("panic: %v", rec), "Bus subscriber panicked", "filter", s.filter, "topic", msg.Topic)
		}
	}()

	if err := s.handler(ctx, msg); err != nil {
		metrics.BusHandlerErrorsTotal.WithLabelValues(s.filter).Inc()
		log.Error(err, "Bus subscriber failed", "filter", s.filter, "topic", msg.Topic)
	}
}

// Close cancels the context of running and queued handlers and waits for
// them until ctx expires.
// Subscriptions survive, so the router can serve a restarted bus.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bus subscribers still running: %w", ctx.Err())
	}
}
