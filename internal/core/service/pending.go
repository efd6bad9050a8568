package service

import (
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/autopeer-io/velopark/internal/protocol"
)

// pendingCommand is a command waiting for its acknowledgment.
type pendingCommand struct {
	cmd    *protocol.Command
	sentAt time.Time
	// settled flips once, on ack, send failure or expiry.
	settled atomic.Bool
}

// pendingSet tracks unacknowledged commands; entries expire after the
// command timeout and are reported through onTimeout.
type pendingSet struct {
	items *cache.Cache
}

func newPendingSet(sweep time.Duration, onTimeout func(*pendingCommand)) *pendingSet {
	items := cache.New(cache.NoExpiration, sweep)
	items.OnEvicted(func(_ string, v any) {
		p := v.(*pendingCommand)
		if p.settled.CompareAndSwap(false, true) {
			onTimeout(p)
		}
	})
	return &pendingSet{items: items}
}

func (s *pendingSet) track(cmd *protocol.Command, now time.Time) {
	ttl := cmd.Timeout()
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	s.items.Set(cmd.CommandID, &pendingCommand{cmd: cmd, sentAt: now}, ttl)
}

// settle removes a command without reporting a timeout.
func (s *pendingSet) settle(commandID string) (*pendingCommand, bool) {
	v, ok := s.items.Get(commandID)
	if !ok {
		return nil, false
	}
	p := v.(*pendingCommand)
	if !p.settled.CompareAndSwap(false, true) {
		return nil, false
	}
	s.items.Delete(commandID)
	return p, true
}

func (s *pendingSet) len() int {
	return s.items.ItemCount()
}
