// Package device simulates the onboard controller of one vehicle.
//
// Every Agent is an actor: a single goroutine owns the device state and
// consumes bus commands, link events and timer ticks from one inbox.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

const (
	inboxSize      = 256
	publishTimeout = 5 * time.Second
)

var (
	// ErrStopped is returned by operations on an agent that is not running.
	ErrStopped = errors.New("agent is not running")

	// ErrAlreadyStarted is returned by a second Initialize.
	ErrAlreadyStarted = errors.New("agent already initialized")

	// ErrUnknownAction is reported for commands outside the command set.
	ErrUnknownAction = errors.New("unknown action")
)

type eventKind int

const (
	evCommand eventKind = iota
	evLinkLost
	evDialed
	evSnapshot
	evStop
)

type event struct {
	kind  eventKind
	cmd   *protocol.Command
	err   error
	reply chan State
	ctx   context.Context
}

type inflight struct {
	cmd     *protocol.Command
	started time.Time
}

// Agent is the simulated device of one vehicle.
type Agent struct {
	cfg    Config
	link   mqtt.Client
	topics *topic.Builder
	log    log.Logger

	inbox    chan event
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc

	// Owned by the run goroutine after Initialize.
	state     State
	lock      *lockMachine
	queue     []*protocol.Command
	current   *inflight
	attempt   int
	dialing   bool
	startedAt time.Time

	heartbeat *time.Ticker
	battery   *time.Ticker
	movement  *time.Ticker
	settle    *time.Timer
	exec      *time.Timer
	reconnect *time.Timer
}

// New creates an agent for cfg.VehicleID that talks over link.
func New(cfg Config, link mqtt.Client) (*Agent, error) {
	if cfg.VehicleID == "" {
		return nil, errors.New("vehicle id is required")
	}
	if link == nil {
		return nil, errors.New("mqtt client is required")
	}
	cfg.setDefaults()

	a := &Agent{
		cfg:    cfg,
		link:   link,
		topics: cfg.Topics,
		log:    log.WithValues("vehicle", cfg.VehicleID),
		inbox:  make(chan event, inboxSize),
		done:   make(chan struct{}),
		state: State{
			VehicleID: cfg.VehicleID,
			LotID:     cfg.LotID,
			DeviceID:  cfg.DeviceID,
			Electric:  cfg.Electric,
			Lock:      protocol.LockLocked,
			Battery:   cfg.Battery,
			Lat:       cfg.Lat,
			Lng:       cfg.Lng,
			Conn:      ConnConnecting,
		},
	}
	a.lock = newLockMachine(protocol.LockLocked, a.log, func() bool { return a.state.Alarm })
	return a, nil
}

// VehicleID returns the id of the simulated vehicle.
func (a *Agent) VehicleID() string {
	return a.cfg.VehicleID
}

// Initialize connects the agent, subscribes its command topic and starts the
// actor. Timers start after the settle delay.
func (a *Agent) Initialize(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	a.link.OnConnectionLost(func(err error) {
		a.post(event{kind: evLinkLost, err: err})
	})

	if err := a.connect(ctx, a.state.LotID); err != nil {
		a.started.Store(false)
		return fmt.Errorf("failed to initialize agent %s: %w", a.cfg.VehicleID, err)
	}

	a.state.Conn = ConnConnected
	a.startedAt = time.Now()
	a.settle = time.NewTimer(a.cfg.SettleDelay)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go a.run(runCtx)

	a.log.Info("Device agent online", "lot", a.state.LotID)
	return nil
}

// Snapshot returns a copy of the agent state.
func (a *Agent) Snapshot(ctx context.Context) (State, error) {
	if !a.started.Load() {
		return State{}, ErrStopped
	}

	reply := make(chan State, 1)
	select {
	case a.inbox <- event{kind: evSnapshot, reply: reply}:
	case <-a.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}

	select {
	case s := <-reply:
		return s, nil
	case <-a.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Stop halts the timers, abandons queued commands and disconnects.
func (a *Agent) Stop(ctx context.Context) error {
	if !a.started.Load() {
		return nil
	}

	a.stopOnce.Do(func() {
		select {
		case a.inbox <- event{kind: evStop, ctx: ctx}:
		case <-a.done:
		case <-ctx.Done():
		}
	})

	select {
	case <-a.done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		return fmt.Errorf("agent %s did not stop: %w", a.cfg.VehicleID, ctx.Err())
	}
}

// post delivers an internal event; it gives up once the actor has exited.
func (a *Agent) post(ev event) {
	select {
	case a.inbox <- ev:
	case <-a.done:
	}
}

// connect opens the link and subscribes the command topic of lotID.
func (a *Agent) connect(ctx context.Context, lotID string) error {
	if err := a.link.Connect(ctx); err != nil {
		return err
	}
	if err := a.link.Subscribe(ctx, a.topics.VehicleCommand(lotID, a.cfg.VehicleID), a.cfg.QoS, a.onCommand); err != nil {
		a.link.Disconnect(ctx)
		return fmt.Errorf("failed to subscribe command topic: %w", err)
	}
	return nil
}

// onCommand runs on the link's reader goroutine and must not block.
func (a *Agent) onCommand(ctx context.Context, topicName string, payload []byte) {
	msg, err := protocol.Decode(payload)
	if err != nil {
		a.log.Warn("Dropping malformed command", "topic", topicName, "error", err)
		return
	}
	cmd, ok := msg.(*protocol.Command)
	if !ok {
		a.log.Warn("Ignoring non-command message", "topic", topicName, "type", msg.Meta().Type)
		return
	}

	select {
	case a.inbox <- event{kind: evCommand, cmd: cmd}:
	default:
		a.log.Warn("Inbox full, dropping command", "command", cmd.CommandID, "action", cmd.Action)
	}
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			a.shutdown(context.Background())
			return

		case ev := <-a.inbox:
			if a.handle(ctx, ev) {
				return
			}

		case <-timerC(a.settle):
			a.settle = nil
			a.startTimers(ctx)

		case <-tickerC(a.heartbeat):
			a.publishHeartbeat(ctx)

		case <-tickerC(a.battery):
			a.tickBattery(ctx)

		case <-tickerC(a.movement):
			a.tickMovement(ctx)

		case <-timerC(a.exec):
			a.exec = nil
			a.complete(ctx)

		case <-timerC(a.reconnect):
			a.reconnect = nil
			a.dial(ctx)
		}
	}
}

// handle processes one inbox event and reports whether the actor must exit.
func (a *Agent) handle(ctx context.Context, ev event) bool {
	switch ev.kind {
	case evCommand:
		a.enqueue(ev.cmd)

	case evLinkLost:
		a.onLinkLost(ev.err)

	case evDialed:
		a.onDialed(ev.err)

	case evSnapshot:
		ev.reply <- a.snapshot()

	case evStop:
		a.shutdown(ev.ctx)
		return true
	}
	return false
}

func (a *Agent) snapshot() State {
	s := a.state
	s.Lock = a.lock.State()
	s.Queued = len(a.queue)
	if a.current != nil {
		s.Queued++
	}
	if !a.startedAt.IsZero() {
		s.Uptime = time.Since(a.startedAt)
	}
	s.Retries = a.attempt
	return s
}

func (a *Agent) shutdown(ctx context.Context) {
	a.stopTimers()
	if a.exec != nil {
		a.exec.Stop()
		a.exec = nil
	}

	abandoned := len(a.queue)
	if a.current != nil {
		abandoned++
	}
	a.queue = nil
	a.current = nil
	if abandoned > 0 {
		a.log.Warn("Abandoning queued commands", "count", abandoned)
	}

	a.state.Conn = ConnStopped
	a.link.Disconnect(ctx)
	a.log.Info("Device agent stopped")
}

// -----------------------------------------------------------------------------
// Timers
// -----------------------------------------------------------------------------

func (a *Agent) startTimers(ctx context.Context) {
	a.stopTimers()

	a.heartbeat = time.NewTicker(a.cfg.HeartbeatInterval)
	if a.cfg.Electric {
		a.battery = time.NewTicker(a.cfg.BatteryInterval)
	}
	if a.state.Moving {
		a.movement = time.NewTicker(a.cfg.MovementInterval)
	}

	a.publishHeartbeat(ctx)
}

func (a *Agent) stopTimers() {
	for _, t := range []**time.Ticker{&a.heartbeat, &a.battery, &a.movement} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	if a.settle != nil {
		a.settle.Stop()
		a.settle = nil
	}
	if a.reconnect != nil {
		a.reconnect.Stop()
		a.reconnect = nil
	}
}

func (a *Agent) startMovement() {
	if a.movement == nil && a.heartbeat != nil {
		a.movement = time.NewTicker(a.cfg.MovementInterval)
	}
}

func (a *Agent) stopMovement() {
	if a.movement != nil {
		a.movement.Stop()
		a.movement = nil
	}
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// -----------------------------------------------------------------------------
// Reconnection
// -----------------------------------------------------------------------------

func (a *Agent) onLinkLost(err error) {
	if a.state.Conn != ConnConnected {
		return
	}

	a.log.Warn("Link lost, reconnecting", "error", err, "maxRetries", a.cfg.MaxRetries)
	a.stopTimers()
	a.stopMovement()
	a.state.Conn = ConnReconnecting
	a.attempt = 0
	a.scheduleReconnect()
}

// scheduleReconnect arms attempt n after n*BackoffStep.
func (a *Agent) scheduleReconnect() {
	a.attempt++
	if a.attempt > a.cfg.MaxRetries {
		a.goOffline()
		return
	}
	a.reconnect = time.NewTimer(time.Duration(a.attempt) * a.cfg.BackoffStep)
}

func (a *Agent) dial(ctx context.Context) {
	if a.state.Conn != ConnReconnecting || a.dialing {
		return
	}

	a.dialing = true
	lotID := a.state.LotID
	go func() {
		err := a.connect(ctx, lotID)
		a.post(event{kind: evDialed, err: err})
	}()
}

func (a *Agent) onDialed(err error) {
	a.dialing = false
	if a.state.Conn != ConnReconnecting {
		return
	}

	if err != nil {
		a.log.Warn("Reconnect attempt failed", "attempt", a.attempt, "error", err)
		a.scheduleReconnect()
		return
	}

	a.log.Info("Reconnected", "attempt", a.attempt)
	a.state.Conn = ConnConnected
	a.attempt = 0
	a.settle = time.NewTimer(a.cfg.SettleDelay)
}

func (a *Agent) goOffline() {
	a.attempt = a.cfg.MaxRetries
	a.state.Conn = ConnOffline
	a.log.Error(errors.New("reconnection budget exhausted"), "Device agent offline", "retries", a.cfg.MaxRetries)

	if fn := a.cfg.OnOffline; fn != nil {
		go fn(a.cfg.VehicleID)
	}
}
