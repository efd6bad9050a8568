package device

import (
	"context"
	"fmt"
	"time"

	"github.com/autopeer-io/velopark/internal/protocol"
)

// enqueue accepts a command; commands execute one at a time in arrival order.
func (a *Agent) enqueue(cmd *protocol.Command) {
	if cmd.VehicleID != a.state.VehicleID {
		a.log.Warn("Ignoring command for another vehicle", "command", cmd.CommandID, "target", cmd.VehicleID)
		return
	}

	a.queue = append(a.queue, cmd)
	if a.current == nil {
		a.next()
	}
}

// next starts the simulated actuator latency of the head of the queue.
func (a *Agent) next() {
	if len(a.queue) == 0 {
		return
	}

	cmd := a.queue[0]
	a.queue[0] = nil
	a.queue = a.queue[1:]

	a.current = &inflight{cmd: cmd, started: time.Now()}
	a.exec = time.NewTimer(a.latency())
}

func (a *Agent) latency() time.Duration {
	spread := a.cfg.MaxLatency - a.cfg.MinLatency
	return a.cfg.MinLatency + time.Duration(a.cfg.Random()*float64(spread))
}

// complete applies the current command and acknowledges it. The ack is
// published after the mutation so it always reflects the new state.
func (a *Agent) complete(ctx context.Context) {
	cur := a.current
	a.current = nil
	if cur == nil {
		return
	}

	err := a.execute(ctx, cur.cmd)

	fb := &protocol.Feedback{
		Header:    protocol.NewHeader(protocol.TypeFeedback, cur.cmd.LotID),
		CommandID: cur.cmd.CommandID,
		Action:    cur.cmd.Action,
		Status:    protocol.StatusSuccess,
		LatencyMs: time.Since(cur.started).Milliseconds(),
		LockState: a.lock.State(),
	}
	fb.VehicleID = a.state.VehicleID
	fb.RideID = cur.cmd.RideID
	if err != nil {
		fb.Status = protocol.StatusError
		fb.Error = err.Error()
		a.log.Warn("Command failed", "command", cur.cmd.CommandID, "action", cur.cmd.Action, "error", err)
	} else {
		a.log.Info("Command executed", "command", cur.cmd.CommandID, "action", cur.cmd.Action, "latency", fb.Latency())
	}

	a.emit(ctx, a.topics.CommandFeedback(cur.cmd.LotID, a.state.VehicleID), fb)
	a.publishLockState(ctx)

	a.next()
}

// execute mutates the device state for cmd. Panics become errors so a broken
// command never takes the actor down.
func (a *Agent) execute(ctx context.Context, cmd *protocol.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while executing %s: %v", cmd.Action, r)
		}
	}()

	switch cmd.Action {
	case protocol.ActionUnlock:
		return a.unlock(ctx, cmd)
	case protocol.ActionLock:
		return a.lockVehicle(ctx, cmd)
	case protocol.ActionAlarm:
		a.state.Alarm = true
		return nil
	case protocol.ActionReset:
		if err := a.lock.Fire(ctx, EventReset); err != nil {
			return err
		}
		a.state.Alarm = false
		a.park()
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, cmd.Action)
	}
}

func (a *Agent) faultInjected() bool {
	return a.cfg.FaultRate > 0 && a.cfg.Random() < a.cfg.FaultRate
}

func (a *Agent) jam(ctx context.Context) error {
	if err := a.lock.Fire(ctx, EventJam); err != nil {
		return err
	}
	a.state.Moving = false
	a.state.SpeedKmh = 0
	a.stopMovement()
	return ErrJammed
}

// park stops the vehicle and ends its ride.
func (a *Agent) park() {
	a.state.Moving = false
	a.state.SpeedKmh = 0
	a.state.RideID = ""
	a.stopMovement()
}

func (a *Agent) unlock(ctx context.Context, cmd *protocol.Command) error {
	if a.lock.State() != protocol.LockUnlocked {
		if a.faultInjected() {
			return a.jam(ctx)
		}
		if err := a.lock.Fire(ctx, EventUnlock); err != nil {
			return err
		}
	}

	a.state.Moving = true
	a.state.RideID = cmd.RideID
	a.startMovement()
	return nil
}

func (a *Agent) lockVehicle(ctx context.Context, cmd *protocol.Command) error {
	if a.faultInjected() {
		return a.jam(ctx)
	}
	if err := a.lock.Fire(ctx, EventLock); err != nil {
		return err
	}
	a.park()

	if dst := cmd.DestinationLotID; dst != "" && dst != a.state.LotID {
		return a.rehome(ctx, dst)
	}
	return nil
}

// rehome moves the agent's command subscription to the lot it was parked in.
func (a *Agent) rehome(ctx context.Context, lotID string) error {
	if !protocol.ValidID(lotID) {
		return fmt.Errorf("%w: destination lot %q", protocol.ErrInvalidID, lotID)
	}

	sctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := a.link.Subscribe(sctx, a.topics.VehicleCommand(lotID, a.state.VehicleID), a.cfg.QoS, a.onCommand); err != nil {
		return fmt.Errorf("locked but failed to move to lot %s: %w", lotID, err)
	}
	if err := a.link.Unsubscribe(sctx, a.topics.VehicleCommand(a.state.LotID, a.state.VehicleID)); err != nil {
		a.log.Warn("Failed to leave previous lot", "lot", a.state.LotID, "error", err)
	}

	a.log.Info("Vehicle moved", "from", a.state.LotID, "to", lotID)
	a.state.LotID = lotID
	return nil
}
