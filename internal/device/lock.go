package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/velopark/internal/protocol"
	fsmutil "github.com/autopeer-io/velopark/internal/pkg/util/fsm"
	"github.com/autopeer-io/velopark/pkg/log"
)

const (
	EventUnlock = "unlock"
	EventLock   = "lock"
	EventFault  = "fault"
	EventJam    = "jam"
	EventReset  = "reset"
)

var (
	// ErrAlarmActive is returned when unlocking a vehicle whose alarm is on.
	ErrAlarmActive = errors.New("alarm is active")

	// ErrJammed is returned when the actuator jammed during an operation.
	ErrJammed = errors.New("lock actuator jammed")
)

var allLockStates = []string{
	string(protocol.LockLocked),
	string(protocol.LockUnlocked),
	string(protocol.LockError),
	string(protocol.LockJammed),
}

// lockMachine is the state machine of the lock actuator.
type lockMachine struct {
	*fsm.FSM
	log     log.Logger
	alarmed func() bool
}

func newLockMachine(initial protocol.LockState, logger log.Logger, alarmed func() bool) *lockMachine {
	m := &lockMachine{log: logger, alarmed: alarmed}

	events := fsm.Events{
		{Name: EventUnlock, Src: []string{string(protocol.LockLocked)}, Dst: string(protocol.LockUnlocked)},
		{Name: EventLock, Src: []string{string(protocol.LockUnlocked), string(protocol.LockLocked)}, Dst: string(protocol.LockLocked)},
		{Name: EventFault, Src: allLockStates, Dst: string(protocol.LockError)},
		{Name: EventJam, Src: allLockStates, Dst: string(protocol.LockJammed)},
		{Name: EventReset, Src: allLockStates, Dst: string(protocol.LockLocked)},
	}

	callbacks := fsm.Callbacks{
		// Guards
		"before_" + EventUnlock: m.guardAlarm,

		// Side-Effects
		"enter_" + string(protocol.LockError):  fsmutil.WrapEvent(m.enterFaulty),
		"enter_" + string(protocol.LockJammed): fsmutil.WrapEvent(m.enterFaulty),
	}

	m.FSM = fsm.NewFSM(string(initial), events, callbacks)
	return m
}

// guardAlarm refuses to release a vehicle while its alarm sounds.
func (m *lockMachine) guardAlarm(ctx context.Context, e *fsm.Event) {
	if m.alarmed() {
		e.Cancel(ErrAlarmActive)
	}
}

func (m *lockMachine) enterFaulty(ctx context.Context, e *fsm.Event) error {
	m.log.Warn("Lock actuator faulted", "event", e.Event, "from", e.Src, "to", e.Dst)
	return nil
}

// State returns the current lock state.
func (m *lockMachine) State() protocol.LockState {
	return protocol.LockState(m.Current())
}

// Fire triggers event and maps the machine errors to operation failures.
// Re-entering the current state is not an error.
func (m *lockMachine) Fire(ctx context.Context, event string) error {
	err := fsmutil.IgnoreNoTransition(m.Event(ctx, event))
	if err == nil {
		return nil
	}

	var canceled fsm.CanceledError
	if errors.As(err, &canceled) && canceled.Err != nil {
		return canceled.Err
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("cannot %s while %s", event, m.Current())
	}
	return err
}
