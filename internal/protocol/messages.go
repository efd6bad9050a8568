package protocol

import (
	"fmt"
	"time"
)

// Command is an orchestrator instruction addressed to one vehicle.
type Command struct {
	Header
	CommandID string   `json:"command_id"`
	Action    Action   `json:"action"`
	Priority  Priority `json:"priority,omitempty"`
	TimeoutMs int64    `json:"timeout_ms,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	// DestinationLotID re-homes the agent after a successful lock.
	DestinationLotID string `json:"destination_lot_id,omitempty"`
}

// NewCommand builds a command for a vehicle parked in lotID.
func NewCommand(lotID, vehicleID string, action Action, timeout time.Duration) *Command {
	h := NewHeader(TypeCommand, lotID)
	h.VehicleID = vehicleID
	return &Command{
		Header:    h,
		CommandID: NewID(),
		Action:    action,
		Priority:  PriorityNormal,
		TimeoutMs: timeout.Milliseconds(),
	}
}

// Timeout returns the acknowledgment deadline of the command.
func (c *Command) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c *Command) Validate() error {
	if err := c.validateHeader(TypeCommand, scopeVehicle); err != nil {
		return err
	}
	if c.CommandID == "" {
		return missing("command_id")
	}
	if c.Action == "" {
		return missing("action")
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidField)
	}
	if c.DestinationLotID != "" && !ValidID(c.DestinationLotID) {
		return fmt.Errorf("%w: destination_lot_id %q", ErrInvalidID, c.DestinationLotID)
	}
	return nil
}

// Feedback acknowledges a Command, whatever its outcome.
type Feedback struct {
	Header
	CommandID string          `json:"command_id"`
	Action    Action          `json:"action,omitempty"`
	Status    ExecutionStatus `json:"status"`
	LatencyMs int64           `json:"latency_ms"`
	LockState LockState       `json:"lock_state,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Latency returns the execution latency measured by the device.
func (f *Feedback) Latency() time.Duration {
	return time.Duration(f.LatencyMs) * time.Millisecond
}

func (f *Feedback) Validate() error {
	if err := f.validateHeader(TypeFeedback, scopeVehicle); err != nil {
		return err
	}
	if f.CommandID == "" {
		return missing("command_id")
	}
	switch f.Status {
	case StatusSuccess, StatusError, StatusTimeout, StatusPartial:
	case "":
		return missing("status")
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidField, f.Status)
	}
	return nil
}

// BatteryTelemetry reports the battery level of an electric vehicle.
type BatteryTelemetry struct {
	Header
	Level    float64 `json:"level"`
	Charging bool    `json:"charging"`
}

func (b *BatteryTelemetry) Validate() error {
	if err := b.validateHeader(TypeBattery, scopeVehicle); err != nil {
		return err
	}
	if b.Level < 0 || b.Level > 100 {
		return fmt.Errorf("%w: battery level %.1f", ErrInvalidField, b.Level)
	}
	return nil
}

// LockTelemetry reports the lock actuator state.
type LockTelemetry struct {
	Header
	LockState LockState `json:"lock_state"`
	Alarm     bool      `json:"alarm"`
}

func (l *LockTelemetry) Validate() error {
	if err := l.validateHeader(TypeLockStatus, scopeVehicle); err != nil {
		return err
	}
	if l.LockState == "" {
		return missing("lock_state")
	}
	return nil
}

// MovementTelemetry reports position and speed.
type MovementTelemetry struct {
	Header
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	SpeedKmh float64 `json:"speed_kmh"`
	Moving   bool    `json:"moving"`
}

func (m *MovementTelemetry) Validate() error {
	if err := m.validateHeader(TypeMovement, scopeVehicle); err != nil {
		return err
	}
	if m.Lat < -90 || m.Lat > 90 || m.Lng < -180 || m.Lng > 180 {
		return fmt.Errorf("%w: position %.5f,%.5f", ErrInvalidField, m.Lat, m.Lng)
	}
	return nil
}

// Heartbeat is the periodic liveness message of an onboard device.
type Heartbeat struct {
	Header
	UptimeSeconds int64     `json:"uptime_seconds"`
	Battery       *float64  `json:"battery,omitempty"`
	LockState     LockState `json:"lock_state"`
}

func (h *Heartbeat) Validate() error {
	return h.validateHeader(TypeHeartbeat, scopeDevice)
}

// SlotOccupancy reports whether a parking slot is taken.
type SlotOccupancy struct {
	Header
	Occupied bool `json:"occupied"`
}

func (s *SlotOccupancy) Validate() error {
	return s.validateHeader(TypeSlotOccupancy, scopeSlot)
}

// LEDCommand drives the LED of a parking slot.
type LEDCommand struct {
	Header
	Color LEDColor `json:"color"`
	Blink bool     `json:"blink"`
}

// NewLEDCommand builds a LED command for a slot.
func NewLEDCommand(lotID, slotID string, color LEDColor, blink bool) *LEDCommand {
	h := NewHeader(TypeLEDCommand, lotID)
	h.SlotID = slotID
	return &LEDCommand{Header: h, Color: color, Blink: blink}
}

func (l *LEDCommand) Validate() error {
	if err := l.validateHeader(TypeLEDCommand, scopeSlot); err != nil {
		return err
	}
	switch l.Color {
	case LEDOff, LEDGreen, LEDRed, LEDAmber:
		return nil
	case "":
		return missing("color")
	default:
		return fmt.Errorf("%w: color %q", ErrInvalidField, l.Color)
	}
}
