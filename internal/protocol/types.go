// Package protocol defines the messages exchanged over the bus between the
// ride orchestrator and the onboard device agents.
package protocol

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the type tag carried by every message.
type MessageType string

const (
	TypeBattery       MessageType = "battery"
	TypeLockStatus    MessageType = "lock_status"
	TypeMovement      MessageType = "movement"
	TypeSlotOccupancy MessageType = "slot_occupancy"
	TypeHeartbeat     MessageType = "heartbeat"
	TypeCommand       MessageType = "command"
	TypeLEDCommand    MessageType = "led_command"
	TypeFeedback      MessageType = "feedback"
)

// Action is the instruction carried by a Command.
type Action string

const (
	ActionUnlock Action = "unlock"
	ActionLock   Action = "lock"
	ActionReset  Action = "reset"
	ActionAlarm  Action = "alarm"
)

// Known reports whether the action is part of the command set.
func (a Action) Known() bool {
	switch a {
	case ActionUnlock, ActionLock, ActionReset, ActionAlarm:
		return true
	}
	return false
}

// Priority orders commands for operators; agents execute in arrival order.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// ExecutionStatus is the outcome reported in a Feedback.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusError   ExecutionStatus = "error"
	StatusTimeout ExecutionStatus = "timeout"
	StatusPartial ExecutionStatus = "partial"
)

// LockState is the physical state of the lock actuator.
type LockState string

const (
	LockLocked   LockState = "locked"
	LockUnlocked LockState = "unlocked"
	LockError    LockState = "error"
	LockJammed   LockState = "jammed"
)

// Faulty reports whether the state needs maintenance.
func (s LockState) Faulty() bool {
	return s == LockError || s == LockJammed
}

// LEDColor is the color of a slot LED.
type LEDColor string

const (
	LEDOff   LEDColor = "off"
	LEDGreen LEDColor = "green"
	LEDRed   LEDColor = "red"
	LEDAmber LEDColor = "amber"
)

// ValidID reports whether id can be used as a topic segment.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#")
}

// NewID returns a fresh message or command identifier.
func NewID() string {
	return uuid.NewString()
}

// Header is embedded in every message.
type Header struct {
	Type      MessageType `json:"type"`
	MessageID string      `json:"message_id"`
	Timestamp time.Time   `json:"timestamp"`
	LotID     string      `json:"lot_id"`
	VehicleID string      `json:"vehicle_id,omitempty"`
	SlotID    string      `json:"slot_id,omitempty"`
	DeviceID  string      `json:"device_id,omitempty"`
	RideID    string      `json:"ride_id,omitempty"`
}

// NewHeader stamps a header with a generated id and the current UTC time.
func NewHeader(t MessageType, lotID string) Header {
	return Header{
		Type:      t,
		MessageID: NewID(),
		Timestamp: time.Now().UTC(),
		LotID:     lotID,
	}
}

// Meta returns the header for in-place stamping.
func (h *Header) Meta() *Header { return h }

// Message is implemented by every payload type.
type Message interface {
	Meta() *Header
	Validate() error
}
