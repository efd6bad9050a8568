package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

var (
	// ErrMalformed is returned by Decode for payloads that cannot be interpreted.
	ErrMalformed = errors.New("malformed message")

	// ErrMissingField is returned when a mandatory field is empty.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidID is returned for identifiers that cannot be topic segments.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrInvalidField is returned for out of range values.
	ErrInvalidField = errors.New("invalid field")
)

type scope int

const (
	scopeLot scope = iota
	scopeVehicle
	scopeSlot
	scopeDevice
)

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

func (h *Header) validateHeader(want MessageType, s scope) error {
	if h.Type != want {
		return fmt.Errorf("%w: type %q, want %q", ErrInvalidField, h.Type, want)
	}
	if h.MessageID == "" {
		return missing("message_id")
	}
	if h.Timestamp.IsZero() {
		return missing("timestamp")
	}
	if !ValidID(h.LotID) {
		return fmt.Errorf("%w: lot_id %q", ErrInvalidID, h.LotID)
	}

	var id, field string
	switch s {
	case scopeVehicle:
		id, field = h.VehicleID, "vehicle_id"
	case scopeSlot:
		id, field = h.SlotID, "slot_id"
	case scopeDevice:
		id, field = h.DeviceID, "device_id"
	default:
		return nil
	}
	if !ValidID(id) {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, field, id)
	}
	return nil
}

// Encode stamps missing ids and timestamps, validates the message and marshals it.
func Encode(m Message) ([]byte, error) {
	h := m.Meta()
	if h.MessageID == "" {
		h.MessageID = NewID()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to encode %s message: %w", h.Type, err)
	}

	return json.Marshal(m)
}

// Decode parses a payload into its typed message and validates it.
func Decode(payload []byte) (Message, error) {
	var peek struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var m Message
	switch peek.Type {
	case TypeBattery:
		m = &BatteryTelemetry{}
	case TypeLockStatus:
		m = &LockTelemetry{}
	case TypeMovement:
		m = &MovementTelemetry{}
	case TypeSlotOccupancy:
		m = &SlotOccupancy{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeCommand:
		m = &Command{}
	case TypeLEDCommand:
		m = &LEDCommand{}
	case TypeFeedback:
		m = &Feedback{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, peek.Type)
	}

	if err := json.Unmarshal(payload, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return m, nil
}
