package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"V1", true},
		{"lot-07_b", true},
		{"", false},
		{"a/b", false},
		{"a+", false},
		{"#", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidID(tt.id), tt.id)
	}
}

func TestEncodeDecodeCommand(t *testing.T) {
	cmd := NewCommand("L1", "V1", ActionUnlock, 5*time.Second)
	cmd.RideID = "R1"
	cmd.DestinationLotID = "L2"

	payload, err := Encode(cmd)
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)

	got, ok := msg.(*Command)
	require.True(t, ok, "decoded %T", msg)
	assert.Equal(t, cmd.CommandID, got.CommandID)
	assert.Equal(t, ActionUnlock, got.Action)
	assert.Equal(t, "V1", got.VehicleID)
	assert.Equal(t, "R1", got.RideID)
	assert.Equal(t, "L2", got.DestinationLotID)
	assert.Equal(t, 5*time.Second, got.Timeout())
}

func TestEncodeStampsHeader(t *testing.T) {
	fb := &Feedback{
		Header:    Header{Type: TypeFeedback, LotID: "L1", VehicleID: "V1"},
		CommandID: "c-1",
		Status:    StatusSuccess,
	}

	_, err := Encode(fb)
	require.NoError(t, err)
	assert.NotEmpty(t, fb.MessageID)
	assert.False(t, fb.Timestamp.IsZero())
	assert.Equal(t, time.UTC, fb.Timestamp.Location())
}

func TestEncodeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		err  error
	}{
		{
			name: "telemetry without vehicle",
			msg:  &BatteryTelemetry{Header: NewHeader(TypeBattery, "L1"), Level: 50},
			err:  ErrInvalidID,
		},
		{
			name: "vehicle id with wildcard",
			msg: &LockTelemetry{
				Header:    Header{Type: TypeLockStatus, LotID: "L1", VehicleID: "V+"},
				LockState: LockLocked,
			},
			err: ErrInvalidID,
		},
		{
			name: "feedback without command id",
			msg: &Feedback{
				Header: Header{Type: TypeFeedback, LotID: "L1", VehicleID: "V1"},
				Status: StatusSuccess,
			},
			err: ErrMissingField,
		},
		{
			name: "battery out of range",
			msg: &BatteryTelemetry{
				Header: Header{Type: TypeBattery, LotID: "L1", VehicleID: "V1"},
				Level:  120,
			},
			err: ErrInvalidField,
		},
		{
			name: "heartbeat without device",
			msg:  &Heartbeat{Header: NewHeader(TypeHeartbeat, "L1"), LockState: LockLocked},
			err:  ErrInvalidID,
		},
		{
			name: "led without slot",
			msg:  &LEDCommand{Header: NewHeader(TypeLEDCommand, "L1"), Color: LEDGreen},
			err:  ErrInvalidID,
		},
		{
			name: "mismatched type tag",
			msg: &Command{
				Header:    Header{Type: TypeFeedback, LotID: "L1", VehicleID: "V1"},
				CommandID: "c",
				Action:    ActionLock,
			},
			err: ErrInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.msg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, payload := range []string{
		``,
		`not json`,
		`{"type":"teleport"}`,
		`{"type":"battery","message_id":"m","timestamp":"2025-01-01T00:00:00Z","lot_id":"L1"}`,
		`{"type":"feedback","message_id":"m","timestamp":"2025-01-01T00:00:00Z","lot_id":"L1","vehicle_id":"V1","command_id":"c","status":"maybe"}`,
	} {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformed, payload)
	}
}

func TestDecodeKeepsUnknownAction(t *testing.T) {
	cmd := NewCommand("L1", "V1", Action("self-destruct"), time.Second)
	payload, err := Encode(cmd)
	require.NoError(t, err)

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.False(t, msg.(*Command).Action.Known())
}

func TestDecodeTelemetryTypes(t *testing.T) {
	level := 80.0
	msgs := []Message{
		&BatteryTelemetry{Header: Header{Type: TypeBattery, LotID: "L1", VehicleID: "V1"}, Level: 42},
		&LockTelemetry{Header: Header{Type: TypeLockStatus, LotID: "L1", VehicleID: "V1"}, LockState: LockJammed},
		&MovementTelemetry{Header: Header{Type: TypeMovement, LotID: "L1", VehicleID: "V1"}, Lat: 45.07, Lng: 7.68, Moving: true},
		&Heartbeat{Header: Header{Type: TypeHeartbeat, LotID: "L1", DeviceID: "D1"}, Battery: &level, LockState: LockLocked},
		&SlotOccupancy{Header: Header{Type: TypeSlotOccupancy, LotID: "L1", SlotID: "S1"}, Occupied: true},
		NewLEDCommand("L1", "S1", LEDRed, true),
	}

	for _, m := range msgs {
		payload, err := Encode(m)
		require.NoError(t, err)

		got, err := Decode(payload)
		require.NoError(t, err)
		assert.IsType(t, m, got)
		assert.Equal(t, m.Meta().MessageID, got.Meta().MessageID)
	}
}
