package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

var topics = topic.NewBuilder(topic.DefaultRoot)

func encode(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	return b
}

func battery(lotID, vehicleID string, level float64) *protocol.BatteryTelemetry {
	h := protocol.NewHeader(protocol.TypeBattery, lotID)
	h.VehicleID = vehicleID
	return &protocol.BatteryTelemetry{Header: h, Level: level}
}

func lockState(lotID, vehicleID string, state protocol.LockState) *protocol.LockTelemetry {
	h := protocol.NewHeader(protocol.TypeLockStatus, lotID)
	h.VehicleID = vehicleID
	return &protocol.LockTelemetry{Header: h, LockState: state}
}

func (f *fixture) countKind(kind model.EventKind) int {
	n := 0
	for _, k := range f.sink.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func TestBatteryTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	send := func(level float64) {
		t.Helper()
		require.NoError(t, f.orch.HandleTelemetry(ctx, topics.Battery("L1", "V1"), encode(t, battery("L1", "V1", level))))
	}

	send(50)
	require.NotNil(t, f.vehicle(t, "V1").Battery)
	assert.Equal(t, 50.0, *f.vehicle(t, "V1").Battery)
	assert.Zero(t, f.countKind(model.EventLowBattery))

	send(15)
	send(12)
	assert.Equal(t, 1, f.countKind(model.EventLowBattery), "low battery is reported once per crossing")
	assert.Equal(t, model.VehicleAvailable, f.vehicle(t, "V1").Status)

	send(3)
	v := f.vehicle(t, "V1")
	assert.Equal(t, model.VehicleMaintenance, v.Status)
	assert.Equal(t, 1, f.countKind(model.EventMaintenanceRequired))

	reports, err := f.store.Maintenance().Open(ctx, "V1")
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.SourceTelemetry, reports[0].Source)

	send(60)
	send(10)
	assert.Equal(t, 2, f.countKind(model.EventLowBattery))
}

func TestCriticalBatteryDuringRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.StartRide(ctx, "U1", "V1")
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.Battery("L1", "V1"), encode(t, battery("L1", "V1", 2))))
	assert.Equal(t, model.VehicleInUse, f.vehicle(t, "V1").Status, "a ride in progress is not interrupted")
	assert.Equal(t, 1, f.countKind(model.EventLowBattery))
}

func TestLockTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.LockState("L1", "V1"), encode(t, lockState("L1", "V1", protocol.LockUnlocked))))
	assert.Equal(t, model.VehicleAvailable, f.vehicle(t, "V1").Status)

	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.LockState("L1", "V1"), encode(t, lockState("L1", "V1", protocol.LockJammed))))
	assert.Equal(t, model.VehicleFaulted, f.vehicle(t, "V1").Status)

	e := f.sink.last(model.EventVehicleFaulted)
	require.NotNil(t, e)
	assert.Equal(t, "jammed", e.Data["lock_state"])
	assert.Equal(t, "Available", e.Data["previous"])

	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.LockState("L1", "V1"), encode(t, lockState("L1", "V1", protocol.LockError))))
	assert.Equal(t, 1, f.countKind(model.EventVehicleFaulted))

	_, err := f.orch.StartRide(ctx, "U1", "V1")
	assert.ErrorIs(t, err, ErrVehicleUnavailable)
}

func TestFeedbackSettlesPendingCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ride, err := f.orch.StartRide(ctx, "U1", "V1")
	require.NoError(t, err)
	require.Equal(t, 1, f.orch.PendingCommands())
	cmd := f.sender.sent()[0]

	h := protocol.NewHeader(protocol.TypeFeedback, "L1")
	h.VehicleID = "V1"
	h.RideID = ride.ID
	fb := &protocol.Feedback{
		Header:    h,
		CommandID: cmd.CommandID,
		Action:    protocol.ActionUnlock,
		Status:    protocol.StatusSuccess,
		LatencyMs: 420,
		LockState: protocol.LockUnlocked,
	}
	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.CommandFeedback("L1", "V1"), encode(t, fb)))
	assert.Zero(t, f.orch.PendingCommands())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, f.countKind(model.EventCommandExecuted), "a settled command never times out")

	e := f.sink.last(model.EventCommandExecuted)
	require.NotNil(t, e)
	assert.Equal(t, "success", e.Data["status"])
	assert.Equal(t, "420", e.Data["latency_ms"])
	assert.Equal(t, ride.ID, e.RideID)
}

func TestUnacknowledgedCommandTimesOut(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.StartRide(context.Background(), "U1", "V1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		e := f.sink.last(model.EventCommandExecuted)
		return e != nil && e.Data["status"] == string(protocol.StatusTimeout)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.orch.PendingCommands())
	assert.Equal(t, model.VehicleInUse, f.vehicle(t, "V1").Status, "a lost command never rolls back the ride")
}

func TestTelemetryRejected(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
	}{
		{"not json", topics.Battery("L1", "V1"), []byte("{battery")},
		{"unknown type", topics.Battery("L1", "V1"), []byte(`{"type":"teleport","lot_id":"L1"}`)},
		{"level out of range", topics.Battery("L1", "V1"), []byte(`{"type":"battery","message_id":"m","timestamp":"2026-01-01T00:00:00Z","lot_id":"L1","vehicle_id":"V1","level":140}`)},
		{"vehicle mismatch", topics.Battery("L1", "V2"), nil},
		{"lot mismatch", topics.Battery("L2", "V1"), nil},
		{"foreign topic", "elsewhere/L1/V1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			payload := tt.payload
			if payload == nil {
				payload = encode(t, battery("L1", "V1", 1))
			}

			err := f.orch.HandleTelemetry(context.Background(), tt.topic, payload)
			require.Error(t, err)

			v := f.vehicle(t, "V1")
			require.NotNil(t, v.Battery)
			assert.Equal(t, 80.0, *v.Battery)
			assert.Equal(t, model.VehicleAvailable, v.Status)
			assert.Empty(t, f.sink.kinds())
		})
	}
}

func TestSlotOccupancyDrivesLED(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	occupancy := func(occupied bool) []byte {
		h := protocol.NewHeader(protocol.TypeSlotOccupancy, "L1")
		h.SlotID = "S7"
		return encode(t, &protocol.SlotOccupancy{Header: h, Occupied: occupied})
	}

	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.SlotOccupancy("L1", "S7"), occupancy(true)))
	require.NoError(t, f.orch.HandleTelemetry(ctx, topics.SlotOccupancy("L1", "S7"), occupancy(false)))

	require.Len(t, f.sender.leds, 2)
	assert.Equal(t, protocol.LEDRed, f.sender.leds[0].Color)
	assert.Equal(t, protocol.LEDGreen, f.sender.leds[1].Color)
	assert.Equal(t, 2, f.countKind(model.EventSlotOccupancy))

	f.sender.available = false
	assert.NoError(t, f.orch.HandleTelemetry(ctx, topics.SlotOccupancy("L1", "S7"), occupancy(true)), "LED updates are optional")
}

func TestHeartbeatIsAccepted(t *testing.T) {
	f := newFixture(t)

	h := protocol.NewHeader(protocol.TypeHeartbeat, "L1")
	h.DeviceID = "dev-V1"
	h.VehicleID = "V1"
	hb := &protocol.Heartbeat{Header: h, UptimeSeconds: 12, LockState: protocol.LockLocked}

	assert.NoError(t, f.orch.HandleTelemetry(context.Background(), topics.Heartbeat("L1", "dev-V1"), encode(t, hb)))
}
