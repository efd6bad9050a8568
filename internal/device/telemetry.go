package device

import (
	"context"
	"time"

	"github.com/autopeer-io/velopark/internal/protocol"
)

const (
	positionJitter = 0.0005
	minSpeedKmh    = 8.0
	maxSpeedKmh    = 25.0
)

// identityValid guards every emission: an agent with a broken identity stays
// silent instead of publishing malformed data.
func (a *Agent) identityValid() bool {
	return protocol.ValidID(a.state.VehicleID) &&
		protocol.ValidID(a.state.LotID) &&
		protocol.ValidID(a.state.DeviceID)
}

func (a *Agent) emit(ctx context.Context, topicName string, msg protocol.Message) {
	if !a.identityValid() || a.state.Conn != ConnConnected {
		return
	}

	payload, err := protocol.Encode(msg)
	if err != nil {
		a.log.Error(err, "Failed to encode telemetry", "topic", topicName)
		return
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := a.link.Publish(pctx, topicName, a.cfg.QoS, false, payload); err != nil {
		a.log.Warn("Failed to publish", "topic", topicName, "error", err)
	}
}

func (a *Agent) vehicleHeader(t protocol.MessageType) protocol.Header {
	h := protocol.NewHeader(t, a.state.LotID)
	h.VehicleID = a.state.VehicleID
	h.RideID = a.state.RideID
	return h
}

func (a *Agent) publishHeartbeat(ctx context.Context) {
	h := protocol.NewHeader(protocol.TypeHeartbeat, a.state.LotID)
	h.DeviceID = a.state.DeviceID
	h.VehicleID = a.state.VehicleID

	a.emit(ctx, a.topics.Heartbeat(a.state.LotID, a.state.DeviceID), &protocol.Heartbeat{
		Header:        h,
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Battery:       a.state.BatteryLevel(),
		LockState:     a.lock.State(),
	})
}

func (a *Agent) publishLockState(ctx context.Context) {
	a.emit(ctx, a.topics.LockState(a.state.LotID, a.state.VehicleID), &protocol.LockTelemetry{
		Header:    a.vehicleHeader(protocol.TypeLockStatus),
		LockState: a.lock.State(),
		Alarm:     a.state.Alarm,
	})
}

// tickBattery drains the battery while moving and charges it while parked
// below the ceiling.
func (a *Agent) tickBattery(ctx context.Context) {
	charging := false
	switch {
	case a.state.Moving:
		a.state.Battery = clamp(a.state.Battery - a.cfg.BatteryDrain)
	case a.state.Battery < a.cfg.ChargeCeiling:
		a.state.Battery = clamp(min(a.state.Battery+a.cfg.BatteryCharge, a.cfg.ChargeCeiling))
		charging = true
	}

	a.emit(ctx, a.topics.Battery(a.state.LotID, a.state.VehicleID), &protocol.BatteryTelemetry{
		Header:   a.vehicleHeader(protocol.TypeBattery),
		Level:    a.state.Battery,
		Charging: charging,
	})
}

func (a *Agent) tickMovement(ctx context.Context) {
	if !a.state.Moving {
		return
	}

	a.state.Lat = clampRange(a.state.Lat+(a.cfg.Random()-0.5)*positionJitter, -90, 90)
	a.state.Lng = clampRange(a.state.Lng+(a.cfg.Random()-0.5)*positionJitter, -180, 180)
	a.state.SpeedKmh = minSpeedKmh + a.cfg.Random()*(maxSpeedKmh-minSpeedKmh)

	a.emit(ctx, a.topics.Movement(a.state.LotID, a.state.VehicleID), &protocol.MovementTelemetry{
		Header:   a.vehicleHeader(protocol.TypeMovement),
		Lat:      a.state.Lat,
		Lng:      a.state.Lng,
		SpeedKmh: a.state.SpeedKmh,
		Moving:   true,
	})
}

func clampRange(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
