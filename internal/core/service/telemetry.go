package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

// ErrAddressMismatch is returned when a message names another entity than its topic.
var ErrAddressMismatch = errors.New("message does not match its topic")

// HandleTelemetry consumes one device publication. Malformed or misaddressed
// messages are rejected with an error and leave no trace in the repository.
func (o *Orchestrator) HandleTelemetry(ctx context.Context, topicName string, payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return err
	}
	if err := o.checkAddress(topicName, msg); err != nil {
		return err
	}

	switch m := msg.(type) {
	case *protocol.BatteryTelemetry:
		return o.onBattery(ctx, m)
	case *protocol.LockTelemetry:
		return o.onLockState(ctx, m)
	case *protocol.Feedback:
		o.HandleFeedback(ctx, m)
		return nil
	case *protocol.SlotOccupancy:
		return o.onSlotOccupancy(ctx, m)
	case *protocol.Heartbeat:
		log.Debug("Heartbeat", "device", m.DeviceID, "vehicle", m.VehicleID, "uptime", m.UptimeSeconds, "lock", m.LockState)
		return nil
	case *protocol.MovementTelemetry:
		log.Debug("Vehicle moving", "vehicle", m.VehicleID, "lat", m.Lat, "lng", m.Lng, "speed", m.SpeedKmh)
		return nil
	default:
		return fmt.Errorf("unexpected %s message on %s", msg.Meta().Type, topicName)
	}
}

// checkAddress verifies that the identifiers in msg match its topic.
func (o *Orchestrator) checkAddress(topicName string, msg protocol.Message) error {
	addr, err := o.topics.Parse(topicName)
	if err != nil {
		return err
	}

	h := msg.Meta()
	var id string
	switch addr.Kind {
	case topic.KindBattery, topic.KindLockState, topic.KindMovement, topic.KindCommandFeedback, topic.KindVehicleCommand:
		id = h.VehicleID
	case topic.KindSlotOccupancy, topic.KindSlotLED:
		id = h.SlotID
	case topic.KindHeartbeat:
		id = h.DeviceID
	default:
		return fmt.Errorf("%w: %s is not a device topic", ErrAddressMismatch, topicName)
	}

	if h.LotID != addr.LotID || id != addr.TargetID {
		return fmt.Errorf("%w: %s carries lot %q target %q", ErrAddressMismatch, topicName, h.LotID, id)
	}
	return nil
}

// HandleFeedback settles the pending command acknowledged by fb.
func (o *Orchestrator) HandleFeedback(ctx context.Context, fb *protocol.Feedback) {
	action := string(fb.Action)
	metrics.CommandAckTotal.WithLabelValues(action, string(fb.Status)).Inc()
	metrics.CommandLatency.WithLabelValues(action).Observe(fb.Latency().Seconds())

	if _, ok := o.pending.settle(fb.CommandID); !ok {
		log.Debug("Acknowledgment for an untracked command", "command", fb.CommandID, "vehicle", fb.VehicleID)
	}

	if fb.Status != protocol.StatusSuccess {
		log.Warn("Device reported command failure", "vehicle", fb.VehicleID, "action", fb.Action, "command", fb.CommandID, "status", fb.Status, "error", fb.Error)
	}

	data := map[string]string{
		"command_id": fb.CommandID,
		"action":     action,
		"status":     string(fb.Status),
		"latency_ms": strconv.FormatInt(fb.LatencyMs, 10),
	}
	if fb.LockState != "" {
		data["lock_state"] = string(fb.LockState)
	}
	if fb.Error != "" {
		data["error"] = fb.Error
	}

	o.notify(ctx, &model.Event{
		Kind:      model.EventCommandExecuted,
		VehicleID: fb.VehicleID,
		RideID:    fb.RideID,
		LotID:     fb.LotID,
		Data:      data,
	})
}

// onBattery stores the reported level. An available vehicle under the
// critical level is taken out of service.
func (o *Orchestrator) onBattery(ctx context.Context, m *protocol.BatteryTelemetry) (err error) {
	release, err := o.acquireWait(ctx, vehicleKey(m.VehicleID))
	if err != nil {
		return err
	}
	defer release()

	v, err := o.repo.Vehicles().Get(ctx, m.VehicleID)
	if errors.Is(err, core.ErrNotFound) {
		log.Debug("Battery report for unknown vehicle", "vehicle", m.VehicleID)
		return nil
	}
	if err != nil {
		return err
	}

	wasLow := v.Battery != nil && *v.Battery < o.cfg.LowBattery
	level := m.Level
	v.Battery = &level

	var report *model.MaintenanceReport
	if level < o.cfg.CriticalBattery && v.Status == model.VehicleAvailable {
		v.Status = model.VehicleMaintenance
		report, err = o.openReport(ctx, v, "", model.SourceTelemetry, fmt.Sprintf("battery critical at %.1f%%", level))
		if err != nil {
			return err
		}
		defer func() { o.settleReport(ctx, report, err) }()
	}

	if err := o.repo.Vehicles().Update(ctx, v); err != nil {
		return fmt.Errorf("failed to store battery of %s: %w", v.ID, err)
	}

	if level < o.cfg.LowBattery && !wasLow {
		o.notify(ctx, &model.Event{
			Kind:      model.EventLowBattery,
			VehicleID: v.ID,
			RideID:    m.RideID,
			LotID:     m.LotID,
			Data:      map[string]string{"level": strconv.FormatFloat(level, 'f', 1, 64)},
		})
	}
	if report != nil {
		log.Warn("Vehicle battery critical, moved to maintenance", "vehicle", v.ID, "level", level)
		o.notify(ctx, &model.Event{
			Kind:      model.EventMaintenanceRequired,
			VehicleID: v.ID,
			LotID:     v.LotID,
			Data:      map[string]string{"report_id": report.ID, "source": string(report.Source)},
		})
	}
	return nil
}

// onLockState marks vehicles with a faulty actuator. Healthy states are not
// mirrored: vehicle status follows the ride lifecycle, not the lock.
func (o *Orchestrator) onLockState(ctx context.Context, m *protocol.LockTelemetry) (err error) {
	if !m.LockState.Faulty() {
		return nil
	}

	release, err := o.acquireWait(ctx, vehicleKey(m.VehicleID))
	if err != nil {
		return err
	}
	defer release()

	v, err := o.repo.Vehicles().Get(ctx, m.VehicleID)
	if errors.Is(err, core.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if v.Status == model.VehicleFaulted {
		return nil
	}

	previous := v.Status
	v.Status = model.VehicleFaulted
	report, err := o.openReport(ctx, v, m.RideID, model.SourceTelemetry, "lock reported "+string(m.LockState))
	if err != nil {
		return err
	}
	defer func() { o.settleReport(ctx, report, err) }()
	if err := o.repo.Vehicles().Update(ctx, v); err != nil {
		return fmt.Errorf("failed to mark %s faulted: %w", v.ID, err)
	}

	log.Warn("Vehicle faulted", "vehicle", v.ID, "lock", m.LockState, "previous", previous)
	o.notify(ctx, &model.Event{
		Kind:      model.EventVehicleFaulted,
		VehicleID: v.ID,
		RideID:    m.RideID,
		LotID:     m.LotID,
		Data: map[string]string{
			"lock_state": string(m.LockState),
			"previous":   string(previous),
			"report_id":  report.ID,
		},
	})
	return nil
}

// onSlotOccupancy mirrors the occupancy of a slot on its LED.
func (o *Orchestrator) onSlotOccupancy(ctx context.Context, m *protocol.SlotOccupancy) error {
	o.notify(ctx, &model.Event{
		Kind:  model.EventSlotOccupancy,
		LotID: m.LotID,
		Data:  map[string]string{"slot_id": m.SlotID, "occupied": strconv.FormatBool(m.Occupied)},
	})

	color := protocol.LEDGreen
	if m.Occupied {
		color = protocol.LEDRed
	}
	if err := o.SetSlotLED(ctx, m.LotID, m.SlotID, color, false); err != nil && !errors.Is(err, core.ErrSenderUnavailable) {
		return err
	}
	return nil
}
