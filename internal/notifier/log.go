// Package notifier delivers orchestrator events to the outside world.
package notifier

import (
	"context"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/pkg/log"
)

var (
	_ core.NotificationSink = (*LogNotifier)(nil)
	_ core.NotificationSink = (*MQTTNotifier)(nil)
	_ core.NotificationSink = (*KafkaNotifier)(nil)
	_ core.NotificationSink = (Fanout)(nil)
)

// LogNotifier writes every event to the process log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(ctx context.Context, e *model.Event) error {
	kv := []any{"kind", e.Kind, "vehicle", e.VehicleID, "lot", e.LotID}
	if e.RideID != "" {
		kv = append(kv, "ride", e.RideID)
	}
	if e.UserID != "" {
		kv = append(kv, "user", e.UserID)
	}
	for k, v := range e.Data {
		kv = append(kv, k, v)
	}

	logger := log.WithName("notifier")
	switch e.Kind {
	case model.EventDeviceOffline, model.EventVehicleFaulted, model.EventLowBattery:
		logger.Warn("Event", kv...)
	default:
		logger.Info("Event", kv...)
	}
	return nil
}
