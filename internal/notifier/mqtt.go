package notifier

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

// FleetScope replaces the lot segment of events raised outside any lot.
const FleetScope = "fleet"

// Injector publishes on the bus as the server.
type Injector interface {
	Inject(ctx context.Context, topic string, payload []byte) error
}

// MQTTNotifier republishes events on the bus under {root}/{lot}/eventi/{kind}.
type MQTTNotifier struct {
	bus    Injector
	topics *topic.Builder
}

func NewMQTTNotifier(bus Injector, builder *topic.Builder) *MQTTNotifier {
	return &MQTTNotifier{
		bus:    bus,
		topics: builder,
	}
}

func (n *MQTTNotifier) Notify(ctx context.Context, e *model.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}

	lot := e.LotID
	if lot == "" {
		lot = FleetScope
	}
	return n.bus.Inject(ctx, n.topics.Event(lot, string(e.Kind)), payload)
}
