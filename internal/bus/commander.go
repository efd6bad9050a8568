package bus

import (
	"context"
	"fmt"

	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

// Commander publishes orchestrator commands on the bus as the server identity.
//
// Delivery is at-most-once: a nil error means the bus accepted the message,
// not that the device executed it. Acknowledgments arrive separately on the
// feedback topics.
type Commander struct {
	broker *Broker
	topics *topic.Builder
}

// NewCommander creates a Commander bound to broker.
func NewCommander(broker *Broker, topics *topic.Builder) *Commander {
	return &Commander{broker: broker, topics: topics}
}

// Available reports whether commands can currently be published.
func (c *Commander) Available() bool {
	return c.broker.Running()
}

// SendCommand publishes cmd on the command topic of its vehicle.
func (c *Commander) SendCommand(ctx context.Context, cmd *protocol.Command) error {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	if err := c.broker.Inject(ctx, c.topics.VehicleCommand(cmd.LotID, cmd.VehicleID), payload); err != nil {
		return fmt.Errorf("command %s for %s: %w", cmd.CommandID, cmd.VehicleID, err)
	}
	return nil
}

// SendLED publishes a slot LED command.
func (c *Commander) SendLED(ctx context.Context, cmd *protocol.LEDCommand) error {
	payload, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return c.broker.Inject(ctx, c.topics.SlotLED(cmd.LotID, cmd.SlotID), payload)
}
