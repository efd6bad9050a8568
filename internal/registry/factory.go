package registry

import (
	"github.com/autopeer-io/velopark/internal/device"
	"github.com/autopeer-io/velopark/pkg/mqtt"
	"github.com/autopeer-io/velopark/pkg/options"
)

// NewAgentFactory returns a factory that connects every agent to the bus
// with its own MQTT client.
func NewAgentFactory(dev *options.DeviceOptions, mq *options.MqttOptions) AgentFactory {
	return func(spec Spec, onOffline func(string)) (*device.Agent, error) {
		cfg := device.NewConfig(spec.VehicleID, spec.LotID, dev, mq)
		cfg.Electric = spec.Electric
		cfg.Battery = spec.Battery
		cfg.Lat = spec.Lat
		cfg.Lng = spec.Lng
		cfg.OnOffline = onOffline

		link, err := mqtt.NewClient(mq.ToClientConfig(spec.VehicleID))
		if err != nil {
			return nil, err
		}
		return device.New(cfg, link)
	}
}
