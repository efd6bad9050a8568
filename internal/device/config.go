package device

import (
	"math/rand/v2"
	"time"

	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
	"github.com/autopeer-io/velopark/pkg/options"
)

// Config describes one simulated vehicle and the behavior of its agent.
type Config struct {
	VehicleID string
	LotID     string
	DeviceID  string

	// Electric vehicles report battery telemetry.
	Electric bool
	Battery  float64
	Lat      float64
	Lng      float64

	HeartbeatInterval time.Duration
	BatteryInterval   time.Duration
	MovementInterval  time.Duration
	SettleDelay       time.Duration

	MinLatency time.Duration
	MaxLatency time.Duration

	MaxRetries  int
	BackoffStep time.Duration

	BatteryDrain  float64
	BatteryCharge float64
	ChargeCeiling float64
	FaultRate     float64

	QoS    int
	Topics *topic.Builder

	// OnOffline is called once the reconnection budget is exhausted.
	OnOffline func(vehicleID string)

	// Random returns a number in [0,1). Defaults to math/rand.
	Random func() float64
}

// NewConfig builds a Config for one vehicle from the process options.
func NewConfig(vehicleID, lotID string, dev *options.DeviceOptions, mq *options.MqttOptions) Config {
	return Config{
		VehicleID:         vehicleID,
		LotID:             lotID,
		DeviceID:          "dev-" + vehicleID,
		HeartbeatInterval: dev.HeartbeatInterval,
		BatteryInterval:   dev.BatteryInterval,
		MovementInterval:  dev.MovementInterval,
		SettleDelay:       dev.SettleDelay,
		MinLatency:        dev.MinLatency,
		MaxLatency:        dev.MaxLatency,
		MaxRetries:        dev.MaxRetries,
		BackoffStep:       dev.BackoffStep,
		BatteryDrain:      dev.BatteryDrain,
		BatteryCharge:     dev.BatteryCharge,
		ChargeCeiling:     dev.ChargeCeiling,
		FaultRate:         dev.FaultRate,
		QoS:               mq.QoS,
		Topics:            topic.NewBuilder(mq.TopicRoot),
	}
}

func (c *Config) setDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = "dev-" + c.VehicleID
	}
	if c.Topics == nil {
		c.Topics = topic.NewBuilder(topic.DefaultRoot)
	}
	if c.Random == nil {
		c.Random = rand.Float64
	}
	if c.MaxLatency < c.MinLatency {
		c.MaxLatency = c.MinLatency
	}
	if c.Battery < 0 || c.Battery > 100 {
		c.Battery = clamp(c.Battery)
	}
}
