package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*DeviceOptions)(nil)

// DeviceOptions configures the simulated onboard device agents.
type DeviceOptions struct {
	// Timers
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
	BatteryInterval   time.Duration `json:"battery-interval" mapstructure:"battery-interval"`
	MovementInterval  time.Duration `json:"movement-interval" mapstructure:"movement-interval"`
	SettleDelay       time.Duration `json:"settle-delay" mapstructure:"settle-delay"`

	// Simulated actuator latency bounds.
	MinLatency time.Duration `json:"min-latency" mapstructure:"min-latency"`
	MaxLatency time.Duration `json:"max-latency" mapstructure:"max-latency"`

	// Reconnection policy: attempt n waits n*BackoffStep.
	MaxRetries  int           `json:"max-retries" mapstructure:"max-retries"`
	BackoffStep time.Duration `json:"backoff-step" mapstructure:"backoff-step"`

	// Battery model, in percent per battery tick.
	BatteryDrain  float64 `json:"battery-drain" mapstructure:"battery-drain"`
	BatteryCharge float64 `json:"battery-charge" mapstructure:"battery-charge"`
	ChargeCeiling float64 `json:"charge-ceiling" mapstructure:"charge-ceiling"`

	// FaultRate is the probability that a lock/unlock jams the actuator.
	FaultRate float64 `json:"fault-rate" mapstructure:"fault-rate"`
}

// NewDeviceOptions creates a DeviceOptions object with default parameters.
func NewDeviceOptions() *DeviceOptions {
	return &DeviceOptions{
		HeartbeatInterval: 5 * time.Minute,
		BatteryInterval:   30 * time.Second,
		MovementInterval:  10 * time.Second,
		SettleDelay:       2 * time.Second,
		MinLatency:        100 * time.Millisecond,
		MaxLatency:        800 * time.Millisecond,
		MaxRetries:        5,
		BackoffStep:       2 * time.Second,
		BatteryDrain:      1.5,
		BatteryCharge:     0.5,
		ChargeCeiling:     95,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DeviceOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	for name, d := range map[string]time.Duration{
		"heartbeat-interval": o.HeartbeatInterval,
		"battery-interval":   o.BatteryInterval,
		"movement-interval":  o.MovementInterval,
		"backoff-step":       o.BackoffStep,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("device.%s must be positive", name))
		}
	}
	if o.MinLatency <= 0 || o.MaxLatency < o.MinLatency {
		errs = append(errs, fmt.Errorf("device latency bounds [%s, %s] are invalid", o.MinLatency, o.MaxLatency))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("device.max-retries must not be negative"))
	}
	if o.ChargeCeiling < 0 || o.ChargeCeiling > 100 {
		errs = append(errs, fmt.Errorf("device.charge-ceiling %.1f out of [0,100]", o.ChargeCeiling))
	}
	if o.FaultRate < 0 || o.FaultRate > 1 {
		errs = append(errs, fmt.Errorf("device.fault-rate %.2f out of [0,1]", o.FaultRate))
	}

	return errs
}

// AddFlags adds flags for DeviceOptions to the specified FlagSet.
func (o *DeviceOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.HeartbeatInterval, "device.heartbeat-interval", o.HeartbeatInterval, "Interval between device heartbeats.")
	fs.DurationVar(&o.BatteryInterval, "device.battery-interval", o.BatteryInterval, "Interval between battery reports of electric vehicles.")
	fs.DurationVar(&o.MovementInterval, "device.movement-interval", o.MovementInterval, "Interval between movement reports while a vehicle moves.")
	fs.DurationVar(&o.SettleDelay, "device.settle-delay", o.SettleDelay, "Delay after connecting before timers start.")
	fs.DurationVar(&o.MinLatency, "device.min-latency", o.MinLatency, "Lower bound of simulated command latency.")
	fs.DurationVar(&o.MaxLatency, "device.max-latency", o.MaxLatency, "Upper bound of simulated command latency.")
	fs.IntVar(&o.MaxRetries, "device.max-retries", o.MaxRetries, "Reconnection attempts before a device gives up.")
	fs.DurationVar(&o.BackoffStep, "device.backoff-step", o.BackoffStep, "Linear backoff step between reconnection attempts.")
	fs.Float64Var(&o.BatteryDrain, "device.battery-drain", o.BatteryDrain, "Battery percent lost per tick while moving.")
	fs.Float64Var(&o.BatteryCharge, "device.battery-charge", o.BatteryCharge, "Battery percent gained per tick while parked.")
	fs.Float64Var(&o.ChargeCeiling, "device.charge-ceiling", o.ChargeCeiling, "Battery level above which parked vehicles stop charging.")
	fs.Float64Var(&o.FaultRate, "device.fault-rate", o.FaultRate, "Probability that a lock operation jams the actuator.")
}
