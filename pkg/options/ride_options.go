package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RideOptions)(nil)

// RideOptions configures the ride orchestrator.
type RideOptions struct {
	// LowBattery triggers a low-battery notification.
	LowBattery float64 `json:"low-battery" mapstructure:"low-battery"`

	// CriticalBattery moves an available vehicle to maintenance.
	CriticalBattery float64 `json:"critical-battery" mapstructure:"critical-battery"`

	// CommandTimeout is the acknowledgment deadline of vehicle commands.
	CommandTimeout time.Duration `json:"command-timeout" mapstructure:"command-timeout"`

	// PendingSweep is how often expired commands are collected.
	PendingSweep time.Duration `json:"pending-sweep" mapstructure:"pending-sweep"`

	// LockTTL bounds how long a ride operation may hold a user or vehicle lock.
	LockTTL time.Duration `json:"lock-ttl" mapstructure:"lock-ttl"`
}

// NewRideOptions creates a RideOptions object with default parameters.
func NewRideOptions() *RideOptions {
	return &RideOptions{
		LowBattery:      20,
		CriticalBattery: 5,
		CommandTimeout:  10 * time.Second,
		PendingSweep:    time.Second,
		LockTTL:         15 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RideOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.CriticalBattery < 0 || o.CriticalBattery > o.LowBattery || o.LowBattery > 100 {
		errs = append(errs, fmt.Errorf("battery thresholds must satisfy 0 <= critical (%.1f) <= low (%.1f) <= 100", o.CriticalBattery, o.LowBattery))
	}
	if o.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ride.command-timeout must be positive"))
	}
	if o.PendingSweep <= 0 {
		errs = append(errs, fmt.Errorf("ride.pending-sweep must be positive"))
	}
	if o.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("ride.lock-ttl must be positive"))
	}

	return errs
}

// AddFlags adds flags for RideOptions to the specified FlagSet.
func (o *RideOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.LowBattery, "ride.low-battery", o.LowBattery, "Battery percent below which a low-battery event is raised.")
	fs.Float64Var(&o.CriticalBattery, "ride.critical-battery", o.CriticalBattery, "Battery percent below which an available vehicle goes to maintenance.")
	fs.DurationVar(&o.CommandTimeout, "ride.command-timeout", o.CommandTimeout, "Acknowledgment deadline of vehicle commands.")
	fs.DurationVar(&o.PendingSweep, "ride.pending-sweep", o.PendingSweep, "Interval between sweeps of unacknowledged commands.")
	fs.DurationVar(&o.LockTTL, "ride.lock-ttl", o.LockTTL, "Expiry of per-user and per-vehicle ride locks.")
}
