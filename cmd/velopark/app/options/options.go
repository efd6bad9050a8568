package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/velopark/internal/velopark"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/options"
)

type VeloparkOptions struct {
	BusOptions    *options.BusOptions    `json:"bus" mapstructure:"bus"`
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	DeviceOptions *options.DeviceOptions `json:"device" mapstructure:"device"`
	RideOptions   *options.RideOptions   `json:"ride" mapstructure:"ride"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	GrpcOptions   *options.GrpcOptions   `json:"grpc" mapstructure:"grpc"`
	RedisOptions  *options.RedisOptions  `json:"redis" mapstructure:"redis"`
	KafkaOptions  *options.KafkaOptions  `json:"kafka" mapstructure:"kafka"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	LogOptions    *log.Options           `json:"log" mapstructure:"log"`
}

func NewVeloparkOptions() *VeloparkOptions {
	return &VeloparkOptions{
		BusOptions:    options.NewBusOptions(),
		MqttOptions:   options.NewMqttOptions(),
		DeviceOptions: options.NewDeviceOptions(),
		RideOptions:   options.NewRideOptions(),
		HttpOptions:   options.NewHttpOptions(),
		GrpcOptions:   options.NewGrpcOptions(),
		RedisOptions:  options.NewRedisOptions(),
		KafkaOptions:  options.NewKafkaOptions(),
		S3Options:     options.NewS3Options(),
		LogOptions:    log.NewOptions(),
	}
}

func (o *VeloparkOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.BusOptions.AddFlags(fss.FlagSet("bus"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.DeviceOptions.AddFlags(fss.FlagSet("device"))
	o.RideOptions.AddFlags(fss.FlagSet("ride"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.GrpcOptions.AddFlags(fss.FlagSet("grpc"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.KafkaOptions.AddFlags(fss.FlagSet("kafka"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	return fss
}

// Complete fills in defaults that depend on other options.
func (o *VeloparkOptions) Complete() error {
	if o.DeviceOptions.MaxLatency < o.DeviceOptions.MinLatency {
		o.DeviceOptions.MaxLatency = o.DeviceOptions.MinLatency
	}
	if o.RideOptions.PendingSweep > o.RideOptions.CommandTimeout {
		o.RideOptions.PendingSweep = o.RideOptions.CommandTimeout
	}
	return nil
}

func (o *VeloparkOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.BusOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.DeviceOptions.Validate()...)
	errs = append(errs, o.RideOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.GrpcOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.KafkaOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *VeloparkOptions) Config() (*velopark.Config, error) {
	if err := o.Complete(); err != nil {
		return nil, err
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	return &velopark.Config{
		BusOptions:    o.BusOptions,
		MqttOptions:   o.MqttOptions,
		DeviceOptions: o.DeviceOptions,
		RideOptions:   o.RideOptions,
		HttpOptions:   o.HttpOptions,
		GrpcOptions:   o.GrpcOptions,
		RedisOptions:  o.RedisOptions,
		KafkaOptions:  o.KafkaOptions,
		S3Options:     o.S3Options,
	}, nil
}

// SimulateOptions sizes the fleet and the ride load of the simulate command.
type SimulateOptions struct {
	Lots            int           `json:"lots" mapstructure:"lots"`
	Vehicles        int           `json:"vehicles" mapstructure:"vehicles"`
	Users           int           `json:"users" mapstructure:"users"`
	Credit          string        `json:"credit" mapstructure:"credit"`
	Rides           int           `json:"rides" mapstructure:"rides"`
	Concurrency     int           `json:"concurrency" mapstructure:"concurrency"`
	RideTime        time.Duration `json:"ride-time" mapstructure:"ride-time"`
	MaintenanceRate float64       `json:"maintenance-rate" mapstructure:"maintenance-rate"`
}

func NewSimulateOptions() *SimulateOptions {
	return &SimulateOptions{
		Lots:            3,
		Vehicles:        12,
		Users:           8,
		Credit:          "20.00",
		Rides:           40,
		Concurrency:     4,
		RideTime:        200 * time.Millisecond,
		MaintenanceRate: 0.05,
	}
}

func (o *SimulateOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("simulation")
	fs.IntVar(&o.Lots, "sim.lots", o.Lots, "Number of parking lots to seed.")
	fs.IntVar(&o.Vehicles, "sim.vehicles", o.Vehicles, "Number of vehicles to seed, each with its own device agent.")
	fs.IntVar(&o.Users, "sim.users", o.Users, "Number of riders to seed.")
	fs.StringVar(&o.Credit, "sim.credit", o.Credit, "Starting credit of every rider.")
	fs.IntVar(&o.Rides, "sim.rides", o.Rides, "Number of rides to attempt.")
	fs.IntVar(&o.Concurrency, "sim.concurrency", o.Concurrency, "Maximum number of rides in progress at once.")
	fs.DurationVar(&o.RideTime, "sim.ride-time", o.RideTime, "How long each rider keeps the vehicle.")
	fs.Float64Var(&o.MaintenanceRate, "sim.maintenance-rate", o.MaintenanceRate, "Probability that a rider reports a problem when ending a ride.")
	return fss
}

func (o *SimulateOptions) Validate() error {
	errs := []error{}
	if o.Lots <= 0 || o.Vehicles <= 0 || o.Users <= 0 {
		errs = append(errs, fmt.Errorf("simulation needs at least one lot, vehicle and user"))
	}
	if o.Rides < 0 || o.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("sim.rides must not be negative and sim.concurrency must be positive"))
	}
	if o.MaintenanceRate < 0 || o.MaintenanceRate > 1 {
		errs = append(errs, fmt.Errorf("sim.maintenance-rate %.2f must be in [0,1]", o.MaintenanceRate))
	}
	if _, err := o.Fleet(); err != nil {
		errs = append(errs, err)
	}
	return utilerrors.NewAggregate(errs)
}

func (o *SimulateOptions) Fleet() (velopark.Fleet, error) {
	credit, err := parseCredit(o.Credit)
	if err != nil {
		return velopark.Fleet{}, err
	}
	return velopark.Fleet{Lots: o.Lots, Vehicles: o.Vehicles, Users: o.Users, Credit: credit}, nil
}

func (o *SimulateOptions) Simulation() velopark.Simulation {
	return velopark.Simulation{
		Rides:           o.Rides,
		Concurrency:     o.Concurrency,
		RideTime:        o.RideTime,
		MaintenanceRate: o.MaintenanceRate,
	}
}
