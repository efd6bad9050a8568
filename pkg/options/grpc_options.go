package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*GrpcOptions)(nil)

// GrpcOptions configures the gRPC health endpoint.
type GrpcOptions struct {
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Timeout is applied to unary calls that arrive without a deadline.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ProbePeriod is how often readiness is copied into the health service.
	ProbePeriod time.Duration `json:"probe-period" mapstructure:"probe-period"`
}

// NewGrpcOptions creates a GrpcOptions object with default parameters.
func NewGrpcOptions() *GrpcOptions {
	return &GrpcOptions{
		Network:     "tcp",
		Addr:        "0.0.0.0:8091",
		Timeout:     30 * time.Second,
		ProbePeriod: 2 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *GrpcOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error

	if !slices.Contains(tcpNetworks, o.Network) {
		errs = append(errs, fmt.Errorf("grpc network %q must be one of %v", o.Network, tcpNetworks))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 || o.ProbePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grpc timeout and probe period must be positive"))
	}

	return errs
}

// AddFlags adds flags for GrpcOptions to the specified FlagSet.
func (o *GrpcOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "grpc.network", o.Network, "Network of the gRPC health server: tcp, tcp4 or tcp6.")
	fs.StringVar(&o.Addr, "grpc.addr", o.Addr, "Bind address of the gRPC health server.")
	fs.DurationVar(&o.Timeout, "grpc.timeout", o.Timeout, "Deadline applied to unary calls without one.")
	fs.DurationVar(&o.ProbePeriod, "grpc.probe-period", o.ProbePeriod, "Interval between readiness probes feeding the health service.")
}
