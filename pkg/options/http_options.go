package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

var tcpNetworks = []string{"tcp", "tcp4", "tcp6"}

// HttpOptions configures the ops HTTP server serving probes, metrics and fleet stats.
type HttpOptions struct {
	Network string `json:"network" mapstructure:"network"`
	Addr    string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing its response.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ShutdownTimeout bounds draining open connections on exit.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Network:         "tcp",
		Addr:            "0.0.0.0:8080",
		Timeout:         30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if !slices.Contains(tcpNetworks, o.Network) {
		errs = append(errs, fmt.Errorf("http network %q must be one of %v", o.Network, tcpNetworks))
	}
	if err := ValidateAddress(o.Addr); err != nil {
		errs = append(errs, err)
	}
	if o.Timeout <= 0 || o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http timeouts must be positive"))
	}

	return errs
}

// AddFlags adds flags for HttpOptions to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Network, "http.network", o.Network, "Network of the ops HTTP server: tcp, tcp4 or tcp6.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Bind address of the ops HTTP server serving /healthz, /readyz, /metrics and /fleet/stats.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Read and write timeout of HTTP requests.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "How long open HTTP connections may drain on exit.")
}
