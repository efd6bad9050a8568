package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BusOptions)(nil)

// BusOptions configures the embedded message bus.
type BusOptions struct {
	// Host is the interface the broker listens on.
	Host string `json:"host" mapstructure:"host"`

	// Port is the TCP port of the MQTT listener.
	Port int `json:"port" mapstructure:"port"`

	// InjectQoS is the QoS used for server originated messages.
	InjectQoS int `json:"inject-qos" mapstructure:"inject-qos"`
}

// NewBusOptions creates a BusOptions object with default parameters.
func NewBusOptions() *BusOptions {
	return &BusOptions{
		Host:      "0.0.0.0",
		Port:      1883,
		InjectQoS: 1,
	}
}

// Address returns the listener address.
func (o *BusOptions) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *BusOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Port < 0 || o.Port > 65535 {
		errors = append(errors, fmt.Errorf("bus port %d out of range", o.Port))
	}
	if o.InjectQoS < 0 || o.InjectQoS > 2 {
		errors = append(errors, fmt.Errorf("bus inject qos %d must be 0, 1 or 2", o.InjectQoS))
	}

	return errors
}

// AddFlags adds flags for BusOptions to the specified FlagSet.
func (o *BusOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Host, "bus.host", o.Host, "The interface the embedded MQTT broker listens on.")
	fs.IntVar(&o.Port, "bus.port", o.Port, "The TCP port of the embedded MQTT broker.")
	fs.IntVar(&o.InjectQoS, "bus.inject-qos", o.InjectQoS, "QoS of messages injected by the orchestrator.")
}
