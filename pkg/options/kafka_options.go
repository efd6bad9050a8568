package options

import (
	"errors"

	"github.com/spf13/pflag"
)

var _ IOptions = (*KafkaOptions)(nil)

// KafkaOptions configures the event fan-out producer.
// No brokers disables the Kafka sink.
type KafkaOptions struct {
	Brokers  []string `json:"brokers" mapstructure:"brokers"`
	Topic    string   `json:"topic" mapstructure:"topic"`
	ClientID string   `json:"client-id" mapstructure:"client-id"`
}

// NewKafkaOptions creates a KafkaOptions object with default parameters.
func NewKafkaOptions() *KafkaOptions {
	return &KafkaOptions{
		Topic:    "velopark.events",
		ClientID: "velopark",
	}
}

// Enabled reports whether at least one broker is configured.
func (o *KafkaOptions) Enabled() bool {
	return o != nil && len(o.Brokers) > 0
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *KafkaOptions) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}
	if o.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	for _, b := range o.Brokers {
		if err := ValidateAddress(b); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// AddFlags adds flags for KafkaOptions to the specified FlagSet.
func (o *KafkaOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.Brokers, "kafka.brokers", o.Brokers, "Kafka brokers receiving domain events. Empty disables the sink.")
	fs.StringVar(&o.Topic, "kafka.topic", o.Topic, "Kafka topic of domain events.")
	fs.StringVar(&o.ClientID, "kafka.client-id", o.ClientID, "Kafka client id.")
}
