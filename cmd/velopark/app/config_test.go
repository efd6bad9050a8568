package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/cmd/velopark/app/options"
)

const configYAML = `
ride:
  command-timeout: 3s
  lock-ttl: 30s
log:
  level: debug
kafka:
  brokers:
    - kafka-1:9092
    - kafka-2:9092
sim:
  vehicles: 5
`

func newTestCommand(opts *options.VeloparkOptions, sim *options.SimulateOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	fs := cmd.Flags()
	for _, f := range opts.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	for _, f := range sim.Flags().FlagSets {
		fs.AddFlagSet(f)
	}
	return cmd
}

func TestConfigLoaderPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "velopark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))
	t.Setenv("VELOPARK_RIDE_LOW_BATTERY", "30")
	t.Setenv("VELOPARK_RIDE_LOCK_TTL", "45s")

	opts := options.NewVeloparkOptions()
	sim := options.NewSimulateOptions()
	cmd := newTestCommand(opts, sim)
	require.NoError(t, cmd.ParseFlags([]string{"--ride.lock-ttl=1m", "--sim.rides=3"}))

	loader := newConfigLoader()
	loader.path = path
	require.NoError(t, loader.load(cmd, opts))
	require.NoError(t, loader.load(cmd, &simulateConfig{Sim: sim}))

	// file
	assert.Equal(t, 3*time.Second, opts.RideOptions.CommandTimeout)
	assert.Equal(t, "debug", opts.LogOptions.Level)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, opts.KafkaOptions.Brokers)
	assert.Equal(t, 5, sim.Vehicles)
	// environment over file
	assert.Equal(t, 30.0, opts.RideOptions.LowBattery)
	// flags over environment
	assert.Equal(t, time.Minute, opts.RideOptions.LockTTL)
	assert.Equal(t, 3, sim.Rides)
	// defaults
	assert.Equal(t, 1883, opts.BusOptions.Port)
	assert.Equal(t, "lot", opts.MqttOptions.TopicRoot)
}

func TestConfigLoaderMissingFile(t *testing.T) {
	opts := options.NewVeloparkOptions()
	cmd := newTestCommand(opts, options.NewSimulateOptions())
	require.NoError(t, cmd.ParseFlags(nil))

	loader := newConfigLoader()
	loader.path = filepath.Join(t.TempDir(), "absent.yaml")
	assert.Error(t, loader.load(cmd, opts))
}

func TestCommandTree(t *testing.T) {
	cmd := NewVeloparkCommand(t.Context())

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "simulate", "health"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("bus.port"))
}
