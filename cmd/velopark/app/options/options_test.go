package options

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewVeloparkOptions()
	require.NoError(t, o.Validate())

	cfg, err := o.Config()
	require.NoError(t, err)
	assert.Same(t, o.RideOptions, cfg.RideOptions)
	assert.Same(t, o.BusOptions, cfg.BusOptions)

	require.NoError(t, NewSimulateOptions().Validate())
}

func TestValidateAggregatesErrors(t *testing.T) {
	o := NewVeloparkOptions()
	o.BusOptions.Port = 70000
	o.RideOptions.CriticalBattery = 50
	o.LogOptions.Format = "xml"

	err := o.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus port 70000")
	assert.Contains(t, err.Error(), "battery thresholds")
	assert.Contains(t, err.Error(), "xml")

	_, err = o.Config()
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	o := NewVeloparkOptions()
	o.DeviceOptions.MinLatency = time.Second
	o.DeviceOptions.MaxLatency = time.Millisecond
	o.RideOptions.CommandTimeout = time.Second
	o.RideOptions.PendingSweep = time.Minute

	require.NoError(t, o.Complete())
	assert.Equal(t, time.Second, o.DeviceOptions.MaxLatency)
	assert.Equal(t, time.Second, o.RideOptions.PendingSweep)
}

func TestFlagsCoverEveryGroup(t *testing.T) {
	fss := NewVeloparkOptions().Flags()
	for _, name := range []string{"bus", "mqtt", "device", "ride", "http", "grpc", "redis", "kafka", "s3", "log"} {
		assert.Contains(t, fss.FlagSets, name)
	}
	assert.NotNil(t, fss.FlagSet("ride").Lookup("ride.command-timeout"))
}

func TestSimulateOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *SimulateOptions)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*SimulateOptions) {}},
		{name: "no vehicles", mutate: func(o *SimulateOptions) { o.Vehicles = 0 }, wantErr: true},
		{name: "no concurrency", mutate: func(o *SimulateOptions) { o.Concurrency = 0 }, wantErr: true},
		{name: "rate above one", mutate: func(o *SimulateOptions) { o.MaintenanceRate = 1.5 }, wantErr: true},
		{name: "credit not a number", mutate: func(o *SimulateOptions) { o.Credit = "lots" }, wantErr: true},
		{name: "negative credit", mutate: func(o *SimulateOptions) { o.Credit = "-1" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewSimulateOptions()
			tt.mutate(o)
			if tt.wantErr {
				assert.Error(t, o.Validate())
				return
			}
			assert.NoError(t, o.Validate())
		})
	}
}

func TestFleetRoundsCredit(t *testing.T) {
	o := NewSimulateOptions()
	o.Credit = "12.345"

	f, err := o.Fleet()
	require.NoError(t, err)
	assert.True(t, f.Credit.Equal(decimal.RequireFromString("12.35")), f.Credit.String())
	assert.Equal(t, o.Vehicles, f.Vehicles)

	sim := o.Simulation()
	assert.Equal(t, o.Rides, sim.Rides)
	assert.Equal(t, o.RideTime, sim.RideTime)
}
