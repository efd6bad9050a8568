package velopark

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/core/service"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/options"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func testConfig() *Config {
	dev := options.NewDeviceOptions()
	dev.HeartbeatInterval = time.Hour
	dev.BatteryInterval = time.Hour
	dev.MovementInterval = time.Hour
	dev.SettleDelay = 5 * time.Millisecond
	dev.MinLatency = time.Millisecond
	dev.MaxLatency = 5 * time.Millisecond
	dev.BackoffStep = 10 * time.Millisecond

	ride := options.NewRideOptions()
	ride.CommandTimeout = 3 * time.Second
	ride.PendingSweep = 20 * time.Millisecond

	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"
	grpcOpts := options.NewGrpcOptions()
	grpcOpts.Addr = "127.0.0.1:0"

	return &Config{
		BusOptions:    &options.BusOptions{Host: "127.0.0.1", Port: 0, InjectQoS: 1},
		MqttOptions:   options.NewMqttOptions(),
		DeviceOptions: dev,
		RideOptions:   ride,
		HttpOptions:   httpOpts,
		GrpcOptions:   grpcOpts,
		RedisOptions:  options.NewRedisOptions(),
		KafkaOptions:  options.NewKafkaOptions(),
		S3Options:     options.NewS3Options(),
	}
}

// startServer runs a server with an embedded bus until the test ends.
func startServer(t *testing.T, fleet Fleet) *Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := testConfig().NewServer(ctx)
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))

	var g errgroup.Group
	g.Go(func() error { return srv.Serve(ctx) })
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, g.Wait())
	})

	require.NoError(t, srv.Ready(ctx))
	require.NoError(t, srv.Seed(ctx, fleet))
	return srv
}

func TestSeed(t *testing.T) {
	srv := startServer(t, Fleet{Lots: 2, Vehicles: 4, Users: 3, Credit: decimal.NewFromInt(10)})
	ctx := context.Background()

	assert.Equal(t, []string{"V001", "V002", "V003", "V004"}, srv.Registry().IDs())

	v, err := srv.Store().Vehicles().Get(ctx, "V003")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryMuscular, v.Category)
	assert.Equal(t, "L1", v.LotID)
	assert.Nil(t, v.Battery)

	v, err = srv.Store().Vehicles().Get(ctx, "V002")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryScooter, v.Category)
	assert.Equal(t, "L2", v.LotID)
	require.NotNil(t, v.Battery)
	assert.Equal(t, 67.0, *v.Battery)

	u, err := srv.Store().Users().Get(ctx, "U003")
	require.NoError(t, err)
	assert.True(t, u.Credit.Equal(decimal.NewFromInt(10)))

	require.Eventually(t, func() bool {
		s, err := srv.Registry().Stats(ctx)
		return err == nil && s.Connected == 4
	}, waitFor, tick)
}

func TestSeedRejectsEmptyFleet(t *testing.T) {
	srv, err := testConfig().NewServer(context.Background())
	require.NoError(t, err)

	assert.Error(t, srv.Seed(context.Background(), Fleet{Lots: 1}))

	_, err = srv.Simulate(context.Background(), Simulation{Rides: 1})
	assert.Error(t, err)
}

func TestRideRoundTrip(t *testing.T) {
	srv := startServer(t, Fleet{Lots: 2, Vehicles: 1, Users: 1, Credit: decimal.NewFromInt(10)})
	ctx := context.Background()
	orch := srv.Orchestrator()

	agent, ok := srv.Registry().Get("V001")
	require.True(t, ok)

	ride, err := orch.StartRide(ctx, "U001", "V001")
	require.NoError(t, err)

	// the agent acknowledges over the bus and the pending command settles
	require.Eventually(t, func() bool {
		s, err := agent.Snapshot(ctx)
		return err == nil && s.Lock == protocol.LockUnlocked && orch.PendingCommands() == 0
	}, waitFor, tick)

	ended, err := orch.EndRide(ctx, service.EndRideRequest{RideID: ride.ID, DestinationLotID: "L2"})
	require.NoError(t, err)
	assert.Equal(t, model.RideCompleted, ended.Status)
	assert.Equal(t, "L1", ended.OriginLotID)

	require.Eventually(t, func() bool {
		s, err := agent.Snapshot(ctx)
		return err == nil && s.Lock == protocol.LockLocked && orch.PendingCommands() == 0
	}, waitFor, tick)

	v, err := srv.Store().Vehicles().Get(ctx, "V001")
	require.NoError(t, err)
	assert.Equal(t, model.VehicleAvailable, v.Status)
	assert.Equal(t, "L2", v.LotID)
}

func TestSimulate(t *testing.T) {
	srv := startServer(t, Fleet{Lots: 3, Vehicles: 6, Users: 4, Credit: decimal.NewFromInt(50)})

	report, err := srv.Simulate(context.Background(), Simulation{
		Rides:           8,
		Concurrency:     3,
		RideTime:        10 * time.Millisecond,
		MaintenanceRate: 0,
	})
	require.NoError(t, err)

	assert.Equal(t, 8, report.Started+report.Rejected)
	assert.Equal(t, report.Started, report.Ended)
	assert.Positive(t, report.Started)
	assert.True(t, report.Revenue.IsPositive())
	assert.Zero(t, report.Maintenance)
}

func TestLocalURL(t *testing.T) {
	assert.Equal(t, "tcp://127.0.0.1:1883", localURL("0.0.0.0:1883"))
	assert.Equal(t, "tcp://127.0.0.1:1883", localURL("[::]:1883"))
	assert.Equal(t, "tcp://10.0.0.4:1883", localURL("10.0.0.4:1883"))
}
