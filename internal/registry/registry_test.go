package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/device"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/mqtt/mqtttest"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var topics = topic.NewBuilder(topic.DefaultRoot)

type recordingSink struct {
	mu     sync.Mutex
	events []*model.Event
}

func (s *recordingSink) Notify(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []*model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.Event(nil), s.events...)
}

func testFactory(broker *mqtttest.Broker) AgentFactory {
	return func(spec Spec, onOffline func(string)) (*device.Agent, error) {
		return device.New(device.Config{
			VehicleID:         spec.VehicleID,
			LotID:             spec.LotID,
			Electric:          spec.Electric,
			Battery:           spec.Battery,
			HeartbeatInterval: time.Hour,
			BatteryInterval:   time.Hour,
			MovementInterval:  time.Hour,
			SettleDelay:       time.Millisecond,
			MinLatency:        time.Millisecond,
			MaxLatency:        2 * time.Millisecond,
			MaxRetries:        2,
			BackoffStep:       2 * time.Millisecond,
			ChargeCeiling:     95,
			QoS:               1,
			Topics:            topics,
			OnOffline:         onOffline,
		}, broker.NewClient(spec.VehicleID))
	}
}

func newRegistry(t *testing.T, opts ...Option) (*Registry, *mqtttest.Broker) {
	t.Helper()

	broker := mqtttest.NewBroker()
	r := New(testFactory(broker), opts...)
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r, broker
}

func provision(t *testing.T, r *Registry, specs ...Spec) {
	t.Helper()
	for _, s := range specs {
		_, err := r.Provision(context.Background(), s)
		require.NoError(t, err)
	}
}

func TestProvision(t *testing.T) {
	r, broker := newRegistry(t)
	ctx := context.Background()

	provision(t, r,
		Spec{VehicleID: "V2", LotID: "L1"},
		Spec{VehicleID: "V1", LotID: "L1", Electric: true, Battery: 70},
	)

	assert.Equal(t, []string{"V1", "V2"}, r.IDs())
	assert.Equal(t, 2, r.Len())
	assert.True(t, broker.Client("V1").IsConnected())

	a, ok := r.Get("V1")
	require.True(t, ok)
	s, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.ConnConnected, s.Conn)
	assert.Equal(t, 70.0, s.Battery)

	_, err = r.Provision(ctx, Spec{VehicleID: "V1", LotID: "L2"})
	assert.ErrorIs(t, err, ErrExists)

	_, ok = r.Get("V9")
	assert.False(t, ok)
}

func TestProvisionRejected(t *testing.T) {
	tests := []struct {
		name  string
		spec  Spec
		setup func(b *mqtttest.Broker)
	}{
		{name: "empty vehicle", spec: Spec{LotID: "L1"}},
		{name: "wildcard lot", spec: Spec{VehicleID: "V1", LotID: "L+"}},
		{name: "broker refuses", spec: Spec{VehicleID: "V1", LotID: "L1"}, setup: func(b *mqtttest.Broker) { b.Refuse("V1", true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, broker := newRegistry(t)
			if tt.setup != nil {
				tt.setup(broker)
			}

			_, err := r.Provision(context.Background(), tt.spec)
			require.Error(t, err)
			assert.Zero(t, r.Len())
		})
	}
}

func TestProvisionRetryAfterFailure(t *testing.T) {
	r, broker := newRegistry(t)
	ctx := context.Background()

	broker.Refuse("V1", true)
	_, err := r.Provision(ctx, Spec{VehicleID: "V1", LotID: "L1"})
	require.ErrorIs(t, err, mqtttest.ErrRefused)

	broker.Refuse("V1", false)
	_, err = r.Provision(ctx, Spec{VehicleID: "V1", LotID: "L1"})
	require.NoError(t, err)
}

func TestFactoryError(t *testing.T) {
	boom := errors.New("no hardware")
	r := New(func(Spec, func(string)) (*device.Agent, error) { return nil, boom })

	_, err := r.Provision(context.Background(), Spec{VehicleID: "V1", LotID: "L1"})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.IDs())
}

func TestDeprovision(t *testing.T) {
	r, broker := newRegistry(t)
	ctx := context.Background()
	provision(t, r, Spec{VehicleID: "V1", LotID: "L1"})
	a, _ := r.Get("V1")

	require.NoError(t, r.Deprovision(ctx, "V1"))
	assert.Zero(t, r.Len())
	assert.False(t, broker.Client("V1").IsConnected())

	_, err := a.Snapshot(ctx)
	assert.ErrorIs(t, err, device.ErrStopped)

	assert.ErrorIs(t, r.Deprovision(ctx, "V1"), ErrNotFound)
}

func TestStats(t *testing.T) {
	r, broker := newRegistry(t, WithLowBattery(20))
	ctx := context.Background()

	provision(t, r,
		Spec{VehicleID: "E1", LotID: "L1", Electric: true, Battery: 50},
		Spec{VehicleID: "E2", LotID: "L1", Electric: true, Battery: 10},
		Spec{VehicleID: "M1", LotID: "L2"},
	)

	cmd := protocol.NewCommand("L2", "M1", protocol.ActionUnlock, time.Second)
	payload, err := protocol.Encode(cmd)
	require.NoError(t, err)
	broker.Inject(topics.VehicleCommand("L2", "M1"), payload)

	var s Stats
	require.Eventually(t, func() bool {
		s, err = r.Stats(ctx)
		return err == nil && s.Unlocked == 1
	}, waitFor, tick)

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 3, s.Connected)
	assert.Equal(t, 1, s.Moving)
	assert.Equal(t, 1, s.LowBattery)
	assert.InDelta(t, 30.0, s.AverageBattery, 0.5)
	assert.Equal(t, 1.0, s.ConnectionRate())
	assert.Empty(t, s.OfflineIDs)
	assert.False(t, s.CollectedAt.IsZero())
}

func TestOfflineAgentIsReported(t *testing.T) {
	sink := &recordingSink{}
	r, broker := newRegistry(t, WithSink(sink))
	ctx := context.Background()
	provision(t, r, Spec{VehicleID: "V1", LotID: "L1"}, Spec{VehicleID: "V2", LotID: "L1"})

	broker.Refuse("V1", true)
	broker.Client("V1").Drop(errors.New("no coverage"))

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, waitFor, tick)
	e := sink.all()[0]
	assert.Equal(t, model.EventDeviceOffline, e.Kind)
	assert.Equal(t, "V1", e.VehicleID)
	assert.Equal(t, "L1", e.LotID)

	s, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Offline)
	assert.Equal(t, 1, s.Connected)
	assert.Equal(t, []string{"V1"}, s.OfflineIDs)
	assert.Equal(t, 0.5, s.ConnectionRate())
}

func TestShutdown(t *testing.T) {
	r, broker := newRegistry(t)
	ctx := context.Background()
	provision(t, r, Spec{VehicleID: "V1", LotID: "L1"}, Spec{VehicleID: "V2", LotID: "L1"})

	require.NoError(t, r.Shutdown(ctx))
	assert.Zero(t, r.Len())
	assert.False(t, broker.Client("V1").IsConnected())
	assert.False(t, broker.Client("V2").IsConnected())

	_, err := r.Provision(ctx, Spec{VehicleID: "V3", LotID: "L1"})
	assert.ErrorIs(t, err, ErrClosed)

	s, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Total)
	assert.Zero(t, s.ConnectionRate())
}
