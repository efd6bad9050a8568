package bus

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/notifier"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/mqtt"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
	"github.com/autopeer-io/velopark/pkg/options"
)

func startBroker(t *testing.T) *Broker {
	t.Helper()

	opts := options.NewBusOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0

	b := NewBroker(opts)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a bus message")
		return Message{}
	}
}

func TestBrokerStartStopIsIdempotent(t *testing.T) {
	b := startBroker(t)

	assert.True(t, b.Running())
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, b.Stop(context.Background()))
	require.NoError(t, b.Stop(context.Background()))
	assert.False(t, b.Running())

	err := b.Inject(context.Background(), "lot/L1/stato_mezzi/V1", []byte("{}"))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCommanderReachesServerOriginSubscribers(t *testing.T) {
	b := startBroker(t)
	topics := topic.NewBuilder(topic.DefaultRoot)

	got := make(chan Message, 1)
	b.Subscribe(topics.VehicleCommand("L1", "V1"), func(ctx context.Context, m Message) error {
		got <- m
		return nil
	}, WithServerOrigin())

	cmdr := NewCommander(b, topics)
	require.True(t, cmdr.Available())

	cmd := protocol.NewCommand("L1", "V1", protocol.ActionUnlock, 5*time.Second)
	require.NoError(t, cmdr.SendCommand(context.Background(), cmd))

	m := receive(t, got)
	assert.True(t, m.FromServer)
	assert.Equal(t, "lot/L1/stato_mezzi/V1", m.Topic)

	decoded, err := protocol.Decode(m.Payload)
	require.NoError(t, err)
	assert.Equal(t, cmd.CommandID, decoded.(*protocol.Command).CommandID)
}

func TestBrokerRoutesDevicePublicationsAndDropsMalformed(t *testing.T) {
	b := startBroker(t)
	topics := topic.NewBuilder(topic.DefaultRoot)

	got := make(chan Message, 4)
	b.Subscribe(topics.AllSensors(), func(ctx context.Context, m Message) error {
		got <- m
		return nil
	})

	opts := options.NewMqttOptions()
	opts.Broker = "tcp://" + b.Addr()
	client, err := mqtt.NewClient(opts.ToClientConfig("V1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect(context.Background())

	require.NoError(t, client.Publish(ctx, topics.Battery("L1", "V1"), 0, false, []byte("not json")))

	msg := &protocol.BatteryTelemetry{Header: protocol.NewHeader(protocol.TypeBattery, "L1"), Level: 64}
	msg.VehicleID = "V1"
	payload, err := protocol.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, client.Publish(ctx, topics.Battery("L1", "V1"), 0, false, payload))

	m := receive(t, got)
	assert.False(t, m.FromServer)
	assert.Equal(t, payload, m.Payload)
	assert.Equal(t, opts.ClientPrefix+"V1", m.ClientID)

	assert.Eventually(t, func() bool {
		return b.Clients()[opts.ClientPrefix+"V1"] == StateConnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBrokerCarriesServerEvents(t *testing.T) {
	b := startBroker(t)
	topics := topic.NewBuilder(topic.DefaultRoot)

	got := make(chan Message, 1)
	b.Subscribe(topics.AllEvents(), func(ctx context.Context, m Message) error {
		got <- m
		return nil
	}, WithServerOrigin())

	e := &model.Event{
		Kind:       model.EventRideStarted,
		VehicleID:  "V1",
		RideID:     "R1",
		UserID:     "U1",
		LotID:      "L1",
		OccurredAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.NewMQTTNotifier(b, topics).Notify(context.Background(), e))

	m := receive(t, got)
	assert.True(t, m.FromServer)
	assert.Equal(t, "lot/L1/eventi/ride-started", m.Topic)

	var decoded model.Event
	require.NoError(t, json.Unmarshal(m.Payload, &decoded))
	assert.Equal(t, model.EventRideStarted, decoded.Kind)
	assert.Equal(t, "R1", decoded.RideID)
}
