package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

type injection struct {
	topic   string
	payload []byte
}

type fakeBus struct {
	mu   sync.Mutex
	err  error
	sent []injection
}

func (b *fakeBus) Inject(ctx context.Context, topicName string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.sent = append(b.sent, injection{topicName, payload})
	return nil
}

type sinkFunc func(ctx context.Context, e *model.Event) error

func (f sinkFunc) Notify(ctx context.Context, e *model.Event) error { return f(ctx, e) }

func rideEnded() *model.Event {
	return &model.Event{
		Kind:       model.EventRideEnded,
		VehicleID:  "V1",
		RideID:     "R1",
		UserID:     "U1",
		LotID:      "L2",
		Data:       map[string]string{"cost": "7.00"},
		OccurredAt: time.Date(2026, 3, 14, 9, 45, 0, 0, time.UTC),
	}
}

func TestMQTTNotifier(t *testing.T) {
	tests := []struct {
		name  string
		event *model.Event
		topic string
	}{
		{"lot event", rideEnded(), "lot/L2/eventi/ride-ended"},
		{"fleet event", &model.Event{Kind: model.EventDeviceOffline, VehicleID: "V9"}, "lot/fleet/eventi/device-offline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{}
			n := NewMQTTNotifier(bus, topic.NewBuilder("lot"))

			require.NoError(t, n.Notify(context.Background(), tt.event))
			require.Len(t, bus.sent, 1)
			assert.Equal(t, tt.topic, bus.sent[0].topic)

			var got model.Event
			require.NoError(t, json.Unmarshal(bus.sent[0].payload, &got))
			assert.Equal(t, tt.event.Kind, got.Kind)
			assert.Equal(t, tt.event.VehicleID, got.VehicleID)
		})
	}
}

func TestMQTTNotifierPropagatesBusErrors(t *testing.T) {
	down := errors.New("bus is not running")
	n := NewMQTTNotifier(&fakeBus{err: down}, topic.NewBuilder("lot"))

	assert.ErrorIs(t, n.Notify(context.Background(), rideEnded()), down)
}

func TestKafkaNotifier(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "velopark.events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "V1" {
			return errors.New("wrong key " + string(key))
		}

		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var e model.Event
		if err := json.Unmarshal(value, &e); err != nil {
			return err
		}
		if e.RideID != "R1" || e.Data["cost"] != "7.00" {
			return errors.New("unexpected payload " + string(value))
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	n := NewKafkaNotifierWithProducer(producer, "velopark.events")

	require.NoError(t, n.Notify(context.Background(), rideEnded()))
	assert.ErrorIs(t, n.Notify(context.Background(), rideEnded()), sarama.ErrOutOfBrokers)
	require.NoError(t, n.Close())
}

func TestKafkaNotifierHonorsCancellation(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	n := NewKafkaNotifierWithProducer(producer, "velopark.events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, n.Notify(ctx, rideEnded()), context.Canceled)
	require.NoError(t, n.Close())
}

func TestFanout(t *testing.T) {
	var delivered []string
	record := func(name string, err error) core.NotificationSink {
		return sinkFunc(func(ctx context.Context, e *model.Event) error {
			delivered = append(delivered, name)
			return err
		})
	}

	t.Run("all succeed", func(t *testing.T) {
		delivered = nil
		f := Fanout{record("a", nil), NewLogNotifier(), record("b", nil)}

		assert.NoError(t, f.Notify(context.Background(), rideEnded()))
		assert.Equal(t, []string{"a", "b"}, delivered)
	})

	t.Run("failure does not stop delivery", func(t *testing.T) {
		delivered = nil
		first, second := errors.New("first"), errors.New("second")
		f := Fanout{record("a", first), record("b", nil), record("c", second)}

		err := f.Notify(context.Background(), rideEnded())
		require.Error(t, err)
		assert.ErrorIs(t, err, first)
		assert.ErrorIs(t, err, second)
		assert.Equal(t, []string{"a", "b", "c"}, delivered)
	})

	t.Run("empty", func(t *testing.T) {
		assert.NoError(t, Fanout(nil).Notify(context.Background(), rideEnded()))
	})
}
