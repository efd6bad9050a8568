package bus

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterDeliversToMatchingSubscribersOnce(t *testing.T) {
	r := NewRouter()

	var v1, v2, all atomic.Int32
	r.Add("lot/L1/stato_mezzi/V1", func(ctx context.Context, m Message) error { v1.Add(1); return nil })
	r.Add("lot/L1/stato_mezzi/V2", func(ctx context.Context, m Message) error { v2.Add(1); return nil })
	r.Add("lot/+/stato_mezzi/+", func(ctx context.Context, m Message) error { all.Add(1); return nil })

	n := r.Dispatch(Message{Topic: "lot/L1/stato_mezzi/V1", Payload: []byte("{}")})
	assert.Equal(t, 2, n)

	require.NoError(t, r.Close(context.Background()))
	assert.EqualValues(t, 1, v1.Load())
	assert.EqualValues(t, 0, v2.Load())
	assert.EqualValues(t, 1, all.Load())
}

func TestRouterKeepsOrderPerSubscriber(t *testing.T) {
	r := NewRouter()
	const n = 2000

	var got []int
	r.Add("lot/L1/sensori/batteria/V1", func(ctx context.Context, m Message) error {
		seq, err := strconv.Atoi(string(m.Payload))
		if err != nil {
			return err
		}
		got = append(got, seq)
		return nil
	})

	for i := range n {
		require.Equal(t, 1, r.Dispatch(Message{Topic: "lot/L1/sensori/batteria/V1", Payload: []byte(strconv.Itoa(i))}))
	}

	require.NoError(t, r.Close(context.Background()))
	require.Len(t, got, n)
	assert.True(t, slices.IsSorted(got), "messages delivered out of order")
}

func TestRouterHidesServerOriginByDefault(t *testing.T) {
	r := NewRouter()

	var plain, optedIn atomic.Int32
	r.Add("#", func(ctx context.Context, m Message) error { plain.Add(1); return nil })
	r.Add("#", func(ctx context.Context, m Message) error { optedIn.Add(1); return nil }, WithServerOrigin())

	r.Dispatch(Message{Topic: "lot/L1/stato_mezzi/V1", FromServer: true})
	r.Dispatch(Message{Topic: "lot/L1/sensori/batteria/V1"})

	require.NoError(t, r.Close(context.Background()))
	assert.EqualValues(t, 1, plain.Load())
	assert.EqualValues(t, 2, optedIn.Load())
}

func TestRouterIsolatesFailingSubscribers(t *testing.T) {
	r := NewRouter()

	var delivered sync.WaitGroup
	delivered.Add(1)

	r.Add("#", func(ctx context.Context, m Message) error { panic("boom") })
	r.Add("#", func(ctx context.Context, m Message) error { return errors.New("bad payload") })
	r.Add("#", func(ctx context.Context, m Message) error { delivered.Done(); return nil })

	assert.Equal(t, 3, r.Dispatch(Message{Topic: "lot/L1/sensori/posti/S1"}))
	delivered.Wait()
	require.NoError(t, r.Close(context.Background()))
}

func TestRouterSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	r := NewRouter()

	release := make(chan struct{})
	fast := make(chan struct{})

	r.Add("#", func(ctx context.Context, m Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	r.Add("#", func(ctx context.Context, m Message) error { close(fast); return nil })

	done := make(chan struct{})
	go func() {
		r.Dispatch(Message{Topic: "lot/L1/sensori/movimento/V1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a slow subscriber")
	}
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved")
	}

	close(release)
	require.NoError(t, r.Close(context.Background()))
}

func TestRouterUnsubscribe(t *testing.T) {
	r := NewRouter()

	var calls atomic.Int32
	cancel := r.Add("lot/#", func(ctx context.Context, m Message) error { calls.Add(1); return nil })
	cancel()
	cancel()

	assert.Zero(t, r.Dispatch(Message{Topic: "lot/L1/sensori/batteria/V1"}))
	require.NoError(t, r.Close(context.Background()))
	assert.Zero(t, calls.Load())
}
