package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type serverFunc func(ctx context.Context) error

func (f serverFunc) Start(ctx context.Context) error { return f(ctx) }

func blocking() Server {
	return serverFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}

func TestManagerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewManager(blocking(), blocking()).Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
}

func TestManagerStopsOnFailure(t *testing.T) {
	boom := errors.New("address in use")
	failing := serverFunc(func(ctx context.Context) error { return boom })

	err := NewManager(blocking(), failing).Start(context.Background())
	assert.ErrorIs(t, err, boom)
}
