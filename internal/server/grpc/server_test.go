package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/autopeer-io/velopark/pkg/options"
)

func TestHealthFollowsReadiness(t *testing.T) {
	var down atomic.Bool
	ready := func(ctx context.Context) error {
		if down.Load() {
			return errors.New("bus is not running")
		}
		return nil
	}

	opts := options.NewGrpcOptions()
	opts.ProbePeriod = 10 * time.Millisecond
	srv := NewServer(opts, ready)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	addr := lis.Addr().String()
	status := func() healthpb.HealthCheckResponse_ServingStatus {
		s, err := Check(context.Background(), addr, ServiceName)
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return s
	}

	assert.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_SERVING }, 2*time.Second, 10*time.Millisecond)

	down.Store(true)
	assert.Eventually(t, func() bool { return status() == healthpb.HealthCheckResponse_NOT_SERVING }, 2*time.Second, 10*time.Millisecond)

	_, err = Check(context.Background(), addr, "unknown.Service")
	assert.Error(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
