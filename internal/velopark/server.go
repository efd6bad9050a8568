// Package velopark assembles the ride orchestration server.
package velopark

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/autopeer-io/velopark/internal/bus"
	"github.com/autopeer-io/velopark/internal/core/service"
	"github.com/autopeer-io/velopark/internal/registry"
	"github.com/autopeer-io/velopark/internal/repository/memory"
	"github.com/autopeer-io/velopark/internal/server"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
)

const shutdownTimeout = 10 * time.Second

// Server is the main application struct.
type Server struct {
	cfg    *Config
	topics *topic.Builder

	broker       *bus.Broker
	store        *memory.Store
	orchestrator *service.Orchestrator
	registry     *registry.Registry
	servers      *server.Manager

	unsubscribe []func()
	closers     []io.Closer

	mu    sync.Mutex
	lots  []string
	users []string
}

func (s *Server) Orchestrator() *service.Orchestrator { return s.orchestrator }
func (s *Server) Registry() *registry.Registry         { return s.registry }
func (s *Server) Store() *memory.Store                 { return s.store }
func (s *Server) Broker() *bus.Broker                  { return s.broker }

// Ready reports whether the bus accepts traffic.
func (s *Server) Ready(ctx context.Context) error {
	if !s.broker.Running() {
		return bus.ErrStopped
	}
	return nil
}

// Run starts the server and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Start brings the bus up and feeds device telemetry to the orchestrator.
// With an ephemeral bus port, agents are pointed at the bound address.
func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting velopark...")

	if err := s.broker.Start(ctx); err != nil {
		return err
	}
	if s.cfg.BusOptions.Port == 0 {
		s.cfg.MqttOptions.Broker = localURL(s.broker.Addr())
		log.Info("Device agents use the embedded bus", "broker", s.cfg.MqttOptions.Broker)
	}

	handle := func(ctx context.Context, msg bus.Message) error {
		return s.orchestrator.HandleTelemetry(ctx, msg.Topic, msg.Payload)
	}
	for _, filter := range []string{s.topics.AllSensors(), s.topics.AllFeedback(), s.topics.AllHeartbeats()} {
		s.unsubscribe = append(s.unsubscribe, s.broker.Subscribe(filter, handle))
	}
	return nil
}

// Serve runs the ops servers until ctx is done, then stops the agents
// before the bus.
func (s *Server) Serve(ctx context.Context) error {
	err := s.servers.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(err, s.shutdown(shutdownCtx))
}

func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "tcp://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "tcp://" + net.JoinHostPort(host, port)
}

func (s *Server) shutdown(ctx context.Context) error {
	log.Info("Shutting down velopark...")

	errs := []error{s.registry.Shutdown(ctx)}

	for _, unsub := range s.unsubscribe {
		unsub()
	}
	s.unsubscribe = nil

	errs = append(errs, s.broker.Stop(ctx))
	s.close()
	return errors.Join(errs...)
}
