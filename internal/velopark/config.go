package velopark

import (
	"context"
	"fmt"

	"github.com/autopeer-io/velopark/internal/bus"
	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/service"
	"github.com/autopeer-io/velopark/internal/lock"
	"github.com/autopeer-io/velopark/internal/notifier"
	"github.com/autopeer-io/velopark/internal/registry"
	"github.com/autopeer-io/velopark/internal/repository/memory"
	"github.com/autopeer-io/velopark/internal/server"
	"github.com/autopeer-io/velopark/internal/server/grpc"
	"github.com/autopeer-io/velopark/internal/server/http"
	"github.com/autopeer-io/velopark/internal/storage"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
	"github.com/autopeer-io/velopark/pkg/options"
)

type Config struct {
	BusOptions    *options.BusOptions
	MqttOptions   *options.MqttOptions
	DeviceOptions *options.DeviceOptions
	RideOptions   *options.RideOptions
	HttpOptions   *options.HttpOptions
	GrpcOptions   *options.GrpcOptions
	RedisOptions  *options.RedisOptions
	KafkaOptions  *options.KafkaOptions
	S3Options     *options.S3Options
}

// NewServer wires the bus, the orchestrator, the agent registry and the ops
// servers. External stores are contacted here; the bus starts in Run.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		store:  memory.New(),
		topics: topic.NewBuilder(cfg.MqttOptions.TopicRoot),
	}
	s.broker = bus.NewBroker(cfg.BusOptions)

	// Ride locks
	var locker core.Locker = lock.NewLocal(cfg.RideOptions.LockTTL)
	if cfg.RedisOptions.Enabled() {
		r, err := lock.NewRedisFromOptions(ctx, cfg.RedisOptions)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = r
		s.closers = append(s.closers, r)
	}

	// Notifications
	sinks := notifier.Fanout{
		notifier.NewLogNotifier(),
		notifier.NewMQTTNotifier(s.broker, s.topics),
	}
	if cfg.KafkaOptions.Enabled() {
		k, err := notifier.NewKafkaNotifier(cfg.KafkaOptions)
		if err != nil {
			s.close()
			return nil, err
		}
		sinks = append(sinks, k)
		s.closers = append(s.closers, k)
	}

	orchOpts := []service.Option{
		service.WithConfig(service.NewConfig(cfg.RideOptions)),
		service.WithTopics(s.topics),
	}
	if cfg.S3Options.Enabled() {
		archive, err := storage.NewMinIO(cfg.S3Options)
		if err != nil {
			s.close()
			return nil, err
		}
		if err := archive.CheckBucket(ctx); err != nil {
			log.Warn("Maintenance archive unavailable, reports are kept locally only", "error", err)
		} else {
			orchOpts = append(orchOpts, service.WithArchive(archive))
		}
	}

	s.orchestrator = service.New(s.store, bus.NewCommander(s.broker, s.topics), sinks, locker, orchOpts...)

	s.registry = registry.New(
		registry.NewAgentFactory(cfg.DeviceOptions, cfg.MqttOptions),
		registry.WithSink(sinks),
		registry.WithLowBattery(cfg.RideOptions.LowBattery),
	)

	s.servers = server.NewManager(
		http.NewServer(cfg.HttpOptions, s.Ready, s.registry),
		grpc.NewServer(cfg.GrpcOptions, s.Ready),
	)

	return s, nil
}

func (s *Server) close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			log.Warn("Failed to close", "error", err)
		}
	}
	s.closers = nil
}
