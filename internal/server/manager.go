// Package server runs the operational endpoints of velopark.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/velopark/pkg/log"
)

// Server defines the common interface for all sub-servers (http, grpc).
type Server interface {
	Start(ctx context.Context) error
}

// Manager manages the lifecycle of the sub-servers.
type Manager struct {
	servers []Server
}

func NewManager(servers ...Server) *Manager {
	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits until ctx is done or one
// of them fails, which stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
