// Package registry owns the set of live device agents.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/device"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
)

var (
	ErrExists   = errors.New("agent already provisioned")
	ErrNotFound = errors.New("agent not found")
	ErrClosed   = errors.New("registry is shut down")
)

const (
	stopTimeout          = 5 * time.Second
	offlineNotifyTimeout = 5 * time.Second
)

// Spec describes the vehicle an agent simulates.
type Spec struct {
	VehicleID string
	LotID     string
	Electric  bool
	Battery   float64
	Lat       float64
	Lng       float64
}

// AgentFactory builds an agent for spec. onOffline must be wired into the
// agent configuration.
type AgentFactory func(spec Spec, onOffline func(vehicleID string)) (*device.Agent, error)

// Registry is the only owner of the agent set.
type Registry struct {
	factory    AgentFactory
	sink       core.NotificationSink
	lowBattery float64

	mu           sync.Mutex
	agents       map[string]*device.Agent
	provisioning map[string]struct{}
	closed       bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink reports offline agents to sink.
func WithSink(sink core.NotificationSink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithLowBattery sets the level under which an agent counts as low on battery.
func WithLowBattery(level float64) Option {
	return func(r *Registry) { r.lowBattery = level }
}

// New creates an empty registry.
func New(factory AgentFactory, opts ...Option) *Registry {
	r := &Registry{
		factory:      factory,
		lowBattery:   20,
		agents:       make(map[string]*device.Agent),
		provisioning: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provision creates and starts the agent of spec.VehicleID.
func (r *Registry) Provision(ctx context.Context, spec Spec) (*device.Agent, error) {
	if !protocol.ValidID(spec.VehicleID) || !protocol.ValidID(spec.LotID) {
		return nil, fmt.Errorf("invalid agent spec %q in lot %q", spec.VehicleID, spec.LotID)
	}

	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrClosed
	case r.has(spec.VehicleID):
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExists, spec.VehicleID)
	}
	r.provisioning[spec.VehicleID] = struct{}{}
	r.mu.Unlock()

	agent, err := r.start(ctx, spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.provisioning, spec.VehicleID)
	if err != nil {
		return nil, err
	}
	if r.closed {
		go r.stop(agent)
		return nil, ErrClosed
	}
	r.agents[spec.VehicleID] = agent

	log.Info("Agent provisioned", "vehicle", spec.VehicleID, "lot", spec.LotID)
	return agent, nil
}

func (r *Registry) has(id string) bool {
	_, live := r.agents[id]
	_, pending := r.provisioning[id]
	return live || pending
}

func (r *Registry) start(ctx context.Context, spec Spec) (*device.Agent, error) {
	agent, err := r.factory(spec, r.onOffline)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent %s: %w", spec.VehicleID, err)
	}
	if err := agent.Initialize(ctx); err != nil {
		return nil, err
	}
	return agent, nil
}

func (r *Registry) stop(agent *device.Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := agent.Stop(ctx); err != nil {
		log.Warn("Failed to stop agent", "vehicle", agent.VehicleID(), "error", err)
	}
}

// Deprovision stops the agent of vehicleID and forgets it.
func (r *Registry) Deprovision(ctx context.Context, vehicleID string) error {
	r.mu.Lock()
	agent, ok := r.agents[vehicleID]
	delete(r.agents, vehicleID)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, vehicleID)
	}
	if err := agent.Stop(ctx); err != nil {
		return err
	}

	log.Info("Agent deprovisioned", "vehicle", vehicleID)
	return nil
}

// Get returns the agent of vehicleID.
func (r *Registry) Get(vehicleID string) (*device.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[vehicleID]
	return agent, ok
}

// IDs returns the sorted ids of the provisioned agents.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Len returns the number of provisioned agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

func (r *Registry) list() []*device.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*device.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Snapshot returns the state of every agent, sorted by vehicle id. Agents
// stopped concurrently are skipped.
func (r *Registry) Snapshot(ctx context.Context) ([]device.State, error) {
	agents := r.list()
	states := make([]*device.State, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range agents {
		g.Go(func() error {
			s, err := a.Snapshot(gctx)
			if errors.Is(err, device.ErrStopped) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to snapshot %s: %w", a.VehicleID(), err)
			}
			states[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]device.State, 0, len(states))
	for _, s := range states {
		if s != nil {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b device.State) int {
		switch {
		case a.VehicleID < b.VehicleID:
			return -1
		case a.VehicleID > b.VehicleID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Stats aggregates the agent states.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	states, err := r.Snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}

	s := collect(states, r.lowBattery, time.Now().UTC())
	s.publish()
	return s, nil
}

// Shutdown stops every agent concurrently and empties the set. Provision
// fails afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	agents := r.agents
	r.agents = make(map[string]*device.Agent)
	r.closed = true
	r.mu.Unlock()

	log.Info("Stopping device agents", "count", len(agents))

	var g errgroup.Group
	for _, a := range agents {
		g.Go(func() error { return a.Stop(ctx) })
	}
	return g.Wait()
}

func (r *Registry) onOffline(vehicleID string) {
	log.Warn("Device agent gave up reconnecting", "vehicle", vehicleID)
	if r.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), offlineNotifyTimeout)
	defer cancel()

	e := &model.Event{
		Kind:       model.EventDeviceOffline,
		VehicleID:  vehicleID,
		OccurredAt: time.Now().UTC(),
	}
	if agent, ok := r.Get(vehicleID); ok {
		if s, err := agent.Snapshot(ctx); err == nil {
			e.LotID = s.LotID
			e.Data = map[string]string{"device_id": s.DeviceID, "retries": strconv.Itoa(s.Retries)}
		}
	}

	if err := r.sink.Notify(ctx, e); err != nil {
		log.Warn("Failed to report offline agent", "vehicle", vehicleID, "error", err)
	}
}
