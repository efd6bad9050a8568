// Package service implements the ride orchestrator: ride lifecycle, billing
// and the reactions to device telemetry.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
	"github.com/autopeer-io/velopark/pkg/mqtt/topic"
	"github.com/autopeer-io/velopark/pkg/options"
)

const lockPollInterval = 20 * time.Millisecond

// Config tunes the orchestrator.
type Config struct {
	LowBattery      float64
	CriticalBattery float64
	CommandTimeout  time.Duration
	PendingSweep    time.Duration
	LockTTL         time.Duration
}

// NewConfig converts the ride options.
func NewConfig(o *options.RideOptions) Config {
	return Config{
		LowBattery:      o.LowBattery,
		CriticalBattery: o.CriticalBattery,
		CommandTimeout:  o.CommandTimeout,
		PendingSweep:    o.PendingSweep,
		LockTTL:         o.LockTTL,
	}
}

// Orchestrator owns ride lifecycle and billing truth. Persisted state always
// wins: commands to devices are best-effort and never roll back a ride.
type Orchestrator struct {
	repo    core.Repository
	sender  core.CommandSender
	sink    core.NotificationSink
	locker  core.Locker
	archive core.MaintenanceArchive

	clock   clock.PassiveClock
	topics  *topic.Builder
	cfg     Config
	pending *pendingSet
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithArchive stores a copy of every maintenance report.
func WithArchive(a core.MaintenanceArchive) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithTopics sets the topic layout used to check telemetry addresses.
func WithTopics(b *topic.Builder) Option {
	return func(o *Orchestrator) { o.topics = b }
}

// New creates an Orchestrator. A nil sender is replaced by core.NoCommandSender
// and a nil sink drops notifications.
func New(repo core.Repository, sender core.CommandSender, sink core.NotificationSink, locker core.Locker, opts ...Option) *Orchestrator {
	if sender == nil {
		sender = core.NoCommandSender{}
	}

	o := &Orchestrator{
		repo:   repo,
		sender: sender,
		sink:   sink,
		locker: locker,
		clock:  clock.RealClock{},
		topics: topic.NewBuilder(topic.DefaultRoot),
		cfg:    NewConfig(options.NewRideOptions()),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.pending = newPendingSet(o.cfg.PendingSweep, o.onCommandTimeout)
	return o
}

// PendingCommands returns the number of commands awaiting an acknowledgment.
func (o *Orchestrator) PendingCommands() int {
	return o.pending.len()
}

// acquire takes every key or none. Contention is a validation failure.
func (o *Orchestrator) acquire(ctx context.Context, keys ...string) (func(), error) {
	tokens := make(map[string]string, len(keys))
	release := func() {
		rctx := context.WithoutCancel(ctx)
		for k, token := range tokens {
			if err := o.locker.Release(rctx, k, token); err != nil {
				log.Warn("Failed to release ride lock", "key", k, "error", err)
			}
		}
	}

	for _, k := range keys {
		token, ok, err := o.locker.Acquire(ctx, k, o.cfg.LockTTL)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to lock %s: %w", k, err)
		}
		if !ok {
			release()
			return nil, invalid(ErrBusy, "%s", k)
		}
		tokens[k] = token
	}
	return release, nil
}

// acquireWait retries acquire until the lock TTL elapses. Used by telemetry
// handlers, which must not be dropped because a ride operation runs.
func (o *Orchestrator) acquireWait(ctx context.Context, keys ...string) (func(), error) {
	var release func()
	err := wait.PollUntilContextTimeout(ctx, lockPollInterval, o.cfg.LockTTL, true, func(ctx context.Context) (bool, error) {
		r, err := o.acquire(ctx, keys...)
		switch {
		case err == nil:
			release = r
			return true, nil
		case errors.Is(err, ErrBusy):
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		return nil, err
	}
	return release, nil
}

func userKey(id string) string    { return "user:" + id }
func vehicleKey(id string) string { return "vehicle:" + id }

// dispatch publishes cmd without affecting the caller: failures are logged
// and counted, and the command is considered lost.
func (o *Orchestrator) dispatch(ctx context.Context, cmd *protocol.Command) {
	action := string(cmd.Action)

	if !o.sender.Available() {
		metrics.CommandSentTotal.WithLabelValues(action, "unavailable").Inc()
		log.Warn("Command bus unavailable, command not sent", "vehicle", cmd.VehicleID, "action", action, "ride", cmd.RideID)
		return
	}

	o.pending.track(cmd, o.clock.Now())
	if err := o.sender.SendCommand(ctx, cmd); err != nil {
		o.pending.settle(cmd.CommandID)
		metrics.CommandSentTotal.WithLabelValues(action, "failed").Inc()
		log.Error(err, "Failed to publish command", "vehicle", cmd.VehicleID, "action", action, "ride", cmd.RideID)
		return
	}

	metrics.CommandSentTotal.WithLabelValues(action, "sent").Inc()
	log.Info("Command published", "vehicle", cmd.VehicleID, "action", action, "command", cmd.CommandID)
}

func (o *Orchestrator) onCommandTimeout(p *pendingCommand) {
	cmd := p.cmd
	metrics.CommandAckTotal.WithLabelValues(string(cmd.Action), string(protocol.StatusTimeout)).Inc()
	log.Warn("Command not acknowledged, considered lost",
		"vehicle", cmd.VehicleID, "action", cmd.Action, "command", cmd.CommandID, "ride", cmd.RideID,
		"timeout", cmd.Timeout())

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.CommandTimeout)
	defer cancel()
	o.notify(ctx, &model.Event{
		Kind:      model.EventCommandExecuted,
		VehicleID: cmd.VehicleID,
		RideID:    cmd.RideID,
		LotID:     cmd.LotID,
		Data: map[string]string{
			"command_id": cmd.CommandID,
			"action":     string(cmd.Action),
			"status":     string(protocol.StatusTimeout),
		},
	})
}

func (o *Orchestrator) notify(ctx context.Context, e *model.Event) {
	if o.sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = o.clock.Now().UTC()
	}
	if err := o.sink.Notify(ctx, e); err != nil {
		log.Warn("Failed to deliver notification", "kind", e.Kind, "vehicle", e.VehicleID, "error", err)
	}
}

// openReport records a maintenance report for v. Callers pass the report to
// settleReport once the state referencing it is stored.
func (o *Orchestrator) openReport(ctx context.Context, v *model.Vehicle, rideID string, source model.ReportSource, note string) (*model.MaintenanceReport, error) {
	report := &model.MaintenanceReport{
		ID:        protocol.NewID(),
		VehicleID: v.ID,
		RideID:    rideID,
		LotID:     v.LotID,
		Source:    source,
		Note:      note,
		CreatedAt: o.clock.Now().UTC(),
	}
	if err := o.repo.Maintenance().Create(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create maintenance report: %w", err)
	}
	return report, nil
}

// settleReport removes report when the operation that opened it failed, and
// archives a copy otherwise when an archive is configured.
func (o *Orchestrator) settleReport(ctx context.Context, report *model.MaintenanceReport, opErr error) {
	if report == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if opErr != nil {
		if err := o.repo.Maintenance().Delete(ctx, report.ID); err != nil {
			log.Warn("Failed to discard maintenance report", "report", report.ID, "error", err)
		}
		return
	}

	if o.archive != nil {
		if err := o.archive.Archive(ctx, report); err != nil {
			log.Warn("Failed to archive maintenance report", "report", report.ID, "error", err)
		}
	}
}

func lookup(err, notFound error, format string, args ...any) error {
	if errors.Is(err, core.ErrNotFound) {
		return invalid(notFound, format, args...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
