package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/internal/core/model"
	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/protocol"
	"github.com/autopeer-io/velopark/pkg/log"
)

// EndRideRequest contains the parameters for ending a ride.
type EndRideRequest struct {
	RideID           string
	DestinationLotID string
	// Maintenance asks an operator to check the vehicle.
	Maintenance bool
	Note        string
}

func record(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	metrics.RidesTotal.WithLabelValues(operation, outcome).Inc()
}

// StartRide rents vehicleID to userID and unlocks it.
func (o *Orchestrator) StartRide(ctx context.Context, userID, vehicleID string) (ride *model.Ride, err error) {
	defer func() { record("start", err) }()

	release, err := o.acquire(ctx, userKey(userID), vehicleKey(vehicleID))
	if err != nil {
		return nil, err
	}
	defer release()

	v, err := o.repo.Vehicles().Get(ctx, vehicleID)
	if err != nil {
		return nil, lookup(err, ErrVehicleNotFound, "vehicle %s", vehicleID)
	}
	if v.Status != model.VehicleAvailable {
		return nil, invalid(ErrVehicleUnavailable, "vehicle %s is %s", vehicleID, v.Status)
	}

	u, err := o.repo.Users().Get(ctx, userID)
	if err != nil {
		return nil, lookup(err, ErrUserNotFound, "user %s", userID)
	}
	if u.Status != model.UserActive {
		return nil, invalid(ErrUserNotActive, "user %s is %s", userID, u.Status)
	}

	tariff := v.Tariff()
	if need := MinimumCredit(tariff); u.Credit.LessThan(need) {
		return nil, invalid(ErrInsufficientCredit, "credit %s below %s", u.Credit.StringFixed(2), need.StringFixed(2))
	}

	active, err := o.repo.Rides().ActiveByUser(ctx, userID)
	switch {
	case err == nil:
		return nil, invalid(ErrActiveRideExists, "ride %s", active.ID)
	case !errors.Is(err, core.ErrNotFound):
		return nil, fmt.Errorf("failed to look up active ride of %s: %w", userID, err)
	}

	ride = &model.Ride{
		ID:          protocol.NewID(),
		UserID:      userID,
		VehicleID:   vehicleID,
		OriginLotID: v.LotID,
		Tariff:      tariff,
		StartedAt:   o.clock.Now().UTC(),
		Cost:        decimal.Zero,
		Status:      model.RideInProgress,
	}
	if err := o.repo.Rides().Create(ctx, ride); err != nil {
		return nil, fmt.Errorf("failed to create ride: %w", err)
	}

	v.Status = model.VehicleInUse
	if err := o.repo.Vehicles().Update(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to mark vehicle %s in use: %w", vehicleID, err)
	}

	log.Info("Ride started", "ride", ride.ID, "user", userID, "vehicle", vehicleID, "lot", v.LotID)

	cmd := protocol.NewCommand(v.LotID, vehicleID, protocol.ActionUnlock, o.cfg.CommandTimeout)
	cmd.Priority = protocol.PriorityHigh
	cmd.UserID = userID
	cmd.RideID = ride.ID
	o.dispatch(ctx, cmd)

	o.notify(ctx, &model.Event{
		Kind:      model.EventRideStarted,
		VehicleID: vehicleID,
		RideID:    ride.ID,
		UserID:    userID,
		LotID:     v.LotID,
	})

	return ride, nil
}

// EndRide closes a ride, bills the user and locks the vehicle in the
// destination lot.
func (o *Orchestrator) EndRide(ctx context.Context, req EndRideRequest) (ride *model.Ride, err error) {
	defer func() { record("end", err) }()

	ride, err = o.repo.Rides().Get(ctx, req.RideID)
	if err != nil {
		return nil, lookup(err, ErrRideNotFound, "ride %s", req.RideID)
	}

	release, err := o.acquire(ctx, userKey(ride.UserID), vehicleKey(ride.VehicleID))
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the locks; a concurrent EndRide may have won.
	ride, err = o.repo.Rides().Get(ctx, req.RideID)
	if err != nil {
		return nil, lookup(err, ErrRideNotFound, "ride %s", req.RideID)
	}
	if ride.Status != model.RideInProgress {
		return nil, invalid(ErrRideNotInProgress, "ride %s is %s", ride.ID, ride.Status)
	}

	lot, err := o.repo.Lots().Get(ctx, req.DestinationLotID)
	if err != nil {
		return nil, lookup(err, ErrLotNotFound, "lot %s", req.DestinationLotID)
	}

	u, err := o.repo.Users().Get(ctx, ride.UserID)
	if err != nil {
		return nil, lookup(err, ErrUserNotFound, "user %s", ride.UserID)
	}
	v, err := o.repo.Vehicles().Get(ctx, ride.VehicleID)
	if err != nil {
		return nil, lookup(err, ErrVehicleNotFound, "vehicle %s", ride.VehicleID)
	}

	now := o.clock.Now().UTC()
	duration := now.Sub(ride.StartedAt)
	cost := Fare(duration, ride.Tariff)

	ride.EndedAt = &now
	ride.Duration = duration
	ride.Cost = cost
	ride.DestinationLotID = lot.ID
	ride.Status = model.RideCompleted

	u.Credit = u.Credit.Sub(cost)
	if u.Credit.IsNegative() && !u.IsAdmin() {
		ride.Status = model.RideCompletedWithDebit
		u.Status = model.UserSuspended
	}

	if v.Category == model.CategoryMuscular {
		points := EcoPoints(duration)
		ride.EcoPoints = &points
		u.EcoPoints += points
	}

	originLot := v.LotID
	v.LotID = lot.ID
	v.Status = model.VehicleAvailable

	var report *model.MaintenanceReport
	if req.Maintenance {
		v.Status = model.VehicleMaintenance
		report, err = o.openReport(ctx, v, ride.ID, model.SourceRider, req.Note)
		if err != nil {
			return nil, err
		}
		defer func() { o.settleReport(ctx, report, err) }()
		ride.MaintenanceReportID = report.ID
	}

	if err := o.repo.Rides().Update(ctx, ride); err != nil {
		return nil, fmt.Errorf("failed to close ride %s: %w", ride.ID, err)
	}
	if err := o.repo.Users().Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to bill user %s: %w", u.ID, err)
	}
	if err := o.repo.Vehicles().Update(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to release vehicle %s: %w", v.ID, err)
	}

	log.Info("Ride ended", "ride", ride.ID, "status", ride.Status, "duration", duration, "cost", cost.StringFixed(2), "lot", lot.ID)

	// The agent still listens on the origin lot; the destination re-homes it.
	cmd := protocol.NewCommand(originLot, v.ID, protocol.ActionLock, o.cfg.CommandTimeout)
	cmd.UserID = u.ID
	cmd.RideID = ride.ID
	cmd.DestinationLotID = lot.ID
	o.dispatch(ctx, cmd)

	o.notify(ctx, &model.Event{
		Kind:      model.EventRideEnded,
		VehicleID: v.ID,
		RideID:    ride.ID,
		UserID:    u.ID,
		LotID:     lot.ID,
		Data: map[string]string{
			"status":   string(ride.Status),
			"cost":     cost.StringFixed(2),
			"duration": duration.String(),
		},
	})
	if report != nil {
		o.notify(ctx, &model.Event{
			Kind:      model.EventMaintenanceRequired,
			VehicleID: v.ID,
			RideID:    ride.ID,
			LotID:     lot.ID,
			Data:      map[string]string{"report_id": report.ID, "source": string(report.Source)},
		})
	}

	return ride, nil
}

// CancelRide aborts an in-progress ride without charging the user.
func (o *Orchestrator) CancelRide(ctx context.Context, rideID string) (ride *model.Ride, err error) {
	defer func() { record("cancel", err) }()

	ride, err = o.repo.Rides().Get(ctx, rideID)
	if err != nil {
		return nil, lookup(err, ErrRideNotFound, "ride %s", rideID)
	}

	release, err := o.acquire(ctx, userKey(ride.UserID), vehicleKey(ride.VehicleID))
	if err != nil {
		return nil, err
	}
	defer release()

	ride, err = o.repo.Rides().Get(ctx, rideID)
	if err != nil {
		return nil, lookup(err, ErrRideNotFound, "ride %s", rideID)
	}
	if ride.Status != model.RideInProgress {
		return nil, invalid(ErrRideNotInProgress, "ride %s is %s", ride.ID, ride.Status)
	}

	v, err := o.repo.Vehicles().Get(ctx, ride.VehicleID)
	if err != nil {
		return nil, lookup(err, ErrVehicleNotFound, "vehicle %s", ride.VehicleID)
	}

	now := o.clock.Now().UTC()
	ride.EndedAt = &now
	ride.Duration = now.Sub(ride.StartedAt)
	ride.Cost = decimal.Zero
	ride.DestinationLotID = v.LotID
	ride.Status = model.RideCancelled
	if err := o.repo.Rides().Update(ctx, ride); err != nil {
		return nil, fmt.Errorf("failed to cancel ride %s: %w", ride.ID, err)
	}

	v.Status = model.VehicleAvailable
	if err := o.repo.Vehicles().Update(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to release vehicle %s: %w", v.ID, err)
	}

	log.Info("Ride cancelled", "ride", ride.ID, "vehicle", v.ID)

	cmd := protocol.NewCommand(v.LotID, v.ID, protocol.ActionLock, o.cfg.CommandTimeout)
	cmd.UserID = ride.UserID
	cmd.RideID = ride.ID
	o.dispatch(ctx, cmd)

	o.notify(ctx, &model.Event{
		Kind:      model.EventRideCancelled,
		VehicleID: v.ID,
		RideID:    ride.ID,
		UserID:    ride.UserID,
		LotID:     v.LotID,
	})

	return ride, nil
}

// CalculateCost recomputes the fare of a ride from its persisted duration,
// or from the elapsed time while it is in progress.
func (o *Orchestrator) CalculateCost(ctx context.Context, rideID string) (decimal.Decimal, error) {
	ride, err := o.repo.Rides().Get(ctx, rideID)
	if err != nil {
		return decimal.Zero, lookup(err, ErrRideNotFound, "ride %s", rideID)
	}

	switch ride.Status {
	case model.RideCancelled:
		return decimal.Zero, nil
	case model.RideInProgress:
		return Fare(o.clock.Since(ride.StartedAt), ride.Tariff), nil
	default:
		return Fare(ride.Duration, ride.Tariff), nil
	}
}

// SetSlotLED drives the LED of a parking slot.
func (o *Orchestrator) SetSlotLED(ctx context.Context, lotID, slotID string, color protocol.LEDColor, blink bool) error {
	if !protocol.ValidID(lotID) || !protocol.ValidID(slotID) {
		return invalid(ErrInvalidTarget, "slot %q in lot %q", slotID, lotID)
	}
	if _, err := o.repo.Lots().Get(ctx, lotID); err != nil {
		return lookup(err, ErrLotNotFound, "lot %s", lotID)
	}
	if !o.sender.Available() {
		return core.ErrSenderUnavailable
	}

	cmd := protocol.NewLEDCommand(lotID, slotID, color, blink)
	if err := o.sender.SendLED(ctx, cmd); err != nil {
		metrics.CommandSentTotal.WithLabelValues("led", "failed").Inc()
		return fmt.Errorf("failed to set LED of slot %s: %w", slotID, err)
	}
	metrics.CommandSentTotal.WithLabelValues("led", "sent").Inc()
	return nil
}
