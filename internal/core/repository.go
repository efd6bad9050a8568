// Package core holds the ports of the ride orchestrator.
package core

import (
	"context"
	"errors"

	"github.com/autopeer-io/velopark/internal/core/model"
)

// ErrNotFound is returned by repositories for unknown ids.
var ErrNotFound = errors.New("not found")

// VehicleRepository stores vehicles.
type VehicleRepository interface {
	Get(ctx context.Context, id string) (*model.Vehicle, error)
	List(ctx context.Context) ([]*model.Vehicle, error)
	Update(ctx context.Context, v *model.Vehicle) error
}

// RideRepository stores rides.
type RideRepository interface {
	Get(ctx context.Context, id string) (*model.Ride, error)
	Create(ctx context.Context, r *model.Ride) error
	Update(ctx context.Context, r *model.Ride) error

	// ActiveByUser returns the InProgress ride of a user, or ErrNotFound.
	ActiveByUser(ctx context.Context, userID string) (*model.Ride, error)

	// ActiveByVehicle returns the InProgress ride on a vehicle, or ErrNotFound.
	ActiveByVehicle(ctx context.Context, vehicleID string) (*model.Ride, error)
}

// UserRepository stores rider accounts.
type UserRepository interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
}

// LotRepository stores parking lots.
type LotRepository interface {
	Get(ctx context.Context, id string) (*model.ParkingLot, error)
}

// MaintenanceRepository stores maintenance reports.
type MaintenanceRepository interface {
	Create(ctx context.Context, r *model.MaintenanceReport) error
	// Delete removes a report. Removing an unknown report is not an error.
	Delete(ctx context.Context, id string) error
	Open(ctx context.Context, vehicleID string) ([]*model.MaintenanceReport, error)
}

// Repository groups the persistence ports. Implementations serialize
// conflicting writes to the same record.
type Repository interface {
	Vehicles() VehicleRepository
	Rides() RideRepository
	Users() UserRepository
	Lots() LotRepository
	Maintenance() MaintenanceRepository
}
