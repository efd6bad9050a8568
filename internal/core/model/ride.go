package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RideInProgress         RideStatus = "InProgress"
	RideCompleted          RideStatus = "Completed"
	RideCompletedWithDebit RideStatus = "CompletedWithDebit"
	RideCancelled          RideStatus = "Cancelled"
)

// Ride is the rental of one vehicle by one user. It is created when the ride
// starts and mutated once when it ends.
type Ride struct {
	ID        string
	UserID    string
	VehicleID string

	OriginLotID      string
	DestinationLotID string

	// Tariff is the vehicle pricing captured at start.
	Tariff Tariff

	StartedAt time.Time
	EndedAt   *time.Time
	Duration  time.Duration
	Cost      decimal.Decimal
	Status    RideStatus

	MaintenanceReportID string
	EcoPoints           *int
}

// Finished reports whether the ride left the InProgress state.
func (r *Ride) Finished() bool {
	return r.Status != RideInProgress
}
