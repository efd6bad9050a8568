package model

import (
	"github.com/shopspring/decimal"
)

// Category is the kind of a rentable vehicle.
type Category string

const (
	CategoryMuscular     Category = "Muscular"
	CategoryElectricBike Category = "ElectricBike"
	CategoryScooter      Category = "Scooter"
)

// Electric reports whether the category carries a battery.
func (c Category) Electric() bool {
	return c == CategoryElectricBike || c == CategoryScooter
}

// VehicleStatus is the rental availability of a vehicle.
type VehicleStatus string

const (
	VehicleAvailable   VehicleStatus = "Available"
	VehicleInUse       VehicleStatus = "InUse"
	VehicleMaintenance VehicleStatus = "Maintenance"
	VehicleFaulted     VehicleStatus = "Faulted"
)

// Vehicle is a rentable bike or scooter.
type Vehicle struct {
	ID       string
	Category Category
	Status   VehicleStatus

	// Battery is the last reported level in percent; nil for muscular vehicles.
	Battery *float64

	RatePerMinute decimal.Decimal
	FlatFare      decimal.Decimal

	// LotID is the parking lot the vehicle was last parked in.
	LotID string
}

// Tariff returns the fare parameters of the vehicle.
func (v *Vehicle) Tariff() Tariff {
	return Tariff{RatePerMinute: v.RatePerMinute, FlatFare: v.FlatFare}
}

// Tariff is the pricing of a ride.
type Tariff struct {
	RatePerMinute decimal.Decimal
	FlatFare      decimal.Decimal
}

// ParkingLot is a station where rides start and end.
type ParkingLot struct {
	ID       string
	Name     string
	Lat      float64
	Lng      float64
	Capacity int
}
