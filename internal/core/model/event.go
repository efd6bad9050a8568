package model

import "time"

// EventKind classifies notifications raised by the orchestrator.
type EventKind string

const (
	EventRideStarted         EventKind = "ride-started"
	EventRideEnded           EventKind = "ride-ended"
	EventRideCancelled       EventKind = "ride-cancelled"
	EventLowBattery          EventKind = "low-battery"
	EventDeviceOffline       EventKind = "device-offline"
	EventCommandExecuted     EventKind = "command-executed"
	EventVehicleFaulted      EventKind = "vehicle-faulted"
	EventMaintenanceRequired EventKind = "maintenance-required"
	EventSlotOccupancy       EventKind = "slot-occupancy"
)

// Event is a notification handed to the notification sink for fan-out.
type Event struct {
	Kind       EventKind         `json:"kind"`
	VehicleID  string            `json:"vehicle_id,omitempty"`
	RideID     string            `json:"ride_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	LotID      string            `json:"lot_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
