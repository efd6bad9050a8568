package model

import "time"

// ReportSource tells who opened a maintenance report.
type ReportSource string

const (
	SourceRider     ReportSource = "rider"
	SourceTelemetry ReportSource = "telemetry"
)

// MaintenanceReport records a vehicle that needs an operator.
type MaintenanceReport struct {
	ID        string
	VehicleID string
	RideID    string
	LotID     string
	Source    ReportSource
	Note      string
	CreatedAt time.Time
	Resolved  bool
}
