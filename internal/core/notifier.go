package core

import (
	"context"

	"github.com/autopeer-io/velopark/internal/core/model"
)

// NotificationSink receives ride, vehicle and parking events for fan-out.
type NotificationSink interface {
	Notify(ctx context.Context, e *model.Event) error
}

// MaintenanceArchive keeps a durable copy of maintenance reports.
type MaintenanceArchive interface {
	Archive(ctx context.Context, r *model.MaintenanceReport) error
}
