package device

import (
	"time"

	"github.com/autopeer-io/velopark/internal/protocol"
)

// ConnState is the link state of an agent.
type ConnState string

const (
	ConnConnecting   ConnState = "Connecting"
	ConnConnected    ConnState = "Connected"
	ConnReconnecting ConnState = "Reconnecting"
	ConnOffline      ConnState = "Offline"
	ConnStopped      ConnState = "Stopped"
)

// State is a copy of the private state of an agent.
type State struct {
	VehicleID string
	LotID     string
	DeviceID  string
	Electric  bool

	Lock     protocol.LockState
	Alarm    bool
	Battery  float64
	Lat      float64
	Lng      float64
	SpeedKmh float64
	Moving   bool
	RideID   string

	Conn    ConnState
	Retries int
	// Queued counts commands accepted but not yet acknowledged.
	Queued int
	Uptime time.Duration
}

// BatteryLevel returns the battery level, or nil for non-electric vehicles.
func (s State) BatteryLevel() *float64 {
	if !s.Electric {
		return nil
	}
	level := s.Battery
	return &level
}

func clamp(level float64) float64 {
	switch {
	case level < 0:
		return 0
	case level > 100:
		return 100
	}
	return level
}
