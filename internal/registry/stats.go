package registry

import (
	"slices"
	"time"

	"github.com/autopeer-io/velopark/internal/device"
	"github.com/autopeer-io/velopark/internal/pkg/metrics"
	"github.com/autopeer-io/velopark/internal/protocol"
)

// Stats summarizes the fleet of agents at CollectedAt.
type Stats struct {
	Total        int
	Connected    int
	Reconnecting int
	Offline      int

	Moving   int
	Unlocked int
	Faulted  int

	// LowBattery counts electric vehicles under the low battery level.
	LowBattery int
	// AverageBattery is the mean level of electric vehicles, 0 without any.
	AverageBattery float64

	OfflineIDs  []string
	CollectedAt time.Time
}

// ConnectionRate returns the share of connected agents in [0,1].
func (s Stats) ConnectionRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Connected) / float64(s.Total)
}

func collect(states []device.State, lowBattery float64, now time.Time) Stats {
	s := Stats{Total: len(states), CollectedAt: now}

	var sum float64
	var electric int
	for _, st := range states {
		switch st.Conn {
		case device.ConnConnected:
			s.Connected++
		case device.ConnReconnecting:
			s.Reconnecting++
		case device.ConnOffline:
			s.Offline++
			s.OfflineIDs = append(s.OfflineIDs, st.VehicleID)
		}

		if st.Moving {
			s.Moving++
		}
		switch {
		case st.Lock.Faulty():
			s.Faulted++
		case st.Lock == protocol.LockUnlocked:
			s.Unlocked++
		}

		if level := st.BatteryLevel(); level != nil {
			electric++
			sum += *level
			if *level < lowBattery {
				s.LowBattery++
			}
		}
	}

	if electric > 0 {
		s.AverageBattery = sum / float64(electric)
	}
	slices.Sort(s.OfflineIDs)
	return s
}

func (s Stats) publish() {
	metrics.FleetAgents.WithLabelValues(string(device.ConnConnected)).Set(float64(s.Connected))
	metrics.FleetAgents.WithLabelValues(string(device.ConnReconnecting)).Set(float64(s.Reconnecting))
	metrics.FleetAgents.WithLabelValues(string(device.ConnOffline)).Set(float64(s.Offline))
	metrics.FleetAverageBattery.Set(s.AverageBattery)
}
