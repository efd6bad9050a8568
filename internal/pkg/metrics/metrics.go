package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every velopark collector and is served on /metrics.
var Registry = prometheus.NewRegistry()

// Bus metrics.
var (
	// BusClients is the number of device sessions currently connected.
	BusClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velopark_bus_connected_clients",
			Help: "Number of MQTT clients connected to the embedded bus.",
		},
	)

	// BusMessagesTotal counts publishes routed by the bus.
	BusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_bus_messages_total",
			Help: "Messages routed by the bus.",
		},
		[]string{"origin"}, // origin: device/server
	)

	// BusDroppedTotal counts messages discarded by the bus.
	BusDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_bus_dropped_total",
			Help: "Messages dropped by the bus.",
		},
		[]string{"reason"}, // reason: malformed/unrouted
	)

	// BusHandlerErrorsTotal counts failing or panicking in-process subscribers.
	BusHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_bus_handler_errors_total",
			Help: "Errors returned or panics raised by bus subscribers.",
		},
		[]string{"filter"},
	)
)

// Command metrics.
var (
	// CommandSentTotal counts commands handed to the bus.
	CommandSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_command_sent_total",
			Help: "Total number of vehicle commands issued.",
		},
		[]string{"action", "result"}, // result: sent/failed/unavailable
	)

	// CommandAckTotal counts acknowledgments by status, timeouts included.
	CommandAckTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_command_ack_total",
			Help: "Command acknowledgments by execution status.",
		},
		[]string{"action", "status"},
	)

	// CommandLatency records the execution latency reported by devices.
	CommandLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velopark_command_latency_seconds",
			Help:    "Command execution latency reported by device agents.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)
)

// Ride and fleet metrics.
var (
	// RidesTotal counts ride lifecycle operations.
	RidesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velopark_rides_total",
			Help: "Ride operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// FleetAgents is the number of device agents per connection state.
	FleetAgents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velopark_fleet_agents",
			Help: "Device agents by connection state.",
		},
		[]string{"state"},
	)

	// FleetAverageBattery is the mean battery level of electric vehicles.
	FleetAverageBattery = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "velopark_fleet_average_battery_percent",
			Help: "Average battery level of electric vehicles.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BusClients,
		BusMessagesTotal,
		BusDroppedTotal,
		BusHandlerErrorsTotal,
		CommandSentTotal,
		CommandAckTotal,
		CommandLatency,
		RidesTotal,
		FleetAgents,
		FleetAverageBattery,
	)
}
