package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// It matches exactly one topic level.
	// Example: "lot/+/sensori/batteria/V1" matches "lot/L1/sensori/batteria/V1".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It matches the current level and all subsequent levels.
	// It must be the last character in the topic filter.
	// Example: "lot/L1/sensori/#" matches "lot/L1/sensori/movimento/V1".
	MultiWildcard = "#"
)

// DefaultRoot is the first segment of every topic.
const DefaultRoot = "lot"

// Namespaces directly below the parking-lot segment.
// These are the wire contract between the orchestrator and the device agents.
// Changing these values breaks compatibility with deployed agents.
const (
	NamespaceSensors      = "sensori"
	NamespaceActuators    = "attuatori"
	NamespaceDevices      = "dispositivi"
	NamespaceVehicleState = "stato_mezzi"
	NamespaceEvents       = "eventi"
)

// Segments below the namespaces.
const (
	SegmentBattery   = "batteria"
	SegmentLock      = "sblocco"
	SegmentMovement  = "movimento"
	SegmentSlots     = "posti"
	SegmentLED       = "led"
	SegmentHeartbeat = "heartbeat"
	SegmentFeedback  = "feedback"
)

// Kind classifies a concrete topic.
type Kind string

const (
	KindBattery         Kind = "battery"
	KindLockState       Kind = "lock_state"
	KindMovement        Kind = "movement"
	KindSlotOccupancy   Kind = "slot_occupancy"
	KindHeartbeat       Kind = "heartbeat"
	KindVehicleCommand  Kind = "vehicle_command"
	KindCommandFeedback Kind = "command_feedback"
	KindSlotLED         Kind = "slot_led"
	KindEvent           Kind = "event"
)
