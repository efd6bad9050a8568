package topic

import (
	"fmt"
	"strings"
)

// Builder encapsulates the logic for constructing MQTT topic strings.
// It ensures consistency across the bus, the device agents and the orchestrator.
type Builder struct {
	// root is the base namespace for all topics (e.g., "lot").
	root string
}

// NewBuilder creates a new instance of Builder with the specified root namespace.
func NewBuilder(root string) *Builder {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultRoot
	}
	return &Builder{root: root}
}

// Root returns the root namespace.
func (b *Builder) Root() string { return b.root }

// -----------------------------------------------------------------------------
// Device -> Bus
// -----------------------------------------------------------------------------

// Battery returns the battery telemetry topic of a vehicle.
// Result: {root}/{lot}/sensori/batteria/{vehicle}
func (b *Builder) Battery(lotID, vehicleID string) string {
	return b.build(lotID, NamespaceSensors, SegmentBattery, vehicleID)
}

// LockState returns the lock-state telemetry topic of a vehicle.
// Result: {root}/{lot}/sensori/sblocco/{vehicle}
func (b *Builder) LockState(lotID, vehicleID string) string {
	return b.build(lotID, NamespaceSensors, SegmentLock, vehicleID)
}

// Movement returns the position/speed telemetry topic of a vehicle.
// Result: {root}/{lot}/sensori/movimento/{vehicle}
func (b *Builder) Movement(lotID, vehicleID string) string {
	return b.build(lotID, NamespaceSensors, SegmentMovement, vehicleID)
}

// SlotOccupancy returns the occupancy sensor topic of a parking slot.
// Result: {root}/{lot}/sensori/posti/{slot}
func (b *Builder) SlotOccupancy(lotID, slotID string) string {
	return b.build(lotID, NamespaceSensors, SegmentSlots, slotID)
}

// Heartbeat returns the heartbeat topic of an onboard device.
// Result: {root}/{lot}/dispositivi/{device}/heartbeat
func (b *Builder) Heartbeat(lotID, deviceID string) string {
	return b.build(lotID, NamespaceDevices, deviceID, SegmentHeartbeat)
}

// CommandFeedback returns the acknowledgment topic of a vehicle.
// Result: {root}/{lot}/stato_mezzi/{vehicle}/feedback
func (b *Builder) CommandFeedback(lotID, vehicleID string) string {
	return b.build(lotID, NamespaceVehicleState, vehicleID, SegmentFeedback)
}

// -----------------------------------------------------------------------------
// Orchestrator -> Bus
// -----------------------------------------------------------------------------

// VehicleCommand returns the command topic of a vehicle.
// Result: {root}/{lot}/stato_mezzi/{vehicle}
func (b *Builder) VehicleCommand(lotID, vehicleID string) string {
	return b.build(lotID, NamespaceVehicleState, vehicleID)
}

// SlotLED returns the LED actuator topic of a parking slot.
// Result: {root}/{lot}/attuatori/led/{slot}
func (b *Builder) SlotLED(lotID, slotID string) string {
	return b.build(lotID, NamespaceActuators, SegmentLED, slotID)
}

// Event returns the topic used to fan out domain events of a lot.
// Result: {root}/{lot}/eventi/{kind}
func (b *Builder) Event(lotID, kind string) string {
	return b.build(lotID, NamespaceEvents, kind)
}

// -----------------------------------------------------------------------------
// Wildcards
// -----------------------------------------------------------------------------

// LotSensors observes every sensor of one lot.
// Result: {root}/{lot}/sensori/#
func (b *Builder) LotSensors(lotID string) string {
	return b.build(lotID, NamespaceSensors, MultiWildcard)
}

// AllSensors observes every sensor of every lot.
// Result: {root}/+/sensori/#
func (b *Builder) AllSensors() string {
	return b.LotSensors(Wildcard)
}

// AllFeedback observes every command acknowledgment.
// Result: {root}/+/stato_mezzi/+/feedback
func (b *Builder) AllFeedback() string {
	return b.build(Wildcard, NamespaceVehicleState, Wildcard, SegmentFeedback)
}

// AllEvents observes every domain event fanned out by the server.
// Result: {root}/+/eventi/#
func (b *Builder) AllEvents() string {
	return b.build(Wildcard, NamespaceEvents, MultiWildcard)
}

// AllHeartbeats observes every device heartbeat.
// Result: {root}/+/dispositivi/+/heartbeat
func (b *Builder) AllHeartbeats() string {
	return b.build(Wildcard, NamespaceDevices, Wildcard, SegmentHeartbeat)
}

// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

// Address is the decomposition of a concrete topic.
type Address struct {
	LotID string
	Kind  Kind
	// TargetID is the vehicle, slot or device id, depending on Kind.
	TargetID string
}

// Parse decomposes a concrete topic built by this Builder.
func (b *Builder) Parse(t string) (Address, error) {
	rest, ok := strings.CutPrefix(t, b.root+"/")
	if !ok {
		return Address{}, fmt.Errorf("topic %q is outside root %q", t, b.root)
	}

	parts := strings.Split(rest, "/")
	for _, p := range parts {
		if p == "" || p == Wildcard || p == MultiWildcard {
			return Address{}, fmt.Errorf("topic %q is not concrete", t)
		}
	}

	switch {
	case len(parts) == 4 && parts[1] == NamespaceSensors:
		kind, ok := map[string]Kind{
			SegmentBattery:  KindBattery,
			SegmentLock:     KindLockState,
			SegmentMovement: KindMovement,
			SegmentSlots:    KindSlotOccupancy,
		}[parts[2]]
		if ok {
			return Address{LotID: parts[0], Kind: kind, TargetID: parts[3]}, nil
		}
	case len(parts) == 4 && parts[1] == NamespaceDevices && parts[3] == SegmentHeartbeat:
		return Address{LotID: parts[0], Kind: KindHeartbeat, TargetID: parts[2]}, nil
	case len(parts) == 3 && parts[1] == NamespaceVehicleState:
		return Address{LotID: parts[0], Kind: KindVehicleCommand, TargetID: parts[2]}, nil
	case len(parts) == 4 && parts[1] == NamespaceVehicleState && parts[3] == SegmentFeedback:
		return Address{LotID: parts[0], Kind: KindCommandFeedback, TargetID: parts[2]}, nil
	case len(parts) == 4 && parts[1] == NamespaceActuators && parts[2] == SegmentLED:
		return Address{LotID: parts[0], Kind: KindSlotLED, TargetID: parts[3]}, nil
	case len(parts) == 3 && parts[1] == NamespaceEvents:
		return Address{LotID: parts[0], Kind: KindEvent, TargetID: parts[2]}, nil
	}

	return Address{}, fmt.Errorf("unknown topic layout %q", t)
}

// build joins the segments below the root.
// Pattern: {root}/{lot}/{segments...}
func (b *Builder) build(lotID string, segments ...string) string {
	return b.root + "/" + lotID + "/" + strings.Join(segments, "/")
}
