package rpc

import "fmt"

// Zone is the identity of an isolation unit (a process, enclave or sandbox) with a
// unique integer id and its own object-id space. Every Service owns exactly one Zone.
type Zone uint64

// DestinationZone identifies where a call, or a reference, is headed.
type DestinationZone uint64

// CallerZone identifies where a call, or a reference, originated.
type CallerZone uint64

// CallerChannelZone identifies the next hop back toward the caller, when that hop
// differs from CallerZone itself (an intermediate routing zone).
type CallerChannelZone uint64

// DestinationChannelZone identifies the next hop toward the destination, when that
// hop differs from DestinationZone itself.
type DestinationChannelZone uint64

// ObjectID uniquely identifies an object stub within its home zone. Ids are
// generated monotonically per zone and are never reused within a zone's lifetime.
type ObjectID uint64

// InterfaceOrdinal identifies one IDL interface within an object's set of
// implemented interfaces.
type InterfaceOrdinal uint64

// MethodID identifies one method within an interface.
type MethodID uint64

// dummyObjectID marks an add_ref call that only asks a routing zone to build or
// confirm a channel, without touching any stub's reference count.
const dummyObjectID ObjectID = 0

// AsCaller reinterprets this zone as the caller-zone field of an outbound request.
func (z Zone) AsCaller() CallerZone { return CallerZone(z) }

// AsDestination reinterprets this zone as the destination-zone field of an outbound request.
func (z Zone) AsDestination() DestinationZone { return DestinationZone(z) }

// AsCallerChannel reinterprets this zone as a caller-channel hop.
func (z Zone) AsCallerChannel() CallerChannelZone { return CallerChannelZone(z) }

// AsDestinationChannel reinterprets this zone as a destination-channel hop.
func (z Zone) AsDestinationChannel() DestinationChannelZone { return DestinationChannelZone(z) }

// AsCaller converts a destination-zone value into the corresponding caller-zone
// value, used when building the opposite-direction proxy for a cousin route.
func (d DestinationZone) AsCaller() CallerZone { return CallerZone(d) }

// AsZone reinterprets a destination-zone value as a plain Zone (e.g. to compare
// against Service.zoneID).
func (d DestinationZone) AsZone() Zone { return Zone(d) }

// AsDestinationChannel reinterprets a destination-zone value as a destination-channel hop.
func (d DestinationZone) AsDestinationChannel() DestinationChannelZone {
	return DestinationChannelZone(d)
}

// AsDestination converts a caller-zone value into the corresponding destination-zone
// value, used when building the opposite-direction proxy for a cousin route.
func (c CallerZone) AsDestination() DestinationZone { return DestinationZone(c) }

// AsZone reinterprets a caller-zone value as a plain Zone.
func (c CallerZone) AsZone() Zone { return Zone(c) }

// AsCallerChannel reinterprets a caller-zone value as a caller-channel hop.
func (c CallerZone) AsCallerChannel() CallerChannelZone { return CallerChannelZone(c) }

// AsDestination unwraps a destination-channel hop back to a plain destination zone,
// used when no further routing hop exists beyond it.
func (d DestinationChannelZone) AsDestination() DestinationZone { return DestinationZone(d) }

// AsCaller unwraps a caller-channel hop back to a plain caller zone.
func (c CallerChannelZone) AsCaller() CallerZone { return CallerZone(c) }

// InterfaceDescriptor is the wire-level, zone-spanning handle to an object: the pair
// (object id, destination zone) that identifies where an implementation lives and
// which object within that zone it is. The zero value is the null reference.
type InterfaceDescriptor struct {
	ObjectID          ObjectID
	DestinationZoneID DestinationZone
}

// IsNull reports whether this descriptor denotes the null reference.
func (d InterfaceDescriptor) IsNull() bool {
	return d.ObjectID == 0 && d.DestinationZoneID == 0
}

// NullInterfaceDescriptor is the all-zero descriptor denoting no object.
var NullInterfaceDescriptor = InterfaceDescriptor{}

func (d InterfaceDescriptor) String() string {
	if d.IsNull() {
		return "null"
	}
	return fmt.Sprintf("object(%d)@zone(%d)", d.ObjectID, d.DestinationZoneID)
}

// zoneProxyKey is the lookup key for a service proxy within a Service's other_zones
// table: the (destination, caller) pair a directional channel is keyed by.
type zoneProxyKey struct {
	destination DestinationZone
	caller      CallerZone
}

func (k zoneProxyKey) String() string {
	return fmt.Sprintf("(dest=%d,caller=%d)", k.destination, k.caller)
}

// AddRefOptions is the bit set carried on an add_ref request describing which
// direction(s) a routing zone should wire up.
type AddRefOptions uint8

const (
	// AddRefNormal adds a reference to an already-wired object; no channel building.
	AddRefNormal AddRefOptions = 0
	// AddRefBuildDestinationRoute asks this hop to add a reference toward the destination,
	// installing or reusing a channel in that direction.
	AddRefBuildDestinationRoute AddRefOptions = 1 << 0
	// AddRefBuildCallerRoute asks this hop to additionally add a back-reference toward
	// the caller, so the destination zone can later return objects to it.
	AddRefBuildCallerRoute AddRefOptions = 1 << 1
)

// Has reports whether the given bit is set.
func (o AddRefOptions) Has(bit AddRefOptions) bool { return o&bit != 0 }

// Encoding identifies the wire serialisation used for a request's payload. The core
// treats this as an opaque tag round-tripped to the transport/serialisation layer;
// it does not interpret payload bytes itself.
type Encoding uint8

const (
	EncodingDefault Encoding = iota
	EncodingBinary
	EncodingCompressedBinary
	EncodingJSON
)
