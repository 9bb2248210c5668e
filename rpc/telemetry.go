package rpc

// TelemetrySink is the optional observer interface notified at every
// lifecycle and routing event. All methods are
// best-effort: an implementation must not panic, and the core never treats
// a telemetry call as fallible.
type TelemetrySink interface {
	OnServiceCreation(zoneID Zone)
	OnServiceDeletion(zoneID Zone)

	OnServiceProxyCreation(zoneID Zone, destination DestinationZone, caller CallerZone)
	OnServiceProxyDeletion(zoneID Zone, destination DestinationZone, caller CallerZone)
	OnServiceProxyAddRef(zoneID Zone, destination DestinationZone, caller CallerZone, objectID ObjectID, newCount uint64)
	OnServiceProxyRelease(zoneID Zone, destination DestinationZone, caller CallerZone, objectID ObjectID, newCount uint64)
	OnServiceProxyAddExternalRef(zoneID Zone, destination DestinationZone, caller CallerZone, newCount int64)
	OnServiceProxyReleaseExternalRef(zoneID Zone, destination DestinationZone, caller CallerZone, newCount int64)
	OnServiceProxyTryCast(zoneID Zone, destination DestinationZone, caller CallerZone, interfaceID InterfaceOrdinal)

	OnServiceTryCast(zoneID Zone, objectID ObjectID, interfaceID InterfaceOrdinal)
	OnServiceAddRef(zoneID Zone, destination DestinationZone, caller CallerZone, objectID ObjectID)
	OnServiceRelease(zoneID Zone, destination DestinationZone, caller CallerZone, objectID ObjectID)

	OnStubCreation(zoneID Zone, objectID ObjectID)
	OnStubDeletion(zoneID Zone, objectID ObjectID)
	OnStubAddRef(zoneID Zone, objectID ObjectID, newCount uint64)
	OnStubRelease(zoneID Zone, objectID ObjectID, newCount uint64)
	OnStubSend(zoneID Zone, objectID ObjectID, interfaceID InterfaceOrdinal, methodID MethodID)

	OnObjectProxyCreation(zoneID Zone, destination DestinationZone, objectID ObjectID)
	OnObjectProxyDeletion(zoneID Zone, destination DestinationZone, objectID ObjectID)

	OnInterfaceProxyCreation(zoneID Zone, destination DestinationZone, objectID ObjectID, interfaceID InterfaceOrdinal)
	OnInterfaceProxyDeletion(zoneID Zone, destination DestinationZone, objectID ObjectID, interfaceID InterfaceOrdinal)
	OnInterfaceProxySend(zoneID Zone, destination DestinationZone, objectID ObjectID, interfaceID InterfaceOrdinal, methodID MethodID)

	OnImplCreation(name string, address uintptr)
	OnImplDeletion(name string, address uintptr)

	Message(level LogLevel, text string)
}

// NopTelemetrySink implements TelemetrySink with no-op methods. It is the
// default sink for a Service that is not given one explicitly.
type NopTelemetrySink struct{}

func (NopTelemetrySink) OnServiceCreation(Zone) {}
func (NopTelemetrySink) OnServiceDeletion(Zone) {}

func (NopTelemetrySink) OnServiceProxyCreation(Zone, DestinationZone, CallerZone) {}
func (NopTelemetrySink) OnServiceProxyDeletion(Zone, DestinationZone, CallerZone) {}
func (NopTelemetrySink) OnServiceProxyAddRef(Zone, DestinationZone, CallerZone, ObjectID, uint64)  {}
func (NopTelemetrySink) OnServiceProxyRelease(Zone, DestinationZone, CallerZone, ObjectID, uint64)  {}
func (NopTelemetrySink) OnServiceProxyAddExternalRef(Zone, DestinationZone, CallerZone, int64)      {}
func (NopTelemetrySink) OnServiceProxyReleaseExternalRef(Zone, DestinationZone, CallerZone, int64)  {}
func (NopTelemetrySink) OnServiceProxyTryCast(Zone, DestinationZone, CallerZone, InterfaceOrdinal)  {}

func (NopTelemetrySink) OnServiceTryCast(Zone, ObjectID, InterfaceOrdinal)          {}
func (NopTelemetrySink) OnServiceAddRef(Zone, DestinationZone, CallerZone, ObjectID) {}
func (NopTelemetrySink) OnServiceRelease(Zone, DestinationZone, CallerZone, ObjectID) {}

func (NopTelemetrySink) OnStubCreation(Zone, ObjectID)                               {}
func (NopTelemetrySink) OnStubDeletion(Zone, ObjectID)                               {}
func (NopTelemetrySink) OnStubAddRef(Zone, ObjectID, uint64)                         {}
func (NopTelemetrySink) OnStubRelease(Zone, ObjectID, uint64)                        {}
func (NopTelemetrySink) OnStubSend(Zone, ObjectID, InterfaceOrdinal, MethodID)       {}

func (NopTelemetrySink) OnObjectProxyCreation(Zone, DestinationZone, ObjectID) {}
func (NopTelemetrySink) OnObjectProxyDeletion(Zone, DestinationZone, ObjectID) {}

func (NopTelemetrySink) OnInterfaceProxyCreation(Zone, DestinationZone, ObjectID, InterfaceOrdinal) {}
func (NopTelemetrySink) OnInterfaceProxyDeletion(Zone, DestinationZone, ObjectID, InterfaceOrdinal) {}
func (NopTelemetrySink) OnInterfaceProxySend(Zone, DestinationZone, ObjectID, InterfaceOrdinal, MethodID) {
}

func (NopTelemetrySink) OnImplCreation(string, uintptr) {}
func (NopTelemetrySink) OnImplDeletion(string, uintptr) {}

func (NopTelemetrySink) Message(LogLevel, string) {}
