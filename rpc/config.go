package rpc

// ServiceConfig configures a Service at construction time, in the style of a
// config-struct-plus-constructor pair.
type ServiceConfig struct {
	// ZoneID is the unique id of the zone this Service owns.
	ZoneID Zone

	// Debug raises the default logger's level to LogLevelDebug.
	Debug bool

	// Telemetry receives lifecycle and routing events. If nil, NopTelemetrySink
	// is used.
	Telemetry TelemetrySink

	// StubFactories registers interface_ordinal -> InterfaceStubFactory entries
	// at construction time, mirroring the generated stubs module's registration
	// function.
	StubFactories map[InterfaceOrdinal]InterfaceStubFactory
}

// Validate checks the config for internal consistency.
func (c *ServiceConfig) Validate() error {
	if c.ZoneID == 0 {
		return NewError(CodeZoneNotInitialised, "ServiceConfig.ZoneID must be nonzero")
	}
	return nil
}

// NewServiceConfig returns a ServiceConfig with defaults filled in.
func NewServiceConfig(zoneID Zone) *ServiceConfig {
	return &ServiceConfig{
		ZoneID:        zoneID,
		Telemetry:     NopTelemetrySink{},
		StubFactories: make(map[InterfaceOrdinal]InterfaceStubFactory),
	}
}

// ChildServiceConfig configures a Service that has a parent zone. ParentZoneID
// identifies that parent; NewChildService builds and pins the inbound
// service_proxy representing it, and the child holds a strong reference to
// that proxy for its whole lifetime.
type ChildServiceConfig struct {
	ServiceConfig
	ParentZoneID Zone
}
