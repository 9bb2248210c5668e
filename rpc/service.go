package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"weak"
)

// Service is the per-zone hub: it owns the table of local object stubs and
// the table of outbound service proxies, and implements the routing decision
// tree for send/try_cast/add_ref/release.
type Service struct {
	Logger
	ShutdownHelper

	zoneID    Zone
	Telemetry TelemetrySink

	objectIDGen atomic.Uint64

	// stub_control guards stubs and wrappedObjectToStub. No operation may
	// hold stubControl and zoneControl simultaneously.
	stubControl         sync.Mutex
	stubs               map[ObjectID]*ObjectStub
	wrappedObjectToStub map[uintptr]*ObjectStub

	// zone_control guards otherZones.
	zoneControl sync.Mutex
	otherZones  map[zoneProxyKey]weak.Pointer[ServiceProxy]

	factoryControl sync.Mutex
	stubFactories  map[InterfaceOrdinal]InterfaceStubFactory

	// parentServiceProxy is held strongly by a child service so the parent
	// zone outlives it.
	parentServiceProxy *ServiceProxy
}

// NewService constructs a top-level Service (one with no parent zone).
func NewService(cfg *ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	telemetry := cfg.Telemetry
	if telemetry == nil {
		telemetry = NopTelemetrySink{}
	}
	logLevel := LogLevelInfo
	if cfg.Debug {
		logLevel = LogLevelDebug
	}

	s := &Service{
		zoneID:              cfg.ZoneID,
		Telemetry:           telemetry,
		stubs:               make(map[ObjectID]*ObjectStub),
		wrappedObjectToStub: make(map[uintptr]*ObjectStub),
		otherZones:          make(map[zoneProxyKey]weak.Pointer[ServiceProxy]),
		stubFactories:       make(map[InterfaceOrdinal]InterfaceStubFactory),
	}
	s.Logger = NewLogger(fmt.Sprintf("zone(%d)", cfg.ZoneID), logLevel)
	s.InitShutdownHelper(s.Logger, s)
	for ord, factory := range cfg.StubFactories {
		s.stubFactories[ord] = factory
	}
	telemetry.OnServiceCreation(cfg.ZoneID)
	return s, nil
}

// NewChildService constructs a Service with a parent zone, wiring and
// pinning the parent-direction service_proxy over parentTransport as part of
// construction. The child holds a strong reference to that proxy for its
// whole lifetime so the parent channel cannot be torn down out from under it
//.
func NewChildService(cfg *ChildServiceConfig, parentTransport Transport) (*Service, error) {
	s, err := NewService(&cfg.ServiceConfig)
	if err != nil {
		return nil, err
	}
	parentProxy, err := s.RegisterProxy(cfg.ParentZoneID.AsDestination(), s.zoneID.AsCaller(), parentTransport, true)
	if err != nil {
		return nil, err
	}
	s.parentServiceProxy = parentProxy
	return s, nil
}

// ZoneID returns this service's zone id.
func (s *Service) ZoneID() Zone { return s.zoneID }

// HandleOnceShutdown implements OnceShutdownHandler: it releases the parent
// channel pin (if this is a child service) so the parent's inbound
// service_proxy can be torn down once this zone is gone.
func (s *Service) HandleOnceShutdown(completionError error) error {
	if s.parentServiceProxy != nil {
		s.parentServiceProxy.clearParentChannel()
		s.cleanupServiceProxy(s.parentServiceProxy)
		s.parentServiceProxy = nil
	}
	s.Telemetry.OnServiceDeletion(s.zoneID)
	return completionError
}

// RegisterStubFactory registers interfaceID -> factory in this service's
// stub-factory table.
func (s *Service) RegisterStubFactory(interfaceID InterfaceOrdinal, factory InterfaceStubFactory) {
	s.factoryControl.Lock()
	defer s.factoryControl.Unlock()
	s.stubFactories[interfaceID] = factory
}

func (s *Service) stubFactory(interfaceID InterfaceOrdinal) (InterfaceStubFactory, bool) {
	s.factoryControl.Lock()
	defer s.factoryControl.Unlock()
	f, ok := s.stubFactories[interfaceID]
	return f, ok
}

// WrapObject wraps a local implementation in an ObjectStub, creating one on
// first use and reusing (with an extra AddRef) the existing stub on
// subsequent calls for the same implementation pointer, keyed by the
// wrapped-object-to-stub index.
func (s *Service) WrapObject(impl interface{}) (*ObjectStub, error) {
	if impl == nil {
		return nil, NewError(CodeInvalidData, "cannot wrap a nil implementation")
	}
	addr, hasAddr := implAddress(impl)

	s.stubControl.Lock()
	if hasAddr {
		if stub, ok := s.wrappedObjectToStub[addr]; ok {
			s.stubControl.Unlock()
			stub.AddRef()
			return stub, nil
		}
	}
	objectID := ObjectID(s.objectIDGen.Add(1))
	stub := newObjectStub(s, objectID, impl)
	stub.addr, stub.hasAddr = addr, hasAddr
	s.stubs[objectID] = stub
	if hasAddr {
		s.wrappedObjectToStub[addr] = stub
	}
	s.stubControl.Unlock()

	s.Telemetry.OnStubCreation(s.zoneID, objectID)
	stub.AddRef()
	return stub, nil
}

// removeStub removes stub from both the stubs map and the wrapped-object
// index. It is called by ObjectStub.Release() once the ref count reaches
// zero.
func (s *Service) removeStub(stub *ObjectStub) {
	s.stubControl.Lock()
	delete(s.stubs, stub.objectID)
	if stub.hasAddr {
		if cur, ok := s.wrappedObjectToStub[stub.addr]; ok && cur == stub {
			delete(s.wrappedObjectToStub, stub.addr)
		}
	}
	s.stubControl.Unlock()
}

func (s *Service) getStub(objectID ObjectID) (*ObjectStub, bool) {
	s.stubControl.Lock()
	defer s.stubControl.Unlock()
	st, ok := s.stubs[objectID]
	return st, ok
}

// StubCount returns the number of live stubs. Exposed for tests verifying
// scenario 2 ("zone 1's stub count for foo returns to its pre-child value").
func (s *Service) StubCount() int {
	s.stubControl.Lock()
	defer s.stubControl.Unlock()
	return len(s.stubs)
}

func (s *Service) lookupZoneProxy(key zoneProxyKey) (*ServiceProxy, bool) {
	s.zoneControl.Lock()
	defer s.zoneControl.Unlock()
	if wp, ok := s.otherZones[key]; ok {
		if sp := wp.Value(); sp != nil {
			return sp, true
		}
	}
	return nil, false
}

func (s *Service) insertZoneProxy(sp *ServiceProxy) {
	s.zoneControl.Lock()
	s.otherZones[sp.key] = weak.Make(sp)
	s.zoneControl.Unlock()
}

func (s *Service) removeZoneProxy(key zoneProxyKey) {
	s.zoneControl.Lock()
	delete(s.otherZones, key)
	s.zoneControl.Unlock()
}

// OtherZoneCount returns the number of routing entries currently tracked.
// Exposed for tests verifying routing-table bookkeeping.
func (s *Service) OtherZoneCount() int {
	s.zoneControl.Lock()
	defer s.zoneControl.Unlock()
	n := 0
	for _, wp := range s.otherZones {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// findLowerBoundNeighbour searches other_zones for a proxy that already
// routes toward knownDirection, so a genuinely new key can be cloned from it
// rather than failing outright. Without this hint an add_ref in a Y-topology graph can recurse
// indefinitely looking for a route that must be built by the hinting zone.
func (s *Service) findLowerBoundNeighbour(knownDirection Zone) (*ServiceProxy, bool) {
	if knownDirection == 0 {
		return nil, false
	}
	s.zoneControl.Lock()
	defer s.zoneControl.Unlock()
	for _, wp := range s.otherZones {
		sp := wp.Value()
		if sp == nil {
			continue
		}
		if sp.key.destination == DestinationZone(knownDirection) {
			return sp, true
		}
		if dc, ok := sp.DestinationChannel(); ok && dc == knownDirection.AsDestinationChannel() {
			return sp, true
		}
	}
	return nil, false
}

// getOrConstructZoneProxy returns the service_proxy for key, constructing one
// by cloning a lower-bound neighbour (per knownDirection) if no exact match
// exists. A newly constructed proxy is external-ref'd so its lifetime is
// pinned until a matching release arrives.
func (s *Service) getOrConstructZoneProxy(key zoneProxyKey, knownDirection Zone) (sp *ServiceProxy, isNew bool, err error) {
	if sp, ok := s.lookupZoneProxy(key); ok {
		return sp, false, nil
	}
	if neighbour, ok := s.findLowerBoundNeighbour(knownDirection); ok {
		clone := neighbour.CloneForZone(key.destination, key.caller)
		s.insertZoneProxy(clone)
		clone.AddExternalRef()
		return clone, true, nil
	}
	return nil, false, NewError(CodeZoneNotFound, "no route to %s", key)
}

// RegisterProxy installs the first service_proxy for a brand-new physical
// channel: the seam between the core and a concrete Transport. isParentChannel marks a proxy that must outlive external-ref-count
// reaching zero because a child service's lifetime depends on it.
func (s *Service) RegisterProxy(destination DestinationZone, caller CallerZone, transport Transport, isParentChannel bool) (*ServiceProxy, error) {
	if destination.AsZone() == s.zoneID {
		return nil, NewError(CodeZoneNotSupported, "a service_proxy's destination must not be this zone")
	}
	key := zoneProxyKey{destination: destination, caller: caller}
	if sp, ok := s.lookupZoneProxy(key); ok {
		return sp, nil
	}
	sp := newServiceProxy(s, key, transport, isParentChannel)
	s.insertZoneProxy(sp)
	sp.AddExternalRef()
	return sp, nil
}

// cleanupServiceProxy decrements sp's external-ref count and, if it
// transitions to zero and sp is not a parent channel, removes it from
// other_zones and closes its transport.
func (s *Service) cleanupServiceProxy(sp *ServiceProxy) {
	n := sp.ReleaseExternalRef()
	if n == 0 && !sp.IsParentChannel() {
		if sp.HasObjectProxies() {
			s.ELogf("BUG: routing service_proxy %v still owns object proxies at cleanup (invariant K3)", sp.key)
		}
		s.removeZoneProxy(sp.key)
		sp.close()
	}
}

// Send dispatches locally if the destination is this zone, otherwise routes
// through (and ensures a reverse route exists alongside) a service_proxy.
func (s *Service) Send(
	ctx context.Context,
	version ProtocolVersion,
	enc Encoding,
	callerChannel CallerChannelZone,
	caller CallerZone,
	destination DestinationZone,
	objectID ObjectID,
	interfaceID InterfaceOrdinal,
	methodID MethodID,
	inBytes []byte,
) ([]byte, error) {
	if !versionInBand(version) {
		return nil, NewError(CodeInvalidVersion, "version %d outside [%d,%d]", version, LowestSupportedVersion, HighestSupportedVersion)
	}

	if destination.AsZone() == s.zoneID {
		stub, ok := s.getStub(objectID)
		if !ok {
			return nil, NewError(CodeObjectNotFound, "object %d not found in zone %d", objectID, s.zoneID)
		}
		return stub.Call(version, enc, callerChannel, caller, interfaceID, methodID, inBytes)
	}

	key := zoneProxyKey{destination: destination, caller: caller}
	sp, _, err := s.getOrConstructZoneProxy(key, destination.AsZone())
	if err != nil {
		return nil, err
	}

	// Also locate/construct the opposite-direction proxy: a cousin branch may
	// later return an object through this zone, and the root must already
	// hold a reverse channel to pin that object's route.
	// A freshly constructed opposite-direction proxy is already pinned by
	// getOrConstructZoneProxy's own external-ref; an existing one is left
	// untouched. Either way this call adds no extra reference of its own --
	// it only guarantees the reverse route exists for a later cousin return.
	oppositeKey := zoneProxyKey{destination: caller.AsDestination(), caller: destination.AsCaller()}
	if _, _, oppErr := s.getOrConstructZoneProxy(oppositeKey, Zone(callerChannel)); oppErr != nil {
		s.DLogf("no reverse route (dest=%d,caller=%d) while sending to %v: %v", oppositeKey.destination, oppositeKey.caller, key, oppErr)
	}

	return sp.Send(ctx, objectID, interfaceID, methodID, inBytes)
}

// TryCast mirrors Send's routing decisions, but the body is an O(1)
// stub-factory query with no ref-count side effects.
func (s *Service) TryCast(ctx context.Context, version ProtocolVersion, destination DestinationZone, caller CallerZone, objectID ObjectID, interfaceID InterfaceOrdinal) error {
	if !versionInBand(version) {
		return NewError(CodeInvalidVersion, "version %d outside [%d,%d]", version, LowestSupportedVersion, HighestSupportedVersion)
	}
	if destination.AsZone() == s.zoneID {
		stub, ok := s.getStub(objectID)
		if !ok {
			return NewError(CodeObjectNotFound, "object %d not found", objectID)
		}
		s.Telemetry.OnServiceTryCast(s.zoneID, objectID, interfaceID)
		return stub.TryCast(interfaceID)
	}
	sp, _, err := s.getOrConstructZoneProxy(zoneProxyKey{destination: destination, caller: caller}, destination.AsZone())
	if err != nil {
		return err
	}
	return sp.TryCast(ctx, objectID, interfaceID)
}

func effectiveDestinationChannel(sp *ServiceProxy) DestinationChannelZone {
	if dc, ok := sp.DestinationChannel(); ok {
		return dc
	}
	dest, _ := sp.Key()
	return dest.AsDestinationChannel()
}

// AddRef implements the fork engine deciding how an add_ref request is routed
// and, where needed, forked into a destination leg and a caller leg (cases A-E).
func (s *Service) AddRef(
	ctx context.Context,
	version ProtocolVersion,
	destinationChannel DestinationChannelZone,
	hasDestinationChannel bool,
	destination DestinationZone,
	objectID ObjectID,
	callerChannel CallerChannelZone,
	hasCallerChannel bool,
	caller CallerZone,
	knownDirection Zone,
	options AddRefOptions,
) (uint64, error) {
	if !versionInBand(version) {
		return 0, NewError(CodeInvalidVersion, "version %d outside [%d,%d]", version, LowestSupportedVersion, HighestSupportedVersion)
	}

	destChannel := destination.AsDestinationChannel()
	if hasDestinationChannel {
		destChannel = destinationChannel
	}
	callChannel := caller.AsCallerChannel()
	if hasCallerChannel {
		callChannel = callerChannel
	}

	// Case A: destination is this zone.
	if destination.AsZone() == s.zoneID {
		if options.Has(AddRefBuildCallerRoute) && caller.AsZone() != s.zoneID {
			callerKey := zoneProxyKey{destination: caller.AsDestination(), caller: s.zoneID.AsCaller()}
			if callerSp, callerIsNew, cErr := s.getOrConstructZoneProxy(callerKey, knownDirection); cErr == nil {
				if !callerIsNew {
					callerSp.AddExternalRef()
				}
				if _, arErr := callerSp.AddRef(ctx, addRefRequest{
					ObjectID:           objectID,
					CallerChannelZone:  CallerChannelZone(s.zoneID),
					KnownDirectionZone: knownDirection,
					Options:            AddRefBuildCallerRoute,
				}); arErr != nil {
					s.WLogf("caller-route add_ref to %v failed: %v", callerKey, arErr)
				}
			} else {
				s.WLogf("caller-route add_ref: no route to %v: %v", callerKey, cErr)
			}
		}
		if objectID == dummyObjectID {
			return 0, nil
		}
		stub, ok := s.getStub(objectID)
		if !ok {
			return 0, NewError(CodeObjectNotFound, "object %d not found", objectID)
		}
		n := stub.AddRef()
		s.Telemetry.OnServiceAddRef(s.zoneID, destination, caller, objectID)
		return n, nil
	}

	key := zoneProxyKey{destination: destination, caller: caller}

	// Case B: pure forward, no build bits.
	if options == AddRefNormal {
		sp, isNew, err := s.getOrConstructZoneProxy(key, knownDirection)
		if err != nil {
			return 0, err
		}
		if !isNew {
			// A freshly constructed proxy is already pinned by its own
			// construction; an existing one needs a pin of its own for this
			// add_ref, released by the matching release's cleanupServiceProxy.
			sp.AddExternalRef()
		}
		return sp.AddRef(ctx, addRefRequest{ObjectID: objectID, KnownDirectionZone: knownDirection})
	}

	// Case C: dest_channel == caller_channel -- a pass-through, not a fork,
	// regardless of which build bit(s) are set.
	if uint64(destChannel) == uint64(callChannel) {
		sp, isNew, err := s.getOrConstructZoneProxy(key, knownDirection)
		if err != nil {
			return 0, err
		}
		if !isNew {
			sp.AddExternalRef()
		}
		return sp.AddRef(ctx, addRefRequest{
			ObjectID:               objectID,
			DestinationChannelZone: destChannel,
			CallerChannelZone:      callChannel,
			KnownDirectionZone:     knownDirection,
			Options:                options,
		})
	}

	bothBits := options.Has(AddRefBuildDestinationRoute) && options.Has(AddRefBuildCallerRoute)

	// Case D: dest_channel != caller_channel, both build bits set -- fork.
	if bothBits {
		destSp, destNew, err := s.getOrConstructZoneProxy(key, knownDirection)
		if err != nil {
			return 0, err
		}
		if !destNew {
			destSp.AddExternalRef()
		}

		callerKey := zoneProxyKey{destination: caller.AsDestination(), caller: s.zoneID.AsCaller()}
		callerSp, callerNew, err := s.getOrConstructZoneProxy(callerKey, knownDirection)
		if err != nil {
			s.cleanupServiceProxy(destSp)
			return 0, err
		}
		if !callerNew {
			callerSp.AddExternalRef()
		}

		// Y-topology fix: if both legs converge on the same channel zone one
		// hop ahead, forward the combined request once through the
		// destination and drop the pin just added to the unused caller leg
		//.
		if effectiveDestinationChannel(destSp) == effectiveDestinationChannel(callerSp) {
			s.cleanupServiceProxy(callerSp)
			return destSp.AddRef(ctx, addRefRequest{
				ObjectID:               objectID,
				DestinationChannelZone: destChannel,
				CallerChannelZone:      callChannel,
				KnownDirectionZone:     knownDirection,
				Options:                AddRefBuildDestinationRoute | AddRefBuildCallerRoute,
			})
		}

		if _, err := destSp.AddRef(ctx, addRefRequest{
			ObjectID:           objectID,
			CallerChannelZone:  CallerChannelZone(s.zoneID),
			KnownDirectionZone: knownDirection,
			Options:            AddRefBuildDestinationRoute,
		}); err != nil {
			return 0, err
		}
		return callerSp.AddRef(ctx, addRefRequest{
			ObjectID:               objectID,
			DestinationChannelZone: DestinationChannelZone(s.zoneID),
			KnownDirectionZone:     knownDirection,
			Options:                AddRefBuildCallerRoute,
		})
	}

	// Case E: exactly one build bit, different channels -- resolve or
	// construct (falling back to a known-direction neighbour), then forward
	// unchanged.
	sp, isNew, err := s.getOrConstructZoneProxy(key, knownDirection)
	if err != nil {
		return 0, err
	}
	if !isNew {
		sp.AddExternalRef()
	}
	return sp.AddRef(ctx, addRefRequest{
		ObjectID:               objectID,
		DestinationChannelZone: destChannel,
		CallerChannelZone:      callChannel,
		KnownDirectionZone:     knownDirection,
		Options:                options,
	})
}

// Release forwards a release request to the local stub or the routing
// service_proxy for (destination, caller), cleaning up the proxy afterward.
func (s *Service) Release(ctx context.Context, version ProtocolVersion, destination DestinationZone, objectID ObjectID, caller CallerZone) (uint64, error) {
	if !versionInBand(version) {
		return 0, NewError(CodeInvalidVersion, "version %d outside [%d,%d]", version, LowestSupportedVersion, HighestSupportedVersion)
	}
	if destination.AsZone() == s.zoneID {
		stub, ok := s.getStub(objectID)
		if !ok {
			return 0, NewError(CodeObjectNotFound, "object %d not found", objectID)
		}
		n := stub.Release()
		s.Telemetry.OnServiceRelease(s.zoneID, destination, caller, objectID)
		return n, nil
	}
	sp, ok := s.lookupZoneProxy(zoneProxyKey{destination: destination, caller: caller})
	if !ok {
		return 0, NewError(CodeZoneNotFound, "no route to (dest=%d,caller=%d)", destination, caller)
	}
	n, err := sp.Release(ctx, objectID)
	if err != nil {
		return 0, err
	}
	s.cleanupServiceProxy(sp)
	return n, nil
}
