package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"weak"
)

// ServiceProxy is one directional channel, keyed by (home_zone, destination_zone,
// caller_zone).
type ServiceProxy struct {
	Logger

	service *Service
	key     zoneProxyKey

	// destinationChannel is the next-hop zone to use when this proxy is not a
	// direct channel to its destination.
	destinationChannel    DestinationChannelZone
	hasDestinationChannel bool

	transport     Transport
	remoteVersion *versionCache

	externalRefCount atomic.Int64
	isParentChannel  bool

	insertControl sync.Mutex
	proxyTable    map[ObjectID]weak.Pointer[ObjectProxy]
	// selfPin is the proxy's self-reference, set while externalRefCount > 0 or
	// isParentChannel holds. It is the sole lifetime
	// anchor for a routing proxy once its creator's local variable goes away.
	selfPin *ServiceProxy
}

func newServiceProxy(service *Service, key zoneProxyKey, transport Transport, isParentChannel bool) *ServiceProxy {
	sp := &ServiceProxy{
		service:         service,
		key:             key,
		transport:       transport,
		remoteVersion:   newVersionCache(),
		isParentChannel: isParentChannel,
		proxyTable:      make(map[ObjectID]weak.Pointer[ObjectProxy]),
	}
	sp.Logger = service.Logger.Fork("service_proxy%s", key)
	service.Telemetry.OnServiceProxyCreation(service.zoneID, key.destination, key.caller)
	if isParentChannel {
		sp.selfPin = sp
	}
	return sp
}

// Key returns the (destination, caller) this proxy routes for.
func (sp *ServiceProxy) Key() (DestinationZone, CallerZone) { return sp.key.destination, sp.key.caller }

// IsParentChannel reports whether this proxy must remain alive for the
// lifetime of a child service regardless of external-ref count.
func (sp *ServiceProxy) IsParentChannel() bool { return sp.isParentChannel }

// DestinationChannel returns the next-hop zone to use when forwarding toward
// this proxy's destination, and whether one is set.
func (sp *ServiceProxy) DestinationChannel() (DestinationChannelZone, bool) {
	return sp.destinationChannel, sp.hasDestinationChannel
}

// HasObjectProxies reports whether this proxy currently owns any live
// object proxies. A routing proxy (destination != home) must always answer
// false; violating this is a bug.
func (sp *ServiceProxy) HasObjectProxies() bool {
	sp.insertControl.Lock()
	defer sp.insertControl.Unlock()
	for _, wp := range sp.proxyTable {
		if wp.Value() != nil {
			return true
		}
	}
	return false
}

// AddExternalRef increments the external-ref count; the 0->1 transition
// installs the proxy's self-reference.
func (sp *ServiceProxy) AddExternalRef() int64 {
	sp.insertControl.Lock()
	n := sp.externalRefCount.Add(1)
	if n == 1 {
		sp.selfPin = sp
	}
	sp.insertControl.Unlock()
	sp.service.Telemetry.OnServiceProxyAddExternalRef(sp.service.zoneID, sp.key.destination, sp.key.caller, n)
	return n
}

// ReleaseExternalRef decrements the external-ref count; the 1->0 transition
// clears the self-reference unless the proxy is a parent channel.
func (sp *ServiceProxy) ReleaseExternalRef() int64 {
	sp.insertControl.Lock()
	n := sp.externalRefCount.Add(-1)
	if n == 0 && !sp.isParentChannel {
		sp.selfPin = nil
	}
	sp.insertControl.Unlock()
	sp.service.Telemetry.OnServiceProxyReleaseExternalRef(sp.service.zoneID, sp.key.destination, sp.key.caller, n)
	return n
}

// ExternalRefCount returns the current external-ref count (tests only).
func (sp *ServiceProxy) ExternalRefCount() int64 { return sp.externalRefCount.Load() }

// clearParentChannel drops a parent-channel proxy's standing self-pin,
// letting a subsequent ReleaseExternalRef reaching zero actually tear the
// proxy down.
func (sp *ServiceProxy) clearParentChannel() {
	sp.insertControl.Lock()
	sp.isParentChannel = false
	if sp.externalRefCount.Load() == 0 {
		sp.selfPin = nil
	}
	sp.insertControl.Unlock()
}

// getOrCreateObjectProxy returns the cached ObjectProxy for objectID, creating
// one if none is live. Exactly one ObjectProxy exists per (ServiceProxy,
// ObjectID) pair.
func (sp *ServiceProxy) getOrCreateObjectProxy(objectID ObjectID) *ObjectProxy {
	sp.insertControl.Lock()
	defer sp.insertControl.Unlock()
	if wp, ok := sp.proxyTable[objectID]; ok {
		if op := wp.Value(); op != nil {
			return op
		}
	}
	op := newObjectProxy(sp, objectID)
	sp.proxyTable[objectID] = weak.Make(op)
	return op
}

// GetObjectProxy returns the cached ObjectProxy for objectID, without
// creating one.
func (sp *ServiceProxy) GetObjectProxy(objectID ObjectID) (*ObjectProxy, bool) {
	sp.insertControl.Lock()
	defer sp.insertControl.Unlock()
	if wp, ok := sp.proxyTable[objectID]; ok {
		if op := wp.Value(); op != nil {
			return op, true
		}
	}
	return nil, false
}

func (sp *ServiceProxy) scheduleReleaseObjectProxy(objectID ObjectID) {
	sp.insertControl.Lock()
	delete(sp.proxyTable, objectID)
	sp.insertControl.Unlock()
	go func() {
		if _, err := sp.Release(context.Background(), objectID); err != nil {
			sp.WLogf("best-effort release of object %d failed: %v", objectID, err)
		}
	}()
}

// Clone produces a fresh proxy for the same physical transport with an empty
// (destination, caller) key. Nothing in this package fills that key in later:
// CloneForZone builds its own proxy with the key already set.
func (sp *ServiceProxy) Clone() *ServiceProxy {
	return newServiceProxy(sp.service, zoneProxyKey{}, sp.transport, false)
}

// CloneForZone returns a sibling proxy for a different (destination, caller)
// key, sharing this proxy's transport. The clone always has
// isParentChannel=false, and if destination differs from this proxy's own
// destination, the clone's destination-channel is set to this proxy's
// destination (this proxy is now "one hop closer" to the new target).
func (sp *ServiceProxy) CloneForZone(destination DestinationZone, caller CallerZone) *ServiceProxy {
	clone := newServiceProxy(sp.service, zoneProxyKey{destination: destination, caller: caller}, sp.transport, false)
	if destination != sp.key.destination {
		clone.destinationChannel = sp.key.destination.AsDestinationChannel()
		clone.hasDestinationChannel = true
	}
	return clone
}

// Send marshals a method call onto the wire and waits for its reply. Version
// negotiation is applied transparently: on CodeInvalidVersion the attempted
// version is decremented and retried.
func (sp *ServiceProxy) Send(ctx context.Context, objectID ObjectID, interfaceID InterfaceOrdinal, methodID MethodID, inBytes []byte) ([]byte, error) {
	out, err := withVersionRetry(sp.remoteVersion, func(attempt ProtocolVersion) ([]byte, bool, error) {
		req := &Request{
			ProtocolVersion:   attempt,
			Encoding:          EncodingDefault,
			CallerChannelZone: CallerChannelZone(sp.service.zoneID),
			CallerZone:        sp.key.caller,
			DestinationZone:   sp.key.destination,
			ObjectID:          objectID,
			InterfaceID:       interfaceID,
			MethodID:          methodID,
			InPayload:         inBytes,
		}
		reply, sendErr := sp.transport.Send(ctx, req)
		if sendErr != nil {
			return nil, false, sendErr
		}
		if reply.Code == CodeInvalidVersion {
			return nil, true, nil
		}
		if reply.Code != CodeOK {
			return nil, false, NewError(reply.Code, "remote call failed")
		}
		return reply.OutPayload, false, nil
	})
	return out, err
}

// TryCast asks the peer whether objectID supports interfaceID.
func (sp *ServiceProxy) TryCast(ctx context.Context, objectID ObjectID, interfaceID InterfaceOrdinal) error {
	req := &RefCountRequest{
		ProtocolVersion: sp.remoteVersion.current(),
		Destination:     sp.key.destination,
		Caller:          sp.key.caller,
		ObjectID:        objectID,
		InterfaceID:     interfaceID,
	}
	sp.service.Telemetry.OnServiceProxyTryCast(sp.service.zoneID, sp.key.destination, sp.key.caller, interfaceID)
	return sp.transport.TryCast(ctx, req)
}

// addRefRequest is the parameter block for an outbound add_ref, carrying the
// full set of fork/routing hints a build-route request may need.
type addRefRequest struct {
	ObjectID               ObjectID
	DestinationChannelZone DestinationChannelZone
	CallerChannelZone      CallerChannelZone
	KnownDirectionZone     Zone
	Options                AddRefOptions
}

// AddRef asks the peer to add a reference, returning the new count. A peer
// that rejects the attempted protocol version returns maxRefCount; the
// version-retry wrapper resolves that into either a lower-version retry
// or CodeIncompatibleService.
func (sp *ServiceProxy) AddRef(ctx context.Context, r addRefRequest) (uint64, error) {
	return withVersionRetry(sp.remoteVersion, func(attempt ProtocolVersion) (uint64, bool, error) {
		req := &RefCountRequest{
			ProtocolVersion:        attempt,
			DestinationChannelZone: r.DestinationChannelZone,
			CallerChannelZone:      r.CallerChannelZone,
			KnownDirectionZone:     r.KnownDirectionZone,
			Destination:            sp.key.destination,
			Caller:                 sp.key.caller,
			ObjectID:               r.ObjectID,
			BuildOptions:           r.Options,
		}
		n, err := sp.transport.AddRef(ctx, req)
		if err != nil {
			return 0, false, err
		}
		if n == maxRefCount {
			return 0, true, nil
		}
		sp.service.Telemetry.OnServiceProxyAddRef(sp.service.zoneID, sp.key.destination, sp.key.caller, r.ObjectID, n)
		return n, false, nil
	})
}

// Release asks the peer to release a reference, returning the new count.
func (sp *ServiceProxy) Release(ctx context.Context, objectID ObjectID) (uint64, error) {
	return withVersionRetry(sp.remoteVersion, func(attempt ProtocolVersion) (uint64, bool, error) {
		req := &RefCountRequest{
			ProtocolVersion: attempt,
			Destination:     sp.key.destination,
			Caller:          sp.key.caller,
			ObjectID:        objectID,
		}
		n, err := sp.transport.Release(ctx, req)
		if err != nil {
			return 0, false, err
		}
		if n == maxRefCount {
			return 0, true, nil
		}
		sp.service.Telemetry.OnServiceProxyRelease(sp.service.zoneID, sp.key.destination, sp.key.caller, objectID, n)
		return n, false, nil
	})
}

func (sp *ServiceProxy) close() {
	sp.service.Telemetry.OnServiceProxyDeletion(sp.service.zoneID, sp.key.destination, sp.key.caller)
	if sp.transport != nil {
		if err := sp.transport.Close(); err != nil {
			sp.WLogf("transport close: %v", err)
		}
	}
}
