package rpc

import "context"

// Bindable is satisfied by whatever a generated interface wrapper uses to
// represent a shared interface-typed argument or return value: either a
// caller-side proxy for a remote object, or a local implementation wrapped
// directly. With no IDL compiler generating per-interface marshalling code,
// this plays the role of deciding which of the two a given handle is.
type Bindable interface {
	// RemoteHandle returns the underlying InterfaceProxy if this handle
	// shadows a remote object, or nil if it wraps a local implementation.
	RemoteHandle() *InterfaceProxy
	// LocalImpl returns the local implementation this handle wraps, or nil if
	// it is a proxy for a remote object.
	LocalImpl() interface{}
}

// bindOutgoingInterface implements the rule shared by ProxyBindInParam and
// StubBindOutParam: an interface argument/result that already shadows a
// remote object keeps its existing descriptor when that object's home is
// some other zone; otherwise the handle's local implementation is wrapped via
// WrapObject, which reuses an existing stub for the same implementation. A
// handle with no local implementation (such as a proxy whose home is this
// zone) yields CodeInvalidData.
func bindOutgoingInterface(service *Service, arg Bindable) (InterfaceDescriptor, error) {
	if arg == nil {
		return NullInterfaceDescriptor, nil
	}
	if rp := arg.RemoteHandle(); rp != nil {
		if rp.ObjectProxy().DestinationZoneID().AsZone() != service.zoneID {
			return InterfaceDescriptor{
				ObjectID:          rp.ObjectID(),
				DestinationZoneID: rp.ObjectProxy().DestinationZoneID(),
			}, nil
		}
	}
	impl := arg.LocalImpl()
	if impl == nil {
		return NullInterfaceDescriptor, NewError(CodeInvalidData, "bindable has neither a remote handle nor a local implementation")
	}
	stub, err := service.WrapObject(impl)
	if err != nil {
		return InterfaceDescriptor{}, err
	}
	return InterfaceDescriptor{ObjectID: stub.ObjectID(), DestinationZoneID: service.zoneID.AsDestination()}, nil
}

// ProxyBindInParam marshals an outgoing call argument on the caller side: the
// value becomes a wire-level InterfaceDescriptor, either passing through an
// existing remote handle's descriptor or minting a new stub for a local
// implementation.
func ProxyBindInParam(service *Service, arg Bindable) (InterfaceDescriptor, error) {
	return bindOutgoingInterface(service, arg)
}

// StubBindOutParam marshals a return value on the callee side. The rule is
// identical to ProxyBindInParam's, applied at the opposite boundary of the
// same call.
func StubBindOutParam(service *Service, arg Bindable) (InterfaceDescriptor, error) {
	return bindOutgoingInterface(service, arg)
}

// StubBindInParam unmarshals an incoming call argument on the callee side: a
// descriptor homed in this zone resolves directly to the wrapped
// implementation; one homed elsewhere resolves to a (possibly newly
// constructed) caller-side InterfaceProxy, registering a normal add_ref the
// first time this object is seen through that channel.
func StubBindInParam(ctx context.Context, service *Service, desc InterfaceDescriptor, interfaceID InterfaceOrdinal) (interface{}, *InterfaceProxy, error) {
	if desc.IsNull() {
		return nil, nil, nil
	}
	if desc.DestinationZoneID.AsZone() == service.zoneID {
		stub, ok := service.getStub(desc.ObjectID)
		if !ok {
			return nil, nil, NewError(CodeObjectNotFound, "object %d not found", desc.ObjectID)
		}
		return stub.Implementation(), nil, nil
	}

	key := zoneProxyKey{destination: desc.DestinationZoneID, caller: service.zoneID.AsCaller()}
	sp, isNew, err := service.getOrConstructZoneProxy(key, Zone(desc.DestinationZoneID))
	if err != nil {
		return nil, nil, err
	}

	if _, existed := sp.GetObjectProxy(desc.ObjectID); !existed {
		if !isNew {
			sp.AddExternalRef()
		}
		if _, err := sp.AddRef(ctx, addRefRequest{ObjectID: desc.ObjectID, Options: AddRefNormal}); err != nil {
			return nil, nil, err
		}
	}
	op := sp.getOrCreateObjectProxy(desc.ObjectID)
	ip, err := op.QueryInterface(ctx, interfaceID, false)
	return nil, ip, err
}

// ProxyBindOutParam unmarshals a call's return value on the caller side. A
// descriptor homed in this zone resolves to the local implementation,
// releasing the bookkeeping reference the callee added on our behalf; one
// homed elsewhere resolves to an InterfaceProxy, preferring sourceProxy (the
// proxy the original call went through) when its key matches so a reply
// routed back along the same channel doesn't mint a redundant one.
func ProxyBindOutParam(ctx context.Context, service *Service, sourceProxy *ServiceProxy, desc InterfaceDescriptor, interfaceID InterfaceOrdinal) (*InterfaceProxy, interface{}, error) {
	if desc.IsNull() {
		return nil, nil, nil
	}
	if desc.DestinationZoneID.AsZone() == service.zoneID {
		stub, ok := service.getStub(desc.ObjectID)
		if !ok {
			return nil, nil, NewError(CodeObjectNotFound, "object %d not found", desc.ObjectID)
		}
		stub.Release()
		return nil, stub.Implementation(), nil
	}

	key := zoneProxyKey{destination: desc.DestinationZoneID, caller: service.zoneID.AsCaller()}

	var sp *ServiceProxy
	var err error
	switch {
	case sourceProxy != nil && sourceProxy.key == key:
		sp = sourceProxy
	default:
		if existing, ok := service.lookupZoneProxy(key); ok {
			sp = existing
		} else if sourceProxy != nil {
			sp = sourceProxy.CloneForZone(desc.DestinationZoneID, service.zoneID.AsCaller())
			service.insertZoneProxy(sp)
			sp.AddExternalRef()
		} else {
			var isNew bool
			sp, isNew, err = service.getOrConstructZoneProxy(key, Zone(desc.DestinationZoneID))
			if err != nil {
				return nil, nil, err
			}
			if !isNew {
				sp.AddExternalRef()
			}
		}
	}

	if op, existed := sp.GetObjectProxy(desc.ObjectID); existed {
		// An object_proxy already shadows this object on this channel: the
		// callee's descriptor carried a bookkeeping add_ref we don't need a
		// second handle for, so cancel it immediately.
		if _, relErr := sp.Release(ctx, desc.ObjectID); relErr != nil {
			service.WLogf("eager release after duplicate object_proxy on %d: %v", desc.ObjectID, relErr)
		}
		ip, qiErr := op.QueryInterface(ctx, interfaceID, false)
		return ip, nil, qiErr
	}

	op := sp.getOrCreateObjectProxy(desc.ObjectID)
	ip, qiErr := op.QueryInterface(ctx, interfaceID, false)
	return ip, nil, qiErr
}
