package rpc

import (
	"context"
	"runtime"
	"sync"
	"weak"
)

// ObjectProxy is the caller-side shadow of a remote object. Exactly one ObjectProxy exists per (ServiceProxy, ObjectID)
// pair; this is enforced by the owning ServiceProxy's proxy table.
type ObjectProxy struct {
	Logger

	servicePx *ServiceProxy
	objectID  ObjectID

	mu         sync.Mutex
	interfaces map[InterfaceOrdinal]weak.Pointer[InterfaceProxy]
}

func newObjectProxy(sp *ServiceProxy, objectID ObjectID) *ObjectProxy {
	op := &ObjectProxy{
		servicePx:  sp,
		objectID:   objectID,
		interfaces: make(map[InterfaceOrdinal]weak.Pointer[InterfaceProxy]),
	}
	op.Logger = sp.Logger.Fork("object_proxy(%d)", objectID)
	sp.service.Telemetry.OnObjectProxyCreation(sp.service.zoneID, sp.key.destination, objectID)

	// On last drop, best-effort schedule a remote release.
	runtime.AddCleanup(op, func(args cleanupArgs) {
		args.sp.service.Telemetry.OnObjectProxyDeletion(args.sp.service.zoneID, args.sp.key.destination, args.objectID)
		args.sp.scheduleReleaseObjectProxy(args.objectID)
	}, cleanupArgs{sp: sp, objectID: objectID})

	return op
}

type cleanupArgs struct {
	sp       *ServiceProxy
	objectID ObjectID
}

// ObjectID returns the object id this proxy shadows.
func (p *ObjectProxy) ObjectID() ObjectID { return p.objectID }

// DestinationZoneID returns the zone that homes the shadowed object.
func (p *ObjectProxy) DestinationZoneID() DestinationZone { return p.servicePx.key.destination }

// QueryInterface returns a typed caller-side handle for interfaceID, creating
// and caching one if necessary. When doRemoteCheck is true and the
// interface is not already cached, a try_cast round-trip confirms the remote
// object actually supports it before a proxy is materialised.
func (p *ObjectProxy) QueryInterface(ctx context.Context, interfaceID InterfaceOrdinal, doRemoteCheck bool) (*InterfaceProxy, error) {
	p.mu.Lock()
	if wp, ok := p.interfaces[interfaceID]; ok {
		if ip := wp.Value(); ip != nil {
			p.mu.Unlock()
			return ip, nil
		}
	}
	p.mu.Unlock()

	if doRemoteCheck {
		if err := p.servicePx.TryCast(ctx, p.objectID, interfaceID); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if wp, ok := p.interfaces[interfaceID]; ok {
		if ip := wp.Value(); ip != nil {
			return ip, nil
		}
	}

	ip := newInterfaceProxy(p, interfaceID)
	p.interfaces[interfaceID] = weak.Make(ip)
	return ip, nil
}
