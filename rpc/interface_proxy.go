package rpc

import "context"

// InterfaceProxy is the typed, generated handle application code actually
// holds. With no IDL compiler generating per-interface wrappers, this is the
// base any such wrapper would embed and translate typed method calls into
// Call() against, equivalent to the native proxy_impl.
type InterfaceProxy struct {
	Logger

	objectProxy *ObjectProxy
	interfaceID InterfaceOrdinal
}

func newInterfaceProxy(op *ObjectProxy, interfaceID InterfaceOrdinal) *InterfaceProxy {
	ip := &InterfaceProxy{
		objectProxy: op,
		interfaceID: interfaceID,
	}
	ip.Logger = op.Logger.Fork("interface_proxy(%d)", interfaceID)
	sp := op.servicePx
	sp.service.Telemetry.OnInterfaceProxyCreation(sp.service.zoneID, sp.key.destination, op.objectID, interfaceID)
	return ip
}

// ObjectID returns the id of the shadowed object.
func (ip *InterfaceProxy) ObjectID() ObjectID { return ip.objectProxy.objectID }

// InterfaceID returns the interface ordinal this proxy was created for.
func (ip *InterfaceProxy) InterfaceID() InterfaceOrdinal { return ip.interfaceID }

// ObjectProxy returns the owning object proxy.
func (ip *InterfaceProxy) ObjectProxy() *ObjectProxy { return ip.objectProxy }

// Call marshals an already-serialised argument payload and invokes methodID
// on the remote object, returning the (still serialised) result. Binding of
// any interface arguments embedded in inBytes/outBytes is the caller's
// responsibility via the Bind* helpers in bind.go, consistent with the core
// treating payload bytes as opaque.
func (ip *InterfaceProxy) Call(ctx context.Context, methodID MethodID, inBytes []byte) ([]byte, error) {
	sp := ip.objectProxy.servicePx
	sp.service.Telemetry.OnInterfaceProxySend(sp.service.zoneID, sp.key.destination, ip.objectProxy.objectID, ip.interfaceID, methodID)
	return sp.Send(ctx, ip.objectProxy.objectID, ip.interfaceID, methodID, inBytes)
}
